package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/health"
)

func TestPipeline_HealthCheck(t *testing.T) {
	pl := newPipeline(t, PipelineConfig{})
	check := pl.HealthCheck()

	assert.Equal(t, health.StatusHealthy, check(context.Background()).Status, "no input yet")

	pl.Process(lineNoStatus, "a.log")
	pl.Process("", "a.log")
	res := check(context.Background())
	assert.Equal(t, health.StatusDegraded, res.Status)
	assert.Contains(t, res.Message, "none of 2 lines")
	assert.Equal(t, int64(2), res.Metadata["unparsable"])

	pl.Process(lineOK, "a.log")
	res = check(context.Background())
	assert.Equal(t, health.StatusHealthy, res.Status)
	assert.Equal(t, int64(1), res.Metadata["admitted"])
}
