package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/parser"
	"github.com/therealutkarshpriyadarshi/loglyzer/internal/stats"
)

func writeFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644))
	return path
}

func newBatch(t *testing.T) (*Batch, *Pipeline) {
	t.Helper()
	mock := clock.NewMock()
	pl := newPipeline(t, PipelineConfig{Aggregator: stats.New(stats.Config{Clock: mock})})
	return NewBatch(BatchConfig{Pipeline: pl, Metrics: metrics.NewCollector()}), pl
}

func TestBatch_Run(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.log", lineOK, lineNoStatus, lineOK2+"\n")
	b := writeFile(t, dir, "b.log", lineEarly) // no trailing newline

	batch, pl := newBatch(t)
	summary, err := batch.Run(context.Background(), []string{a, b})
	require.NoError(t, err)

	require.Len(t, summary.Files, 2)
	assert.Equal(t, 0, summary.FilesFailed)
	assert.Equal(t, int64(3), summary.Files[0].Stats.Lines)
	assert.Equal(t, int64(1), summary.Files[1].Stats.Lines, "final unterminated line is read")

	assert.Equal(t, int64(4), summary.Totals.Lines)
	assert.Equal(t, int64(3), summary.Totals.Admitted)
	assert.Equal(t, int64(1), summary.Totals.Unparsable)
	assert.Equal(t, summary.Totals, pl.Stats())

	snap := pl.Aggregator().Snapshot()
	assert.Equal(t, uint64(3), snap.TotalRecords)
	assert.Equal(t, uint64(1), snap.Unparsable)
	assert.Equal(t, snap.TotalRecords+snap.Unparsable, uint64(summary.Totals.Lines))
	assert.Equal(t, map[uint16]uint64{200: 1, 204: 1, 500: 1}, snap.StatusCodes)
}

func TestBatch_SkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.log", lineOK)

	batch, pl := newBatch(t)
	summary, err := batch.Run(context.Background(), []string{filepath.Join(dir, "gone.log"), good})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FilesFailed)
	assert.Error(t, summary.Files[0].Err)
	assert.NoError(t, summary.Files[1].Err)
	assert.Equal(t, uint64(1), pl.Aggregator().Snapshot().TotalRecords)
}

func TestBatch_Idempotent(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 200; i++ {
		switch i % 4 {
		case 0:
			lines = append(lines, lineOK)
		case 1:
			lines = append(lines, lineOK2)
		case 2:
			lines = append(lines, lineEarly)
		default:
			lines = append(lines, "garbage")
		}
	}
	path := writeFile(t, dir, "access.log", lines...)

	first, p1 := newBatch(t)
	second, p2 := newBatch(t)
	_, err := first.Run(context.Background(), []string{path})
	require.NoError(t, err)
	_, err = second.Run(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, p1.Aggregator().Snapshot(), p2.Aggregator().Snapshot())
}

func TestBatch_Cancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.log", lineOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, _ := newBatch(t)
	_, err := batch.Run(ctx, []string{path})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatch_CustomPattern(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.log",
		"1.2.3.4 2024-01-15T12:05:00Z /x 200 10",
		"1.2.3.4 2024-01-15T12:05:01Z /y 404",
	)

	p, err := parser.New(&parser.Config{
		Pattern:    `^(?P<ip>\S+) (?P<time>\S+) (?P<url>\S+) (?P<status>\d+)(?: (?P<bytes>\d+))?$`,
		TimeFormat: "2006-01-02T15:04:05Z07:00",
	})
	require.NoError(t, err)

	pl := newPipeline(t, PipelineConfig{Parser: p})
	summary, err := NewBatch(BatchConfig{Pipeline: pl}).Run(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Totals.Admitted)
	assert.Equal(t, uint64(10), pl.Aggregator().Snapshot().TotalBytes)
}
