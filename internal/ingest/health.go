package ingest

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/health"
)

// HealthCheck reports the pipeline as degraded once lines have been read
// and none of them parsed, which usually means the extraction pattern does
// not fit the input
func (p *Pipeline) HealthCheck() health.HealthCheck {
	return func(ctx context.Context) health.ComponentHealth {
		st := p.Stats()

		result := health.ComponentHealth{
			Status: health.StatusHealthy,
			Metadata: map[string]interface{}{
				"pattern":    p.parser.Name(),
				"lines":      st.Lines,
				"admitted":   st.Admitted,
				"filtered":   st.Filtered,
				"unparsable": st.Unparsable,
			},
		}
		if st.Lines > 0 && st.Unparsable == st.Lines {
			result.Status = health.StatusDegraded
			result.Message = fmt.Sprintf("none of %d lines matched the extraction pattern", st.Lines)
		}
		return result
	}
}
