package tailer

import (
	"context"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/health"
)

// HealthCheck reports tailing as healthy, opening or reopening as degraded,
// and a fatal stop as unhealthy
func (e *Engine) HealthCheck() health.HealthCheck {
	return func(ctx context.Context) health.ComponentHealth {
		st := e.Status()

		meta := map[string]interface{}{
			"state":       st.State.String(),
			"offset":      st.Offset,
			"inode":       st.Inode,
			"rotations":   st.Rotations,
			"truncations": st.Truncations,
		}

		result := health.ComponentHealth{Status: health.StatusHealthy, Metadata: meta}
		switch {
		case st.Fatal:
			result.Status = health.StatusUnhealthy
		case st.State == StateOpening, st.State == StateReopening:
			result.Status = health.StatusDegraded
		case st.State == StateStopped:
			result.Status = health.StatusDegraded
			result.Message = "stopped"
		}
		if st.LastError != nil {
			result.Message = st.LastError.Error()
			if result.Status == health.StatusHealthy {
				result.Status = health.StatusDegraded
			}
		}
		return result
	}
}
