package monitoring

import (
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Status converts a call result to a metric label: "ok", the errno class, or "error".
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	class := errno.ClassOf(err)
	if class == errno.ClassUnknown {
		return "error"
	}
	return class.String()
}

// Snapshot returns the current values tracked for the JSON API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// AverageLatency returns the mean admin HTTP request duration in seconds.
func (s MetricsSnapshot) AverageLatency() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return s.TotalDuration / float64(s.RequestCount)
}
