package http

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
)

// MetricsAggregator combines request metrics with live kernel state.
type MetricsAggregator struct {
	metrics *monitoring.Metrics
	kernel  *kernel.Kernel
	started time.Time
}

// NewMetricsAggregator creates a metrics aggregator
func NewMetricsAggregator(metrics *monitoring.Metrics, k *kernel.Kernel) *MetricsAggregator {
	return &MetricsAggregator{metrics: metrics, kernel: k, started: time.Now()}
}

// MetricsSnapshot represents a snapshot of all system metrics
type MetricsSnapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Counters  monitoring.MetricsSnapshot `json:"counters"`
	Kernel    KernelSummary              `json:"kernel"`
	Summary   MetricsSummary             `json:"summary"`
}

// KernelSummary counts processes by state and grants by kind.
type KernelSummary struct {
	Clock     uint64         `json:"clock"`
	Processes int            `json:"processes"`
	States    map[string]int `json:"states"`
	Grants    map[string]int `json:"grants"`
	Queued    int            `json:"queued_senders"`
	Notifies  int            `json:"pending_notifications"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	ErrorRate        float64 `json:"error_rate"`
	IPCErrorRate     float64 `json:"ipc_error_rate"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// Prometheus serves the metrics registry in the exposition format.
func (ma *MetricsAggregator) Prometheus() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(ma.metrics.Registry(), promhttp.HandlerOpts{}))
}

// GetAggregatedMetrics returns counters and kernel state as JSON
func (ma *MetricsAggregator) GetAggregatedMetrics(c *gin.Context) {
	counters := ma.metrics.Snapshot()
	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		Counters:  counters,
		Kernel:    ma.kernelSummary(),
		Summary:   ma.calculateSummary(counters),
	})
}

func (ma *MetricsAggregator) kernelSummary() KernelSummary {
	snap := ma.kernel.Snapshot()
	sum := KernelSummary{
		Clock:     snap.Clock,
		Processes: len(snap.Processes),
		States:    make(map[string]int),
		Grants:    make(map[string]int),
	}
	for _, p := range snap.Processes {
		sum.States[p.State]++
		sum.Queued += len(p.QueuedSenders)
		sum.Notifies += len(p.Notifications)
		for _, g := range p.Grants {
			sum.Grants[g.Kind]++
		}
	}
	return sum
}

func (ma *MetricsAggregator) calculateSummary(s monitoring.MetricsSnapshot) MetricsSummary {
	var errorRate, ipcErrorRate float64
	if s.TotalRequests > 0 {
		errorRate = float64(s.TotalErrors) / float64(s.TotalRequests)
	}
	if s.IPCCalls > 0 {
		ipcErrorRate = float64(s.IPCErrors) / float64(s.IPCCalls)
	}
	return MetricsSummary{
		TotalRequests:    s.TotalRequests,
		AverageLatencyMs: s.AverageLatency() * 1000,
		ErrorRate:        errorRate,
		IPCErrorRate:     ipcErrorRate,
		UptimeSeconds:    time.Since(ma.started).Seconds(),
	}
}

func encodeJSON(w io.Writer, v any) error {
	return sonic.ConfigDefault.NewEncoder(w).Encode(v)
}
