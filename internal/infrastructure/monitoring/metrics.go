package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// IPC metrics
	IPCCalls      *prometheus.CounterVec
	IPCDuration   *prometheus.HistogramVec
	IPCBlocked    prometheus.Gauge
	Notifications prometheus.Counter
	Deadlocks     prometheus.Counter

	// Process metrics
	ProcessesActive prometheus.Gauge
	ProcessExits    prometheus.Counter

	// Grant metrics
	GrantsActive  prometheus.Gauge
	GrantsRevoked *prometheus.CounterVec
	SafecopyBytes *prometheus.CounterVec

	// Scheduling metrics
	SchedRequests *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	IPCCalls          int64   `json:"ipc_calls"`
	IPCErrors         int64   `json:"ipc_errors"`
	ActiveProcesses   int64   `json:"active_processes"`
	ActiveGrants      int64   `json:"active_grants"`
	ActiveConnections int64   `json:"active_connections"`
	TotalDuration     float64 `json:"total_duration_seconds"` // sum of all request durations
	RequestCount      int64   `json:"request_count"`          // count for averaging
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipcore_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipcore_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// IPC metrics
		IPCCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipcore_ipc_calls_total",
				Help: "Total number of kernel calls by operation and status",
			},
			[]string{"op", "status"},
		),
		IPCDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipcore_ipc_duration_seconds",
				Help:    "Kernel call duration in seconds, including time spent blocked",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1, 10},
			},
			[]string{"op"},
		),
		IPCBlocked: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ipcore_ipc_blocked",
				Help: "Number of processes currently blocked in a kernel call",
			},
		),
		Notifications: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ipcore_notifications_total",
				Help: "Total number of notifications posted",
			},
		),
		Deadlocks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ipcore_deadlocks_total",
				Help: "Total number of calls refused for closing a wait cycle",
			},
		),

		// Process metrics
		ProcessesActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ipcore_processes_active",
				Help: "Number of live processes",
			},
		),
		ProcessExits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ipcore_process_exits_total",
				Help: "Total number of process exits",
			},
		),

		// Grant metrics
		GrantsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ipcore_grants_active",
				Help: "Number of live grants across all tables",
			},
		),
		GrantsRevoked: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipcore_grants_revoked_total",
				Help: "Total number of grants freed, by cause",
			},
			[]string{"cause"},
		),
		SafecopyBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipcore_safecopy_bytes_total",
				Help: "Total bytes moved through grants",
			},
			[]string{"direction"},
		),

		// Scheduling metrics
		SchedRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipcore_sched_requests_total",
				Help: "Total number of scheduling delegation requests",
			},
			[]string{"kind", "status"},
		),

		// WebSocket metrics
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ipcore_ws_connections",
				Help: "Number of active event feed connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipcore_ws_messages_total",
				Help: "Total number of event feed messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ipcore_uptime_seconds",
			Help: "Uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordIPCCall records one kernel call and its outcome.
func (m *Metrics) RecordIPCCall(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := Status(err)
	m.IPCCalls.WithLabelValues(op, status).Inc()
	m.IPCDuration.WithLabelValues(op).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.IPCCalls++
	if err != nil {
		m.snapshot.IPCErrors++
	}
	m.mu.Unlock()
}

// IncBlocked marks a process as blocked in the kernel.
func (m *Metrics) IncBlocked() {
	if m == nil {
		return
	}
	m.IPCBlocked.Inc()
}

// DecBlocked marks a blocked process as resumed.
func (m *Metrics) DecBlocked() {
	if m == nil {
		return
	}
	m.IPCBlocked.Dec()
}

// IncNotifications counts a posted notification.
func (m *Metrics) IncNotifications() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

// IncDeadlocks counts a refused wait cycle.
func (m *Metrics) IncDeadlocks() {
	if m == nil {
		return
	}
	m.Deadlocks.Inc()
}

// SetProcessesActive sets the number of live processes
func (m *Metrics) SetProcessesActive(count int) {
	if m == nil {
		return
	}
	m.ProcessesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveProcesses = int64(count)
	m.mu.Unlock()
}

// IncProcessExits counts a process exit.
func (m *Metrics) IncProcessExits() {
	if m == nil {
		return
	}
	m.ProcessExits.Inc()
}

// AddGrants adjusts the live grant gauge by delta.
func (m *Metrics) AddGrants(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.GrantsActive.Add(float64(delta))
	m.mu.Lock()
	m.snapshot.ActiveGrants += int64(delta)
	m.mu.Unlock()
}

// RecordRevoked counts grants freed for cause ("revoke", "exit").
func (m *Metrics) RecordRevoked(cause string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.GrantsRevoked.WithLabelValues(cause).Add(float64(n))
	m.AddGrants(-n)
}

// RecordSafecopy counts bytes copied in direction ("from", "to").
func (m *Metrics) RecordSafecopy(direction string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.SafecopyBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordSchedRequest records a delegation request outcome.
func (m *Metrics) RecordSchedRequest(kind string, err error) {
	if m == nil {
		return
	}
	m.SchedRequests.WithLabelValues(kind, Status(err)).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
