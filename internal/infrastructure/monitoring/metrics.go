package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of one kernel. Every method is safe to
// call on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	// HTTP shim metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Op dispatch metrics
	OpCalls    *prometheus.CounterVec
	OpDuration *prometheus.HistogramVec
	OpErrors   *prometheus.CounterVec

	// Process metrics
	ProcessesActive  prometheus.Gauge
	ProcessesSpawned prometheus.Counter
	ProcessExits     *prometheus.CounterVec

	// IPC metrics
	PipeBytes      *prometheus.CounterVec
	SocketConnects *prometheus.CounterVec
	FetchRequests  *prometheus.CounterVec

	// Transport metrics
	TransportCalls    *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	registry *prometheus.Registry

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON API.
type MetricsSnapshot struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalErrors      int64   `json:"total_errors"`
	TotalOps         int64   `json:"total_ops"`
	FailedOps        int64   `json:"failed_ops"`
	ActiveProcesses  int64   `json:"active_processes"`
	SpawnedProcesses int64   `json:"spawned_processes"`
	TotalDuration    float64 `json:"total_duration_seconds"`
	RequestCount     int64   `json:"request_count"`
}

// NewMetrics creates a collector registered on a fresh registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith creates a collector registered on reg. Kernels each own a
// registry so several can coexist in one test binary.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_http_requests_total",
				Help: "Total number of HTTP shim requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webkernel_http_request_duration_seconds",
				Help:    "HTTP shim request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webkernel_http_request_size_bytes",
				Help:    "HTTP shim request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webkernel_http_response_size_bytes",
				Help:    "HTTP shim response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		OpCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_op_calls_total",
				Help: "Total number of op dispatches",
			},
			[]string{"op", "mode", "status"},
		),
		OpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webkernel_op_duration_seconds",
				Help:    "Op duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"op", "mode"},
		),
		OpErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_op_errors_total",
				Help: "Total number of ops that returned an error envelope",
			},
			[]string{"op", "class"},
		),

		ProcessesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webkernel_processes_active",
				Help: "Number of running processes",
			},
		),
		ProcessesSpawned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webkernel_processes_spawned_total",
				Help: "Total number of spawned processes",
			},
		),
		ProcessExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_process_exits_total",
				Help: "Total number of process exits by status code",
			},
			[]string{"status"},
		),

		PipeBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_pipe_bytes_total",
				Help: "Bytes moved through pipes and sockets",
			},
			[]string{"direction"},
		),
		SocketConnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_socket_connects_total",
				Help: "Total number of socket connect attempts",
			},
			[]string{"status"},
		),
		FetchRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_fetch_requests_total",
				Help: "Total number of outbound fetches",
			},
			[]string{"method", "status"},
		),

		TransportCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_transport_calls_total",
				Help: "Total number of cross-context transport calls",
			},
			[]string{"transport", "method", "status"},
		),
		TransportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webkernel_transport_duration_seconds",
				Help:    "Cross-context call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"transport", "method"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webkernel_ws_connections",
				Help: "Number of active event stream connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webkernel_ws_messages_total",
				Help: "Total number of event stream messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "webkernel_uptime_seconds",
			Help: "Kernel uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP shim request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOp records one op dispatch. class is the envelope class name, or
// empty on success.
func (m *Metrics) RecordOp(op, mode, class string, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if class != "" {
		status = "error"
		m.OpErrors.WithLabelValues(op, class).Inc()
	}
	m.OpCalls.WithLabelValues(op, mode, status).Inc()
	m.OpDuration.WithLabelValues(op, mode).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalOps++
	if class != "" {
		m.snapshot.FailedOps++
	}
	m.mu.Unlock()
}

// ProcessSpawned records a new process.
func (m *Metrics) ProcessSpawned() {
	if m == nil {
		return
	}
	m.ProcessesSpawned.Inc()
	m.ProcessesActive.Inc()

	m.mu.Lock()
	m.snapshot.SpawnedProcesses++
	m.snapshot.ActiveProcesses++
	m.mu.Unlock()
}

// ProcessExited records a process reaching a terminal state.
func (m *Metrics) ProcessExited(status string) {
	if m == nil {
		return
	}
	m.ProcessesActive.Dec()
	m.ProcessExits.WithLabelValues(status).Inc()

	m.mu.Lock()
	m.snapshot.ActiveProcesses--
	m.mu.Unlock()
}

// AddPipeBytes records bytes read or written on a stream resource.
func (m *Metrics) AddPipeBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PipeBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordSocketConnect records a connect attempt.
func (m *Metrics) RecordSocketConnect(status string) {
	if m == nil {
		return
	}
	m.SocketConnects.WithLabelValues(status).Inc()
}

// RecordFetch records an outbound fetch.
func (m *Metrics) RecordFetch(method, status string) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(method, status).Inc()
}

// RecordTransportCall records a cross-context call
func (m *Metrics) RecordTransportCall(transport, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransportCalls.WithLabelValues(transport, method, status).Inc()
	m.TransportDuration.WithLabelValues(transport, method).Observe(duration.Seconds())
}

// RecordWSMessage records an event stream message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments event stream connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements event stream connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns the current JSON-friendly values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// UptimeSeconds returns how long the collector has existed.
func (m *Metrics) UptimeSeconds() float64 {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime).Seconds()
}
