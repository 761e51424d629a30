package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

const defaultTraceLimit = 50

// MetricsSnapshot combines the collector's counters with kernel state.
type MetricsSnapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Counters  monitoring.MetricsSnapshot `json:"counters"`
	Kernel    KernelSummary              `json:"kernel"`
	Summary   MetricsSummary             `json:"summary"`
}

// KernelSummary counts what the kernel currently holds.
type KernelSummary struct {
	Processes     map[string]int `json:"processes"`
	Mounts        int            `json:"mounts"`
	DroppedEvents int            `json:"dropped_events"`
}

// MetricsSummary provides high-level figures.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	ErrorRate        float64 `json:"error_rate"`
	OpFailureRate    float64 `json:"op_failure_rate"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Uptime           string  `json:"uptime"`
}

// MetricsJSON returns the combined snapshot.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	metrics := h.kernel.Metrics()
	counters := metrics.Snapshot()

	byState := map[string]int{}
	for _, info := range h.kernel.Manager().List() {
		byState[info.State.String()]++
	}

	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		Counters:  counters,
		Kernel: KernelSummary{
			Processes:     byState,
			Mounts:        len(h.kernel.FS().Mounts()),
			DroppedEvents: h.kernel.Events().Dropped(),
		},
		Summary: summarize(counters, h.started),
	})
}

func summarize(s monitoring.MetricsSnapshot, started time.Time) MetricsSummary {
	out := MetricsSummary{
		TotalRequests: s.TotalRequests,
		UptimeSeconds: time.Since(started).Seconds(),
		Uptime:        humanize.RelTime(started, time.Now(), "", ""),
	}
	if s.RequestCount > 0 {
		out.AverageLatencyMs = s.TotalDuration / float64(s.RequestCount) * 1000
	}
	if s.TotalRequests > 0 {
		out.ErrorRate = float64(s.TotalErrors) / float64(s.TotalRequests)
	}
	if s.TotalOps > 0 {
		out.OpFailureRate = float64(s.FailedOps) / float64(s.TotalOps)
	}
	return out
}

// Traces returns the most recent finished spans, ?limit= at most.
func (h *Handlers) Traces(c *gin.Context) {
	limit := defaultTraceLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			fail(c, syserr.Errorf(syserr.InvalidArgument, "traces", "bad limit %q", s))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"spans": h.tracer.Recent(limit)})
}
