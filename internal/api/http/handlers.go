package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webkernel/internal/kernel"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/transport"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Handlers serves the kernel's HTTP shim.
type Handlers struct {
	kernel  *kernel.Kernel
	tracer  *tracing.Tracer
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates handlers for k. tracer may be nil.
func NewHandlers(k *kernel.Kernel, tracer *tracing.Tracer, logger *logging.Logger) *Handlers {
	return &Handlers{
		kernel:  k,
		tracer:  tracer,
		logger:  logging.OrNop(logger).Named("http"),
		started: time.Now(),
	}
}

// Register installs every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/procs", h.ListProcs)
	r.POST("/procs", h.SpawnProc)
	r.GET("/procs/:pid", h.GetProc)
	r.POST("/procs/:pid/wait", h.WaitProc)
	r.DELETE("/procs/:pid", h.KillProc)
	r.POST("/procs/:pid/ops/:name", h.Op)

	r.GET("/mounts", h.Mounts)
	r.GET("/fs/*path", h.ReadPath)
	r.PUT("/fs/*path", h.WritePath)

	r.POST("/logs", h.StreamLogs)
	r.GET("/traces", h.Traces)

	if reg := h.kernel.Metrics().Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	r.GET("/metrics/json", h.MetricsJSON)

	r.POST(transport.RPCPath+"*object", gin.WrapH(transport.HTTPHandler(h.kernel.Mux())))
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "webkernel",
		"version": Version,
		"endpoints": gin.H{
			"procs":   "/procs",
			"mounts":  "/mounts",
			"fs":      "/fs/*path",
			"rpc":     transport.RPCPath + ":object",
			"metrics": "/metrics",
			"traces":  "/traces",
			"stream":  "/stream",
		},
	})
}

// Health reports liveness with a few kernel counters.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": time.Since(h.started).Seconds(),
		"processes":      len(h.kernel.Manager().List()),
		"mounts":         len(h.kernel.FS().Mounts()),
		"network":        h.kernel.Net().ID().String(),
	})
}

// fail writes err as an envelope with a status derived from its kind.
func fail(c *gin.Context, err error) {
	env := syserr.ToEnvelope(err)
	c.AbortWithStatusJSON(statusOf(err), env)
}

func statusOf(err error) int {
	if errors.Is(err, process.ErrOpNotFound) {
		return http.StatusNotFound
	}
	var env *syserr.Envelope
	kind, ok := syserr.KindOf(err)
	if !ok && errors.As(err, &env) {
		kind, ok = env.Kind(), true
	}
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case syserr.NotFound:
		return http.StatusNotFound
	case syserr.PermissionDenied:
		return http.StatusForbidden
	case syserr.InvalidArgument, syserr.BadResource, syserr.IsADirectory, syserr.NotADirectory:
		return http.StatusBadRequest
	case syserr.AlreadyExists, syserr.DirectoryNotEmpty:
		return http.StatusConflict
	case syserr.NotSupported:
		return http.StatusNotImplemented
	case syserr.Busy:
		return http.StatusTooManyRequests
	case syserr.TimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with byte slices tagged the way the transports do.
func writeJSON(c *gin.Context, status int, v any) {
	raw, err := sonic.Marshal(transport.EncodeBytes(v))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(status, "application/json; charset=utf-8", raw)
}

func pidParam(c *gin.Context) (int, bool) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		fail(c, syserr.Errorf(syserr.InvalidArgument, "http", "bad pid %q", c.Param("pid")))
		return 0, false
	}
	return pid, true
}
