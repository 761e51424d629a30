package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/transport"
)

const defaultSignal = 15

// ListProcs lists every process the manager knows.
func (h *Handlers) ListProcs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": h.kernel.Manager().List()})
}

// GetProc describes one process.
func (h *Handlers) GetProc(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	info, ok := h.kernel.Manager().Get(pid)
	if !ok {
		fail(c, syserr.Errorf(syserr.NotFound, "http", "no such process %d", pid))
		return
	}
	c.JSON(http.StatusOK, info)
}

// SpawnProc starts a top-level process from a spawn descriptor.
func (h *Handlers) SpawnProc(c *gin.Context) {
	var desc process.SpawnDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		fail(c, syserr.Wrap(syserr.InvalidArgument, "spawn", "", err))
		return
	}
	if len(desc.Cmd) == 0 {
		fail(c, syserr.Errorf(syserr.InvalidArgument, "spawn", "empty command"))
		return
	}

	res, err := h.kernel.Spawn(c.Request.Context(), desc)
	if err != nil {
		fail(c, err)
		return
	}
	h.logger.Info("spawned over http", logging.Pid(res.Pid), zap.Strings("cmd", desc.Cmd))
	c.JSON(http.StatusCreated, res)
}

// WaitProc blocks until the process finishes or the request is cancelled.
func (h *Handlers) WaitProc(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	st, err := h.kernel.Manager().WaitFor(c.Request.Context(), pid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// KillProc signals a process, SIGTERM unless ?signal= says otherwise.
func (h *Handlers) KillProc(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	sig := defaultSignal
	if s := c.Query("signal"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			fail(c, syserr.Errorf(syserr.InvalidArgument, "kill", "bad signal %q", s))
			return
		}
		sig = n
	}
	if err := h.kernel.Manager().Kill(pid, sig); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// opRequest is the body of an op call: the two op arguments.
type opRequest struct {
	A any `json:"a"`
	B any `json:"b"`
}

// Op invokes a named op inside a process. With ?async=1 the op runs on the
// async path and the response carries its completion. Op failures come back
// as a 200 with the envelope as result, the way a guest sees them.
func (h *Handlers) Op(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	p, ok := h.kernel.Manager().Process(pid)
	if !ok {
		fail(c, syserr.Errorf(syserr.NotFound, "op", "no such process %d", pid))
		return
	}

	var req opRequest
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, err)
		return
	}
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			fail(c, syserr.Wrap(syserr.InvalidArgument, "op", "", err))
			return
		}
	}
	a, b := transport.DecodeBytes(req.A), transport.DecodeBytes(req.B)
	name := c.Param("name")

	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if !async {
		result, err := p.OpSyncByName(name, a, b)
		if err != nil {
			fail(c, err)
			return
		}
		writeJSON(c, http.StatusOK, map[string]any{"result": result})
		return
	}

	done, err := p.OpAsyncByName(name, p.NextPromiseID(), a, b)
	if err != nil {
		fail(c, err)
		return
	}
	select {
	case comp := <-done:
		writeJSON(c, http.StatusOK, map[string]any{"id": comp.ID, "result": comp.Result})
	case <-c.Request.Context().Done():
		fail(c, syserr.Wrap(syserr.TimedOut, "op", name, c.Request.Context().Err()))
	}
}
