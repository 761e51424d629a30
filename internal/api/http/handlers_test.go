package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webkernel/internal/kernel"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/procmgr"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/transport"
)

type fixture struct {
	kernel *kernel.Kernel
	tracer *tracing.Tracer
	router *gin.Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Kernel.GuestPool = 1
	metrics := monitoring.NewMetrics()
	k, err := kernel.New(kernel.Options{Config: cfg, Metrics: metrics, Console: &bytes.Buffer{}})
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })

	tracer := tracing.New("test", nil)
	t.Cleanup(tracer.Close)

	router := gin.New()
	router.Use(tracing.HTTPMiddleware(tracer), monitoring.Middleware(metrics))
	NewHandlers(k, tracer, nil).Register(router)
	return &fixture{kernel: k, tracer: tracer, router: router}
}

func (f *fixture) do(method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["processes"])
	assert.EqualValues(t, 3, body["mounts"])

	w = f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "webkernel", decode[map[string]any](t, w)["service"])
}

func TestSpawnAndWait(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/procs", `{"cmd":["echo","hello"],"stdout":"piped"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[process.SpawnResult](t, w)
	assert.Equal(t, 1, res.Pid)

	w = f.do(http.MethodPost, "/procs/1/wait", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, process.ExitStatus{StatusCode: 0}, decode[process.ExitStatus](t, w))

	w = f.do(http.MethodGet, "/fs"+res.Stdout, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello\n", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	w = f.do(http.MethodGet, "/procs/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[procmgr.Info](t, w)
	assert.Equal(t, []string{"echo", "hello"}, info.Cmd)
	require.NotNil(t, info.Status)

	w = f.do(http.MethodGet, "/procs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]procmgr.Info](t, w)["processes"], 1)
}

func TestSpawnRejects(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/procs", `{"cmd":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidArgument", decode[syserr.Envelope](t, w).ClassName)

	w = f.do(http.MethodPost, "/procs", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessErrors(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/procs/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", decode[syserr.Envelope](t, w).ClassName)

	w = f.do(http.MethodGet, "/procs/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/procs/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpsAndKill(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := f.kernel.Spawn(ctx, process.SpawnDescriptor{Cmd: []string{"sleep", "30"}, Cwd: "/tmp"})
	require.NoError(t, err)
	require.NoError(t, f.kernel.FS().WriteFile("/tmp/note.txt", []byte("kept"), 0o644))

	w := f.do(http.MethodPost, "/procs/1/ops/op_cwd", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/tmp", decode[map[string]any](t, w)["result"])

	w = f.do(http.MethodPost, "/procs/1/ops/op_read_file?async=1", `{"a":"note.txt"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	first, ok := body["id"].(float64)
	require.True(t, ok)
	assert.Positive(t, first)
	assert.Equal(t, map[string]any{transport.BytesTag: base64.StdEncoding.EncodeToString([]byte("kept"))}, body["result"])

	w = f.do(http.MethodPost, "/procs/1/ops/op_read_file?async=1", `{"a":"note.txt"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode[map[string]any](t, w)
	assert.Greater(t, body["id"], first, "ids come from the process and only grow")

	w = f.do(http.MethodPost, "/procs/1/ops/op_read_file", `{"a":"missing.txt"}`)
	require.Equal(t, http.StatusOK, w.Code)
	env, ok := syserr.AsEnvelope(decode[map[string]any](t, w)["result"])
	require.True(t, ok)
	assert.Equal(t, "NotFound", env.ClassName)

	w = f.do(http.MethodPost, "/procs/1/ops/op_nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/procs/1?signal=9", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	st, err := f.kernel.Manager().WaitFor(ctx, res.Pid)
	require.NoError(t, err)
	assert.Equal(t, 137, st.StatusCode)

	w = f.do(http.MethodDelete, "/procs/1?signal=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFilesystem(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPut, "/fs/tmp/page.html", "<!DOCTYPE html><html><body>hi</body></html>")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/fs/tmp/page.html", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))

	w = f.do(http.MethodGet, "/fs/tmp", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"page.html"`)

	w = f.do(http.MethodGet, "/fs/nowhere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/mounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"/dev/pipe"`)
}

func TestStreamLogs(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/logs", `{"source":"page","entries":[{"level":"warn","message":"slow","pid":3,"context":{"ms":120}}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["entries_received"])

	w = f.do(http.MethodPost, "/logs", `{"source":"page","entries":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/logs", `{"entries":[{"message":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsAndTraces(t *testing.T) {
	f := setup(t)
	f.do(http.MethodGet, "/health", "")

	w := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# TYPE")

	w = f.do(http.MethodGet, "/metrics/json", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[MetricsSnapshot](t, w)
	assert.Equal(t, 3, snap.Kernel.Mounts)
	assert.NotEmpty(t, snap.Summary.Uptime)

	require.Eventually(t, func() bool { return len(f.tracer.Recent(0)) > 0 }, time.Second, 5*time.Millisecond)
	w = f.do(http.MethodGet, "/traces?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]map[string]any](t, w)["spans"], 1)

	w = f.do(http.MethodGet, "/traces?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRPCRoute(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	client, err := transport.NewHTTPClient(srv.URL, kernel.ObjectKernel, transport.HTTPOptions{})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := client.Call(ctx, "spawn", map[string]any{"cmd": []any{"true"}})
	require.NoError(t, err)
	pid := v.(map[string]any)["pid"]

	v, err = client.Call(ctx, "wait", pid)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v.(map[string]any)["statusCode"])

	_, err = client.Call(ctx, "nope")
	assert.Error(t, err)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(syserr.Errorf(syserr.NotFound, "x", "gone")))
	assert.Equal(t, http.StatusConflict, statusOf(syserr.Errorf(syserr.AlreadyExists, "x", "dup")))
	assert.Equal(t, http.StatusGatewayTimeout, statusOf(syserr.ToEnvelope(syserr.Errorf(syserr.TimedOut, "x", "slow"))))
	assert.Equal(t, http.StatusNotFound, statusOf(process.ErrOpNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}
