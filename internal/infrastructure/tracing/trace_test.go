package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/GriffinCanCode/webkernel/internal/shared/id"
)

func waitRecent(t *testing.T, tr *Tracer, n int) []*Span {
	t.Helper()
	var spans []*Span
	require.Eventually(t, func() bool {
		spans = tr.Recent(0)
		return len(spans) >= n
	}, time.Second, 5*time.Millisecond)
	return spans
}

func TestSpanParenting(t *testing.T) {
	tr := New("test", nil)
	defer tr.Close()

	root, ctx := tr.StartSpan(context.Background(), "request")
	child, childCtx := tr.StartSpan(ctx, "op_read")

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, SpanIDFrom(childCtx))
	assert.True(t, id.IsValid(root.TraceID.String()))

	child.SetError(errors.New("boom"))
	child.Finish()
	root.Finish()
	root.Finish()

	spans := waitRecent(t, tr, 2)
	require.Len(t, spans, 2)
	assert.Equal(t, "request", spans[0].Name)
	assert.Equal(t, "op_read", spans[1].Name)
	assert.Equal(t, "boom", spans[1].Error)
	assert.Equal(t, "test", spans[0].Service)
}

func TestRecentRing(t *testing.T) {
	tr := New("test", nil)
	defer tr.Close()

	for i := 0; i < keepRecent+10; i++ {
		span, _ := tr.StartSpan(context.Background(), "s")
		span.Finish()
	}
	spans := waitRecent(t, tr, keepRecent)
	assert.Len(t, spans, keepRecent)
	assert.Len(t, tr.Recent(3), 3)
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	span, ctx := tr.StartSpan(context.Background(), "detached")
	span.Finish()
	assert.NotEmpty(t, TraceIDFrom(ctx))
}

func TestInjectAndRemoteParent(t *testing.T) {
	ctx := WithRemoteParent(context.Background(), "trace_x", "span_y")
	headers := map[string]string{}
	Inject(ctx, headers)
	assert.Equal(t, map[string]string{TraceHeader: "trace_x", SpanHeader: "span_y"}, headers)
	assert.Equal(t, "[trace:trace_x span:span_y]", Format(ctx))
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tr := New("test", nil)
	defer tr.Close()

	r := gin.New()
	r.Use(HTTPMiddleware(tr))
	var seen id.TraceID
	r.GET("/health", func(c *gin.Context) {
		seen = TraceIDFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(TraceHeader, "trace_upstream")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, id.TraceID("trace_upstream"), seen)
	assert.Equal(t, "trace_upstream", w.Header().Get(TraceHeader))

	spans := waitRecent(t, tr, 1)
	assert.Equal(t, "GET /health", spans[0].Name)
	assert.Equal(t, http.StatusNoContent, spans[0].StatusCode)
}

func TestGRPCInterceptors(t *testing.T) {
	tr := New("test", nil)
	defer tr.Close()

	var md metadata.MD
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	root, ctx := tr.StartSpan(context.Background(), "caller")
	require.NoError(t, GRPCClientInterceptor(tr)(ctx, "/svc/Call", nil, nil, nil, invoker))
	assert.Equal(t, []string{root.TraceID.String()}, md.Get("x-trace-id"))

	in := metadata.NewIncomingContext(context.Background(), md)
	var got id.TraceID
	_, err := GRPCUnaryInterceptor(tr)(in, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Call"},
		func(ctx context.Context, _ any) (any, error) {
			got = TraceIDFrom(ctx)
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, root.TraceID, got)
}
