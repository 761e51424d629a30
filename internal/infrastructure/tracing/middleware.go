package tracing

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/GriffinCanCode/webkernel/internal/shared/id"
)

// HTTPMiddleware opens a span per request and echoes the trace headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithRemoteParent(c.Request.Context(),
			id.TraceID(c.GetHeader(TraceHeader)),
			id.SpanID(c.GetHeader(SpanHeader)))

		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)

		c.Header(TraceHeader, span.TraceID.String())
		c.Header(SpanHeader, span.SpanID.String())

		c.Next()

		status := c.Writer.Status()
		span.SetStatus(status)
		span.SetTag("http.status", strconv.Itoa(status))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
	}
}

func incoming(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	first := func(key string) string {
		if vals := md.Get(strings.ToLower(key)); len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	return WithRemoteParent(ctx, id.TraceID(first(TraceHeader)), id.SpanID(first(SpanHeader)))
}

// GRPCUnaryInterceptor traces unary calls served by a gRPC server.
func GRPCUnaryInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span, ctx := tracer.StartSpan(incoming(ctx), info.FullMethod)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("span.kind", "server")

		resp, err := handler(ctx, req)
		span.SetError(err)
		span.Finish()
		return resp, err
	}
}

// GRPCClientInterceptor traces outgoing unary calls and propagates the
// trace context as metadata.
func GRPCClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("span.kind", "client")

		headers := make(map[string]string, 2)
		Inject(ctx, headers)
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(headers))

		err := invoker(ctx, method, req, reply, cc, opts...)
		span.SetError(err)
		span.Finish()
		return err
	}
}
