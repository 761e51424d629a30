/*
Package tracing provides lightweight request tracing for the kernel's outer
surfaces: the HTTP shim and the gRPC transport.

A span is opened per shim request and per transport call; op invocations
made on behalf of a request become child spans. Finished spans are logged
and the most recent ones are kept for the /traces endpoint.

# Usage

	tracer := tracing.New("webkernel", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	server := grpc.NewServer(grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)))

	span, ctx := tracer.StartSpan(ctx, "op_read")
	defer span.Finish()

# Propagation

Trace context travels in the X-Trace-ID and X-Span-ID headers, and in the
matching lowercase gRPC metadata keys.
*/
package tracing
