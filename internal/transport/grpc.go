package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webkernel/internal/shared/id"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// The gRPC service has one unary method. Requests and responses are
// structpb.Struct values shaped like Request and Response, with the object
// name added to the request.
const (
	serviceName = "webkernel.transport.Transport"
	callMethod  = "/" + serviceName + "/Call"
)

// MaxMessageSize bounds a gRPC call in either direction.
const MaxMessageSize = 32 << 20

type callServer interface {
	call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*callServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Call",
		Handler:    callHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "transport.proto",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(callServer).call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(callServer).call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer serves a Mux over gRPC.
type GRPCServer struct {
	mux    *Mux
	logger *logging.Logger
}

// RegisterGRPC attaches m to s.
func RegisterGRPC(s *grpc.Server, m *Mux, logger *logging.Logger) *GRPCServer {
	srv := &GRPCServer{mux: m, logger: logging.OrNop(logger).Named("transport")}
	s.RegisterService(&serviceDesc, srv)
	return srv
}

func (s *GRPCServer) call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.AsMap()
	object, _ := fields["object"].(string)
	method, _ := fields["method"].(string)
	reqID, _ := fields["id"].(string)
	if object == "" || method == "" {
		return nil, status.Error(codes.InvalidArgument, "object and method are required")
	}
	args, _ := DecodeBytes(fields["args"]).([]any)

	resp := map[string]any{"id": reqID}
	result, err := s.mux.Serve(ctx, object, method, args)
	if err != nil {
		env, perr := Plain(syserr.ToEnvelope(err))
		if perr != nil {
			return nil, status.Error(codes.Internal, perr.Error())
		}
		resp["error"] = env
	} else {
		plain, perr := Plain(result)
		if perr != nil {
			s.logger.Warn("unencodable result", zap.String("object", object), zap.String("method", method), zap.Error(perr))
			return nil, status.Error(codes.Internal, perr.Error())
		}
		resp["result"] = plain
	}
	out, err := structpb.NewStruct(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GRPCOptions configures a GRPCClient.
type GRPCOptions struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// DialGRPC connects to a kernel's gRPC transport.
func DialGRPC(addr string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}, extra...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial transport %s: %w", addr, err)
	}
	return conn, nil
}

// GRPCClient calls an object over a gRPC connection. It does not own conn
// unless created with owned set.
type GRPCClient struct {
	conn    *grpc.ClientConn
	owned   bool
	object  string
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewGRPCClient binds object on conn.
func NewGRPCClient(conn *grpc.ClientConn, object string, opts GRPCOptions) *GRPCClient {
	logger := logging.OrNop(opts.Logger).Named("transport")
	return &GRPCClient{
		conn:    conn,
		object:  object,
		breaker: resilience.Transport("transport-grpc-"+object, logger),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// DialGRPCClient dials addr and binds object; Close closes the connection.
func DialGRPCClient(addr, object string, opts GRPCOptions) (*GRPCClient, error) {
	conn, err := DialGRPC(addr)
	if err != nil {
		return nil, err
	}
	c := NewGRPCClient(conn, object, opts)
	c.owned = true
	return c, nil
}

func (c *GRPCClient) Call(ctx context.Context, method string, args ...any) (any, error) {
	start := time.Now()
	plainArgs, err := Plain(args)
	if err != nil {
		return nil, err
	}
	if plainArgs == nil {
		plainArgs = []any{}
	}
	in, err := structpb.NewStruct(map[string]any{
		"id":     id.NewRequestID().String(),
		"object": c.object,
		"method": method,
		"args":   plainArgs,
	})
	if err != nil {
		return nil, err
	}

	out, err := resilience.Do(c.breaker, func() (*structpb.Struct, error) {
		out := new(structpb.Struct)
		if err := c.conn.Invoke(ctx, callMethod, in, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		c.metrics.RecordTransportCall("grpc", method, "error", time.Since(start))
		c.logger.Debug("call failed", zap.String("object", c.object), zap.String("method", method), zap.Error(err))
		return nil, err
	}

	fields := out.AsMap()
	if raw, ok := fields["error"]; ok && raw != nil {
		env, _ := syserr.AsEnvelope(raw)
		if env == nil {
			env = &syserr.Envelope{ClassName: syserr.GenericClassName, Message: fmt.Sprint(raw)}
		}
		c.metrics.RecordTransportCall("grpc", method, env.ClassName, time.Since(start))
		return nil, remoteError(c.object, method, env)
	}
	c.metrics.RecordTransportCall("grpc", method, "ok", time.Since(start))
	return DecodeBytes(fields["result"]), nil
}

func (c *GRPCClient) Close() error {
	if c.owned {
		return c.conn.Close()
	}
	return nil
}
