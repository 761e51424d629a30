// Package server wires a kernel to its outer surfaces: the gin HTTP shim,
// the WebSocket terminal stream and the optional gRPC transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	apihttp "github.com/GriffinCanCode/webkernel/internal/api/http"
	"github.com/GriffinCanCode/webkernel/internal/api/middleware"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webkernel/internal/kernel"
	"github.com/GriffinCanCode/webkernel/internal/transport"
	"github.com/GriffinCanCode/webkernel/internal/ws"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	streamPath        = "/stream"
)

// Options configures New.
type Options struct {
	Config   *config.Config
	Manifest *config.Manifest
	Logger   *logging.Logger

	// Console is the host side of /dev/tty0, typically os.Stdout. Output
	// also reaches WebSocket clients.
	Console io.Writer
}

// Server wraps a kernel and the listeners in front of it.
type Server struct {
	cfg     *config.Config
	kernel  *kernel.Kernel
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	router  *gin.Engine
	grpc    *grpc.Server
}

// New builds the kernel and its surfaces. Nothing listens until Run.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := logging.OrNop(opts.Logger)

	logger.Info("initializing webkernel",
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("grpc", cfg.GRPC.Enabled),
		zap.String("manifest", cfg.Kernel.Manifest))

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("webkernel", logger)

	feed := ws.NewFeed()
	console := io.Writer(feed)
	if opts.Console != nil {
		console = io.MultiWriter(opts.Console, feed)
	}

	k, err := kernel.New(kernel.Options{
		Config:   cfg,
		Manifest: opts.Manifest,
		Logger:   logger,
		Metrics:  metrics,
		Console:  console,
	})
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("kernel: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		kernel:  k,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
	s.router = s.buildRouter(feed)

	if cfg.GRPC.Enabled {
		s.grpc = grpc.NewServer(
			grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
			grpc.MaxRecvMsgSize(transport.MaxMessageSize),
			grpc.MaxSendMsgSize(transport.MaxMessageSize),
		)
		transport.RegisterGRPC(s.grpc, k.Mux(), logger)
	}

	logger.Info("server initialized")
	return s, nil
}

func (s *Server) buildRouter(feed *ws.Feed) *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.Origins = s.cfg.Server.CORSOrigins
	router.Use(middleware.CORS(corsCfg))
	if s.cfg.RateLimit.Enabled {
		s.logger.Info("rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
			IdleTTL:           s.cfg.RateLimit.IdleTTL,
		}))
	}

	apihttp.NewHandlers(s.kernel, s.tracer, s.logger).Register(router)
	router.GET(streamPath, ws.NewHandler(s.kernel, feed, s.logger).HandleConnection)
	return router
}

// Kernel returns the served kernel.
func (s *Server) Kernel() *kernel.Kernel { return s.kernel }

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled or a listener fails, then shuts every
// listener down. With no listener enabled it just waits for ctx.
func (s *Server) Run(ctx context.Context) error {
	var lis net.Listener
	if s.grpc != nil {
		var err error
		if lis, err = net.Listen("tcp", s.cfg.GRPC.Address); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if s.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              s.cfg.Server.Addr(),
			Handler:           s.router,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			s.logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if s.grpc != nil {
		g.Go(func() error {
			s.logger.Info("starting gRPC server", zap.String("addr", lis.Addr().String()))
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			s.grpc.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

// Close disposes the kernel and flushes the logger.
func (s *Server) Close() error {
	s.logger.Info("shutting down server")
	err := s.kernel.Close()
	s.tracer.Close()
	_ = s.logger.Sync()
	return err
}
