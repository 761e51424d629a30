package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/server"
)

const stdinChunk = 4096

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "HTTP host")
	flag.StringVar(&cfg.Kernel.Manifest, "manifest", cfg.Kernel.Manifest, "boot manifest (.yaml or .toml)")
	flag.StringVar(&cfg.GRPC.Address, "grpc", cfg.GRPC.Address, "gRPC listen address")
	flag.BoolVar(&cfg.GRPC.Enabled, "grpc-enabled", cfg.GRPC.Enabled, "serve the transport over gRPC")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "development logging")
	flag.BoolVar(&cfg.Kernel.ConsoleEcho, "echo", cfg.Kernel.ConsoleEcho, "echo console input")
	headless := flag.Bool("no-stdin", false, "do not feed host stdin to the console")
	oneshot := flag.Bool("oneshot", false, "exit with init's status when it finishes")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	manifest, err := config.LoadManifest(cfg.Kernel.Manifest)
	if err != nil {
		logger.Fatal("failed to load manifest", zap.Error(err))
	}

	srv, err := server.New(server.Options{
		Config:   cfg,
		Manifest: manifest,
		Logger:   logger,
		Console:  os.Stdout,
	})
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k := srv.Kernel()
	if !*headless {
		go feedStdin(k.Input, k.Console().EndInput, logger)
	}

	var code atomic.Int32
	pid, started, err := k.Boot(ctx)
	if err != nil {
		logger.Error("init failed to start", zap.Error(err))
		code.Store(1)
		stop()
	} else if started && *oneshot {
		go func() {
			if st, err := k.Manager().WaitFor(ctx, pid); err == nil {
				code.Store(int32(st.StatusCode))
			}
			stop()
		}()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		code.Store(1)
	}
	logger.Info("shutting down gracefully")
	if err := srv.Close(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	os.Exit(int(code.Load()))
}

// feedStdin copies host stdin into the console until EOF.
func feedStdin(input func([]byte) error, end func(), logger *logging.Logger) {
	defer end()
	buf := make([]byte, stdinChunk)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if ierr := input(buf[:n]); ierr != nil {
				logger.Warn("console input rejected", zap.Error(ierr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("stdin read failed", zap.Error(err))
			}
			return
		}
	}
}
