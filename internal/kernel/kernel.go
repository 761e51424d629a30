// Package kernel assembles one kernel instance: the composed filesystem,
// the simulated network, the process manager with the host op table, the
// guest program registry and the transport mux other contexts call into.
package kernel

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/guest"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webkernel/internal/netsim"
	"github.com/GriffinCanCode/webkernel/internal/ops"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/procmgr"
	"github.com/GriffinCanCode/webkernel/internal/programs"
	"github.com/GriffinCanCode/webkernel/internal/transport"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/devfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/fifofs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/hostfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/memfs"
)

// Well-known paths and transport objects.
const (
	DevPrefix     = "/dev"
	ConsoleDevice = "tty0"

	ObjectKernel = "kernel"
	ObjectProc   = "proc/"
)

// Options configures New. Zero values get defaults.
type Options struct {
	Config   *config.Config
	Manifest *config.Manifest
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics

	// Programs resolves commands. Nil installs the builtins, with js backed
	// by a guest pool owned by the kernel.
	Programs process.Launcher

	// Console receives everything written to /dev/tty0.
	Console io.Writer

	// Hub connects this kernel's network to others. Nil gets a private hub.
	Hub netsim.Broadcast
}

// Kernel is one running instance.
type Kernel struct {
	cfg      *config.Config
	manifest *config.Manifest
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	fs      *vfs.Mountable
	fifos   *fifofs.FS
	console *devfs.Console
	net     *netsim.Network
	hub     netsim.Broadcast
	procs   *procmgr.Manager
	pool    *guest.Pool
	mux     *transport.Mux
	events  *Events

	unsubscribe func()
	closeOnce   sync.Once
}

// New builds a kernel. Nothing runs until Spawn or Boot.
func New(opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	manifest := opts.Manifest
	if manifest == nil {
		manifest = config.DefaultManifest()
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	logger := logging.OrNop(opts.Logger).Named("kernel")

	k := &Kernel{
		cfg:      cfg,
		manifest: manifest,
		logger:   logger,
		metrics:  opts.Metrics,
		mux:      transport.NewMux(),
		events:   newEvents(),
	}

	if err := k.buildFS(opts.Console); err != nil {
		return nil, err
	}

	k.hub = opts.Hub
	if k.hub == nil {
		k.hub = netsim.NewHub()
	}
	k.net = netsim.New(netsim.Options{
		Hub:          k.hub,
		RelayTimeout: cfg.Kernel.RelayTimeout,
		PipeCapacity: cfg.Kernel.PipeCapacity,
		Logger:       opts.Logger,
	})
	k.unsubscribe = k.hub.Subscribe(k.events.relay)

	table, err := ops.Table(ops.Options{
		HTTP: ops.NewHTTPClient(ops.FetchConfig{
			Timeout:   cfg.Fetch.Timeout,
			Retries:   cfg.Fetch.Retries,
			UserAgent: cfg.Fetch.UserAgent,
		}),
		Breaker:      resilience.Fetch(opts.Logger),
		Fifos:        k.fifos,
		FifoPrefix:   ops.DefaultFifoPrefix,
		PipeCapacity: cfg.Kernel.PipeCapacity,
		Logger:       opts.Logger,
	})
	if err != nil {
		k.net.Close()
		return nil, fmt.Errorf("op table: %w", err)
	}

	launcher := opts.Programs
	if launcher == nil {
		pool, err := guest.NewPool(guest.Config{
			Timeout:          cfg.Kernel.GuestTimeout,
			MaxCallStackSize: guest.DefaultConfig().MaxCallStackSize,
		}, cfg.Kernel.GuestPool)
		if err != nil {
			k.net.Close()
			return nil, fmt.Errorf("guest pool: %w", err)
		}
		k.pool = pool
		launcher = programs.Builtins(pool)
	}

	k.procs = procmgr.New(procmgr.Options{
		Ops:           table,
		Programs:      launcher,
		Fifos:         k.fifos,
		FifoPrefix:    ops.DefaultFifoPrefix,
		Console:       DevPrefix + "/" + ConsoleDevice,
		AliveTimeout:  cfg.Kernel.AliveTimeout,
		AliveInterval: cfg.Kernel.AliveInterval,
		Observe:       k.events.transition,
		Logger:        opts.Logger,
		Metrics:       opts.Metrics,
	})
	k.procs.SetKernel(k)

	k.mux.Expose(ObjectKernel, k.rpc())
	k.mux.Resolve(k.resolveProc)

	logger.Info("kernel ready",
		zap.Int("ops", table.Len()),
		zap.Int("mounts", len(k.fs.Mounts())),
		zap.String("network", k.net.ID().String()))
	return k, nil
}

func (k *Kernel) buildFS(sink io.Writer) error {
	root := memfs.New()
	k.fs = vfs.NewMountable(root)

	dev := devfs.New()
	k.console = devfs.NewConsole(sink, k.cfg.Kernel.PipeCapacity)
	dev.Register(ConsoleDevice, k.console)
	dev.Register("console", k.console)
	k.fs.Mount(DevPrefix, dev)

	k.fifos = fifofs.New(k.cfg.Kernel.PipeCapacity)
	k.fs.Mount(ops.DefaultFifoPrefix, k.fifos)

	for _, dir := range k.manifest.Dirs {
		if err := vfs.MkdirAll(k.fs, dir, vfs.DefaultDirMode); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	for _, mt := range k.manifest.Mounts {
		var backend vfs.FileSystem
		switch mt.Type {
		case config.MountHost:
			h, err := hostfs.New(mt.Source, mt.ReadOnly)
			if err != nil {
				return fmt.Errorf("mount %s: %w", mt.Path, err)
			}
			backend = h
		case config.MountMem:
			backend = memfs.New()
		}
		k.fs.Mount(mt.Path, backend)
		k.logger.Debug("mounted", zap.String("path", mt.Path), zap.String("type", mt.Type), zap.String("source", mt.Source))
	}
	return nil
}

func (k *Kernel) FS() *vfs.Mountable        { return k.fs }
func (k *Kernel) Net() *netsim.Network      { return k.net }
func (k *Kernel) Procs() process.Controller { return k.procs }

// Manager exposes the process manager for introspection.
func (k *Kernel) Manager() *procmgr.Manager { return k.procs }

// Console is the /dev/tty0 device.
func (k *Kernel) Console() *devfs.Console { return k.console }

// Mux is what other contexts reach through a transport.
func (k *Kernel) Mux() *transport.Mux { return k.mux }

// Events streams process transitions and relay traffic.
func (k *Kernel) Events() *Events { return k.events }

func (k *Kernel) Metrics() *monitoring.Metrics { return k.metrics }
func (k *Kernel) Config() *config.Config       { return k.cfg }

// Input feeds host keystrokes to the console, echoing them when configured.
func (k *Kernel) Input(p []byte) error {
	if k.cfg.Kernel.ConsoleEcho {
		if _, err := k.console.Write(p); err != nil {
			return err
		}
	}
	return k.console.Input(p)
}

// Spawn starts a process. Top-level processes start from the manifest
// environment, overlaid with desc.Env.
func (k *Kernel) Spawn(ctx context.Context, desc process.SpawnDescriptor) (process.SpawnResult, error) {
	if desc.ParentPid == 0 {
		env := make(map[string]string, len(k.manifest.Env)+len(desc.Env))
		for key, v := range k.manifest.Env {
			env[key] = v
		}
		for key, v := range desc.Env {
			env[key] = v
		}
		desc.Env = env
		if desc.Cwd == "" {
			desc.Cwd = k.manifest.Init.Cwd
		}
	}
	return k.procs.Spawn(ctx, desc)
}

// Run spawns desc and waits for it to finish.
func (k *Kernel) Run(ctx context.Context, desc process.SpawnDescriptor) (process.SpawnResult, process.ExitStatus, error) {
	res, err := k.Spawn(ctx, desc)
	if err != nil {
		return res, process.ExitStatus{}, err
	}
	st, err := k.procs.WaitFor(ctx, res.Pid)
	return res, st, err
}

// Boot starts the manifest's init command on the console. It reports false
// when the manifest names none.
func (k *Kernel) Boot(ctx context.Context) (int, bool, error) {
	if len(k.manifest.Init.Cmd) == 0 {
		return 0, false, nil
	}
	res, err := k.Spawn(ctx, process.SpawnDescriptor{Cmd: k.manifest.Init.Cmd})
	if err != nil {
		return 0, true, err
	}
	k.logger.Info("init started", logging.Pid(res.Pid), zap.Strings("cmd", k.manifest.Init.Cmd))
	return res.Pid, true, nil
}

func (k *Kernel) resolveProc(name string) (transport.Handler, bool) {
	rest, ok := strings.CutPrefix(name, ObjectProc)
	if !ok {
		return nil, false
	}
	pid, err := strconv.Atoi(rest)
	if err != nil {
		return nil, false
	}
	p, ok := k.procs.Process(pid)
	if !ok {
		return nil, false
	}
	return transport.ProcessHandler(p), true
}

// Close disposes every process and releases the network and guest pool.
func (k *Kernel) Close() error {
	k.closeOnce.Do(func() {
		k.procs.Close()
		k.console.EndInput()
		if k.unsubscribe != nil {
			k.unsubscribe()
		}
		k.net.Close()
		if k.pool != nil {
			k.pool.Close()
		}
		k.events.close()
		k.logger.Info("kernel closed")
	})
	return nil
}
