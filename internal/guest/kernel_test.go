package guest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/netsim"
	"github.com/GriffinCanCode/webkernel/internal/ops"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/procmgr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/devfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/fifofs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/memfs"
)

type testKernel struct {
	fs    *vfs.Mountable
	net   *netsim.Network
	procs *procmgr.Manager
}

func (k *testKernel) FS() *vfs.Mountable        { return k.fs }
func (k *testKernel) Net() *netsim.Network      { return k.net }
func (k *testKernel) Procs() process.Controller { return k.procs }

type testEnv struct {
	k       *testKernel
	console *bytes.Buffer
}

func newTestEnv(t *testing.T, reg *Registry) *testEnv {
	t.Helper()
	return newTestEnvWith(t, reg, procmgr.Options{})
}

func newTestEnvWith(t *testing.T, reg *Registry, opts procmgr.Options) *testEnv {
	t.Helper()

	console := &bytes.Buffer{}
	dev := devfs.New()
	dev.Register("tty0", devfs.NewConsole(console, 1024))
	fifos := fifofs.New(1024)

	fsys := vfs.NewMountable(memfs.New())
	fsys.Mount("/dev", dev)
	fsys.Mount(ops.DefaultFifoPrefix, fifos)
	require.NoError(t, vfs.MkdirAll(fsys, "/tmp", vfs.DefaultDirMode))

	table, err := ops.Table(ops.Options{Fifos: fifos})
	require.NoError(t, err)

	opts.Ops, opts.Programs, opts.Fifos = table, reg, fifos
	m := procmgr.New(opts)
	net := netsim.New(netsim.Options{})
	k := &testKernel{fs: fsys, net: net, procs: m}
	m.SetKernel(k)
	t.Cleanup(func() {
		m.Close()
		net.Close()
	})
	return &testEnv{k: k, console: console}
}

// run spawns cmd on the console and waits for it.
func (e *testEnv) run(t *testing.T, cmd ...string) process.ExitStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := e.k.procs.Spawn(ctx, process.SpawnDescriptor{Cmd: cmd, Cwd: "/tmp"})
	require.NoError(t, err)
	st, err := e.k.procs.WaitFor(ctx, res.Pid)
	require.NoError(t, err)
	return st
}
