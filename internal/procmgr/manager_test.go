package procmgr

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/netsim"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/devfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/fifofs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/memfs"
)

type programs map[string]process.Main

func (p programs) Lookup(name string) (process.Main, bool) {
	main, ok := p[name]
	return main, ok
}

type testKernel struct {
	fs    *vfs.Mountable
	procs *Manager
}

func (k *testKernel) FS() *vfs.Mountable        { return k.fs }
func (k *testKernel) Net() *netsim.Network      { return nil }
func (k *testKernel) Procs() process.Controller { return k.procs }

func writeStdout(p *process.Process, s string) {
	_, out, _ := p.Stdio()
	r, _ := p.Table().Get(out)
	_, _ = resource.Write(r, []byte(s))
}

func newTestManager(t *testing.T, progs programs, opts Options) (*Manager, *vfs.Mountable, *bytes.Buffer) {
	t.Helper()

	var console bytes.Buffer
	dev := devfs.New()
	dev.Register("tty0", devfs.NewConsole(&console, 1024))
	fifos := fifofs.New(1024)

	fsys := vfs.NewMountable(memfs.New())
	fsys.Mount("/dev", dev)
	fsys.Mount(DefaultFifoPrefix, fifos)

	opts.Programs = progs
	opts.Fifos = fifos
	m := New(opts)
	m.SetKernel(&testKernel{fs: fsys, procs: m})
	t.Cleanup(m.Close)
	return m, fsys, &console
}

func readAll(t *testing.T, fsys *vfs.Mountable, path string) string {
	t.Helper()
	f, err := fsys.Open(path, vfs.FlagRead, 0)
	require.NoError(t, err)
	defer f.Close()

	out, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(out)
}

func waitFor(t *testing.T, m *Manager, pid int) process.ExitStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.WaitFor(ctx, pid)
	require.NoError(t, err)
	return st
}

func echo(_ context.Context, p *process.Process) int {
	args := p.Args()
	line := ""
	for i, a := range args[1:] {
		if i > 0 {
			line += " "
		}
		line += a
	}
	writeStdout(p, line+"\n")
	return 0
}

func TestSpawnPipedStdout(t *testing.T) {
	m, fsys, _ := newTestManager(t, programs{"echo": echo}, Options{})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{
		Cmd:    []string{"echo", "hi"},
		Stdout: process.StdioPiped,
	})
	require.NoError(t, err)
	assert.True(t, vfs.HasPrefix(res.Stdout, DefaultFifoPrefix))
	assert.Equal(t, DefaultConsole, res.Stdin)

	assert.Equal(t, process.ExitStatus{}, waitFor(t, m, res.Pid))
	assert.Equal(t, "hi\n", readAll(t, fsys, res.Stdout))
}

func TestSpawnInheritsConsole(t *testing.T) {
	m, _, console := newTestManager(t, programs{"echo": echo}, Options{})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"echo", "to", "tty"}})
	require.NoError(t, err)
	waitFor(t, m, res.Pid)
	assert.Equal(t, "to tty\n", console.String())
}

func TestSpawnToFile(t *testing.T) {
	m, fsys, _ := newTestManager(t, programs{"echo": echo}, Options{})
	require.NoError(t, fsys.Mkdir("/tmp", 0))

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{
		Cmd:    []string{"echo", "saved"},
		Cwd:    "/tmp",
		Stdout: "out.txt",
		Stderr: process.StdioNull,
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out.txt", res.Stdout)
	waitFor(t, m, res.Pid)

	data, err := fsys.ReadFile("/tmp/out.txt")
	require.NoError(t, err)
	assert.Equal(t, "saved\n", string(data))
}

func TestSpawnUnknownCommand(t *testing.T) {
	m, fsys, _ := newTestManager(t, programs{}, Options{})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{
		Cmd:    []string{"nope"},
		Stderr: process.StdioPiped,
	})
	require.NoError(t, err)

	assert.Equal(t, ExitNotFound, waitFor(t, m, res.Pid).StatusCode)
	assert.Equal(t, "nope: command not found\n", readAll(t, fsys, res.Stderr))
}

func TestSpawnBadStdio(t *testing.T) {
	m, _, _ := newTestManager(t, programs{"echo": echo}, Options{})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{
		Cmd:   []string{"echo"},
		Stdin: "/missing/input",
	})
	require.Error(t, err)
	assert.True(t, syserr.Is(err, syserr.NotFound))
	assert.Equal(t, 1, waitFor(t, m, res.Pid).StatusCode)
}

func TestExplicitExitStatus(t *testing.T) {
	m, _, _ := newTestManager(t, programs{
		"fail": func(ctx context.Context, p *process.Process) int {
			p.Exit(3)
			return 0
		},
	}, Options{})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"fail"}, Stdout: process.StdioNull})
	require.NoError(t, err)
	assert.Equal(t, process.ExitStatus{StatusCode: 3}, waitFor(t, m, res.Pid))
}

func TestAliveTimeoutForcesDone(t *testing.T) {
	m, _, _ := newTestManager(t, programs{
		"hang": func(ctx context.Context, _ *process.Process) int {
			<-ctx.Done()
			return 0
		},
	}, Options{AliveTimeout: 30 * time.Millisecond, AliveInterval: time.Hour})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"hang"}})
	require.NoError(t, err)
	assert.Equal(t, TimedOutStatus, waitFor(t, m, res.Pid))

	p, ok := m.Process(res.Pid)
	require.True(t, ok)
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out process was not terminated")
	}
}

func TestAlivePingsKeepProcessRunning(t *testing.T) {
	release := make(chan struct{})
	m, _, _ := newTestManager(t, programs{
		"wait": func(ctx context.Context, _ *process.Process) int {
			<-release
			return 0
		},
	}, Options{AliveTimeout: 50 * time.Millisecond, AliveInterval: 10 * time.Millisecond})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"wait"}})
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	info, ok := m.Get(res.Pid)
	require.True(t, ok)
	assert.True(t, info.State.Running())

	close(release)
	assert.Equal(t, 0, waitFor(t, m, res.Pid).StatusCode)
}

func TestKillAndDispose(t *testing.T) {
	m, _, _ := newTestManager(t, programs{
		"hang": func(ctx context.Context, _ *process.Process) int {
			<-ctx.Done()
			return 0
		},
	}, Options{})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"hang"}})
	require.NoError(t, err)

	require.NoError(t, m.Kill(res.Pid, 15))
	assert.Equal(t, process.ExitStatus{StatusCode: 143, GotSignal: true}, waitFor(t, m, res.Pid))

	require.NoError(t, m.Dispose(res.Pid))
	_, ok := m.Get(res.Pid)
	assert.False(t, ok)

	_, err = m.WaitFor(context.Background(), res.Pid)
	assert.True(t, syserr.Is(err, syserr.NotFound))
	assert.True(t, syserr.Is(m.Kill(res.Pid, 9), syserr.NotFound))
}

func TestDisposeRunningProcess(t *testing.T) {
	m, _, _ := newTestManager(t, programs{
		"hang": func(ctx context.Context, _ *process.Process) int {
			<-ctx.Done()
			return 0
		},
	}, Options{})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"hang"}})
	require.NoError(t, err)
	p, ok := m.Process(res.Pid)
	require.True(t, ok)

	machine, _ := m.Machine(res.Pid)
	require.NoError(t, m.Dispose(res.Pid))
	assert.Equal(t, KilledStatus, machine.Status())

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("disposed process still running")
	}
}

func TestChildInheritsParent(t *testing.T) {
	release := make(chan struct{})
	seen := make(chan map[string]string, 1)
	cwds := make(chan string, 1)

	m, fsys, _ := newTestManager(t, programs{
		"parent": func(ctx context.Context, _ *process.Process) int {
			<-release
			return 0
		},
		"child": func(_ context.Context, p *process.Process) int {
			seen <- p.Env()
			cwds <- p.Cwd()
			writeStdout(p, "from child\n")
			return 0
		},
	}, Options{})
	require.NoError(t, fsys.Mkdir("/work", 0))

	parent, err := m.Spawn(context.Background(), process.SpawnDescriptor{
		Cmd:    []string{"parent"},
		Cwd:    "/work",
		Env:    map[string]string{"HOME": "/work", "A": "1"},
		Stdout: process.StdioPiped,
	})
	require.NoError(t, err)

	child, err := m.Spawn(context.Background(), process.SpawnDescriptor{
		Cmd:       []string{"child"},
		ParentPid: parent.Pid,
		Env:       map[string]string{"A": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, parent.Stdout, child.Stdout)

	assert.Equal(t, map[string]string{"HOME": "/work", "A": "2"}, <-seen)
	assert.Equal(t, "/work", <-cwds)
	waitFor(t, m, child.Pid)

	close(release)
	waitFor(t, m, parent.Pid)
	assert.Equal(t, "from child\n", readAll(t, fsys, parent.Stdout))
}

func TestListOrdersByPid(t *testing.T) {
	m, _, _ := newTestManager(t, programs{"echo": echo}, Options{})

	for i := 0; i < 3; i++ {
		res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"echo"}, Stdout: process.StdioNull})
		require.NoError(t, err)
		waitFor(t, m, res.Pid)
	}

	list := m.List()
	require.Len(t, list, 3)
	for i, info := range list {
		assert.Equal(t, i+1, info.Pid)
		assert.Equal(t, StateDone, info.State)
		require.NotNil(t, info.Status)
	}
}

func TestObserveTransitions(t *testing.T) {
	seen := make(chan Transition, 32)
	m, _, _ := newTestManager(t, programs{"echo": echo}, Options{
		Observe: func(tr Transition) { seen <- tr },
	})

	res, err := m.Spawn(context.Background(), process.SpawnDescriptor{Cmd: []string{"echo", "x"}})
	require.NoError(t, err)
	waitFor(t, m, res.Pid)

	var states []State
	var final Transition
	timeout := time.After(2 * time.Second)
	for final.To != StateDone {
		select {
		case final = <-seen:
			assert.Equal(t, res.Pid, final.Pid)
			states = append(states, final.To)
		case <-timeout:
			t.Fatalf("no done transition, saw %v", states)
		}
	}
	assert.Contains(t, states, StateRunningAlive)
	assert.Equal(t, []string{"echo", "x"}, final.Cmd)
	require.NotNil(t, final.Status)
	assert.Equal(t, 0, final.Status.StatusCode)
}
