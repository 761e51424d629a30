// Package procmgr spawns processes, drives one state machine per process
// from its lifecycle notifications and answers wait-for-exit queries.
package procmgr

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/shared/id"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/fifofs"
)

const (
	DefaultAliveTimeout  = 120 * time.Second
	DefaultAliveInterval = 10 * time.Second

	// DefaultFifoPrefix is where fifofs is mounted.
	DefaultFifoPrefix = "/dev/pipe"
	// DefaultConsole is the stdio of top-level processes.
	DefaultConsole = "/dev/tty0"
	// DevNull backs "null" stdio.
	DevNull = "/dev/null"

	// ExitNotFound is the status of a command that could not be started.
	ExitNotFound = 127

	lifecycleBuffer = 256
	sigKill         = 9
)

// Options configures a Manager.
type Options struct {
	Kernel   process.Kernel
	Ops      *process.OpTable
	Programs process.Launcher

	// Fifos backs "piped" stdio; it must be mounted at FifoPrefix.
	Fifos      *fifofs.FS
	FifoPrefix string
	Console    string

	AliveTimeout  time.Duration
	AliveInterval time.Duration

	// Observe, when set, sees every state transition. It runs on the
	// machine's goroutine and must not block.
	Observe func(Transition)

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Transition reports a process machine changing state.
type Transition struct {
	Pid    int                 `json:"pid"`
	From   State               `json:"from"`
	To     State               `json:"to"`
	Cmd    []string            `json:"cmd,omitempty"`
	Status *process.ExitStatus `json:"status,omitempty"`
}

type entry struct {
	machine *Machine
	proc    *process.Process
	desc    process.SpawnDescriptor
	stdio   [3]string
	piped   []string
	started time.Time
}

// Info describes a process for listings.
type Info struct {
	Pid       int                 `json:"pid"`
	ParentPid int                 `json:"parentPid"`
	Cmd       []string            `json:"cmd"`
	Cwd       string              `json:"cwd"`
	State     State               `json:"state"`
	Worker    string              `json:"worker,omitempty"`
	Status    *process.ExitStatus `json:"status,omitempty"`
	Started   time.Time           `json:"started"`
	InFlight  []string            `json:"inFlight,omitempty"`
}

// Manager owns every process of a kernel.
type Manager struct {
	opts   Options
	logger *logging.Logger

	mu      sync.RWMutex
	procs   map[int]*entry
	nextPid int

	events chan process.Event
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// New creates a manager and starts its lifecycle loop.
func New(opts Options) *Manager {
	if opts.AliveTimeout == 0 {
		opts.AliveTimeout = DefaultAliveTimeout
	}
	if opts.AliveInterval == 0 {
		opts.AliveInterval = DefaultAliveInterval
	}
	if opts.FifoPrefix == "" {
		opts.FifoPrefix = DefaultFifoPrefix
	}
	if opts.Console == "" {
		opts.Console = DefaultConsole
	}

	m := &Manager{
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named("procmgr"),
		procs:   make(map[int]*entry),
		nextPid: 1,
		events:  make(chan process.Event, lifecycleBuffer),
		stop:    make(chan struct{}),
	}

	m.wg.Add(1)
	go m.dispatch()
	return m
}

// SetKernel attaches the kernel handle given to new processes. The kernel
// and its manager refer to each other, so one side is set after creation.
func (m *Manager) SetKernel(k process.Kernel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Kernel = k
}

func (m *Manager) dispatch() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.handle(ev)
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) handle(ev process.Event) {
	e, ok := m.lookup(ev.Pid)
	if !ok {
		return
	}

	switch ev.Type {
	case process.EventSpawned:
		m.logger.Debug("process started", logging.Pid(ev.Pid))
	case process.EventAlive:
		e.machine.Send(EventPing, Payload{})
	case process.EventExited:
		e.machine.Send(EventExit, Payload{Code: ev.Code, GotSignal: ev.GotSignal})
	}
}

func (m *Manager) lookup(pid int) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.procs[pid]
	return e, ok
}

func (m *Manager) procOf(e *entry) *process.Process {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.proc
}

// onEnter reacts to machine transitions.
func (m *Manager) onEnter(e *entry) func(*Machine, State, State) {
	return func(mc *Machine, from, to State) {
		if m.opts.Observe != nil {
			t := Transition{Pid: mc.Pid(), From: from, To: to, Cmd: e.desc.Cmd}
			if to.Terminal() {
				status := mc.Status()
				t.Status = &status
			}
			m.opts.Observe(t)
		}

		switch to {
		case StateDone:
			status := mc.Status()
			m.opts.Metrics.ProcessExited(strconv.Itoa(status.StatusCode))
			m.logger.Info("process done",
				logging.Pid(mc.Pid()),
				zap.Int("status", status.StatusCode),
				zap.Bool("signal", status.GotSignal),
				zap.Duration("uptime", time.Since(e.started)),
			)
			// alive timeout: the machine gave up, make the process match
			if p := m.procOf(e); p != nil {
				if _, exited := p.Status(); !exited {
					p.Kill(sigKill)
				}
			}

		case StateDisposed:
			if from != StateDone {
				m.opts.Metrics.ProcessExited(strconv.Itoa(mc.Status().StatusCode))
			}
			if p := m.procOf(e); p != nil {
				if _, exited := p.Status(); !exited {
					p.Kill(sigKill)
				}
			}
			m.releasePipes(e)
			m.mu.Lock()
			delete(m.procs, mc.Pid())
			m.mu.Unlock()
		}
	}
}

// Spawn starts a process. The pid is valid even when the command cannot be
// run: such a process ends with status 127 so waiters always resolve.
func (m *Manager) Spawn(ctx context.Context, desc process.SpawnDescriptor) (process.SpawnResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return process.SpawnResult{}, syserr.Errorf(syserr.BadResource, "spawn", "process manager closed")
	}
	pid := m.nextPid
	m.nextPid++
	kernel := m.opts.Kernel
	e := &entry{desc: desc, started: time.Now()}
	e.machine = NewMachine(pid, MachineOptions{
		AliveTimeout: m.opts.AliveTimeout,
		OnEnter:      m.onEnter(e),
		Logger:       m.opts.Logger,
	})
	m.procs[pid] = e
	m.mu.Unlock()

	m.opts.Metrics.ProcessSpawned()
	e.machine.Send(EventSpawningWorker, Payload{})
	e.machine.Send(EventSpawnedWorker, Payload{Worker: id.NewWorkerID().String()})

	result := process.SpawnResult{Pid: pid}
	parent, _ := m.lookup(desc.ParentPid)

	p := process.New(process.Config{
		Pid:           pid,
		ParentPid:     desc.ParentPid,
		Argv:          desc.Cmd,
		Cwd:           m.cwdFor(desc, parent),
		Env:           m.envFor(desc, parent),
		Ops:           m.opts.Ops,
		Kernel:        kernel,
		Logger:        m.opts.Logger,
		Metrics:       m.opts.Metrics,
		Lifecycle:     m.events,
		AliveInterval: m.opts.AliveInterval,
	})

	if err := m.setupStdio(p, desc, parent, e, &result); err != nil {
		p.Exit(1)
		e.machine.Send(EventExit, Payload{Code: 1})
		m.logger.Warn("stdio setup failed", logging.Pid(pid), zap.Error(err))
		return result, fmt.Errorf("spawn %v: %w", desc.Cmd, err)
	}

	main, found := m.program(desc.Cmd)
	if !found {
		name := "<empty>"
		if len(desc.Cmd) > 0 {
			name = desc.Cmd[0]
		}
		_, _, stderr := p.Stdio()
		if r, ok := p.Table().Get(stderr); ok {
			fmt.Fprintf(writerOf(r), "%s: command not found\n", name)
		}
		p.Exit(ExitNotFound)
		e.machine.Send(EventExit, Payload{Code: ExitNotFound})
		m.logger.Info("command not found", logging.Pid(pid), zap.String("cmd", name))
		return result, nil
	}

	m.mu.Lock()
	e.proc = p
	m.mu.Unlock()

	e.machine.Send(EventCreatedProcessWorker, Payload{})
	go p.Run(func(ctx context.Context) int { return main(ctx, p) })

	m.logger.Debug("spawned", logging.Pid(pid), zap.Strings("cmd", desc.Cmd))
	return result, nil
}

func (m *Manager) program(cmd []string) (process.Main, bool) {
	if len(cmd) == 0 || m.opts.Programs == nil {
		return nil, false
	}
	return m.opts.Programs.Lookup(cmd[0])
}

func (m *Manager) cwdFor(desc process.SpawnDescriptor, parent *entry) string {
	switch {
	case desc.Cwd != "" && parent != nil && parent.proc != nil:
		return parent.proc.Resolve(desc.Cwd)
	case desc.Cwd != "":
		return vfs.Clean(desc.Cwd)
	case parent != nil && parent.proc != nil:
		return parent.proc.Cwd()
	}
	return "/"
}

// envFor overlays the descriptor's env on the parent's.
func (m *Manager) envFor(desc process.SpawnDescriptor, parent *entry) map[string]string {
	env := map[string]string{}
	if parent != nil && parent.proc != nil {
		env = parent.proc.Env()
	}
	for k, v := range desc.Env {
		env[k] = v
	}
	return env
}

// WaitFor blocks until pid reaches done or disposed.
func (m *Manager) WaitFor(ctx context.Context, pid int) (process.ExitStatus, error) {
	e, ok := m.lookup(pid)
	if !ok {
		return process.ExitStatus{}, syserr.Errorf(syserr.NotFound, "wait", "no such process %d", pid)
	}

	select {
	case <-e.machine.Done():
		return e.machine.Status(), nil
	case <-ctx.Done():
		return process.ExitStatus{}, ctx.Err()
	}
}

// Kill terminates pid as if by signal.
func (m *Manager) Kill(pid, signal int) error {
	e, ok := m.lookup(pid)
	if !ok {
		return syserr.Errorf(syserr.NotFound, "kill", "no such process %d", pid)
	}
	if signal <= 0 {
		signal = sigKill
	}

	if p := m.procOf(e); p != nil {
		p.Kill(signal)
	}
	return nil
}

// Dispose drops pid, terminating it first if it still runs.
func (m *Manager) Dispose(pid int) error {
	e, ok := m.lookup(pid)
	if !ok {
		return syserr.Errorf(syserr.NotFound, "dispose", "no such process %d", pid)
	}
	e.machine.Send(EventDispose, Payload{})
	return nil
}

// Process returns the live process object for pid.
func (m *Manager) Process(pid int) (*process.Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.procs[pid]
	if !ok || e.proc == nil {
		return nil, false
	}
	return e.proc, true
}

// Machine returns the state machine for pid.
func (m *Manager) Machine(pid int) (*Machine, bool) {
	e, ok := m.lookup(pid)
	if !ok {
		return nil, false
	}
	return e.machine, true
}

// Get describes pid.
func (m *Manager) Get(pid int) (Info, bool) {
	e, ok := m.lookup(pid)
	if !ok {
		return Info{}, false
	}
	return m.info(pid, e), true
}

func (m *Manager) info(pid int, e *entry) Info {
	state := e.machine.State()
	info := Info{
		Pid:       pid,
		ParentPid: e.desc.ParentPid,
		Cmd:       e.desc.Cmd,
		State:     state,
		Worker:    e.machine.Worker(),
		Started:   e.started,
	}

	if p := m.procOf(e); p != nil {
		info.Cwd = p.Cwd()
		info.InFlight = p.InFlight()
	}
	if state.Terminal() {
		status := e.machine.Status()
		info.Status = &status
	}
	return info
}

// List describes every known process, ordered by pid.
func (m *Manager) List() []Info {
	m.mu.RLock()
	pids := make([]int, 0, len(m.procs))
	entries := make(map[int]*entry, len(m.procs))
	for pid, e := range m.procs {
		pids = append(pids, pid)
		entries[pid] = e
	}
	m.mu.RUnlock()

	sort.Ints(pids)
	out := make([]Info, 0, len(pids))
	for _, pid := range pids {
		out = append(out, m.info(pid, entries[pid]))
	}
	return out
}

// Close disposes every process and stops the lifecycle loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	machines := make([]*Machine, 0, len(m.procs))
	for _, e := range m.procs {
		machines = append(machines, e.machine)
	}
	m.mu.Unlock()

	for _, mc := range machines {
		mc.Send(EventDispose, Payload{})
	}
	close(m.stop)
	m.wg.Wait()
}
