// Package process implements a guest execution unit: its resource table,
// working directory and environment, the indexed op dispatch boundary and
// the ledger of in-flight calls that decides when the process may exit.
package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

const notifyTimeout = 5 * time.Second

// Config configures a new process.
type Config struct {
	Pid       int
	ParentPid int
	Argv      []string
	Cwd       string
	Env       map[string]string
	Ops       *OpTable
	Kernel    Kernel
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics

	// Lifecycle receives spawned/alive/exited notifications. Sends never
	// block the process.
	Lifecycle     chan<- Event
	AliveInterval time.Duration
}

// Completion is the outcome of an async op. Result is the op's value or a
// *syserr.Envelope.
type Completion struct {
	ID     int64
	Result any
}

// Err returns the envelope when the op failed.
func (c Completion) Err() *syserr.Envelope {
	env, _ := syserr.AsEnvelope(c.Result)
	return env
}

// Process is one guest execution unit.
type Process struct {
	pid  int
	ppid int
	argv []string

	mu  sync.RWMutex
	cwd string
	env map[string]string

	table    *resource.Table
	stdio    [3]int
	baseline int

	ops       *OpTable
	kernel    Kernel
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	lifecycle chan<- Event
	alive     time.Duration
	pulse     atomic.Pointer[func(ack func())]
	beating   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	ledger *ledger
	loop   *loop

	stateMu  sync.Mutex
	mainDone bool
	mainCode int
	finished bool
	status   ExitStatus
	done     chan struct{}
}

// New creates a process. It does not start running until Run.
func New(cfg Config) *Process {
	logger := logging.OrNop(cfg.Logger).ForProcess(cfg.Pid)

	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}
	ops := cfg.Ops
	if ops == nil {
		ops = MustOpTable()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Process{
		pid:       cfg.Pid,
		ppid:      cfg.ParentPid,
		argv:      append([]string(nil), cfg.Argv...),
		cwd:       vfs.Clean(cwd),
		env:       env,
		table:     resource.NewTable(logger),
		stdio:     [3]int{-1, -1, -1},
		ops:       ops,
		kernel:    cfg.Kernel,
		logger:    logger,
		metrics:   cfg.Metrics,
		lifecycle: cfg.Lifecycle,
		alive:     cfg.AliveInterval,
		ctx:       ctx,
		cancel:    cancel,
		ledger:    newLedger(),
		loop:      newLoop(),
		done:      make(chan struct{}),
	}
}

func (p *Process) Pid() int       { return p.pid }
func (p *Process) ParentPid() int { return p.ppid }

// Args returns a copy of argv.
func (p *Process) Args() []string { return append([]string(nil), p.argv...) }

func (p *Process) Table() *resource.Table       { return p.table }
func (p *Process) Kernel() Kernel               { return p.kernel }
func (p *Process) Ops() *OpTable                { return p.ops }
func (p *Process) Logger() *logging.Logger      { return p.logger }
func (p *Process) Metrics() *monitoring.Metrics { return p.metrics }
func (p *Process) Context() context.Context     { return p.ctx }

// FS is a shortcut for the kernel's composed filesystem.
func (p *Process) FS() *vfs.Mountable { return p.kernel.FS() }

func (p *Process) Cwd() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cwd
}

// SetCwd sets the working directory. Callers validate that dir exists.
func (p *Process) SetCwd(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cwd = vfs.Clean(dir)
}

// Resolve makes name absolute against the working directory.
func (p *Process) Resolve(name string) string {
	return vfs.Resolve(p.Cwd(), name)
}

// Env returns a copy of the environment.
func (p *Process) Env() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.env))
	for k, v := range p.env {
		out[k] = v
	}
	return out
}

func (p *Process) Getenv(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.env[key]
	return v, ok
}

func (p *Process) Setenv(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.env[key] = value
}

func (p *Process) Unsetenv(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.env, key)
}

// SetStdio records the stdio rids and takes the current table size as the
// exit baseline. Call it once, right after the stdio handles are added.
func (p *Process) SetStdio(stdin, stdout, stderr int) {
	p.stdio = [3]int{stdin, stdout, stderr}
	p.baseline = p.table.Len()
}

// Stdio returns the stdin, stdout and stderr rids.
func (p *Process) Stdio() (stdin, stdout, stderr int) {
	return p.stdio[0], p.stdio[1], p.stdio[2]
}

// Baseline is the handle count at or below which the process may exit.
func (p *Process) Baseline() int { return p.baseline }

// InFlight returns the names of ops currently in the ledger, sorted.
func (p *Process) InFlight() []string {
	snap := p.ledger.snapshot()
	out := make([]string, 0, len(snap))
	for _, name := range snap {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OpSync dispatches op index synchronously. Dispatch faults are returned as
// errors; op failures come back as a *syserr.Envelope value.
func (p *Process) OpSync(index int, a, b any) (any, error) {
	op, err := p.ops.Lookup(index)
	if err != nil {
		return nil, err
	}
	if op.Sync == nil {
		if op.Name == ExitOpName {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrOpNotSync, op.Name)
	}

	key := p.ledger.addSync(op.Name)
	timer := monitoring.NewTimer(p.metrics, op.Name, "sync")

	result, err := p.invokeSync(op, a, b)
	p.loop.post(func() {
		p.ledger.remove(key)
		p.checkExit()
	})

	if err != nil {
		if op.Name == ExitOpName {
			timer.Stop("")
			return nil, nil
		}
		env := syserr.ToEnvelope(err)
		timer.Stop(env.ClassName)
		p.logger.Debug("op failed",
			logging.Op(op.Name),
			zap.String("class", env.ClassName),
			zap.String("message", env.Message),
		)
		return env, nil
	}
	timer.Stop("")
	return result, nil
}

// NextPromiseID allocates a promise id for OpAsync. Every client driving
// this process should draw ids here so two of them never pick the same one.
func (p *Process) NextPromiseID() int64 { return p.ledger.promise() }

// OpAsync dispatches op index on its own goroutine. The returned channel
// yields exactly one Completion.
func (p *Process) OpAsync(index int, promiseID int64, a, b any) (<-chan Completion, error) {
	op, err := p.ops.Lookup(index)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.addAsync(promiseID, op.Name); err != nil {
		return nil, err
	}

	out := make(chan Completion, 1)
	go func() {
		timer := monitoring.NewTimer(p.metrics, op.Name, "async")

		var result any
		var err error
		if op.Async == nil {
			err = syserr.Errorf(syserr.NotSupported, op.Name, "operation not supported")
		} else {
			result, err = p.invokeAsync(op, a, b)
		}

		class := ""
		if err != nil {
			env := syserr.ToEnvelope(err)
			class = env.ClassName
			result = env
		}
		timer.Stop(class)

		out <- Completion{ID: promiseID, Result: result}
		close(out)

		p.loop.post(func() {
			p.ledger.remove(promiseID)
			p.checkExit()
		})
	}()
	return out, nil
}

// OpSyncByName dispatches by op name.
func (p *Process) OpSyncByName(name string, a, b any) (any, error) {
	i, ok := p.ops.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOpNotFound, name)
	}
	return p.OpSync(i, a, b)
}

// OpAsyncByName dispatches by op name.
func (p *Process) OpAsyncByName(name string, promiseID int64, a, b any) (<-chan Completion, error) {
	i, ok := p.ops.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOpNotFound, name)
	}
	return p.OpAsync(i, promiseID, a, b)
}

func (p *Process) invokeSync(op Op, a, b any) (result any, err error) {
	defer p.recoverOp(op.Name, &err)
	return op.Sync(p, a, b)
}

func (p *Process) invokeAsync(op Op, a, b any) (result any, err error) {
	defer p.recoverOp(op.Name, &err)
	return op.Async(p.ctx, p, a, b)
}

func (p *Process) recoverOp(name string, err *error) {
	if r := recover(); r != nil {
		p.logger.ForOp(name).Error("op panicked", zap.Any("panic", r))
		*err = fmt.Errorf("panic in %s: %v", name, r)
	}
}

// Run executes main as the top-level program. Once main returns the process
// waits until no op is in flight and only baseline handles remain, then
// exits with main's code. An explicit Exit or Kill wins over that code.
// Run returns the final status.
func (p *Process) Run(main func(ctx context.Context) int) ExitStatus {
	p.notify(Event{Type: EventSpawned, Pid: p.pid})
	go p.heartbeat()

	code := p.runMain(main)

	p.stateMu.Lock()
	p.mainDone = true
	p.mainCode = code
	p.stateMu.Unlock()

	p.loop.post(p.checkExit)
	<-p.done

	status, _ := p.Status()
	return status
}

func (p *Process) runMain(main func(ctx context.Context) int) (code int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("program panicked", zap.Any("panic", r))
			code = 1
		}
	}()
	return main(p.ctx)
}

func (p *Process) checkExit() {
	p.stateMu.Lock()
	if !p.mainDone || p.finished {
		p.stateMu.Unlock()
		return
	}
	code := p.mainCode
	p.stateMu.Unlock()

	if p.ledger.len() == 0 && p.table.Len() <= p.baseline {
		p.finish(code, false)
	}
}

// Exit terminates the process with code, regardless of pending ops. It does
// not wait for the manager to acknowledge.
func (p *Process) Exit(code int) {
	p.finish(code, false)
}

// Kill terminates the process as if by signal.
func (p *Process) Kill(signal int) {
	p.finish(128+signal, true)
}

func (p *Process) finish(code int, signal bool) {
	p.stateMu.Lock()
	if p.finished {
		p.stateMu.Unlock()
		return
	}
	p.finished = true
	p.status = ExitStatus{StatusCode: code, GotSignal: signal}
	p.stateMu.Unlock()

	p.cancel()
	p.table.CloseAll()
	p.loop.close()
	close(p.done)

	p.logger.Debug("process exited", zap.Int("code", code), zap.Bool("signal", signal))
	p.notify(Event{Type: EventExited, Pid: p.pid, Code: code, GotSignal: signal})
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Status returns the exit status, and false while the process runs.
func (p *Process) Status() (ExitStatus, bool) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.status, p.finished
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-p.done:
		status, _ := p.Status()
		return status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

func (p *Process) heartbeat() {
	if p.alive <= 0 {
		return
	}
	ticker := time.NewTicker(p.alive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.beat()
		case <-p.done:
			return
		}
	}
}

// beat asks the program's event loop to confirm it is alive. At most one
// beat is outstanding, so a stalled loop simply goes quiet.
func (p *Process) beat() {
	if !p.beating.CompareAndSwap(false, true) {
		return
	}
	ack := func() {
		p.beating.Store(false)
		p.notify(Event{Type: EventAlive, Pid: p.pid})
	}
	if fn := p.pulse.Load(); fn != nil {
		(*fn)(ack)
		return
	}
	p.loop.post(ack)
}

// SetPulse routes heartbeats through fn, which must call ack from the
// program's own event loop once it gets a turn. nil restores the process
// loop.
func (p *Process) SetPulse(fn func(ack func())) {
	if fn == nil {
		p.pulse.Store(nil)
	} else {
		p.pulse.Store(&fn)
	}
	p.beating.Store(false)
}

func (p *Process) notify(ev Event) {
	if p.lifecycle == nil {
		return
	}
	select {
	case p.lifecycle <- ev:
		return
	default:
	}
	if ev.Type == EventAlive {
		return
	}
	go func() {
		select {
		case p.lifecycle <- ev:
		case <-time.After(notifyTimeout):
			p.logger.Warn("lifecycle notification dropped", zap.Stringer("event", ev.Type))
		}
	}()
}
