package guest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

var (
	ErrRuntimeClosed = errors.New("guest runtime is closed")
	ErrUnsettled     = errors.New("script promise never settled")
)

// Config tunes a JavaScript guest runtime.
type Config struct {
	// Timeout bounds a whole run including pending async work. Zero means
	// no limit beyond the caller's context.
	Timeout          time.Duration
	MaxCallStackSize int
}

func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxCallStackSize: 1024,
	}
}

// Runtime runs JavaScript guests on a goja VM. Scripts see a global Kernel
// object exposing the indexed op boundary:
//
//	Kernel.ops()             op table as [name, index] pairs
//	Kernel.opSync(i, a, b)   result or error envelope
//	Kernel.opAsync(i, a, b)  promise of result or error envelope
//	Kernel.call(name, a, b)  throws on an envelope
//	Kernel.callAsync(name, a, b)
//
// Async completions and timers are delivered on the goroutine that called
// Run, so the VM is never entered concurrently.
type Runtime struct {
	mu     sync.Mutex
	config Config
	vm     *goja.Runtime

	// Per-run state, touched only on the running goroutine.
	sys     *Sys
	ctx     context.Context
	jobs    chan func()
	pending int
	timers  map[int64]*time.Timer
	timerID int64
	failure error
}

// NewRuntime creates a runtime.
func NewRuntime(config Config) (*Runtime, error) {
	r := &Runtime{config: config}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) init() error {
	r.vm = goja.New()
	r.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if r.config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}
	return r.setupGlobals()
}

// Run executes script against caller, then keeps delivering async
// completions and timers until none are pending. When the script's value is
// a promise, Run returns what it settles to. Heartbeats from a caller that
// is a Pulser are acknowledged between jobs, so a script that never yields
// stops reporting alive.
func (r *Runtime) Run(ctx context.Context, caller OpCaller, script string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vm == nil {
		return nil, ErrRuntimeClosed
	}

	var cancel context.CancelFunc
	if r.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r.sys = NewSys(caller)
	r.ctx = ctx
	r.jobs = make(chan func())
	r.pending = 0
	r.timers = make(map[int64]*time.Timer)
	r.failure = nil
	defer r.endRun()

	if pulser, ok := caller.(Pulser); ok {
		jobs := r.jobs
		pulser.SetPulse(func(ack func()) { go r.post(ctx, jobs, ack) })
		defer pulser.SetPulse(nil)
	}

	stop, watched := make(chan struct{}), make(chan struct{})
	defer func() {
		close(stop)
		<-watched
	}()
	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(interruptReason(ctx))
		case <-stop:
		}
	}()

	val, err := r.vm.RunString(script)
	if err != nil {
		return nil, r.runError(ctx, err)
	}
	if err := r.pump(ctx); err != nil {
		return nil, err
	}
	return r.settle(val)
}

// pump runs queued jobs until nothing is pending.
func (r *Runtime) pump(ctx context.Context) error {
	for r.pending > 0 && r.failure == nil {
		select {
		case job := <-r.jobs:
			job()
		case <-ctx.Done():
			return r.runError(ctx, ctx.Err())
		}
	}
	if r.failure != nil {
		return r.runError(ctx, r.failure)
	}
	return nil
}

func (r *Runtime) settle(val goja.Value) (any, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	promise, ok := val.Export().(*goja.Promise)
	if !ok {
		return exportValue(val), nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return exportValue(promise.Result()), nil
	case goja.PromiseStateRejected:
		return nil, jsError(promise.Result())
	}
	return nil, ErrUnsettled
}

func (r *Runtime) runError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *Runtime) endRun() {
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	r.sys = nil
	r.vm.ClearInterrupt()
}

func interruptReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "execution timeout exceeded"
	}
	return "context cancelled"
}

// post hands fn to the running goroutine. It gives up once the run is over.
func (r *Runtime) post(ctx context.Context, jobs chan<- func(), fn func()) {
	select {
	case jobs <- fn:
	case <-ctx.Done():
	}
}

func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "debug"} {
		_ = console.Set(level, r.consoleFunc(Stdout))
	}
	for _, level := range []string{"warn", "error"} {
		_ = console.Set(level, r.consoleFunc(Stderr))
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	kernel := r.vm.NewObject()
	_ = kernel.Set("ops", r.opsFunc)
	_ = kernel.Set("opSync", r.opSyncFunc)
	_ = kernel.Set("opAsync", r.opAsyncFunc)
	_ = kernel.Set("call", r.callFunc)
	_ = kernel.Set("callAsync", r.callAsyncFunc)
	if err := r.vm.Set("Kernel", kernel); err != nil {
		return err
	}

	if err := r.vm.Set("setTimeout", r.setTimeout); err != nil {
		return err
	}
	return r.vm.Set("clearTimeout", r.clearTimeout)
}

func (r *Runtime) consoleFunc(rid int) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if err := r.sys.WriteString(r.ctx, rid, strings.Join(parts, " ")+"\n"); err != nil {
			panic(r.throw(err))
		}
		return goja.Undefined()
	}
}

func (r *Runtime) opsFunc(goja.FunctionCall) goja.Value {
	v, err := r.sys.caller.OpSync(0, nil, nil)
	if err != nil {
		panic(r.throw(err))
	}
	return r.toJS(v)
}

func (r *Runtime) opSyncFunc(call goja.FunctionCall) goja.Value {
	v, err := r.sys.caller.OpSync(int(call.Argument(0).ToInteger()), exportArg(call.Argument(1)), exportArg(call.Argument(2)))
	if err != nil {
		panic(r.throw(err))
	}
	return r.toJS(v)
}

func (r *Runtime) opAsyncFunc(call goja.FunctionCall) goja.Value {
	return r.startAsync(int(call.Argument(0).ToInteger()), call.Argument(1), call.Argument(2), false)
}

func (r *Runtime) callFunc(call goja.FunctionCall) goja.Value {
	v, err := r.sys.Call(call.Argument(0).String(), exportArg(call.Argument(1)), exportArg(call.Argument(2)))
	if err != nil {
		panic(r.throw(err))
	}
	return r.toJS(v)
}

func (r *Runtime) callAsyncFunc(call goja.FunctionCall) goja.Value {
	i, err := r.sys.index(call.Argument(0).String())
	if err != nil {
		panic(r.throw(err))
	}
	return r.startAsync(i, call.Argument(1), call.Argument(2), true)
}

// startAsync issues an async op and returns its promise. With reject set an
// error envelope rejects the promise instead of resolving to it.
func (r *Runtime) startAsync(index int, a, b goja.Value, reject bool) goja.Value {
	promise, resolveFn, rejectFn := r.vm.NewPromise()
	ch, err := r.sys.caller.OpAsync(index, r.sys.nextPromise(), exportArg(a), exportArg(b))
	if err != nil {
		_ = rejectFn(r.throw(err))
		return r.vm.ToValue(promise)
	}

	r.pending++
	ctx, jobs := r.ctx, r.jobs
	go func() {
		select {
		case c := <-ch:
			r.post(ctx, jobs, func() {
				r.pending--
				if env := c.Err(); env != nil && reject {
					r.fail(rejectFn(r.throw(env)))
					return
				}
				r.fail(resolveFn(r.toJS(c.Result)))
			})
		case <-ctx.Done():
		}
	}()
	return r.vm.ToValue(promise)
}

func (r *Runtime) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("setTimeout callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	r.timerID++
	id := r.timerID
	r.pending++
	ctx, jobs := r.ctx, r.jobs
	r.timers[id] = time.AfterFunc(delay, func() {
		r.post(ctx, jobs, func() {
			r.pending--
			if _, live := r.timers[id]; !live {
				return
			}
			delete(r.timers, id)
			_, err := fn(goja.Undefined(), args...)
			r.fail(err)
		})
	})
	return r.vm.ToValue(id)
}

func (r *Runtime) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := r.timers[id]; ok {
		delete(r.timers, id)
		if t.Stop() {
			r.pending--
		}
	}
	return goja.Undefined()
}

// fail records the first uncaught error of a callback; it ends the run.
func (r *Runtime) fail(err error) {
	if err != nil && r.failure == nil {
		r.failure = err
	}
}

// throw turns a Go error into a JS Error named after its class.
func (r *Runtime) throw(err error) *goja.Object {
	env := syserr.ToEnvelope(err)
	obj := r.vm.NewGoError(err)
	_ = obj.Set("name", env.ClassName)
	_ = obj.Set("message", env.Message)
	if env.Code != "" {
		_ = obj.Set("code", env.Code)
		_ = obj.Set("errno", env.Errno)
	}
	return obj
}

// toJS converts an op result. Bytes become a Uint8Array; composite values
// cross as their JSON form so the guest sees plain objects.
func (r *Runtime) toJS(v any) goja.Value {
	switch t := v.(type) {
	case nil:
		return goja.Undefined()
	case goja.Value:
		return t
	case []byte:
		return r.bytes(t)
	case string, bool, int, int64, float64:
		return r.vm.ToValue(t)
	}
	raw, err := sonic.Marshal(v)
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("result %T: %w", v, err)))
	}
	var plain any
	if err := sonic.Unmarshal(raw, &plain); err != nil {
		panic(r.vm.NewGoError(err))
	}
	return r.vm.ToValue(plain)
}

func (r *Runtime) bytes(b []byte) goja.Value {
	arr, err := r.vm.New(r.vm.Get("Uint8Array"), r.vm.ToValue(r.vm.NewArrayBuffer(b)))
	if err != nil {
		panic(err)
	}
	return arr
}

// exportArg turns a guest argument into a plain Go value for an op.
func exportArg(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return normalize(v.Export())
}

func normalize(v any) any {
	switch t := v.(type) {
	case goja.ArrayBuffer:
		return t.Bytes()
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
	}
	return v
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return normalize(v.Export())
}

func jsError(v goja.Value) error {
	if obj, ok := v.(*goja.Object); ok {
		name := obj.Get("name")
		msg := obj.Get("message")
		if name != nil && msg != nil && !goja.IsUndefined(msg) {
			env := &syserr.Envelope{ClassName: name.String(), Message: msg.String()}
			if kind := env.Kind(); kind != syserr.KindUnknown {
				env.Code, env.Errno = kind.Code(), kind.Errno()
				return env
			}
			return fmt.Errorf("%s: %s", name.String(), msg.String())
		}
	}
	return fmt.Errorf("promise rejected: %v", v)
}

// Reset discards the VM and its globals.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vm == nil {
		return ErrRuntimeClosed
	}
	return r.init()
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vm = nil
	return nil
}
