// Package transport carries calls between execution contexts. A Mux
// exposes local objects by name; a Transport is the caller's handle on one
// exposed object. Local calls the Mux in process, HTTPClient and GRPCClient
// reach a Mux served by another kernel.
//
// The HTTP transport blocks a request per call. It is a fallback for hosts
// that cannot hold a stream open, not a way to wait on another context.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

var (
	ErrUnknownObject = errors.New("unknown object")
	ErrUnknownMethod = errors.New("unknown method")
	ErrClosed        = errors.New("transport closed")
)

// Transport is a handle on one remote object.
type Transport interface {
	Call(ctx context.Context, method string, args ...any) (any, error)
	Close() error
}

// Handler serves the methods of an exposed object.
type Handler interface {
	Serve(ctx context.Context, method string, args []any) (any, error)
}

// Method is one callable of a Methods handler.
type Method func(ctx context.Context, args []any) (any, error)

// Methods is a Handler backed by a method table.
type Methods map[string]Method

func (m Methods) Serve(ctx context.Context, method string, args []any) (any, error) {
	fn, ok := m[method]
	if !ok {
		return nil, syserr.Wrap(syserr.NotSupported, "call", method, ErrUnknownMethod)
	}
	return fn(ctx, args)
}

// Mux routes calls to exposed objects.
type Mux struct {
	mu       sync.RWMutex
	objects  map[string]Handler
	resolver func(name string) (Handler, bool)
}

func NewMux() *Mux {
	return &Mux{objects: make(map[string]Handler)}
}

// Expose makes h callable as name, replacing any previous object.
func (m *Mux) Expose(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = h
}

// Resolve sets a lookup for names that were not exposed, for objects that
// come and go faster than Expose could track, such as processes.
func (m *Mux) Resolve(fn func(name string) (Handler, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = fn
}

// Unexpose removes name and reports whether it was exposed.
func (m *Mux) Unexpose(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	delete(m.objects, name)
	return ok
}

// Objects lists exposed names, sorted.
func (m *Mux) Objects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve dispatches one call.
func (m *Mux) Serve(ctx context.Context, object, method string, args []any) (any, error) {
	m.mu.RLock()
	h, ok := m.objects[object]
	resolve := m.resolver
	m.mu.RUnlock()
	if !ok && resolve != nil {
		h, ok = resolve(object)
	}
	if !ok {
		return nil, syserr.Wrap(syserr.NotFound, "call", object, ErrUnknownObject)
	}
	return h.Serve(ctx, method, args)
}

// Local calls an object of a Mux in the same address space. Arguments and
// results are passed by reference.
type Local struct {
	mux    *Mux
	object string
}

func NewLocal(mux *Mux, object string) *Local {
	return &Local{mux: mux, object: object}
}

func (l *Local) Call(ctx context.Context, method string, args ...any) (any, error) {
	return l.mux.Serve(ctx, l.object, method, args)
}

func (l *Local) Close() error { return nil }

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func intArg(method string, args []any, i int) (int64, error) {
	switch n := argAt(args, i).(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	}
	return 0, syserr.Errorf(syserr.InvalidArgument, method, "argument %d: expected an integer, got %T", i, argAt(args, i))
}

func remoteError(object, method string, env *syserr.Envelope) error {
	if env == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %w", object, method, env)
}
