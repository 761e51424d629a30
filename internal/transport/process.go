package transport

import (
	"context"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Methods of an exposed process.
const (
	MethodOps     = "ops"
	MethodOpSync  = "op_sync"
	MethodOpAsync = "op_async"
	MethodPromise = "next_promise"
)

// ProcessHandler exposes the op boundary of p. op_async blocks until the
// op completes and returns its result or envelope.
func ProcessHandler(p *process.Process) Handler {
	return Methods{
		MethodOps: func(ctx context.Context, args []any) (any, error) {
			return p.OpSync(0, nil, nil)
		},
		MethodPromise: func(context.Context, []any) (any, error) {
			return p.NextPromiseID(), nil
		},
		MethodOpSync: func(ctx context.Context, args []any) (any, error) {
			index, err := intArg(MethodOpSync, args, 0)
			if err != nil {
				return nil, err
			}
			return p.OpSync(int(index), argAt(args, 1), argAt(args, 2))
		},
		MethodOpAsync: func(ctx context.Context, args []any) (any, error) {
			index, err := intArg(MethodOpAsync, args, 0)
			if err != nil {
				return nil, err
			}
			promiseID, err := intArg(MethodOpAsync, args, 1)
			if err != nil {
				return nil, err
			}
			ch, err := p.OpAsync(int(index), promiseID, argAt(args, 2), argAt(args, 3))
			if err != nil {
				return nil, err
			}
			select {
			case c := <-ch:
				return c.Result, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// Caller reaches a process exposed with ProcessHandler. It satisfies the
// guest op boundary, so a guest.Sys can drive a process in another kernel.
type Caller struct {
	ctx context.Context
	t   Transport
}

// NewCaller wraps t. ctx bounds every call made through the caller.
func NewCaller(ctx context.Context, t Transport) *Caller {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Caller{ctx: ctx, t: t}
}

func (c *Caller) OpSync(index int, a, b any) (any, error) {
	if index == 0 {
		return c.t.Call(c.ctx, MethodOps)
	}
	return c.t.Call(c.ctx, MethodOpSync, index, a, b)
}

func (c *Caller) OpAsync(index int, promiseID int64, a, b any) (<-chan process.Completion, error) {
	out := make(chan process.Completion, 1)
	go func() {
		result, err := c.t.Call(c.ctx, MethodOpAsync, index, promiseID, a, b)
		if err != nil {
			result = syserr.ToEnvelope(err)
		}
		out <- process.Completion{ID: promiseID, Result: result}
	}()
	return out, nil
}

// NextPromiseID draws an id from the remote process, so clients in
// different contexts never collide. It returns -1 when the call fails, which
// the remote ledger then rejects.
func (c *Caller) NextPromiseID() int64 {
	v, err := c.t.Call(c.ctx, MethodPromise)
	if err != nil {
		return -1
	}
	id, err := intArg(MethodPromise, []any{v}, 0)
	if err != nil {
		return -1
	}
	return id
}

// Close closes the underlying transport.
func (c *Caller) Close() error { return c.t.Close() }
