package vfs

import (
	"context"
	"io"
	"sync"
)

// Closing tracks whether an open file has been closed and releases calls
// parked on it when it is. The zero value is open.
type Closing struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

func (c *Closing) done() chan struct{} {
	if c.ch == nil {
		c.ch = make(chan struct{})
	}
	return c.ch
}

// Close marks the file closed. It reports whether this call did it.
func (c *Closing) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done())
	return true
}

// Closed reports whether Close has been called.
func (c *Closing) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Do runs a blocking call under a context that is also cancelled by Close.
// A call cut short by Close returns (0, io.EOF).
func (c *Closing) Do(ctx context.Context, fn func(context.Context) (int, error)) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.EOF
	}
	done := c.done()
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := fn(ctx)
	if err != nil && n == 0 && c.Closed() {
		return 0, io.EOF
	}
	return n, err
}
