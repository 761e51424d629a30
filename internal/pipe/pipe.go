// Package pipe implements the kernel's in-memory byte channel: a queue of
// chunks with blocking reads, write backpressure and writer reference
// counting.
package pipe

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// DefaultCapacity is the buffered byte count at which writers park.
const DefaultCapacity = 64 * 1024

var (
	// ErrConcurrentRead is returned when a second reader tries to park.
	ErrConcurrentRead = syserr.Wrap(syserr.Busy, "read", "pipe", errors.New("concurrent read"))
	// ErrConcurrentWrite is returned when a second writer tries to park.
	ErrConcurrentWrite = syserr.Wrap(syserr.Busy, "write", "pipe", errors.New("concurrent write"))
)

// Pipe is a unidirectional byte channel. At most one reader and one writer
// may be parked at a time. Once closed it stays closed; queued bytes remain
// readable until drained.
type Pipe struct {
	mu       sync.Mutex
	queue    [][]byte
	buffered int
	capacity int
	refs     int
	closed   bool

	readerParked bool
	writerParked bool

	// changed is closed and replaced whenever state moves.
	changed chan struct{}
}

// New creates an open pipe with no writer references.
func New(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pipe{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// broadcast wakes every parked caller. Callers hold p.mu.
func (p *Pipe) broadcast() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Read is ReadContext without cancellation.
func (p *Pipe) Read(b []byte) (int, error) {
	return p.ReadContext(context.Background(), b)
}

// ReadContext copies up to len(b) queued bytes. It parks while the pipe is
// empty and open, and returns (0, io.EOF) once closed and drained.
func (p *Pipe) ReadContext(ctx context.Context, b []byte) (int, error) {
	p.mu.Lock()
	for {
		if p.buffered > 0 {
			n := p.drain(b)
			p.broadcast()
			p.mu.Unlock()
			return n, nil
		}
		if p.closed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		if len(b) == 0 {
			p.mu.Unlock()
			return 0, nil
		}
		if p.readerParked {
			p.mu.Unlock()
			return 0, ErrConcurrentRead
		}

		p.readerParked = true
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			p.mu.Lock()
			p.readerParked = false
			p.mu.Unlock()
			return 0, ctx.Err()
		}

		p.mu.Lock()
		p.readerParked = false
	}
}

// drain moves queued bytes into b. Callers hold p.mu.
func (p *Pipe) drain(b []byte) int {
	n := 0
	for n < len(b) && len(p.queue) > 0 {
		head := p.queue[0]
		c := copy(b[n:], head)
		n += c
		if c == len(head) {
			p.queue[0] = nil
			p.queue = p.queue[1:]
		} else {
			p.queue[0] = head[c:]
		}
	}
	p.buffered -= n
	return n
}

// Write is WriteContext without cancellation.
func (p *Pipe) Write(b []byte) (int, error) {
	return p.WriteContext(context.Background(), b)
}

// WriteContext queues a copy of b and wakes a parked reader. When the
// buffered total reaches capacity the writer parks until a reader drains
// below it or the pipe closes.
func (p *Pipe) WriteContext(ctx context.Context, b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, syserr.New(syserr.BrokenPipe, "write", "pipe")
	}
	if len(b) == 0 {
		return 0, nil
	}
	if p.writerParked && p.buffered+len(b) >= p.capacity {
		return 0, ErrConcurrentWrite
	}

	chunk := make([]byte, len(b))
	copy(chunk, b)
	p.queue = append(p.queue, chunk)
	p.buffered += len(chunk)
	p.broadcast()

	for p.buffered >= p.capacity && !p.closed {
		p.writerParked = true
		wait := p.changed
		p.mu.Unlock()

		var cancelled bool
		select {
		case <-wait:
		case <-ctx.Done():
			cancelled = true
		}

		p.mu.Lock()
		p.writerParked = false
		if cancelled {
			return len(b), ctx.Err()
		}
	}

	if p.closed && p.buffered >= p.capacity {
		return len(b), syserr.New(syserr.BrokenPipe, "write", "pipe")
	}
	return len(b), nil
}

// Ref adds a writer reference.
func (p *Pipe) Ref() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
}

// Unref drops a writer reference. The pipe closes when the count reaches
// zero.
func (p *Pipe) Unref() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refs > 0 {
		p.refs--
	}
	if p.refs == 0 {
		p.closeLocked()
	}
}

// Close marks the pipe closed and wakes everything parked on it.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Pipe) closeLocked() {
	if p.closed {
		return
	}
	p.closed = true
	p.broadcast()
}

// Closed reports whether the pipe has closed.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Buffered returns the number of queued bytes.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

// Refs returns the writer reference count.
func (p *Pipe) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}
