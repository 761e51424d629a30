package pipe

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/webkernel/internal/resource"
)

// ReadEnd is the reading side of a pipe as a table resource. Closing it
// closes the pipe, so writers see BrokenPipe.
type ReadEnd struct {
	p *Pipe
}

// NewReadEnd wraps p for reading.
func NewReadEnd(p *Pipe) *ReadEnd {
	return &ReadEnd{p: p}
}

func (r *ReadEnd) Kind() resource.Kind { return resource.KindPipe }

func (r *ReadEnd) Read(b []byte) (int, error) { return r.p.Read(b) }

func (r *ReadEnd) ReadContext(ctx context.Context, b []byte) (int, error) {
	return r.p.ReadContext(ctx, b)
}

func (r *ReadEnd) Close() error { return r.p.Close() }

// Pipe returns the underlying pipe.
func (r *ReadEnd) Pipe() *Pipe { return r.p }

// WriteEnd is the writing side of a pipe as a table resource. It holds one
// writer reference, released on Close.
type WriteEnd struct {
	p    *Pipe
	once sync.Once
}

// NewWriteEnd wraps p for writing and takes a writer reference.
func NewWriteEnd(p *Pipe) *WriteEnd {
	p.Ref()
	return &WriteEnd{p: p}
}

func (w *WriteEnd) Kind() resource.Kind { return resource.KindPipe }

func (w *WriteEnd) Write(b []byte) (int, error) { return w.p.Write(b) }

func (w *WriteEnd) WriteContext(ctx context.Context, b []byte) (int, error) {
	return w.p.WriteContext(ctx, b)
}

// Shutdown releases the writer reference early.
func (w *WriteEnd) Shutdown() error {
	w.once.Do(w.p.Unref)
	return nil
}

func (w *WriteEnd) Close() error {
	w.once.Do(w.p.Unref)
	return nil
}

// Pipe returns the underlying pipe.
func (w *WriteEnd) Pipe() *Pipe { return w.p }
