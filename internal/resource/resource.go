// Package resource implements kernel handles: the Resource capability set and
// the per-process table mapping integer rids to resources.
package resource

import (
	"context"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Kind tags a resource variant.
type Kind string

const (
	KindFile          Kind = "file"
	KindPipe          Kind = "pipe"
	KindSocket        Kind = "socket"
	KindListener      Kind = "listener"
	KindConsole       Kind = "console"
	KindDecoder       Kind = "decoder"
	KindFetchRequest  Kind = "fetchRequest"
	KindFetchResponse Kind = "fetchResponse"
)

// Resource is anything a rid can refer to. Every variant can be closed;
// read, write and shutdown are optional capabilities.
type Resource interface {
	Kind() Kind
	Close() error
}

// Reader is implemented by resources that can be read. It follows io.Reader;
// the op layer reports io.EOF to guests as a zero count.
type Reader interface {
	Read(p []byte) (int, error)
}

// Writer is implemented by resources that can be written.
type Writer interface {
	Write(p []byte) (int, error)
}

// ContextReader is a Reader whose blocking read can be cancelled.
type ContextReader interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// ContextWriter is a Writer whose blocking write can be cancelled.
type ContextWriter interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
}

// Shutdowner is implemented by resources with a half-close.
type Shutdowner interface {
	Shutdown() error
}

// Read reads from r, or fails with NotSupported when r cannot be read.
func Read(r Resource, p []byte) (int, error) {
	rd, ok := r.(Reader)
	if !ok {
		return 0, syserr.New(syserr.NotSupported, "read", string(r.Kind()))
	}
	return rd.Read(p)
}

// Write writes to r, or fails with NotSupported when r cannot be written.
func Write(r Resource, p []byte) (int, error) {
	w, ok := r.(Writer)
	if !ok {
		return 0, syserr.New(syserr.NotSupported, "write", string(r.Kind()))
	}
	return w.Write(p)
}

// Shutdown half-closes r, or fails with NotSupported.
func Shutdown(r Resource) error {
	s, ok := r.(Shutdowner)
	if !ok {
		return syserr.New(syserr.NotSupported, "shutdown", string(r.Kind()))
	}
	return s.Shutdown()
}

// ReadContext reads from r, honouring ctx when r supports cancellation.
func ReadContext(ctx context.Context, r Resource, p []byte) (int, error) {
	if cr, ok := r.(ContextReader); ok {
		return cr.ReadContext(ctx, p)
	}
	return Read(r, p)
}

// WriteContext writes to r, honouring ctx when r supports cancellation.
func WriteContext(ctx context.Context, r Resource, p []byte) (int, error) {
	if cw, ok := r.(ContextWriter); ok {
		return cw.WriteContext(ctx, p)
	}
	return Write(r, p)
}
