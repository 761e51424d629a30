package resource

import (
	"context"
	"sync"
	"sync/atomic"
)

type sharedCore struct {
	r    Resource
	refs int32
}

// Handle is one of several rids referring to the same resource. The
// underlying resource is closed when the last handle closes.
type Handle struct {
	core *sharedCore
	once sync.Once
}

func (h *Handle) Kind() Kind { return h.core.r.Kind() }

func (h *Handle) Read(p []byte) (int, error) { return Read(h.core.r, p) }

func (h *Handle) Write(p []byte) (int, error) { return Write(h.core.r, p) }

func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	return ReadContext(ctx, h.core.r, p)
}

func (h *Handle) WriteContext(ctx context.Context, p []byte) (int, error) {
	return WriteContext(ctx, h.core.r, p)
}

func (h *Handle) Shutdown() error { return Shutdown(h.core.r) }

func (h *Handle) Close() error {
	var err error
	h.once.Do(func() {
		if atomic.AddInt32(&h.core.refs, -1) == 0 {
			err = h.core.r.Close()
		}
	})
	return err
}

// Unwrap returns the shared resource.
func (h *Handle) Unwrap() Resource { return h.core.r }

func (h *Handle) clone() *Handle {
	atomic.AddInt32(&h.core.refs, 1)
	return &Handle{core: h.core}
}

// Unwrap strips Handle wrappers so callers can type-assert on the concrete
// resource.
func Unwrap(r Resource) Resource {
	for {
		h, ok := r.(interface{ Unwrap() Resource })
		if !ok {
			return r
		}
		r = h.Unwrap()
	}
}

// Dup adds a second rid for the resource behind rid. Both rids must be
// closed before the resource is.
func Dup(t *Table, rid int) (int, error) {
	r, err := t.Lookup(rid)
	if err != nil {
		return 0, err
	}

	h, ok := r.(*Handle)
	if !ok {
		h = &Handle{core: &sharedCore{r: r, refs: 1}}
		if err := t.Replace(rid, h); err != nil {
			return 0, err
		}
	}
	return t.Add(h.clone()), nil
}
