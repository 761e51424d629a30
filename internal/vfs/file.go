package vfs

import (
	"io"
	"sync"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// File is an open file: a cursor over bytes plus the flags it was opened
// with. Calls block until done; the op layer runs them on a goroutine when a
// guest asks for the async form.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
	Stat() (Stats, error)
}

// Storage is the byte buffer behind a VirtualFile. Bytes returns the current
// contents, which callers treat as read-only; SetBytes swaps in new contents.
type Storage interface {
	Bytes() []byte
	SetBytes(b []byte)
	Stats() Stats
}

// Flusher is implemented by storage that persists on Sync.
type Flusher interface {
	Flush() error
}

// VirtualFile implements File on top of a Storage. Backends provide the
// storage, VirtualFile does the cursor, clamping and growth.
type VirtualFile struct {
	mu      sync.Mutex
	storage Storage
	flags   OpenFlag
	name    string
	pos     int64
	closed  bool
}

// NewVirtualFile opens storage with the given flags.
func NewVirtualFile(name string, storage Storage, flags OpenFlag) *VirtualFile {
	return &VirtualFile{name: name, storage: storage, flags: flags}
}

// Name returns the path the file was opened with.
func (f *VirtualFile) Name() string { return f.name }

// Flags returns the open flags.
func (f *VirtualFile) Flags() OpenFlag { return f.flags }

func (f *VirtualFile) check(op string) error {
	if f.closed {
		return syserr.New(syserr.BadResource, op, f.name)
	}
	return nil
}

func (f *VirtualFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.readAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *VirtualFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAt(p, off)
}

func (f *VirtualFile) readAt(p []byte, off int64) (int, error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	if !f.flags.Readable() {
		return 0, syserr.Errorf(syserr.BadResource, "read", "file not open for reading")
	}
	if off < 0 {
		return 0, syserr.New(syserr.InvalidArgument, "read", f.name)
	}

	data := f.storage.Bytes()
	if off >= int64(len(data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	return copy(p, data[off:]), nil
}

func (f *VirtualFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flags&FlagAppend != 0 {
		f.pos = int64(len(f.storage.Bytes()))
	}
	n, err := f.writeAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *VirtualFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeAt(p, off)
}

func (f *VirtualFile) writeAt(p []byte, off int64) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	if !f.flags.Writable() {
		return 0, syserr.Errorf(syserr.BadResource, "write", "file not open for writing")
	}
	if off < 0 {
		return 0, syserr.New(syserr.InvalidArgument, "write", f.name)
	}
	if len(p) == 0 {
		return 0, nil
	}

	cur := f.storage.Bytes()
	end := off + int64(len(p))
	size := int64(len(cur))
	if end > size {
		size = end
	}

	// Storage contents are shared with other open files, so writes build a
	// fresh buffer instead of mutating in place.
	next := make([]byte, size)
	copy(next, cur)
	copy(next[off:], p)
	f.storage.SetBytes(next)
	return len(p), nil
}

func (f *VirtualFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("seek"); err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(len(f.storage.Bytes()))
	default:
		return 0, syserr.Errorf(syserr.InvalidArgument, "seek", "invalid whence %d", whence)
	}

	next := base + offset
	if next < 0 {
		return 0, syserr.Errorf(syserr.InvalidArgument, "seek", "negative position %d", next)
	}
	f.pos = next
	return next, nil
}

func (f *VirtualFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("truncate"); err != nil {
		return err
	}
	if !f.flags.Writable() {
		return syserr.Errorf(syserr.BadResource, "truncate", "file not open for writing")
	}
	if size < 0 {
		return syserr.New(syserr.InvalidArgument, "truncate", f.name)
	}

	cur := f.storage.Bytes()
	next := make([]byte, size)
	copy(next, cur)
	f.storage.SetBytes(next)
	return nil
}

func (f *VirtualFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("sync"); err != nil {
		return err
	}
	if fl, ok := f.storage.(Flusher); ok {
		return fl.Flush()
	}
	return nil
}

func (f *VirtualFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if fl, ok := f.storage.(Flusher); ok && f.flags.Writable() {
		return fl.Flush()
	}
	return nil
}

func (f *VirtualFile) Stat() (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("fstat"); err != nil {
		return Stats{}, err
	}
	st := f.storage.Stats()
	st.Size = int64(len(f.storage.Bytes()))
	return st, nil
}
