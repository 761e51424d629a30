// Package fifofs serves named pipes. Opening a fifo for writing takes a
// writer reference on the pipe; the pipe reaches EOF once every writer has
// closed.
package fifofs

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/pipe"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/shared/id"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

type fifo struct {
	p       *pipe.Pipe
	created time.Time
	ino     uint64
}

// FS is a flat directory of named pipes.
type FS struct {
	mu       sync.RWMutex
	fifos    map[string]*fifo
	capacity int
	nextIno  uint64
	created  time.Time
}

// New creates an empty fifo directory whose pipes use capacity.
func New(capacity int) *FS {
	return &FS{
		fifos:    make(map[string]*fifo),
		capacity: capacity,
		created:  time.Now(),
	}
}

// Type names the backend in mount listings.
func (fs *FS) Type() string { return "fifofs" }

// MkFifo creates a named pipe and returns it.
func (fs *FS) MkFifo(name string) (*pipe.Pipe, error) {
	name = vfs.Clean(name)
	if vfs.Dir(name) != "/" || name == "/" {
		return nil, syserr.New(syserr.InvalidArgument, "mkfifo", name)
	}
	base := vfs.Base(name)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.fifos[base]; ok {
		return nil, syserr.New(syserr.AlreadyExists, "mkfifo", name)
	}
	fs.nextIno++
	f := &fifo{p: pipe.New(fs.capacity), created: time.Now(), ino: fs.nextIno}
	fs.fifos[base] = f
	return f.p, nil
}

// MkTemp creates a fifo with a fresh random name and returns the name.
func (fs *FS) MkTemp() (string, *pipe.Pipe, error) {
	for {
		name := "/" + id.NewPipeName()
		p, err := fs.MkFifo(name)
		if syserr.Is(err, syserr.AlreadyExists) {
			continue
		}
		return name, p, err
	}
}

// Pipe returns the pipe behind name.
func (fs *FS) Pipe(name string) (*pipe.Pipe, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.fifos[vfs.Base(vfs.Clean(name))]
	if !ok || vfs.Dir(vfs.Clean(name)) != "/" {
		return nil, false
	}
	return f.p, true
}

func (fs *FS) lookup(op, name string) (string, *fifo, error) {
	name = vfs.Clean(name)
	if vfs.Dir(name) != "/" {
		return "", nil, syserr.New(syserr.NotFound, op, name)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	base := vfs.Base(name)
	f, ok := fs.fifos[base]
	if !ok {
		return "", nil, syserr.New(syserr.NotFound, op, name)
	}
	return base, f, nil
}

func (f *fifo) stats() vfs.Stats {
	return vfs.Stats{
		Type:  vfs.TypeFIFO,
		Size:  int64(f.p.Buffered()),
		Mode:  0o600,
		Atime: f.created,
		Mtime: f.created,
		Ctime: f.created,
		Ino:   f.ino,
	}
}

// Open opens a fifo. Write opens hold a writer reference until closed.
// Opening a missing name with FlagCreate makes the fifo.
func (fs *FS) Open(name string, flags vfs.OpenFlag, _ uint32) (vfs.File, error) {
	if vfs.Clean(name) == "/" {
		return nil, syserr.New(syserr.IsADirectory, "open", name)
	}

	_, f, err := fs.lookup("open", name)
	if syserr.Is(err, syserr.NotFound) && flags&vfs.FlagCreate != 0 {
		if _, err := fs.MkFifo(name); err != nil {
			return nil, err
		}
		_, f, err = fs.lookup("open", name)
	}
	if err != nil {
		return nil, err
	}

	file := &File{name: vfs.Clean(name), fifo: f, flags: flags}
	if flags.Writable() {
		f.p.Ref()
	}
	return file, nil
}

func (fs *FS) Stat(name string) (vfs.Stats, error) {
	if vfs.Clean(name) == "/" {
		return vfs.Stats{Type: vfs.TypeDir, Mode: vfs.DefaultDirMode, Atime: fs.created, Mtime: fs.created, Ctime: fs.created}, nil
	}
	_, f, err := fs.lookup("stat", name)
	if err != nil {
		return vfs.Stats{}, err
	}
	return f.stats(), nil
}

func (fs *FS) Readdir(name string) ([]vfs.DirEntry, error) {
	if vfs.Clean(name) != "/" {
		if _, _, err := fs.lookup("scandir", name); err != nil {
			return nil, err
		}
		return nil, syserr.New(syserr.NotADirectory, "scandir", name)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]vfs.DirEntry, 0, len(fs.fifos))
	for n := range fs.fifos {
		out = append(out, vfs.DirEntry{Name: n, Type: vfs.TypeFIFO})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Unlink removes the name. Open ends keep working.
func (fs *FS) Unlink(name string) error {
	base, _, err := fs.lookup("unlink", name)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	delete(fs.fifos, base)
	fs.mu.Unlock()
	return nil
}

func (fs *FS) Mkdir(name string, _ uint32) error {
	return syserr.New(syserr.NotSupported, "mkdir", name)
}

func (fs *FS) Rmdir(name string) error {
	return syserr.New(syserr.NotSupported, "rmdir", name)
}

func (fs *FS) Rename(oldName, newName string) error {
	oldBase, f, err := fs.lookup("rename", oldName)
	if err != nil {
		return err
	}
	newName = vfs.Clean(newName)
	if vfs.Dir(newName) != "/" || newName == "/" {
		return syserr.New(syserr.InvalidArgument, "rename", newName)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.fifos, oldBase)
	fs.fifos[vfs.Base(newName)] = f
	return nil
}

// File is one open end of a fifo.
type File struct {
	name  string
	fifo  *fifo
	flags vfs.OpenFlag
	state vfs.Closing
}

// Pipe returns the pipe this end is attached to.
func (f *File) Pipe() *pipe.Pipe { return f.fifo.p }

func (f *File) Kind() resource.Kind { return resource.KindPipe }

func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	if !f.flags.Readable() {
		return 0, syserr.Errorf(syserr.BadResource, "read", "fifo not open for reading")
	}
	if f.state.Closed() {
		return 0, syserr.New(syserr.BadResource, "read", f.name)
	}
	return f.state.Do(ctx, func(ctx context.Context) (int, error) {
		return f.fifo.p.ReadContext(ctx, p)
	})
}

func (f *File) Write(p []byte) (int, error) {
	return f.WriteContext(context.Background(), p)
}

func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	if !f.flags.Writable() {
		return 0, syserr.Errorf(syserr.BadResource, "write", "fifo not open for writing")
	}
	n, err := f.state.Do(ctx, func(ctx context.Context) (int, error) {
		return f.fifo.p.WriteContext(ctx, p)
	})
	if errors.Is(err, io.EOF) {
		return n, syserr.New(syserr.BadResource, "write", f.name)
	}
	return n, err
}

func (f *File) ReadAt([]byte, int64) (int, error) {
	return 0, syserr.Errorf(syserr.InvalidArgument, "read", "illegal seek on fifo")
}

func (f *File) WriteAt([]byte, int64) (int, error) {
	return 0, syserr.Errorf(syserr.InvalidArgument, "write", "illegal seek on fifo")
}

func (f *File) Seek(int64, int) (int64, error) {
	return 0, syserr.Errorf(syserr.InvalidArgument, "seek", "illegal seek on fifo")
}

func (f *File) Truncate(int64) error { return nil }

func (f *File) Sync() error { return nil }

// Close releases the writer reference held by a write open and wakes a
// read parked on this end with EOF.
func (f *File) Close() error {
	if f.state.Close() && f.flags.Writable() {
		f.fifo.p.Unref()
	}
	return nil
}

func (f *File) Stat() (vfs.Stats, error) {
	return f.fifo.stats(), nil
}
