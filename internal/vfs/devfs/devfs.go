// Package devfs serves device nodes under /dev. Devices are singletons:
// every open of a name wraps the same registered instance.
package devfs

import (
	"context"
	"crypto/rand"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

// Device is a character device.
type Device interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// FS is a flat directory of devices.
type FS struct {
	mu      sync.RWMutex
	devices map[string]Device
	inos    map[string]uint64
	nextIno uint64
	created time.Time
}

// New returns a device filesystem holding null, zero and random.
func New() *FS {
	fs := &FS{
		devices: make(map[string]Device),
		inos:    make(map[string]uint64),
		created: time.Now(),
	}
	fs.Register("null", Null{})
	fs.Register("zero", Zero{})
	fs.Register("random", Random{})
	fs.Register("urandom", Random{})
	return fs
}

// Type names the backend in mount listings.
func (fs *FS) Type() string { return "devfs" }

// Register binds a device under name, replacing any previous one.
func (fs *FS) Register(name string, dev Device) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.inos[name]; !ok {
		fs.nextIno++
		fs.inos[name] = fs.nextIno
	}
	fs.devices[name] = dev
}

// Device returns the instance registered under name.
func (fs *FS) Device(name string) (Device, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	dev, ok := fs.devices[name]
	return dev, ok
}

func (fs *FS) lookup(op, name string) (string, Device, error) {
	name = vfs.Clean(name)
	if vfs.Dir(name) != "/" {
		return "", nil, syserr.New(syserr.NotFound, op, name)
	}
	base := vfs.Base(name)
	dev, ok := fs.Device(base)
	if !ok {
		return "", nil, syserr.New(syserr.NotFound, op, name)
	}
	return base, dev, nil
}

func (fs *FS) stats(name string) vfs.Stats {
	fs.mu.RLock()
	ino := fs.inos[name]
	fs.mu.RUnlock()

	return vfs.Stats{
		Type:  vfs.TypeCharDevice,
		Mode:  0o666,
		Atime: fs.created,
		Mtime: fs.created,
		Ctime: fs.created,
		Ino:   ino,
	}
}

func (fs *FS) Open(name string, flags vfs.OpenFlag, _ uint32) (vfs.File, error) {
	if vfs.Clean(name) == "/" {
		return nil, syserr.New(syserr.IsADirectory, "open", name)
	}
	base, dev, err := fs.lookup("open", name)
	if err != nil {
		if flags&vfs.FlagCreate != 0 && syserr.Is(err, syserr.NotFound) {
			return nil, syserr.New(syserr.PermissionDenied, "open", name)
		}
		return nil, err
	}
	if flags&vfs.FlagExclusive != 0 {
		return nil, syserr.New(syserr.AlreadyExists, "open", name)
	}
	return &File{name: base, dev: dev, flags: flags, stats: fs.stats(base)}, nil
}

func (fs *FS) Stat(name string) (vfs.Stats, error) {
	if vfs.Clean(name) == "/" {
		return vfs.Stats{Type: vfs.TypeDir, Mode: vfs.DefaultDirMode, Atime: fs.created, Mtime: fs.created, Ctime: fs.created}, nil
	}
	base, _, err := fs.lookup("stat", name)
	if err != nil {
		return vfs.Stats{}, err
	}
	return fs.stats(base), nil
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

	out := make([]vfs.DirEntry, 0, len(fs.devices))
	for n := range fs.devices {
		out = append(out, vfs.DirEntry{Name: n, Type: vfs.TypeCharDevice})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (fs *FS) Mkdir(name string, _ uint32) error {
	return syserr.New(syserr.PermissionDenied, "mkdir", name)
}

func (fs *FS) Unlink(name string) error {
	return syserr.New(syserr.PermissionDenied, "unlink", name)
}

func (fs *FS) Rmdir(name string) error {
	return syserr.New(syserr.PermissionDenied, "rmdir", name)
}

func (fs *FS) Rename(oldName, _ string) error {
	return syserr.New(syserr.PermissionDenied, "rename", oldName)
}

// File is an open device. Closing it leaves the device untouched.
type File struct {
	name  string
	dev   Device
	flags vfs.OpenFlag
	stats vfs.Stats
	state vfs.Closing
}

// Device returns the instance this file wraps.
func (f *File) Device() Device { return f.dev }

// Kind tags console files so guests can tell a terminal from a plain device.
func (f *File) Kind() resource.Kind {
	if _, ok := f.dev.(*Console); ok {
		return resource.KindConsole
	}
	return resource.KindFile
}

func (f *File) check(op string) error {
	if f.state.Closed() {
		return syserr.New(syserr.BadResource, op, f.name)
	}
	return nil
}

func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

// ReadContext lets a blocking device read be cancelled. Closing the file
// releases a parked read with EOF.
func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	cr, ok := f.dev.(interface {
		ReadContext(context.Context, []byte) (int, error)
	})
	if !ok {
		return f.dev.Read(p)
	}
	return f.state.Do(ctx, func(ctx context.Context) (int, error) {
		return cr.ReadContext(ctx, p)
	})
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	return f.dev.Write(p)
}

func (f *File) ReadAt(p []byte, _ int64) (int, error) { return f.Read(p) }

func (f *File) WriteAt(p []byte, _ int64) (int, error) { return f.Write(p) }

func (f *File) Seek(int64, int) (int64, error) { return 0, f.check("seek") }

func (f *File) Truncate(int64) error { return f.check("truncate") }

func (f *File) Sync() error { return f.check("sync") }

func (f *File) Close() error {
	f.state.Close()
	return nil
}

func (f *File) Stat() (vfs.Stats, error) {
	if err := f.check("fstat"); err != nil {
		return vfs.Stats{}, err
	}
	return f.stats, nil
}

// Null discards writes and reads as empty.
type Null struct{}

func (Null) Read([]byte) (int, error)    { return 0, io.EOF }
func (Null) Write(p []byte) (int, error) { return len(p), nil }

// Zero reads as an endless run of zero bytes.
type Zero struct{}

func (Zero) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
func (Zero) Write(p []byte) (int, error) { return len(p), nil }

// Random reads from the host's cryptographic source.
type Random struct{}

func (Random) Read(p []byte) (int, error)  { return rand.Read(p) }
func (Random) Write(p []byte) (int, error) { return len(p), nil }
