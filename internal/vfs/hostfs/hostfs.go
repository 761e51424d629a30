// Package hostfs exposes a directory of the host filesystem as a vfs
// backend. Names are confined to the root by cleaning; host symlinks are
// not contained.
package hostfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

// FS is a host directory.
type FS struct {
	root     string
	readOnly bool
}

// New serves dir. Writes are refused when readOnly is set.
func New(dir string, readOnly bool) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, hostErr("mount", dir, err)
	}
	if !info.IsDir() {
		return nil, syserr.New(syserr.NotADirectory, "mount", dir)
	}
	return &FS{root: abs, readOnly: readOnly}, nil
}

// Type names the backend in mount listings.
func (h *FS) Type() string {
	if h.readOnly {
		return "hostfs(ro)"
	}
	return "hostfs"
}

// Root returns the host directory being served.
func (h *FS) Root() string { return h.root }

func (h *FS) host(name string) string {
	return filepath.Join(h.root, filepath.FromSlash(vfs.Clean(name)))
}

// hostErr maps an os error onto a kernel kind without leaking host paths.
func hostErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if kind, ok := syserr.KindOf(err); ok {
		return syserr.New(kind, op, name)
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return syserr.Wrap(syserr.KindUnknown, op, name, pe.Err)
	}
	return err
}

func (h *FS) writable(op, name string) error {
	if h.readOnly {
		return syserr.New(syserr.PermissionDenied, op, name)
	}
	return nil
}

func statsOf(info fs.FileInfo) vfs.Stats {
	st := vfs.Stats{
		Type:  vfs.TypeFile,
		Size:  info.Size(),
		Mode:  uint32(info.Mode().Perm()),
		Mtime: info.ModTime(),
		Atime: info.ModTime(),
		Ctime: info.ModTime(),
	}
	switch mode := info.Mode(); {
	case mode.IsDir():
		st.Type = vfs.TypeDir
	case mode&fs.ModeSymlink != 0:
		st.Type = vfs.TypeSymlink
	case mode&fs.ModeNamedPipe != 0:
		st.Type = vfs.TypeFIFO
	case mode&fs.ModeCharDevice != 0:
		st.Type = vfs.TypeCharDevice
	}
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		st.Ino = sys.Ino
	}
	return st
}

func entryType(mode fs.FileMode) vfs.FileType {
	switch {
	case mode.IsDir():
		return vfs.TypeDir
	case mode&fs.ModeSymlink != 0:
		return vfs.TypeSymlink
	case mode&fs.ModeNamedPipe != 0:
		return vfs.TypeFIFO
	case mode&fs.ModeCharDevice != 0:
		return vfs.TypeCharDevice
	}
	return vfs.TypeFile
}

func (h *FS) Open(name string, flags vfs.OpenFlag, mode uint32) (vfs.File, error) {
	if flags.Writable() || flags&(vfs.FlagCreate|vfs.FlagTruncate) != 0 {
		if err := h.writable("open", name); err != nil {
			return nil, err
		}
	}
	return vfs.OpenWithPolicy(h, name, flags, mode, vfs.OpenOptions{})
}

func osFlags(flags vfs.OpenFlag) int {
	var out int
	switch {
	case flags.Readable() && flags.Writable():
		out = os.O_RDWR
	case flags.Writable():
		out = os.O_WRONLY
	default:
		out = os.O_RDONLY
	}
	if flags&vfs.FlagAppend != 0 {
		out |= os.O_APPEND
	}
	return out
}

// OpenExisting implements vfs.Creator.
func (h *FS) OpenExisting(name string, flags vfs.OpenFlag) (vfs.File, error) {
	f, err := os.OpenFile(h.host(name), osFlags(flags), 0)
	if err != nil {
		return nil, hostErr("open", name, err)
	}
	return &File{name: name, f: f}, nil
}

// Create implements vfs.Creator.
func (h *FS) Create(name string, flags vfs.OpenFlag, mode uint32) (vfs.File, error) {
	f, err := os.OpenFile(h.host(name), osFlags(flags)|os.O_CREATE|os.O_EXCL, fs.FileMode(mode))
	if err != nil {
		return nil, hostErr("open", name, err)
	}
	return &File{name: name, f: f}, nil
}

func (h *FS) Stat(name string) (vfs.Stats, error) {
	info, err := os.Stat(h.host(name))
	if err != nil {
		return vfs.Stats{}, hostErr("stat", name, err)
	}
	return statsOf(info), nil
}

func (h *FS) Lstat(name string) (vfs.Stats, error) {
	info, err := os.Lstat(h.host(name))
	if err != nil {
		return vfs.Stats{}, hostErr("lstat", name, err)
	}
	return statsOf(info), nil
}

func (h *FS) Mkdir(name string, mode uint32) error {
	if err := h.writable("mkdir", name); err != nil {
		return err
	}
	if mode == 0 {
		mode = vfs.DefaultDirMode
	}
	return hostErr("mkdir", name, os.Mkdir(h.host(name), fs.FileMode(mode)))
}

func (h *FS) Unlink(name string) error {
	if err := h.writable("unlink", name); err != nil {
		return err
	}
	info, err := os.Lstat(h.host(name))
	if err != nil {
		return hostErr("unlink", name, err)
	}
	if info.IsDir() {
		return syserr.New(syserr.IsADirectory, "unlink", name)
	}
	return hostErr("unlink", name, os.Remove(h.host(name)))
}

func (h *FS) Rmdir(name string) error {
	if err := h.writable("rmdir", name); err != nil {
		return err
	}
	if vfs.Clean(name) == "/" {
		return syserr.New(syserr.Busy, "rmdir", name)
	}
	info, err := os.Lstat(h.host(name))
	if err != nil {
		return hostErr("rmdir", name, err)
	}
	if !info.IsDir() {
		return syserr.New(syserr.NotADirectory, "rmdir", name)
	}
	return hostErr("rmdir", name, syscall.Rmdir(h.host(name)))
}

func (h *FS) Readdir(name string) ([]vfs.DirEntry, error) {
	entries, err := os.ReadDir(h.host(name))
	if err != nil {
		return nil, hostErr("scandir", name, err)
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, vfs.DirEntry{Name: e.Name(), Type: entryType(e.Type())})
	}
	return out, nil
}

func (h *FS) Rename(oldName, newName string) error {
	if err := h.writable("rename", oldName); err != nil {
		return err
	}
	return hostErr("rename", oldName, os.Rename(h.host(oldName), h.host(newName)))
}

func (h *FS) Realpath(name string) (string, error) {
	real, err := filepath.EvalSymlinks(h.host(name))
	if err != nil {
		return "", hostErr("realpath", name, err)
	}
	rel, err := filepath.Rel(h.root, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return vfs.Clean(name), nil
	}
	return vfs.Clean(filepath.ToSlash(rel)), nil
}

func (h *FS) Symlink(target, link string) error {
	if err := h.writable("symlink", link); err != nil {
		return err
	}
	return hostErr("symlink", link, os.Symlink(target, h.host(link)))
}

func (h *FS) Readlink(name string) (string, error) {
	target, err := os.Readlink(h.host(name))
	if err != nil {
		return "", hostErr("readlink", name, err)
	}
	return target, nil
}

func (h *FS) Chmod(name string, mode uint32) error {
	if err := h.writable("chmod", name); err != nil {
		return err
	}
	return hostErr("chmod", name, os.Chmod(h.host(name), fs.FileMode(mode)))
}

func (h *FS) Utimes(name string, atime, mtime time.Time) error {
	if err := h.writable("utimes", name); err != nil {
		return err
	}
	return hostErr("utimes", name, os.Chtimes(h.host(name), atime, mtime))
}

// Walk visits every node under root using a parallel host walk. Callbacks
// are serialized.
func (h *FS) Walk(root string, fn vfs.WalkFunc) error {
	start := h.host(root)
	var mu sync.Mutex

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, start, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == start {
			return nil
		}
		rel, relErr := filepath.Rel(h.root, p)
		if relErr != nil {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		return fn(vfs.Clean(filepath.ToSlash(rel)), vfs.DirEntry{Name: d.Name(), Type: entryType(d.Type())})
	})
	return hostErr("walk", root, err)
}

// File is an open host file.
type File struct {
	name string
	f    *os.File
}

func (f *File) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	return n, hostIOErr("read", f.name, err)
}

func (f *File) Write(p []byte) (int, error) {
	n, err := f.f.Write(p)
	return n, hostIOErr("write", f.name, err)
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.f.ReadAt(p, off)
	return n, hostIOErr("read", f.name, err)
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.f.WriteAt(p, off)
	return n, hostIOErr("write", f.name, err)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	n, err := f.f.Seek(offset, whence)
	return n, hostIOErr("seek", f.name, err)
}

func (f *File) Truncate(size int64) error {
	return hostIOErr("truncate", f.name, f.f.Truncate(size))
}

func (f *File) Sync() error {
	return hostIOErr("sync", f.name, f.f.Sync())
}

func (f *File) Close() error {
	return hostIOErr("close", f.name, f.f.Close())
}

func (f *File) Stat() (vfs.Stats, error) {
	info, err := f.f.Stat()
	if err != nil {
		return vfs.Stats{}, hostIOErr("fstat", f.name, err)
	}
	return statsOf(info), nil
}

// hostIOErr is hostErr that lets io.EOF through untouched.
func hostIOErr(op, name string, err error) error {
	if err == nil || !isPathError(err) {
		return err
	}
	return hostErr(op, name, err)
}

func isPathError(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe)
}
