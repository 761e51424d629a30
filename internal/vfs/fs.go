package vfs

import (
	"errors"
	"io"
	"io/fs"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// FileSystem is the core contract every backend implements. Paths are
// absolute and relative to the backend's own root.
type FileSystem interface {
	Open(name string, flags OpenFlag, mode uint32) (File, error)
	Stat(name string) (Stats, error)
	Mkdir(name string, mode uint32) error
	Unlink(name string) error
	Rmdir(name string) error
	Readdir(name string) ([]DirEntry, error)
	Rename(oldName, newName string) error
}

// Supplemental operations. Backends may implement these for speed; the
// package-level functions fall back to the core contract otherwise.
type (
	ReadFileFS interface {
		ReadFile(name string) ([]byte, error)
	}
	WriteFileFS interface {
		WriteFile(name string, data []byte, mode uint32) error
	}
	TruncateFS interface {
		Truncate(name string, size int64) error
	}
	ExistsFS interface {
		Exists(name string) (bool, error)
	}
	RealpathFS interface {
		Realpath(name string) (string, error)
	}
	MkdirAllFS interface {
		MkdirAll(name string, mode uint32) error
	}
	RemoveAllFS interface {
		RemoveAll(name string) error
	}
)

// Optional operations. Without an implementation they fail with
// NotSupported.
type (
	LstatFS interface {
		Lstat(name string) (Stats, error)
	}
	SymlinkFS interface {
		Symlink(target, link string) error
		Readlink(name string) (string, error)
	}
	LinkFS interface {
		Link(oldName, newName string) error
	}
	ChmodFS interface {
		Chmod(name string, mode uint32) error
	}
	ChownFS interface {
		Chown(name string, uid, gid int) error
	}
	UtimesFS interface {
		Utimes(name string, atime, mtime time.Time) error
	}
)

// ReadFile reads a whole file.
func ReadFile(fsys FileSystem, name string) ([]byte, error) {
	if r, ok := fsys.(ReadFileFS); ok {
		return r.ReadFile(name)
	}

	f, err := fsys.Open(name, FlagRead, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile creates or truncates name and writes data to it.
func WriteFile(fsys FileSystem, name string, data []byte, mode uint32) error {
	if w, ok := fsys.(WriteFileFS); ok {
		return w.WriteFile(name, data, mode)
	}

	f, err := fsys.Open(name, FlagWrite|FlagCreate|FlagTruncate, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Truncate resizes an existing file.
func Truncate(fsys FileSystem, name string, size int64) error {
	if t, ok := fsys.(TruncateFS); ok {
		return t.Truncate(name, size)
	}

	f, err := fsys.Open(name, FlagWrite, 0)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Exists reports whether name can be stat'ed. NotFound is not an error.
func Exists(fsys FileSystem, name string) (bool, error) {
	if e, ok := fsys.(ExistsFS); ok {
		return e.Exists(name)
	}

	_, err := fsys.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case syserr.Is(err, syserr.NotFound):
		return false, nil
	default:
		return false, err
	}
}

// Realpath returns the canonical path of an existing node.
func Realpath(fsys FileSystem, name string) (string, error) {
	if r, ok := fsys.(RealpathFS); ok {
		return r.Realpath(name)
	}
	if _, err := fsys.Stat(name); err != nil {
		return "", err
	}
	return Clean(name), nil
}

// MkdirAll creates name and any missing parents.
func MkdirAll(fsys FileSystem, name string, mode uint32) error {
	if m, ok := fsys.(MkdirAllFS); ok {
		return m.MkdirAll(name, mode)
	}

	cur := "/"
	for _, part := range Split(name) {
		cur = Join(cur, part)

		st, err := fsys.Stat(cur)
		if err == nil {
			if !st.IsDir() {
				return syserr.New(syserr.NotADirectory, "mkdir", cur)
			}
			continue
		}
		if !syserr.Is(err, syserr.NotFound) {
			return err
		}
		if err := fsys.Mkdir(cur, mode); err != nil && !syserr.Is(err, syserr.AlreadyExists) {
			return err
		}
	}
	return nil
}

// RemoveAll removes name and everything below it. A missing name is not an
// error.
func RemoveAll(fsys FileSystem, name string) error {
	if r, ok := fsys.(RemoveAllFS); ok {
		return r.RemoveAll(name)
	}

	st, err := Lstat(fsys, name)
	if err != nil {
		if syserr.Is(err, syserr.NotFound) {
			return nil
		}
		return err
	}
	if !st.IsDir() {
		return fsys.Unlink(name)
	}

	entries, err := fsys.Readdir(name)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := RemoveAll(fsys, Join(name, e.Name)); err != nil {
			return err
		}
	}
	return fsys.Rmdir(name)
}

// Lstat stats name without following a final symlink when the backend
// knows about symlinks.
func Lstat(fsys FileSystem, name string) (Stats, error) {
	if l, ok := fsys.(LstatFS); ok {
		return l.Lstat(name)
	}
	return fsys.Stat(name)
}

// Symlink creates link pointing at target.
func Symlink(fsys FileSystem, target, link string) error {
	if s, ok := fsys.(SymlinkFS); ok {
		return s.Symlink(target, link)
	}
	return syserr.New(syserr.NotSupported, "symlink", link)
}

// Readlink returns the target of a symlink.
func Readlink(fsys FileSystem, name string) (string, error) {
	if s, ok := fsys.(SymlinkFS); ok {
		return s.Readlink(name)
	}
	return "", syserr.New(syserr.NotSupported, "readlink", name)
}

// Link creates a hard link.
func Link(fsys FileSystem, oldName, newName string) error {
	if l, ok := fsys.(LinkFS); ok {
		return l.Link(oldName, newName)
	}
	return syserr.New(syserr.NotSupported, "link", newName)
}

// Chmod changes permission bits.
func Chmod(fsys FileSystem, name string, mode uint32) error {
	if c, ok := fsys.(ChmodFS); ok {
		return c.Chmod(name, mode)
	}
	return syserr.New(syserr.NotSupported, "chmod", name)
}

// Chown changes ownership.
func Chown(fsys FileSystem, name string, uid, gid int) error {
	if c, ok := fsys.(ChownFS); ok {
		return c.Chown(name, uid, gid)
	}
	return syserr.New(syserr.NotSupported, "chown", name)
}

// Utimes sets access and modification times.
func Utimes(fsys FileSystem, name string, atime, mtime time.Time) error {
	if u, ok := fsys.(UtimesFS); ok {
		return u.Utimes(name, atime, mtime)
	}
	return syserr.New(syserr.NotSupported, "utimes", name)
}

// SkipDir tells a WalkFunc to skip the directory it was called with.
var SkipDir = fs.SkipDir

// WalkFunc is called for every node below the walk root. name is absolute
// within the walked filesystem.
type WalkFunc func(name string, entry DirEntry) error

// Walker is implemented by backends with a faster native walk. Their
// callbacks are serialized but arrive in no particular order.
type Walker interface {
	Walk(root string, fn WalkFunc) error
}

// Walk visits every node below root, depth first.
func Walk(fsys FileSystem, root string, fn WalkFunc) error {
	if w, ok := fsys.(Walker); ok {
		return w.Walk(root, fn)
	}
	return walkDir(fsys, Clean(root), fn)
}

func walkDir(fsys FileSystem, dir string, fn WalkFunc) error {
	entries, err := fsys.Readdir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := Join(dir, e.Name)
		err := fn(name, e)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if e.Type == TypeDir {
			if err := walkDir(fsys, name, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
