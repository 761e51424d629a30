// Package memfs is an in-memory vfs backend.
package memfs

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

const maxSymlinkHops = 40

type node struct {
	typ      vfs.FileType
	mode     uint32
	data     []byte
	target   string
	children map[string]*node
	atime    time.Time
	mtime    time.Time
	ctime    time.Time
	ino      uint64
}

// FS is an in-memory filesystem. Tree shape and file contents share one
// lock; file buffers are replaced, never mutated, so readers may hold a
// slice after unlocking.
type FS struct {
	mu      sync.RWMutex
	root    *node
	nextIno atomic.Uint64
}

// New returns an empty filesystem containing only "/".
func New() *FS {
	fs := &FS{}
	fs.root = fs.newNode(vfs.TypeDir, vfs.DefaultDirMode)
	return fs
}

// Type names the backend in mount listings.
func (fs *FS) Type() string { return "memfs" }

func (fs *FS) newNode(typ vfs.FileType, mode uint32) *node {
	now := time.Now()
	n := &node{
		typ:   typ,
		mode:  mode,
		atime: now,
		mtime: now,
		ctime: now,
		ino:   fs.nextIno.Add(1),
	}
	if typ == vfs.TypeDir {
		n.children = make(map[string]*node)
	}
	return n
}

func (n *node) stats() vfs.Stats {
	size := int64(len(n.data))
	switch n.typ {
	case vfs.TypeDir:
		size = int64(len(n.children))
	case vfs.TypeSymlink:
		size = int64(len(n.target))
	}
	return vfs.Stats{
		Type:  n.typ,
		Size:  size,
		Mode:  n.mode,
		Atime: n.atime,
		Mtime: n.mtime,
		Ctime: n.ctime,
		Ino:   n.ino,
	}
}

// walk resolves name to a node, following symlinks in every component and,
// when followLast is set, in the final one. It returns the canonical path.
// Callers hold fs.mu.
func (fs *FS) walk(op, name string, followLast bool) (*node, string, error) {
	parts := vfs.Split(name)
	cur, curPath := fs.root, "/"
	hops := 0

	for i := 0; i < len(parts); i++ {
		if cur.typ != vfs.TypeDir {
			return nil, "", syserr.New(syserr.NotADirectory, op, name)
		}
		child, ok := cur.children[parts[i]]
		if !ok {
			return nil, "", syserr.New(syserr.NotFound, op, name)
		}

		last := i == len(parts)-1
		if child.typ == vfs.TypeSymlink && (!last || followLast) {
			hops++
			if hops > maxSymlinkHops {
				return nil, "", syserr.Errorf(syserr.InvalidArgument, op, "too many levels of symbolic links: %s", name)
			}
			target := vfs.Resolve(curPath, child.target)
			parts = append(vfs.Split(target), parts[i+1:]...)
			cur, curPath = fs.root, "/"
			i = -1
			continue
		}

		cur = child
		curPath = vfs.Join(curPath, parts[i])
	}
	return cur, curPath, nil
}

// parent resolves the directory that holds name.
func (fs *FS) parent(op, name string) (*node, string, error) {
	name = vfs.Clean(name)
	if name == "/" {
		return nil, "", syserr.New(syserr.Busy, op, name)
	}

	dir, _, err := fs.walk(op, vfs.Dir(name), true)
	if err != nil {
		return nil, "", err
	}
	if dir.typ != vfs.TypeDir {
		return nil, "", syserr.New(syserr.NotADirectory, op, name)
	}
	return dir, vfs.Base(name), nil
}

func (fs *FS) Open(name string, flags vfs.OpenFlag, mode uint32) (vfs.File, error) {
	return vfs.OpenWithPolicy(fs, name, flags, mode, vfs.OpenOptions{})
}

// OpenExisting implements vfs.Creator.
func (fs *FS) OpenExisting(name string, flags vfs.OpenFlag) (vfs.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, _, err := fs.walk("open", name, true)
	if err != nil {
		return nil, err
	}
	n.atime = time.Now()
	return vfs.NewVirtualFile(name, &storage{fs: fs, n: n}, flags), nil
}

// Create implements vfs.Creator.
func (fs *FS) Create(name string, flags vfs.OpenFlag, mode uint32) (vfs.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, base, err := fs.parent("open", name)
	if err != nil {
		return nil, err
	}
	if _, ok := dir.children[base]; ok {
		return nil, syserr.New(syserr.AlreadyExists, "open", name)
	}

	n := fs.newNode(vfs.TypeFile, mode)
	dir.children[base] = n
	dir.mtime = n.mtime
	return vfs.NewVirtualFile(name, &storage{fs: fs, n: n}, flags), nil
}

func (fs *FS) Stat(name string) (vfs.Stats, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, _, err := fs.walk("stat", name, true)
	if err != nil {
		return vfs.Stats{}, err
	}
	return n.stats(), nil
}

func (fs *FS) Lstat(name string) (vfs.Stats, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, _, err := fs.walk("lstat", name, false)
	if err != nil {
		return vfs.Stats{}, err
	}
	return n.stats(), nil
}

func (fs *FS) Mkdir(name string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if vfs.Clean(name) == "/" {
		return syserr.New(syserr.AlreadyExists, "mkdir", name)
	}
	dir, base, err := fs.parent("mkdir", name)
	if err != nil {
		return err
	}
	if _, ok := dir.children[base]; ok {
		return syserr.New(syserr.AlreadyExists, "mkdir", name)
	}
	if mode == 0 {
		mode = vfs.DefaultDirMode
	}

	n := fs.newNode(vfs.TypeDir, mode)
	dir.children[base] = n
	dir.mtime = n.mtime
	return nil
}

func (fs *FS) Unlink(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, base, err := fs.parent("unlink", name)
	if err != nil {
		return err
	}
	n, ok := dir.children[base]
	if !ok {
		return syserr.New(syserr.NotFound, "unlink", name)
	}
	if n.typ == vfs.TypeDir {
		return syserr.New(syserr.IsADirectory, "unlink", name)
	}
	delete(dir.children, base)
	dir.mtime = time.Now()
	return nil
}

func (fs *FS) Rmdir(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, base, err := fs.parent("rmdir", name)
	if err != nil {
		return err
	}
	n, ok := dir.children[base]
	if !ok {
		return syserr.New(syserr.NotFound, "rmdir", name)
	}
	if n.typ != vfs.TypeDir {
		return syserr.New(syserr.NotADirectory, "rmdir", name)
	}
	if len(n.children) > 0 {
		return syserr.New(syserr.DirectoryNotEmpty, "rmdir", name)
	}
	delete(dir.children, base)
	dir.mtime = time.Now()
	return nil
}

func (fs *FS) Readdir(name string) ([]vfs.DirEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, _, err := fs.walk("scandir", name, true)
	if err != nil {
		return nil, err
	}
	if n.typ != vfs.TypeDir {
		return nil, syserr.New(syserr.NotADirectory, "scandir", name)
	}

	out := make([]vfs.DirEntry, 0, len(n.children))
	for childName, child := range n.children {
		out = append(out, vfs.DirEntry{Name: childName, Type: child.typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (fs *FS) Rename(oldName, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldName, newName = vfs.Clean(oldName), vfs.Clean(newName)
	if oldName == newName {
		return nil
	}
	if vfs.HasPrefix(newName, oldName) {
		return syserr.Errorf(syserr.InvalidArgument, "rename", "cannot move %s into itself", oldName)
	}

	srcDir, srcBase, err := fs.parent("rename", oldName)
	if err != nil {
		return err
	}
	src, ok := srcDir.children[srcBase]
	if !ok {
		return syserr.New(syserr.NotFound, "rename", oldName)
	}
	dstDir, dstBase, err := fs.parent("rename", newName)
	if err != nil {
		return err
	}

	if dst, ok := dstDir.children[dstBase]; ok {
		switch {
		case dst.typ == vfs.TypeDir && src.typ != vfs.TypeDir:
			return syserr.New(syserr.IsADirectory, "rename", newName)
		case dst.typ != vfs.TypeDir && src.typ == vfs.TypeDir:
			return syserr.New(syserr.NotADirectory, "rename", newName)
		case dst.typ == vfs.TypeDir && len(dst.children) > 0:
			return syserr.New(syserr.DirectoryNotEmpty, "rename", newName)
		}
	}

	delete(srcDir.children, srcBase)
	dstDir.children[dstBase] = src
	now := time.Now()
	src.ctime, srcDir.mtime, dstDir.mtime = now, now, now
	return nil
}

func (fs *FS) Realpath(name string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, real, err := fs.walk("realpath", name, true)
	return real, err
}

func (fs *FS) Symlink(target, link string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, base, err := fs.parent("symlink", link)
	if err != nil {
		return err
	}
	if _, ok := dir.children[base]; ok {
		return syserr.New(syserr.AlreadyExists, "symlink", link)
	}

	n := fs.newNode(vfs.TypeSymlink, 0o777)
	n.target = target
	dir.children[base] = n
	return nil
}

func (fs *FS) Readlink(name string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, _, err := fs.walk("readlink", name, false)
	if err != nil {
		return "", err
	}
	if n.typ != vfs.TypeSymlink {
		return "", syserr.New(syserr.InvalidArgument, "readlink", name)
	}
	return n.target, nil
}

func (fs *FS) Chmod(name string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, _, err := fs.walk("chmod", name, true)
	if err != nil {
		return err
	}
	n.mode = mode & 0o7777
	n.ctime = time.Now()
	return nil
}

func (fs *FS) Utimes(name string, atime, mtime time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, _, err := fs.walk("utimes", name, true)
	if err != nil {
		return err
	}
	n.atime, n.mtime = atime, mtime
	return nil
}

// storage adapts a file node to vfs.Storage.
type storage struct {
	fs *FS
	n  *node
}

func (s *storage) Bytes() []byte {
	s.fs.mu.RLock()
	defer s.fs.mu.RUnlock()
	return s.n.data
}

func (s *storage) SetBytes(b []byte) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	s.n.data = b
	s.n.mtime = time.Now()
}

func (s *storage) Stats() vfs.Stats {
	s.fs.mu.RLock()
	defer s.fs.mu.RUnlock()
	return s.n.stats()
}
