package vfs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Typed is implemented by backends that can name themselves in mount
// listings.
type Typed interface {
	Type() string
}

// MountInfo describes one entry of the mount table.
type MountInfo struct {
	Prefix string `json:"prefix"`
	Type   string `json:"type"`
}

// Mountable composes a root backend with backends mounted at path
// prefixes. The longest matching prefix wins. Mount table changes are
// visible to every holder immediately.
type Mountable struct {
	mu     sync.RWMutex
	root   FileSystem
	mounts map[string]FileSystem
}

// NewMountable creates a composed filesystem over root.
func NewMountable(root FileSystem) *Mountable {
	return &Mountable{
		root:   root,
		mounts: make(map[string]FileSystem),
	}
}

// Mount binds fsys at prefix. Mounting the same prefix again replaces the
// previous binding; mounting "/" replaces the root.
func (m *Mountable) Mount(prefix string, fsys FileSystem) {
	prefix = Clean(prefix)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prefix == "/" {
		m.root = fsys
		return
	}
	m.mounts[prefix] = fsys
}

// Unmount removes the binding at prefix.
func (m *Mountable) Unmount(prefix string) error {
	prefix = Clean(prefix)
	if prefix == "/" {
		return syserr.Errorf(syserr.InvalidArgument, "umount", "cannot unmount root")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mounts[prefix]; !ok {
		return syserr.New(syserr.NotFound, "umount", prefix)
	}
	delete(m.mounts, prefix)
	return nil
}

// Mounts lists the mount table, root first, then by prefix.
func (m *Mountable) Mounts() []MountInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []MountInfo{{Prefix: "/", Type: typeOf(m.root)}}
	prefixes := make([]string, 0, len(m.mounts))
	for p := range m.mounts {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		out = append(out, MountInfo{Prefix: p, Type: typeOf(m.mounts[p])})
	}
	return out
}

func typeOf(fsys FileSystem) string {
	if t, ok := fsys.(Typed); ok {
		return t.Type()
	}
	return fmt.Sprintf("%T", fsys)
}

// Resolve finds the backend responsible for name. It returns the backend,
// the path relative to it and the prefix it is mounted at.
func (m *Mountable) Resolve(name string) (FileSystem, string, string) {
	name = Clean(name)

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	for p := range m.mounts {
		if HasPrefix(name, p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return m.root, name, "/"
	}
	return m.mounts[best], Rel(name, best), best
}

func (m *Mountable) isMountPoint(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.mounts[name]
	return ok
}

// hasMountsBelow reports whether some mount lies strictly under name.
func (m *Mountable) hasMountsBelow(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p := range m.mounts {
		if p != name && HasPrefix(p, name) {
			return true
		}
	}
	return false
}

func (m *Mountable) childMounts(dir string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for p := range m.mounts {
		if p == dir || !HasPrefix(p, dir) {
			continue
		}
		names = append(names, Split(Rel(p, dir))[0])
	}
	return names
}

func syntheticDir() Stats {
	now := time.Now()
	return Stats{Type: TypeDir, Mode: DefaultDirMode, Atime: now, Mtime: now, Ctime: now}
}

func (m *Mountable) Open(name string, flags OpenFlag, mode uint32) (File, error) {
	fsys, rel, _ := m.Resolve(name)
	return fsys.Open(rel, flags, mode)
}

func (m *Mountable) Stat(name string) (Stats, error) {
	name = Clean(name)
	fsys, rel, _ := m.Resolve(name)

	st, err := fsys.Stat(rel)
	if err != nil && (m.isMountPoint(name) || (syserr.Is(err, syserr.NotFound) && m.hasMountsBelow(name))) {
		return syntheticDir(), nil
	}
	return st, err
}

func (m *Mountable) Lstat(name string) (Stats, error) {
	name = Clean(name)
	if m.isMountPoint(name) {
		return m.Stat(name)
	}
	fsys, rel, _ := m.Resolve(name)
	return Lstat(fsys, rel)
}

func (m *Mountable) Mkdir(name string, mode uint32) error {
	name = Clean(name)
	if m.isMountPoint(name) {
		return syserr.New(syserr.AlreadyExists, "mkdir", name)
	}
	fsys, rel, _ := m.Resolve(name)
	return fsys.Mkdir(rel, mode)
}

func (m *Mountable) Unlink(name string) error {
	name = Clean(name)
	if m.isMountPoint(name) {
		return syserr.New(syserr.Busy, "unlink", name)
	}
	fsys, rel, _ := m.Resolve(name)
	return fsys.Unlink(rel)
}

func (m *Mountable) Rmdir(name string) error {
	name = Clean(name)
	if m.isMountPoint(name) {
		return syserr.New(syserr.Busy, "rmdir", name)
	}
	fsys, rel, _ := m.Resolve(name)
	return fsys.Rmdir(rel)
}

// Readdir lists a directory and merges in the first component of every
// mount below it.
func (m *Mountable) Readdir(name string) ([]DirEntry, error) {
	name = Clean(name)
	fsys, rel, _ := m.Resolve(name)

	entries, err := fsys.Readdir(rel)
	if err != nil {
		if !syserr.Is(err, syserr.NotFound) || !m.hasMountsBelow(name) {
			return nil, err
		}
		entries = nil
	}

	mounted := m.childMounts(name)
	if len(mounted) == 0 {
		return entries, nil
	}

	byName := make(map[string]DirEntry, len(entries)+len(mounted))
	for _, e := range entries {
		byName[e.Name] = e
	}
	for _, n := range mounted {
		byName[n] = DirEntry{Name: n, Type: TypeDir}
	}

	out := make([]DirEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Rename moves a node within one backend. Crossing mounts fails with
// CrossDevice.
func (m *Mountable) Rename(oldName, newName string) error {
	oldName, newName = Clean(oldName), Clean(newName)
	if m.isMountPoint(oldName) || m.isMountPoint(newName) {
		return syserr.New(syserr.Busy, "rename", oldName)
	}

	src, oldRel, oldPrefix := m.Resolve(oldName)
	_, newRel, newPrefix := m.Resolve(newName)
	if oldPrefix != newPrefix {
		return syserr.New(syserr.CrossDevice, "rename", oldName)
	}
	return src.Rename(oldRel, newRel)
}

func (m *Mountable) ReadFile(name string) ([]byte, error) {
	fsys, rel, _ := m.Resolve(name)
	return ReadFile(fsys, rel)
}

func (m *Mountable) WriteFile(name string, data []byte, mode uint32) error {
	fsys, rel, _ := m.Resolve(name)
	return WriteFile(fsys, rel, data, mode)
}

func (m *Mountable) Truncate(name string, size int64) error {
	fsys, rel, _ := m.Resolve(name)
	return Truncate(fsys, rel, size)
}

func (m *Mountable) Exists(name string) (bool, error) {
	_, err := m.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case syserr.Is(err, syserr.NotFound):
		return false, nil
	default:
		return false, err
	}
}

func (m *Mountable) Realpath(name string) (string, error) {
	name = Clean(name)
	if m.isMountPoint(name) {
		return name, nil
	}
	fsys, rel, prefix := m.Resolve(name)
	real, err := Realpath(fsys, rel)
	if err != nil {
		return "", err
	}
	return Join(prefix, real), nil
}

func (m *Mountable) Symlink(target, link string) error {
	fsys, rel, _ := m.Resolve(link)
	return Symlink(fsys, target, rel)
}

func (m *Mountable) Readlink(name string) (string, error) {
	fsys, rel, _ := m.Resolve(name)
	return Readlink(fsys, rel)
}

func (m *Mountable) Link(oldName, newName string) error {
	src, oldRel, oldPrefix := m.Resolve(oldName)
	_, newRel, newPrefix := m.Resolve(newName)
	if oldPrefix != newPrefix {
		return syserr.New(syserr.CrossDevice, "link", oldName)
	}
	return Link(src, oldRel, newRel)
}

func (m *Mountable) Chmod(name string, mode uint32) error {
	fsys, rel, _ := m.Resolve(name)
	return Chmod(fsys, rel, mode)
}

func (m *Mountable) Chown(name string, uid, gid int) error {
	fsys, rel, _ := m.Resolve(name)
	return Chown(fsys, rel, uid, gid)
}

func (m *Mountable) Utimes(name string, atime, mtime time.Time) error {
	fsys, rel, _ := m.Resolve(name)
	return Utimes(fsys, rel, atime, mtime)
}

// Walk visits every node below root across mounts. Subtrees served by a
// backend with a native walker are handed to it.
func (m *Mountable) Walk(root string, fn WalkFunc) error {
	root = Clean(root)

	fsys, rel, prefix := m.Resolve(root)
	if w, ok := fsys.(Walker); ok && !m.hasMountsBelow(root) {
		return w.Walk(rel, func(name string, e DirEntry) error {
			return fn(Join(prefix, name), e)
		})
	}

	entries, err := m.Readdir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := Join(root, e.Name)
		err := fn(name, e)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if e.Type == TypeDir {
			if err := m.Walk(name, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
