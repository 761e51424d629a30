package ops

import (
	"context"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

// FileInfo is the guest view of vfs.Stats.
type FileInfo struct {
	Type        string    `json:"type" mapstructure:"type"`
	IsFile      bool      `json:"isFile" mapstructure:"isFile"`
	IsDirectory bool      `json:"isDirectory" mapstructure:"isDirectory"`
	IsSymlink   bool      `json:"isSymlink" mapstructure:"isSymlink"`
	Size        int64     `json:"size" mapstructure:"size"`
	Mode        uint32    `json:"mode" mapstructure:"mode"`
	Atime       time.Time `json:"atime" mapstructure:"atime"`
	Mtime       time.Time `json:"mtime" mapstructure:"mtime"`
	Ctime       time.Time `json:"ctime" mapstructure:"ctime"`
	Ino         uint64    `json:"ino" mapstructure:"ino"`
	Mime        string    `json:"mime,omitempty" mapstructure:"mime"`
}

func newFileInfo(st vfs.Stats) FileInfo {
	return FileInfo{
		Type:        st.Type.String(),
		IsFile:      st.IsFile(),
		IsDirectory: st.IsDir(),
		IsSymlink:   st.IsSymlink(),
		Size:        st.Size,
		Mode:        st.Mode,
		Atime:       st.Atime,
		Mtime:       st.Mtime,
		Ctime:       st.Ctime,
		Ino:         st.Ino,
	}
}

// StatOptions is op_stat's second argument.
type StatOptions struct {
	// Mime sniffs the content type of regular files.
	Mime bool `json:"mime" mapstructure:"mime"`
}

func (h *host) stat(p *process.Process, a, b any) (any, error) {
	return h.statWith("stat", p, a, b, (*vfs.Mountable).Stat)
}

func (h *host) lstat(p *process.Process, a, b any) (any, error) {
	return h.statWith("lstat", p, a, b, (*vfs.Mountable).Lstat)
}

func (h *host) statWith(op string, p *process.Process, a, b any, fn func(*vfs.Mountable, string) (vfs.Stats, error)) (any, error) {
	name, err := toPath(op, a)
	if err != nil {
		return nil, err
	}
	opts := StatOptions{}
	if err := decodeOptions(op, b, &opts); err != nil {
		return nil, err
	}
	fsys, err := fsOf(op, p)
	if err != nil {
		return nil, err
	}

	path := p.Resolve(name)
	st, err := fn(fsys, path)
	if err != nil {
		return nil, err
	}
	info := newFileInfo(st)
	if opts.Mime && st.IsFile() {
		info.Mime = sniff(fsys, path)
	}
	return info, nil
}

// sniff detects the content type of a regular file, empty when it cannot
// be read.
func sniff(fsys *vfs.Mountable, path string) string {
	f, err := fsys.Open(path, vfs.FlagRead, 0)
	if err != nil {
		return ""
	}
	defer f.Close()

	m, err := mimetype.DetectReader(f)
	if err != nil {
		return ""
	}
	return m.String()
}

// MkdirOptions is op_mkdir's second argument.
type MkdirOptions struct {
	Recursive bool   `json:"recursive" mapstructure:"recursive"`
	Mode      uint32 `json:"mode" mapstructure:"mode"`
}

func (h *host) mkdir(p *process.Process, a, b any) (any, error) {
	name, err := toPath("mkdir", a)
	if err != nil {
		return nil, err
	}
	opts := MkdirOptions{}
	if err := decodeOptions("mkdir", b, &opts); err != nil {
		return nil, err
	}
	if opts.Mode == 0 {
		opts.Mode = vfs.DefaultDirMode
	}
	fsys, err := fsOf("mkdir", p)
	if err != nil {
		return nil, err
	}

	path := p.Resolve(name)
	if opts.Recursive {
		return nil, vfs.MkdirAll(fsys, path, opts.Mode)
	}
	return nil, fsys.Mkdir(path, opts.Mode)
}

func (h *host) readdir(p *process.Process, a, _ any) (any, error) {
	name, err := toStringOr("readdir", a, ".")
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf("readdir", p)
	if err != nil {
		return nil, err
	}
	return fsys.Readdir(p.Resolve(name))
}

func (h *host) pathOp(op string, p *process.Process, a any, fn func(fsys *vfs.Mountable, path string) error) (any, error) {
	name, err := toPath(op, a)
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf(op, p)
	if err != nil {
		return nil, err
	}
	return nil, fn(fsys, p.Resolve(name))
}

func (h *host) unlink(p *process.Process, a, _ any) (any, error) {
	return h.pathOp("unlink", p, a, (*vfs.Mountable).Unlink)
}

func (h *host) rmdir(p *process.Process, a, _ any) (any, error) {
	return h.pathOp("rmdir", p, a, (*vfs.Mountable).Rmdir)
}

// RemoveOptions is op_remove's second argument.
type RemoveOptions struct {
	Recursive bool `json:"recursive" mapstructure:"recursive"`
}

// remove deletes a file or an empty directory, or a whole tree when
// recursive.
func (h *host) remove(p *process.Process, a, b any) (any, error) {
	opts := RemoveOptions{}
	if err := decodeOptions("remove", b, &opts); err != nil {
		return nil, err
	}
	return h.pathOp("remove", p, a, func(fsys *vfs.Mountable, path string) error {
		st, err := fsys.Lstat(path)
		if err != nil {
			return err
		}
		switch {
		case !st.IsDir():
			return fsys.Unlink(path)
		case opts.Recursive:
			return vfs.RemoveAll(fsys, path)
		}
		return fsys.Rmdir(path)
	})
}

func (h *host) rename(p *process.Process, a, b any) (any, error) {
	to, err := toPath("rename", b)
	if err != nil {
		return nil, err
	}
	return h.pathOp("rename", p, a, func(fsys *vfs.Mountable, from string) error {
		return fsys.Rename(from, p.Resolve(to))
	})
}

func (h *host) readFile(_ context.Context, p *process.Process, a, _ any) (any, error) {
	name, err := toPath("read_file", a)
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf("read_file", p)
	if err != nil {
		return nil, err
	}
	return fsys.ReadFile(p.Resolve(name))
}

// WriteFileOptions is the object form of op_write_file's second argument;
// plain bytes or a string are the data to write.
type WriteFileOptions struct {
	Data   []byte `json:"data" mapstructure:"data"`
	Append bool   `json:"append" mapstructure:"append"`
	Create *bool  `json:"create" mapstructure:"create"`
	Mode   uint32 `json:"mode" mapstructure:"mode"`
}

func (h *host) writeFile(ctx context.Context, p *process.Process, a, b any) (any, error) {
	name, err := toPath("write_file", a)
	if err != nil {
		return nil, err
	}
	opts := WriteFileOptions{}
	if _, isObj := b.(map[string]any); isObj {
		err = decodeOptions("write_file", b, &opts)
	} else {
		opts.Data, err = toBytes("write_file", b)
	}
	if err != nil {
		return nil, err
	}
	if opts.Mode == 0 {
		opts.Mode = vfs.DefaultFileMode
	}
	fsys, err := fsOf("write_file", p)
	if err != nil {
		return nil, err
	}

	path := p.Resolve(name)
	if !opts.Append && (opts.Create == nil || *opts.Create) {
		return nil, fsys.WriteFile(path, opts.Data, opts.Mode)
	}

	flags := vfs.FlagWrite
	if opts.Append {
		flags = vfs.FlagAppend
	} else {
		flags |= vfs.FlagTruncate
	}
	if opts.Create == nil || *opts.Create {
		flags |= vfs.FlagCreate
	}
	f, err := fsys.Open(path, flags, opts.Mode)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(opts.Data); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return nil, f.Close()
}

func (h *host) truncate(p *process.Process, a, b any) (any, error) {
	size, err := toIntOr("truncate", b, 0)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, invalid("truncate", "negative length %d", size)
	}
	return h.pathOp("truncate", p, a, func(fsys *vfs.Mountable, path string) error {
		return fsys.Truncate(path, size)
	})
}

func (h *host) exists(p *process.Process, a, _ any) (any, error) {
	name, err := toPath("exists", a)
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf("exists", p)
	if err != nil {
		return nil, err
	}
	return fsys.Exists(p.Resolve(name))
}

func (h *host) realpath(p *process.Process, a, _ any) (any, error) {
	name, err := toStringOr("realpath", a, ".")
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf("realpath", p)
	if err != nil {
		return nil, err
	}
	return fsys.Realpath(p.Resolve(name))
}

// symlink creates link b pointing at a. The target is stored as given.
func (h *host) symlink(p *process.Process, a, b any) (any, error) {
	target, err := toPath("symlink", a)
	if err != nil {
		return nil, err
	}
	return h.pathOp("symlink", p, b, func(fsys *vfs.Mountable, link string) error {
		return fsys.Symlink(target, link)
	})
}

func (h *host) readlink(p *process.Process, a, _ any) (any, error) {
	name, err := toPath("readlink", a)
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf("readlink", p)
	if err != nil {
		return nil, err
	}
	return fsys.Readlink(p.Resolve(name))
}

func (h *host) chmod(p *process.Process, a, b any) (any, error) {
	mode, err := toInt("chmod", b)
	if err != nil {
		return nil, err
	}
	if mode < 0 || mode > 0o7777 {
		return nil, invalid("chmod", "bad mode %o", mode)
	}
	return h.pathOp("chmod", p, a, func(fsys *vfs.Mountable, path string) error {
		return fsys.Chmod(path, uint32(mode))
	})
}

// UtimesOptions is op_utimes's second argument. Times are unix seconds or
// RFC 3339 text.
type UtimesOptions struct {
	Atime any `json:"atime" mapstructure:"atime"`
	Mtime any `json:"mtime" mapstructure:"mtime"`
}

func (h *host) utimes(p *process.Process, a, b any) (any, error) {
	opts := UtimesOptions{}
	if err := decodeOptions("utimes", b, &opts); err != nil {
		return nil, err
	}
	if opts.Atime == nil || opts.Mtime == nil {
		return nil, invalid("utimes", "atime and mtime are required")
	}
	atime, err := toTime("utimes", opts.Atime)
	if err != nil {
		return nil, err
	}
	mtime, err := toTime("utimes", opts.Mtime)
	if err != nil {
		return nil, err
	}
	return h.pathOp("utimes", p, a, func(fsys *vfs.Mountable, path string) error {
		return fsys.Utimes(path, atime, mtime)
	})
}

func (h *host) mountList(p *process.Process, _, _ any) (any, error) {
	fsys, err := fsOf("mount_list", p)
	if err != nil {
		return nil, err
	}
	return fsys.Mounts(), nil
}
