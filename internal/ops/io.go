package ops

import (
	"context"
	"errors"
	"io"

	"github.com/GriffinCanCode/webkernel/internal/pipe"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/devfs"
)

// OpenOptions is the object form of op_open's second argument. A string
// mode such as "r+" or "a" is accepted too.
type OpenOptions struct {
	Read      bool   `json:"read" mapstructure:"read"`
	Write     bool   `json:"write" mapstructure:"write"`
	Append    bool   `json:"append" mapstructure:"append"`
	Truncate  bool   `json:"truncate" mapstructure:"truncate"`
	Create    bool   `json:"create" mapstructure:"create"`
	CreateNew bool   `json:"createNew" mapstructure:"createNew"`
	Mode      uint32 `json:"mode" mapstructure:"mode"`
}

func (o OpenOptions) flags() vfs.OpenFlag {
	var f vfs.OpenFlag
	if o.Read {
		f |= vfs.FlagRead
	}
	if o.Write {
		f |= vfs.FlagWrite
	}
	if o.Append {
		f |= vfs.FlagAppend
	}
	if o.Truncate {
		f |= vfs.FlagTruncate
	}
	if o.Create {
		f |= vfs.FlagCreate
	}
	if o.CreateNew {
		f |= vfs.FlagCreate | vfs.FlagExclusive
	}
	if f&(vfs.FlagRead|vfs.FlagWrite|vfs.FlagAppend) == 0 {
		f |= vfs.FlagRead
	}
	return f
}

func parseOpen(b any) (vfs.OpenFlag, uint32, error) {
	if s, ok := b.(string); ok {
		flags, err := vfs.ParseFlags(s)
		return flags, vfs.DefaultFileMode, err
	}
	opts := OpenOptions{}
	if err := decodeOptions("open", b, &opts); err != nil {
		return 0, 0, err
	}
	mode := opts.Mode
	if mode == 0 {
		mode = vfs.DefaultFileMode
	}
	return opts.flags(), mode, nil
}

func (h *host) open(p *process.Process, a, b any) (any, error) {
	name, err := toPath("open", a)
	if err != nil {
		return nil, err
	}
	flags, mode, err := parseOpen(b)
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf("open", p)
	if err != nil {
		return nil, err
	}

	path := p.Resolve(name)
	f, err := fsys.Open(path, flags, mode)
	if err != nil {
		return nil, err
	}
	return p.Table().Add(vfs.NewFileResource(f, path)), nil
}

func (h *host) countPipe(p *process.Process, r resource.Resource, direction string, n int) {
	if n > 0 && r.Kind() == resource.KindPipe {
		p.Metrics().AddPipeBytes(direction, n)
	}
}

// read fills b when it is a byte buffer and returns the count, otherwise it
// returns up to b bytes. End of stream is a zero count or an empty slice.
func (h *host) read(ctx context.Context, p *process.Process, a, b any) (any, error) {
	rid, err := toRid("read", a)
	if err != nil {
		return nil, err
	}
	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}

	if buf, ok := b.([]byte); ok && len(buf) > 0 {
		n, err := resource.ReadContext(ctx, r, buf)
		h.countPipe(p, r, "read", n)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		return n, err
	}

	size, err := toIntOr("read", b, DefaultReadSize)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return []byte{}, nil
	}
	if size > MaxReadSize {
		size = MaxReadSize
	}
	buf := make([]byte, size)
	n, err := resource.ReadContext(ctx, r, buf)
	h.countPipe(p, r, "read", n)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func (h *host) write(ctx context.Context, p *process.Process, a, b any) (any, error) {
	rid, err := toRid("write", a)
	if err != nil {
		return nil, err
	}
	data, err := toBytes("write", b)
	if err != nil {
		return nil, err
	}
	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}

	n, err := resource.WriteContext(ctx, r, data)
	h.countPipe(p, r, "write", n)
	return n, err
}

// SeekOptions is op_seek's second argument; a bare number seeks from the
// start.
type SeekOptions struct {
	Offset int64 `json:"offset" mapstructure:"offset"`
	Whence int   `json:"whence" mapstructure:"whence"`
}

func (h *host) seek(p *process.Process, a, b any) (any, error) {
	rid, err := toRid("seek", a)
	if err != nil {
		return nil, err
	}
	opts := SeekOptions{}
	if _, isObj := b.(map[string]any); isObj {
		err = decodeOptions("seek", b, &opts)
	} else {
		opts.Offset, err = toIntOr("seek", b, 0)
	}
	if err != nil {
		return nil, err
	}
	if opts.Whence < io.SeekStart || opts.Whence > io.SeekEnd {
		return nil, invalid("seek", "bad whence %d", opts.Whence)
	}

	f, err := fileOf("seek", p, rid)
	if err != nil {
		return nil, err
	}
	return f.Seek(opts.Offset, opts.Whence)
}

func (h *host) close(p *process.Process, a, _ any) (any, error) {
	rid, err := toRid("close", a)
	if err != nil {
		return nil, err
	}
	if _, err := p.Table().Lookup(rid); err != nil {
		return nil, err
	}
	return nil, p.Table().Close(rid)
}

// fileOf returns the open file behind rid.
func fileOf(op string, p *process.Process, rid int) (vfs.File, error) {
	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}
	if fr, ok := resource.Unwrap(r).(*vfs.FileResource); ok {
		return fr.File, nil
	}
	return nil, syserr.Errorf(syserr.NotSupported, op, "resource %d is a %s", rid, r.Kind())
}

func (h *host) fstat(p *process.Process, a, _ any) (any, error) {
	rid, err := toRid("fstat", a)
	if err != nil {
		return nil, err
	}
	f, err := fileOf("fstat", p, rid)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return newFileInfo(st), nil
}

func (h *host) ftruncate(p *process.Process, a, b any) (any, error) {
	rid, err := toRid("ftruncate", a)
	if err != nil {
		return nil, err
	}
	size, err := toIntOr("ftruncate", b, 0)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, invalid("ftruncate", "negative length %d", size)
	}
	f, err := fileOf("ftruncate", p, rid)
	if err != nil {
		return nil, err
	}
	return nil, f.Truncate(size)
}

func (h *host) fsync(p *process.Process, a, _ any) (any, error) {
	rid, err := toRid("fsync", a)
	if err != nil {
		return nil, err
	}
	f, err := fileOf("fsync", p, rid)
	if err != nil {
		return nil, err
	}
	return nil, f.Sync()
}

// pipe returns [readRid, writeRid] of a fresh anonymous pipe.
func (h *host) pipe(p *process.Process, _, _ any) (any, error) {
	pp := pipe.New(h.opts.PipeCapacity)
	r := p.Table().Add(pipe.NewReadEnd(pp))
	w := p.Table().Add(pipe.NewWriteEnd(pp))
	return []int{r, w}, nil
}

// mkfifo creates a named pipe under the fifo mount and returns its path.
// An empty name picks a fresh one.
func (h *host) mkfifo(p *process.Process, a, _ any) (any, error) {
	if h.opts.Fifos == nil {
		return nil, syserr.Errorf(syserr.NotSupported, "mkfifo", "no fifo filesystem")
	}

	name, err := toStringOr("mkfifo", a, "")
	if err != nil {
		return nil, err
	}
	if name == "" {
		rel, _, err := h.opts.Fifos.MkTemp()
		if err != nil {
			return nil, err
		}
		return vfs.Join(h.opts.FifoPrefix, rel), nil
	}

	path := p.Resolve(name)
	if !vfs.HasPrefix(path, h.opts.FifoPrefix) || path == vfs.Clean(h.opts.FifoPrefix) {
		return nil, syserr.Errorf(syserr.NotSupported, "mkfifo", "fifos live under %s", h.opts.FifoPrefix)
	}
	if _, err := h.opts.Fifos.MkFifo(vfs.Rel(path, h.opts.FifoPrefix)); err != nil {
		return nil, err
	}
	return path, nil
}

func (h *host) dup(p *process.Process, a, _ any) (any, error) {
	rid, err := toRid("dup", a)
	if err != nil {
		return nil, err
	}
	return resource.Dup(p.Table(), rid)
}

type sizer interface {
	Size() (cols, rows int)
}

// ConsoleSize is op_console_size's result.
type ConsoleSize struct {
	Columns int `json:"columns" mapstructure:"columns"`
	Rows    int `json:"rows" mapstructure:"rows"`
}

// consoleSize reports the terminal size behind rid, stdout by default.
func (h *host) consoleSize(p *process.Process, a, _ any) (any, error) {
	_, stdout, _ := p.Stdio()
	rid64, err := toIntOr("console_size", a, int64(stdout))
	if err != nil {
		return nil, err
	}
	r, err := p.Table().Lookup(int(rid64))
	if err != nil {
		return nil, err
	}

	var target any = resource.Unwrap(r)
	if fr, ok := target.(*vfs.FileResource); ok {
		target = fr.File
	}
	if f, ok := target.(*devfs.File); ok {
		target = f.Device()
	}
	s, ok := target.(sizer)
	if !ok {
		return nil, syserr.Errorf(syserr.NotSupported, "console_size", "resource %d is not a terminal", rid64)
	}
	cols, rows := s.Size()
	return ConsoleSize{Columns: cols, Rows: rows}, nil
}
