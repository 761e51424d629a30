package procmgr

import (
	"io"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

var stdioNames = [3]string{"stdin", "stdout", "stderr"}

// setupStdio opens the three stdio handles of p, records them as its exit
// baseline and reports the resolved paths in result.
func (m *Manager) setupStdio(p *process.Process, desc process.SpawnDescriptor, parent *entry, e *entry, result *process.SpawnResult) error {
	kernel := p.Kernel()
	if kernel == nil || kernel.FS() == nil {
		return syserr.Errorf(syserr.NotSupported, "spawn", "no filesystem attached")
	}
	fsys := kernel.FS()

	specs := [3]string{desc.Stdin, desc.Stdout, desc.Stderr}
	var rids [3]int
	for fd, spec := range specs {
		path, piped, err := m.stdioPath(p, fd, spec, parent)
		if err != nil {
			return err
		}

		flags := vfs.FlagRead
		if fd > 0 {
			flags = vfs.FlagWrite | vfs.FlagCreate | vfs.FlagTruncate
		}
		f, err := fsys.Open(path, flags, vfs.DefaultFileMode)
		if err != nil {
			return syserr.Wrap(kindOf(err), "spawn", stdioNames[fd], err)
		}

		rids[fd] = p.Table().Add(vfs.NewFileResource(f, path))
		e.stdio[fd] = path
		if piped {
			e.piped = append(e.piped, path)
		}
	}

	p.SetStdio(rids[0], rids[1], rids[2])
	result.Stdin, result.Stdout, result.Stderr = e.stdio[0], e.stdio[1], e.stdio[2]
	return nil
}

// stdioPath resolves one stdio spec to a path. piped reports a freshly
// allocated fifo.
func (m *Manager) stdioPath(p *process.Process, fd int, spec string, parent *entry) (path string, piped bool, err error) {
	switch spec {
	case "", process.StdioInherit:
		if parent != nil && parent.stdio[fd] != "" {
			return parent.stdio[fd], false, nil
		}
		return m.opts.Console, false, nil

	case process.StdioNull:
		return DevNull, false, nil

	case process.StdioPiped:
		if m.opts.Fifos == nil {
			return "", false, syserr.Errorf(syserr.NotSupported, "spawn", "piped %s needs a fifo filesystem", stdioNames[fd])
		}
		name, _, err := m.opts.Fifos.MkTemp()
		if err != nil {
			return "", false, err
		}
		return vfs.Join(m.opts.FifoPrefix, name), true, nil
	}
	return p.Resolve(spec), false, nil
}

// releasePipes unlinks the fifos allocated for e. Open ends keep working.
func (m *Manager) releasePipes(e *entry) {
	if m.opts.Fifos == nil {
		return
	}
	for _, path := range e.piped {
		_ = m.opts.Fifos.Unlink(vfs.Rel(path, m.opts.FifoPrefix))
	}
}

func kindOf(err error) syserr.Kind {
	if k, ok := syserr.KindOf(err); ok {
		return k
	}
	return syserr.KindUnknown
}

type resourceWriter struct{ r resource.Resource }

func (w resourceWriter) Write(p []byte) (int, error) { return resource.Write(w.r, p) }

func writerOf(r resource.Resource) io.Writer { return resourceWriter{r} }
