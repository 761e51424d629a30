package programs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/GriffinCanCode/webkernel/internal/guest"
	"github.com/GriffinCanCode/webkernel/internal/ops"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

const lsTimeLayout = "Jan _2 15:04"

// Ls lists directories, or names files given directly.
//
//	-l  long format
//	-h  human readable sizes with -l
//	-a  include dot files
func Ls(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		fset := c.flags()
		long := fset.Bool("l", false, "long listing")
		human := fset.Bool("h", false, "human readable sizes")
		all := fset.Bool("a", false, "show entries starting with .")
		if code, ok := c.parse(fset); !ok {
			return code
		}
		l := lister{cmd: c, long: *long, human: *human, all: *all}

		paths := fset.Args()
		if len(paths) == 0 {
			paths = []string{"."}
		}
		status := ExitOK
		for i, target := range paths {
			if len(paths) > 1 {
				if i > 0 {
					l.out.WriteString("\n")
				}
				l.out.WriteString(target + ":\n")
			}
			if err := l.list(target); err != nil {
				c.fail(fmt.Errorf("%s: %w", target, err))
				status = ExitFail
			}
		}
		if err := sys.WriteString(ctx, guest.Stdout, l.out.String()); err != nil {
			return c.fail(err)
		}
		return status
	})
}

type lister struct {
	*cmd
	long, human, all bool
	out              strings.Builder
}

// list prints dir, which may be relative to the working directory.
func (l *lister) list(dir string) error {
	info, err := l.sys.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDirectory {
		return l.write([]row{{name: dir, info: info}})
	}

	entries, err := l.sys.Readdir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		if !l.all && strings.HasPrefix(e.Name, ".") {
			continue
		}
		r := row{name: e.Name, typ: e.Type}
		if l.long {
			full := path.Join(dir, e.Name)
			if r.info, err = l.sys.Lstat(full); err != nil {
				return err
			}
			if r.info.IsSymlink {
				r.target, _ = l.sys.Readlink(full)
			}
		}
		rows = append(rows, r)
	}
	return l.write(rows)
}

type row struct {
	name   string
	typ    vfs.FileType
	info   ops.FileInfo
	target string
}

func (l *lister) write(rows []row) error {
	if !l.long {
		for _, r := range rows {
			name := r.name
			if r.typ == vfs.TypeDir {
				name += "/"
			}
			l.out.WriteString(name + "\n")
		}
		return nil
	}

	tw := tabwriter.NewWriter(&l.out, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, r := range rows {
		name := r.name
		if r.target != "" {
			name += " -> " + r.target
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", modeString(r.info), l.size(r.info.Size), r.info.Mtime.Format(lsTimeLayout), name)
	}
	return tw.Flush()
}

func (l *lister) size(n int64) string {
	if l.human {
		return humanize.Bytes(uint64(n))
	}
	return strconv.FormatInt(n, 10)
}

func modeString(info ops.FileInfo) string {
	kind := "-"
	switch info.Type {
	case "dir":
		kind = "d"
	case "symlink":
		kind = "l"
	case "char-device":
		kind = "c"
	case "fifo":
		kind = "p"
	}
	return kind + fs.FileMode(info.Mode & 0o777).String()[1:]
}

// Mkdir creates directories. -p creates parents and tolerates existing
// ones.
func Mkdir(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		fset := c.flags()
		parents := fset.Bool("p", false, "make parent directories as needed")
		if code, ok := c.parse(fset); !ok {
			return code
		}
		if fset.NArg() == 0 {
			return c.failf("missing operand")
		}
		status := ExitOK
		for _, dir := range fset.Args() {
			if err := sys.Mkdir(dir, *parents); err != nil {
				c.fail(fmt.Errorf("cannot create directory %q: %w", dir, err))
				status = ExitFail
			}
		}
		return status
	})
}

// Rm removes files. -r removes directories and their contents; -f ignores
// missing operands.
func Rm(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		fset := c.flags()
		recursive := fset.Bool("r", false, "remove directories and their contents")
		force := fset.Bool("f", false, "ignore nonexistent files")
		if code, ok := c.parse(fset); !ok {
			return code
		}
		if fset.NArg() == 0 && !*force {
			return c.failf("missing operand")
		}
		status := ExitOK
		for _, target := range fset.Args() {
			if !*recursive {
				if info, err := sys.Lstat(target); err == nil && info.IsDirectory {
					c.failf("cannot remove %q: is a directory", target)
					status = ExitFail
					continue
				}
			}
			err := sys.Remove(target, *recursive)
			if err == nil || (*force && isNotFound(err)) {
				continue
			}
			c.fail(fmt.Errorf("cannot remove %q: %w", target, err))
			status = ExitFail
		}
		return status
	})
}

func isNotFound(err error) bool {
	var env *syserr.Envelope
	if errors.As(err, &env) {
		return env.Kind() == syserr.NotFound
	}
	return syserr.Is(err, syserr.NotFound)
}
