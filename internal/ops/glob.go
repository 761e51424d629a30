package ops

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

// GlobOptions is op_glob's second argument.
type GlobOptions struct {
	// Root anchors relative patterns instead of the working directory.
	Root string `json:"root" mapstructure:"root"`
	// OnlyFiles drops directories from the result.
	OnlyFiles bool `json:"onlyFiles" mapstructure:"onlyFiles"`
}

// glob expands a doublestar pattern over the composed filesystem. Relative
// patterns yield paths relative to their root.
func (h *host) glob(p *process.Process, a, b any) (any, error) {
	pattern, err := toString("glob", a)
	if err != nil {
		return nil, err
	}
	opts := GlobOptions{}
	if err := decodeOptions("glob", b, &opts); err != nil {
		return nil, err
	}
	fsys, err := fsOf("glob", p)
	if err != nil {
		return nil, err
	}

	root := p.Cwd()
	if opts.Root != "" {
		root = p.Resolve(opts.Root)
	}
	abs := vfs.Resolve(root, pattern)
	if !doublestar.ValidatePattern(abs) {
		return nil, invalid("glob", "bad pattern %q", pattern)
	}

	matches, err := globAbs(fsys, abs, opts.OnlyFiles)
	if err != nil {
		return nil, err
	}
	if !vfs.IsAbs(pattern) {
		for i, m := range matches {
			matches[i] = strings.TrimPrefix(vfs.Rel(m, root), "/")
		}
	}
	return matches, nil
}

func globAbs(fsys *vfs.Mountable, pattern string, onlyFiles bool) ([]string, error) {
	base, rest := doublestar.SplitPattern(pattern)
	matches := []string{}

	st, err := fsys.Stat(base)
	switch {
	case syserr.Is(err, syserr.NotFound):
		return matches, nil
	case err != nil:
		return nil, err
	}
	if rest == "" || base == pattern {
		if !onlyFiles || !st.IsDir() {
			matches = append(matches, vfs.Clean(base))
		}
		return matches, nil
	}
	if !st.IsDir() {
		return matches, nil
	}

	err = fsys.Walk(base, func(name string, e vfs.DirEntry) error {
		if onlyFiles && e.Type == vfs.TypeDir {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			matches = append(matches, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
