package vfs

import (
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Creator is what a backend supplies to reuse the generic open policy.
type Creator interface {
	Stat(name string) (Stats, error)
	// OpenExisting opens a node known to exist and not be a directory.
	OpenExisting(name string, flags OpenFlag) (File, error)
	// Create makes a new file; the parent is known to be a directory.
	Create(name string, flags OpenFlag, mode uint32) (File, error)
}

// OpenOptions tunes OpenWithPolicy.
type OpenOptions struct {
	// CreateParents makes missing parent directories instead of failing.
	CreateParents bool
}

// OpenWithPolicy implements the open contract shared by every backend:
//
//	directory               -> IsADirectory
//	exists + exclusive      -> AlreadyExists
//	exists + truncate       -> open, truncate to zero, sync
//	exists                  -> open
//	absent + create         -> parent must be a directory, then create
//	absent                  -> NotFound
func OpenWithPolicy(b Creator, name string, flags OpenFlag, mode uint32, opts OpenOptions) (File, error) {
	name = Clean(name)

	st, err := b.Stat(name)
	switch {
	case err == nil:
		if st.IsDir() {
			return nil, syserr.New(syserr.IsADirectory, "open", name)
		}
		if flags&FlagExclusive != 0 {
			return nil, syserr.New(syserr.AlreadyExists, "open", name)
		}

		f, err := b.OpenExisting(name, flags)
		if err != nil {
			return nil, err
		}
		if flags&FlagTruncate != 0 {
			if err := f.Truncate(0); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return nil, err
			}
		}
		return f, nil

	case syserr.Is(err, syserr.NotFound):
		if flags&FlagCreate == 0 {
			return nil, syserr.New(syserr.NotFound, "open", name)
		}
		if err := ensureParent(b, name, opts); err != nil {
			return nil, err
		}
		if mode == 0 {
			mode = DefaultFileMode
		}
		return b.Create(name, flags, mode)

	default:
		return nil, err
	}
}

func ensureParent(b Creator, name string, opts OpenOptions) error {
	parent := Dir(name)

	st, err := b.Stat(parent)
	if err == nil {
		if !st.IsDir() {
			return syserr.New(syserr.NotADirectory, "open", parent)
		}
		return nil
	}
	if !syserr.Is(err, syserr.NotFound) || !opts.CreateParents {
		return syserr.New(syserr.NotFound, "open", name)
	}

	fsys, ok := b.(FileSystem)
	if !ok {
		return syserr.New(syserr.NotSupported, "mkdir", parent)
	}
	return MkdirAll(fsys, parent, DefaultDirMode)
}
