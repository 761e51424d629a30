// Package syserr defines the guest-recoverable error taxonomy of the kernel
// and the envelope those errors are translated into at the op boundary.
//
// Kinds carry a stable class name, a string code and an errno so that a
// guest runtime can rebuild a typed error on its side. Dispatch faults (an
// unknown op index, a sync call to an async-only op) are deliberately not
// kinds: they are host bugs and travel as plain Go errors.
package syserr

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
)

// Kind identifies a guest-recoverable error class.
type Kind int

const (
	KindUnknown Kind = iota
	NotFound
	AlreadyExists
	IsADirectory
	NotADirectory
	PermissionDenied
	ConnectionRefused
	NotSupported
	BadResource
	InvalidArgument
	DirectoryNotEmpty
	CrossDevice
	BrokenPipe
	AddrInUse
	TimedOut
	Busy
)

type kindInfo struct {
	name  string
	code  string
	errno int
}

var kinds = map[Kind]kindInfo{
	NotFound:          {"NotFound", "ENOENT", 2},
	AlreadyExists:     {"AlreadyExists", "EEXIST", 17},
	IsADirectory:      {"IsADirectory", "EISDIR", 21},
	NotADirectory:     {"NotADirectory", "ENOTDIR", 20},
	PermissionDenied:  {"PermissionDenied", "EACCES", 13},
	ConnectionRefused: {"ConnectionRefused", "ECONNREFUSED", 111},
	NotSupported:      {"NotSupported", "ENOTSUP", 95},
	BadResource:       {"BadResource", "EBADF", 9},
	InvalidArgument:   {"InvalidArgument", "EINVAL", 22},
	DirectoryNotEmpty: {"DirectoryNotEmpty", "ENOTEMPTY", 39},
	CrossDevice:       {"CrossDevice", "EXDEV", 18},
	BrokenPipe:        {"BrokenPipe", "EPIPE", 32},
	AddrInUse:         {"AddrInUse", "EADDRINUSE", 98},
	TimedOut:          {"TimedOut", "ETIMEDOUT", 110},
	Busy:              {"Busy", "EBUSY", 16},
}

// String returns the class name used in the envelope.
func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "Error"
}

// Code returns the POSIX-style code, e.g. "ENOENT".
func (k Kind) Code() string {
	return kinds[k].code
}

// Errno returns the numeric code.
func (k Kind) Errno() int {
	return kinds[k].errno
}

func (k Kind) message() string {
	switch k {
	case NotFound:
		return "no such file or directory"
	case AlreadyExists:
		return "file already exists"
	case IsADirectory:
		return "is a directory"
	case NotADirectory:
		return "not a directory"
	case PermissionDenied:
		return "permission denied"
	case ConnectionRefused:
		return "connection refused"
	case NotSupported:
		return "operation not supported"
	case BadResource:
		return "bad resource id"
	case InvalidArgument:
		return "invalid argument"
	case DirectoryNotEmpty:
		return "directory not empty"
	case CrossDevice:
		return "cross-device link"
	case BrokenPipe:
		return "broken pipe"
	case AddrInUse:
		return "address already in use"
	case TimedOut:
		return "timed out"
	case Busy:
		return "resource busy"
	}
	return "error"
}

// Error is a guest-recoverable failure. It mirrors fs.PathError so callers
// can report the operation and path that failed.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// New creates an error of the given kind.
func New(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf creates an error of the given kind with a formatted cause.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.message()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s, %s '%s'", msg, e.Op, e.Path)
	case e.Op != "":
		return fmt.Sprintf("%s, %s", msg, e.Op)
	case e.Path != "":
		return fmt.Sprintf("%s '%s'", msg, e.Path)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the io/fs sentinels and other errors of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind && t.Op == "" && t.Path == ""
	}
	switch target {
	case fs.ErrNotExist:
		return e.Kind == NotFound
	case fs.ErrExist:
		return e.Kind == AlreadyExists
	case fs.ErrPermission:
		return e.Kind == PermissionDenied
	case fs.ErrInvalid:
		return e.Kind == InvalidArgument
	case io.ErrClosedPipe:
		return e.Kind == BrokenPipe
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound          = &Error{Kind: NotFound}
	ErrAlreadyExists     = &Error{Kind: AlreadyExists}
	ErrIsADirectory      = &Error{Kind: IsADirectory}
	ErrNotADirectory     = &Error{Kind: NotADirectory}
	ErrPermissionDenied  = &Error{Kind: PermissionDenied}
	ErrConnectionRefused = &Error{Kind: ConnectionRefused}
	ErrNotSupported      = &Error{Kind: NotSupported}
	ErrBadResource       = &Error{Kind: BadResource}
	ErrInvalidArgument   = &Error{Kind: InvalidArgument}
	ErrDirectoryNotEmpty = &Error{Kind: DirectoryNotEmpty}
	ErrCrossDevice       = &Error{Kind: CrossDevice}
	ErrBrokenPipe        = &Error{Kind: BrokenPipe}
	ErrAddrInUse         = &Error{Kind: AddrInUse}
	ErrTimedOut          = &Error{Kind: TimedOut}
)

// KindOf classifies err. Host errors from io/fs and syscall are mapped onto
// kernel kinds so backends wrapping the real OS report stable codes.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return KindUnknown, false
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		for k, info := range kinds {
			if info.errno == int(errno) {
				return k, true
			}
		}
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NotFound, true
	case errors.Is(err, fs.ErrExist):
		return AlreadyExists, true
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied, true
	case errors.Is(err, fs.ErrInvalid):
		return InvalidArgument, true
	case errors.Is(err, io.ErrClosedPipe):
		return BrokenPipe, true
	}
	return KindUnknown, false
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
