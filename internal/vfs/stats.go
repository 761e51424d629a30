package vfs

import (
	"strings"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// FileType classifies a filesystem node.
type FileType int

const (
	TypeFile FileType = iota
	TypeDir
	TypeCharDevice
	TypeSymlink
	TypeFIFO
)

func (t FileType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeCharDevice:
		return "char-device"
	case TypeSymlink:
		return "symlink"
	case TypeFIFO:
		return "fifo"
	default:
		return "file"
	}
}

// MarshalText renders the type name for JSON.
func (t FileType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *FileType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "file":
		*t = TypeFile
	case "dir":
		*t = TypeDir
	case "char-device":
		*t = TypeCharDevice
	case "symlink":
		*t = TypeSymlink
	case "fifo":
		*t = TypeFIFO
	default:
		return syserr.Errorf(syserr.InvalidArgument, "filetype", "unknown file type %q", text)
	}
	return nil
}

// Stats describes a node as seen by the backend that produced it.
type Stats struct {
	Type  FileType  `json:"type"`
	Size  int64     `json:"size"`
	Mode  uint32    `json:"mode"`
	Atime time.Time `json:"atime"`
	Mtime time.Time `json:"mtime"`
	Ctime time.Time `json:"ctime"`
	Ino   uint64    `json:"ino"`
}

func (s Stats) IsDir() bool     { return s.Type == TypeDir }
func (s Stats) IsFile() bool    { return s.Type == TypeFile }
func (s Stats) IsSymlink() bool { return s.Type == TypeSymlink }

// DirEntry is one readdir result.
type DirEntry struct {
	Name string   `json:"name"`
	Type FileType `json:"type"`
}

// Default permission bits for created nodes.
const (
	DefaultFileMode uint32 = 0o644
	DefaultDirMode  uint32 = 0o755
)

// OpenFlag is a bit set of open modes.
type OpenFlag int

const (
	FlagRead OpenFlag = 1 << iota
	FlagWrite
	FlagAppend
	FlagCreate
	FlagExclusive
	FlagTruncate

	FlagReadWrite = FlagRead | FlagWrite
)

// Has reports whether every bit in mask is set.
func (f OpenFlag) Has(mask OpenFlag) bool {
	return f&mask == mask
}

// Readable reports whether the flags permit reading.
func (f OpenFlag) Readable() bool { return f&FlagRead != 0 }

// Writable reports whether the flags permit writing.
func (f OpenFlag) Writable() bool { return f&(FlagWrite|FlagAppend) != 0 }

func (f OpenFlag) String() string {
	var parts []string
	names := []struct {
		flag OpenFlag
		name string
	}{
		{FlagRead, "read"},
		{FlagWrite, "write"},
		{FlagAppend, "append"},
		{FlagCreate, "create"},
		{FlagExclusive, "exclusive"},
		{FlagTruncate, "truncate"},
	}
	for _, n := range names {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseFlags converts a mode string such as "r", "w+", "ax" or "wx" into
// open flags.
func ParseFlags(mode string) (OpenFlag, error) {
	switch mode {
	case "r", "rs", "sr":
		return FlagRead, nil
	case "r+", "rs+", "sr+":
		return FlagReadWrite, nil
	case "w":
		return FlagWrite | FlagCreate | FlagTruncate, nil
	case "wx", "xw":
		return FlagWrite | FlagCreate | FlagTruncate | FlagExclusive, nil
	case "w+":
		return FlagReadWrite | FlagCreate | FlagTruncate, nil
	case "wx+", "xw+":
		return FlagReadWrite | FlagCreate | FlagTruncate | FlagExclusive, nil
	case "a", "as", "sa":
		return FlagAppend | FlagCreate, nil
	case "ax", "xa":
		return FlagAppend | FlagCreate | FlagExclusive, nil
	case "a+", "as+", "sa+":
		return FlagRead | FlagAppend | FlagCreate, nil
	case "ax+", "xa+":
		return FlagRead | FlagAppend | FlagCreate | FlagExclusive, nil
	}
	return 0, syserr.Errorf(syserr.InvalidArgument, "open", "unknown open mode %q", mode)
}
