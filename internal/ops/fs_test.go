package ops

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

func TestMkdirReaddirRemove(t *testing.T) {
	h := newHarness(t, nil)

	env := h.fail(t, "op_mkdir", "a/b", nil)
	assert.Equal(t, "NotFound", env.ClassName)

	h.call(t, "op_mkdir", "a/b", map[string]any{"recursive": true})
	h.call(t, "op_write_file", "a/one.txt", "1")

	entries := h.call(t, "op_readdir", "a", nil).([]vfs.DirEntry)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Name)
	assert.Equal(t, vfs.TypeDir, entries[0].Type)
	assert.Equal(t, "one.txt", entries[1].Name)

	env = h.fail(t, "op_rmdir", "a", nil)
	assert.Equal(t, "DirectoryNotEmpty", env.ClassName)
	env = h.fail(t, "op_remove", "a", nil)
	assert.Equal(t, "DirectoryNotEmpty", env.ClassName)

	h.call(t, "op_remove", "a", map[string]any{"recursive": true})
	assert.Equal(t, false, h.call(t, "op_exists", "a", nil))
}

func TestReaddirShowsMounts(t *testing.T) {
	h := newHarness(t, nil)

	entries := h.call(t, "op_readdir", "/", nil).([]vfs.DirEntry)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Contains(t, names, "dev")
	assert.Contains(t, names, "tmp")
}

func TestWriteFileOptions(t *testing.T) {
	h := newHarness(t, nil)

	h.call(t, "op_write_file", "f", []byte("one"))
	h.call(t, "op_write_file", "f", map[string]any{"data": "two", "append": true})
	assert.Equal(t, []byte("onetwo"), h.call(t, "op_read_file", "f", nil))

	env := h.fail(t, "op_write_file", "g", map[string]any{"data": "x", "create": false})
	assert.Equal(t, "NotFound", env.ClassName)

	h.call(t, "op_truncate", "f", 3)
	assert.Equal(t, []byte("one"), h.call(t, "op_read_file", "/tmp/f", nil))
}

func TestStatAndMime(t *testing.T) {
	h := newHarness(t, nil)
	h.call(t, "op_write_file", "page.html", "<!DOCTYPE html><html><body>hi</body></html>")

	info := h.call(t, "op_stat", "page.html", map[string]any{"mime": true}).(FileInfo)
	assert.Equal(t, "file", info.Type)
	assert.Equal(t, int64(43), info.Size)
	assert.Contains(t, info.Mime, "text/html")

	dir := h.call(t, "op_stat", "/tmp", nil).(FileInfo)
	assert.True(t, dir.IsDirectory)
	assert.Empty(t, dir.Mime)
}

func TestRenameAcrossMounts(t *testing.T) {
	h := newHarness(t, nil)
	h.call(t, "op_write_file", "x", "data")

	h.call(t, "op_rename", "x", "y")
	assert.Equal(t, true, h.call(t, "op_exists", "y", nil))

	env := h.fail(t, "op_rename", "y", "/dev/y")
	assert.Equal(t, "CrossDevice", env.ClassName)
	assert.Equal(t, "EXDEV", env.Code)
}

func TestSymlinks(t *testing.T) {
	h := newHarness(t, nil)
	h.call(t, "op_write_file", "target", "t")

	h.call(t, "op_symlink", "/tmp/target", "link")
	assert.Equal(t, "/tmp/target", h.call(t, "op_readlink", "link", nil))
	assert.Equal(t, "/tmp/target", h.call(t, "op_realpath", "link", nil))

	l := h.call(t, "op_lstat", "link", nil).(FileInfo)
	assert.True(t, l.IsSymlink)
	s := h.call(t, "op_stat", "link", nil).(FileInfo)
	assert.True(t, s.IsFile)
}

func TestChmodUtimes(t *testing.T) {
	h := newHarness(t, nil)
	h.call(t, "op_write_file", "f", "x")

	h.call(t, "op_chmod", "f", 0o600)
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.call(t, "op_utimes", "f", map[string]any{"atime": 0, "mtime": mtime.Format(time.RFC3339)})

	info := h.call(t, "op_stat", "f", nil).(FileInfo)
	assert.Equal(t, uint32(0o600), info.Mode&0o777)
	assert.True(t, info.Mtime.Equal(mtime))

	env := h.fail(t, "op_utimes", "f", map[string]any{"mtime": 0})
	assert.Equal(t, "InvalidArgument", env.ClassName)
}

func TestGlob(t *testing.T) {
	h := newHarness(t, nil)
	for _, name := range []string{"src/a.go", "src/b.txt", "src/pkg/c.go", "top.go"} {
		h.call(t, "op_mkdir", vfs.Dir(vfs.Resolve("/tmp", name)), map[string]any{"recursive": true})
		h.call(t, "op_write_file", name, "")
	}

	assert.Equal(t, []string{"src/a.go", "src/pkg/c.go", "top.go"}, h.call(t, "op_glob", "**/*.go", nil))
	assert.Equal(t, []string{"/tmp/src/b.txt"}, h.call(t, "op_glob", "/tmp/src/*.txt", nil))
	assert.Equal(t, []string{"a.go", "b.txt", "pkg/c.go"}, h.call(t, "op_glob", "**", map[string]any{"root": "src", "onlyFiles": true}))
	assert.Equal(t, []string{}, h.call(t, "op_glob", "nothing/*", nil))

	env := h.fail(t, "op_glob", "[", nil)
	assert.Equal(t, "InvalidArgument", env.ClassName)
}

func TestMountList(t *testing.T) {
	h := newHarness(t, nil)

	mounts := h.call(t, "op_mount_list", nil, nil).([]vfs.MountInfo)
	prefixes := make([]string, len(mounts))
	for i, m := range mounts {
		prefixes[i] = m.Prefix
	}
	assert.Contains(t, prefixes, "/dev")
	assert.Contains(t, prefixes, DefaultFifoPrefix)
}
