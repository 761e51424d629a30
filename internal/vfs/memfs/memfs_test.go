package memfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

func TestMkdirAndReaddir(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/b", 0))
	require.NoError(t, fs.Mkdir("/a", 0))
	require.NoError(t, vfs.WriteFile(fs, "/c", []byte("x"), 0))

	entries, err := fs.Readdir("/")
	require.NoError(t, err)
	assert.Equal(t, []vfs.DirEntry{
		{Name: "a", Type: vfs.TypeDir},
		{Name: "b", Type: vfs.TypeDir},
		{Name: "c", Type: vfs.TypeFile},
	}, entries)

	assert.True(t, syserr.Is(fs.Mkdir("/a", 0), syserr.AlreadyExists))
	assert.True(t, syserr.Is(fs.Mkdir("/missing/x", 0), syserr.NotFound))

	_, err = fs.Readdir("/c")
	assert.True(t, syserr.Is(err, syserr.NotADirectory))
}

func TestUnlinkAndRmdir(t *testing.T) {
	fs := New()
	require.NoError(t, vfs.MkdirAll(fs, "/d/e", 0))
	require.NoError(t, vfs.WriteFile(fs, "/d/f", nil, 0))

	assert.True(t, syserr.Is(fs.Unlink("/d"), syserr.IsADirectory))
	assert.True(t, syserr.Is(fs.Rmdir("/d/f"), syserr.NotADirectory))
	assert.True(t, syserr.Is(fs.Rmdir("/d"), syserr.DirectoryNotEmpty))
	assert.True(t, syserr.Is(fs.Unlink("/d/nope"), syserr.NotFound))

	require.NoError(t, fs.Unlink("/d/f"))
	require.NoError(t, fs.Rmdir("/d/e"))
	require.NoError(t, fs.Rmdir("/d"))
}

func TestRename(t *testing.T) {
	fs := New()
	require.NoError(t, vfs.MkdirAll(fs, "/src/inner", 0))
	require.NoError(t, vfs.WriteFile(fs, "/src/inner/f", []byte("payload"), 0))
	require.NoError(t, fs.Mkdir("/full", 0))
	require.NoError(t, vfs.WriteFile(fs, "/full/x", nil, 0))

	assert.True(t, syserr.Is(fs.Rename("/src", "/src/inner/sub"), syserr.InvalidArgument))
	assert.True(t, syserr.Is(fs.Rename("/src", "/full"), syserr.DirectoryNotEmpty))
	assert.True(t, syserr.Is(fs.Rename("/src/inner/f", "/full"), syserr.IsADirectory))

	require.NoError(t, fs.Rename("/src", "/dst"))
	data, err := vfs.ReadFile(fs, "/dst/inner/f")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = fs.Stat("/src")
	assert.True(t, syserr.Is(err, syserr.NotFound))
}

func TestSymlinks(t *testing.T) {
	fs := New()
	require.NoError(t, vfs.MkdirAll(fs, "/real/dir", 0))
	require.NoError(t, vfs.WriteFile(fs, "/real/dir/f", []byte("via link"), 0))
	require.NoError(t, fs.Symlink("real/dir", "/link"))
	require.NoError(t, fs.Symlink("/loop2", "/loop1"))
	require.NoError(t, fs.Symlink("/loop1", "/loop2"))

	data, err := vfs.ReadFile(fs, "/link/f")
	require.NoError(t, err)
	assert.Equal(t, "via link", string(data))

	st, err := fs.Lstat("/link")
	require.NoError(t, err)
	assert.True(t, st.IsSymlink())

	st, err = fs.Stat("/link")
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	target, err := fs.Readlink("/link")
	require.NoError(t, err)
	assert.Equal(t, "real/dir", target)

	real, err := fs.Realpath("/link/f")
	require.NoError(t, err)
	assert.Equal(t, "/real/dir/f", real)

	_, err = fs.Stat("/loop1")
	assert.True(t, syserr.Is(err, syserr.InvalidArgument))

	_, err = fs.Readlink("/real")
	assert.True(t, syserr.Is(err, syserr.InvalidArgument))
}

func TestChmodAndUtimes(t *testing.T) {
	fs := New()
	require.NoError(t, vfs.WriteFile(fs, "/f", nil, 0o600))

	st, err := fs.Stat("/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), st.Mode)

	require.NoError(t, fs.Chmod("/f", 0o755))
	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, fs.Utimes("/f", when, when))

	st, err = fs.Stat("/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o755), st.Mode)
	assert.True(t, st.Mtime.Equal(when))
}

func TestSharedContentsAcrossOpens(t *testing.T) {
	fs := New()
	w, err := fs.Open("/shared", vfs.FlagWrite|vfs.FlagCreate, 0)
	require.NoError(t, err)
	r, err := fs.Open("/shared", vfs.FlagRead, 0)
	require.NoError(t, err)

	_, err = w.Write([]byte("live"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "live", string(buf[:n]))
	assert.Equal(t, "memfs", fs.Type())
}
