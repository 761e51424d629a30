package vfs_test

import (
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/memfs"
)

func TestLongestPrefixWins(t *testing.T) {
	root := memfs.New()
	a := memfs.New()
	ab := memfs.New()

	m := vfs.NewMountable(root)
	m.Mount("/a", a)
	m.Mount("/a/b", ab)

	require.NoError(t, vfs.WriteFile(m, "/a/b/file", []byte("deep"), 0))

	data, err := vfs.ReadFile(ab, "/file")
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))

	exists, err := vfs.Exists(a, "/b/file")
	require.NoError(t, err)
	assert.False(t, exists, "file must not land in the shorter mount")

	fsys, rel, prefix := m.Resolve("/a/b/file")
	assert.Same(t, ab, fsys)
	assert.Equal(t, "/file", rel)
	assert.Equal(t, "/a/b", prefix)

	fsys, rel, _ = m.Resolve("/a/bc")
	assert.Same(t, a, fsys, "/a/bc is not under /a/b")
	assert.Equal(t, "/bc", rel)
}

func TestMountIsIdempotentLastWins(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	first, second := memfs.New(), memfs.New()

	m.Mount("/data", first)
	m.Mount("/data/", second)

	fsys, _, _ := m.Resolve("/data/x")
	assert.Same(t, second, fsys)
	assert.Len(t, m.Mounts(), 2)
}

func TestMountVisibleToAllHolders(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	holderA, holderB := m, m

	holderA.Mount("/mnt", memfs.New())
	require.NoError(t, vfs.WriteFile(holderA, "/mnt/shared", []byte("x"), 0))

	ok, err := vfs.Exists(holderB, "/mnt/shared")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, holderB.Unmount("/mnt"))
	ok, err = vfs.Exists(holderA, "/mnt/shared")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnmount(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	assert.True(t, syserr.Is(m.Unmount("/nope"), syserr.NotFound))
	assert.True(t, syserr.Is(m.Unmount("/"), syserr.InvalidArgument))
}

func TestExclusiveCreateFailsOnExisting(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	m.Mount("/other", memfs.New())

	for _, p := range []string{"/f", "/other/f"} {
		require.NoError(t, vfs.WriteFile(m, p, []byte("1"), 0))

		_, err := m.Open(p, vfs.FlagWrite|vfs.FlagCreate|vfs.FlagExclusive, 0)
		assert.True(t, syserr.Is(err, syserr.AlreadyExists), "path %s", p)
	}
}

func TestOpenPolicy(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	require.NoError(t, m.Mkdir("/dir", 0))
	require.NoError(t, vfs.WriteFile(m, "/dir/f", []byte("hello"), 0))

	_, err := m.Open("/dir", vfs.FlagRead, 0)
	assert.True(t, syserr.Is(err, syserr.IsADirectory))

	_, err = m.Open("/dir/missing", vfs.FlagRead, 0)
	assert.True(t, syserr.Is(err, syserr.NotFound))

	_, err = m.Open("/nodir/new", vfs.FlagWrite|vfs.FlagCreate, 0)
	assert.True(t, syserr.Is(err, syserr.NotFound))

	_, err = m.Open("/dir/f/child", vfs.FlagWrite|vfs.FlagCreate, 0)
	assert.Error(t, err)

	f, err := m.Open("/dir/f", vfs.FlagWrite|vfs.FlagTruncate, 0)
	require.NoError(t, err)
	st, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Size)
	require.NoError(t, f.Close())
}

func TestOpenWithPolicyCreateParents(t *testing.T) {
	fs := memfs.New()

	f, err := vfs.OpenWithPolicy(fs, "/x/y/z.txt", vfs.FlagWrite|vfs.FlagCreate, 0, vfs.OpenOptions{CreateParents: true})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err := fs.Stat("/x/y")
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestReaddirMergesMountPoints(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	require.NoError(t, vfs.WriteFile(m, "/readme", nil, 0))
	m.Mount("/dev", memfs.New())
	m.Mount("/mnt/host", memfs.New())

	entries, err := m.Readdir("/")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"dev", "mnt", "readme"}, names)

	st, err := m.Stat("/mnt")
	require.NoError(t, err, "ancestor of a mount is a directory")
	assert.True(t, st.IsDir())

	entries, err = m.Readdir("/mnt")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, vfs.DirEntry{Name: "host", Type: vfs.TypeDir}, entries[0])

	st, err = m.Stat("/dev")
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestRenameAcrossMountsIsCrossDevice(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	m.Mount("/tmp", memfs.New())
	require.NoError(t, vfs.WriteFile(m, "/a", []byte("x"), 0))

	err := m.Rename("/a", "/tmp/a")
	assert.True(t, syserr.Is(err, syserr.CrossDevice))

	require.NoError(t, m.Rename("/a", "/b"))
	ok, _ := vfs.Exists(m, "/b")
	assert.True(t, ok)
}

func TestMountPointsAreBusy(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	m.Mount("/tmp", memfs.New())

	assert.True(t, syserr.Is(m.Rmdir("/tmp"), syserr.Busy))
	assert.True(t, syserr.Is(m.Mkdir("/tmp", 0), syserr.AlreadyExists))
}

func TestSupplementalDefaults(t *testing.T) {
	m := vfs.NewMountable(memfs.New())

	require.NoError(t, vfs.MkdirAll(m, "/a/b/c", 0))
	require.NoError(t, vfs.MkdirAll(m, "/a/b/c", 0))
	require.NoError(t, vfs.WriteFile(m, "/a/b/c/f", []byte("abcdef"), 0))
	require.NoError(t, vfs.Truncate(m, "/a/b/c/f", 3))

	data, err := vfs.ReadFile(m, "/a/b/c/f")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	real, err := vfs.Realpath(m, "/a/b/../b/c/f")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c/f", real)

	require.NoError(t, vfs.RemoveAll(m, "/a"))
	ok, err := vfs.Exists(m, "/a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, vfs.RemoveAll(m, "/never"))
}

type coreOnly struct{ vfs.FileSystem }

func TestOptionalOpsNotSupported(t *testing.T) {
	fsys := coreOnly{memfs.New()}

	assert.True(t, syserr.Is(vfs.Symlink(fsys, "/a", "/b"), syserr.NotSupported))
	assert.True(t, syserr.Is(vfs.Chmod(fsys, "/", 0o700), syserr.NotSupported))
	assert.True(t, syserr.Is(vfs.Chown(fsys, "/", 1, 1), syserr.NotSupported))
	assert.True(t, syserr.Is(vfs.Link(fsys, "/a", "/b"), syserr.NotSupported))
	_, err := vfs.Readlink(fsys, "/a")
	assert.True(t, syserr.Is(err, syserr.NotSupported))
}

func TestWalkAcrossMounts(t *testing.T) {
	m := vfs.NewMountable(memfs.New())
	m.Mount("/tmp", memfs.New())
	require.NoError(t, vfs.MkdirAll(m, "/home/user", 0))
	require.NoError(t, vfs.WriteFile(m, "/home/user/a.txt", nil, 0))
	require.NoError(t, vfs.WriteFile(m, "/tmp/b.txt", nil, 0))

	var seen []string
	err := vfs.Walk(m, "/", func(name string, _ vfs.DirEntry) error {
		seen = append(seen, name)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(seen)
	assert.Equal(t, []string{"/home", "/home/user", "/home/user/a.txt", "/tmp", "/tmp/b.txt"}, seen)
}

func TestVirtualFileCursor(t *testing.T) {
	fs := memfs.New()
	f, err := fs.Open("/f", vfs.FlagReadWrite|vfs.FlagCreate, 0)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	_, err = f.Seek(6, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = f.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = f.WriteAt([]byte("!"), 15)
	require.NoError(t, err)
	st, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(16), st.Size, "writes past the end grow the file")

	_, err = f.Seek(-1, io.SeekStart)
	assert.True(t, syserr.Is(err, syserr.InvalidArgument))

	require.NoError(t, f.Close())
	_, err = f.Read(buf)
	assert.True(t, syserr.Is(err, syserr.BadResource))
}

func TestAppendAndReadOnly(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, vfs.WriteFile(fs, "/log", []byte("a"), 0))

	f, err := fs.Open("/log", vfs.FlagAppend, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := vfs.ReadFile(fs, "/log")
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))

	ro, err := fs.Open("/log", vfs.FlagRead, 0)
	require.NoError(t, err)
	_, err = ro.Write([]byte("x"))
	assert.True(t, syserr.Is(err, syserr.BadResource))
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		mode string
		want vfs.OpenFlag
	}{
		{"r", vfs.FlagRead},
		{"r+", vfs.FlagReadWrite},
		{"w", vfs.FlagWrite | vfs.FlagCreate | vfs.FlagTruncate},
		{"wx", vfs.FlagWrite | vfs.FlagCreate | vfs.FlagTruncate | vfs.FlagExclusive},
		{"a+", vfs.FlagRead | vfs.FlagAppend | vfs.FlagCreate},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got, err := vfs.ParseFlags(tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := vfs.ParseFlags("q")
	assert.True(t, syserr.Is(err, syserr.InvalidArgument))
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "/a/b", vfs.Resolve("/a", "b"))
	assert.Equal(t, "/b", vfs.Resolve("/a", "/b"))
	assert.Equal(t, "/", vfs.Resolve("/a", ".."))
	assert.Equal(t, []string{"a", "b"}, vfs.Split("/a//b/"))
	assert.Nil(t, vfs.Split("/"))
	assert.True(t, vfs.HasPrefix("/a/b", "/a"))
	assert.False(t, vfs.HasPrefix("/ab", "/a"))
	assert.Equal(t, "/x", vfs.Rel("/mnt/x", "/mnt"))
	assert.Equal(t, "/", vfs.Rel("/mnt", "/mnt"))
}
