package devfs

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/memfs"
)

func TestTTYOpenedTwiceSharesDevice(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(&out, 0)
	dev := New()
	dev.Register("tty0", console)

	m := vfs.NewMountable(memfs.New())
	m.Mount("/dev", dev)

	a, err := m.Open("/dev/tty0", vfs.FlagReadWrite, 0)
	require.NoError(t, err)
	b, err := m.Open("/dev/tty0", vfs.FlagReadWrite, 0)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Same(t, a.(*File).Device(), b.(*File).Device())

	_, err = a.Write([]byte("one "))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	_, err = b.Write([]byte("two"))
	require.NoError(t, err, "closing one open leaves the device usable")
	assert.Equal(t, "one two", out.String())
}

func TestConsoleInput(t *testing.T) {
	console := NewConsole(nil, 0)
	require.NoError(t, console.Input([]byte("typed\n")))
	console.EndInput()

	data, err := io.ReadAll(console)
	require.NoError(t, err)
	assert.Equal(t, "typed\n", string(data))

	console.Resize(120, 40)
	cols, rows := console.Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)
}

func TestStandardDevices(t *testing.T) {
	fs := New()

	null, err := fs.Open("/null", vfs.FlagReadWrite, 0)
	require.NoError(t, err)
	n, err := null.Write([]byte("gone"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = null.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	zero, err := fs.Open("/zero", vfs.FlagRead, 0)
	require.NoError(t, err)
	buf := []byte{1, 2, 3}
	_, err = zero.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, buf)

	st, err := fs.Stat("/null")
	require.NoError(t, err)
	assert.Equal(t, vfs.TypeCharDevice, st.Type)

	entries, err := fs.Readdir("/")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestDevfsRejectsMutation(t *testing.T) {
	fs := New()

	_, err := fs.Open("/nope", vfs.FlagRead, 0)
	assert.True(t, syserr.Is(err, syserr.NotFound))
	_, err = fs.Open("/nope", vfs.FlagWrite|vfs.FlagCreate, 0)
	assert.True(t, syserr.Is(err, syserr.PermissionDenied))
	_, err = fs.Open("/", vfs.FlagRead, 0)
	assert.True(t, syserr.Is(err, syserr.IsADirectory))
	assert.True(t, syserr.Is(fs.Unlink("/null"), syserr.PermissionDenied))
	assert.True(t, syserr.Is(fs.Mkdir("/x", 0), syserr.PermissionDenied))
}

func TestCloseReleasesParkedConsoleRead(t *testing.T) {
	console := NewConsole(nil, 0)
	dev := New()
	dev.Register("tty0", console)

	a, err := dev.Open("/tty0", vfs.FlagRead, 0)
	require.NoError(t, err)
	b, err := dev.Open("/tty0", vfs.FlagRead, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := a.(*File).ReadContext(context.Background(), make([]byte, 8))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("console read still parked after close")
	}

	// the device stays readable through the other open
	require.NoError(t, console.Input([]byte("next\n")))
	buf := make([]byte, 8)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "next\n", string(buf[:n]))
}
