package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

func TestOpenWriteSeekRead(t *testing.T) {
	h := newHarness(t, nil)

	rid := h.call(t, "op_open", "notes.txt", map[string]any{"read": true, "write": true, "create": true}).(int)
	assert.Equal(t, 5, h.call(t, "op_write", rid, "hello"))
	assert.Equal(t, int64(0), h.call(t, "op_seek", rid, 0))

	assert.Equal(t, []byte("hello"), h.call(t, "op_read", rid, nil))
	assert.Equal(t, []byte{}, h.call(t, "op_read", rid, nil))

	assert.Equal(t, int64(1), h.call(t, "op_seek", rid, map[string]any{"offset": -4, "whence": 2}))
	buf := make([]byte, 2)
	assert.Equal(t, 2, h.call(t, "op_read", rid, buf))
	assert.Equal(t, "el", string(buf))

	info := h.call(t, "op_fstat", rid, nil).(FileInfo)
	assert.Equal(t, int64(5), info.Size)
	assert.True(t, info.IsFile)

	h.call(t, "op_ftruncate", rid, 2)
	h.call(t, "op_fsync", rid, nil)
	h.call(t, "op_close", rid, nil)

	env := h.fail(t, "op_close", rid, nil)
	assert.Equal(t, "BadResource", env.ClassName)

	data, err := h.fs.ReadFile("/tmp/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "he", string(data))
}

func TestOpenStringModes(t *testing.T) {
	h := newHarness(t, nil)
	h.call(t, "op_write_file", "log", "a")

	rid := h.call(t, "op_open", "log", "a").(int)
	h.call(t, "op_write", rid, []byte("b"))
	h.call(t, "op_close", rid, nil)

	data, err := h.fs.ReadFile("/tmp/log")
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
}

func TestOpenMissingFile(t *testing.T) {
	h := newHarness(t, nil)

	env := h.fail(t, "op_open", "/tmp/missing", nil)
	assert.Equal(t, "NotFound", env.ClassName)
	assert.Equal(t, "ENOENT", env.Code)
	assert.Equal(t, 2, env.Errno)
	assert.Contains(t, env.Message, "/tmp/missing")
}

func TestBadRid(t *testing.T) {
	h := newHarness(t, nil)

	for _, op := range []string{"op_read", "op_write", "op_seek", "op_fstat", "op_dup"} {
		env := h.fail(t, op, 99, nil)
		assert.Equal(t, "BadResource", env.ClassName, op)
	}
}

func TestPipeAndDup(t *testing.T) {
	h := newHarness(t, nil)

	ends := h.call(t, "op_pipe", nil, nil).([]int)
	r, w := ends[0], ends[1]
	w2 := h.call(t, "op_dup", w, nil).(int)
	assert.NotEqual(t, w, w2)

	h.call(t, "op_write", w, "x")
	h.call(t, "op_close", w, nil)
	h.call(t, "op_write", w2, "y")
	assert.Equal(t, []byte("xy"), h.call(t, "op_read", r, nil))

	h.call(t, "op_close", w2, nil)
	assert.Equal(t, []byte{}, h.call(t, "op_read", r, nil))

	env := h.fail(t, "op_seek", r, 0)
	assert.Equal(t, "NotSupported", env.ClassName)
}

func TestPipeReadAsync(t *testing.T) {
	h := newHarness(t, nil)

	ends := h.call(t, "op_pipe", nil, nil).([]int)
	pending := h.async(t, 1, "op_read", ends[0], nil)
	h.call(t, "op_write", ends[1], "late")

	assert.Equal(t, []byte("late"), await(t, pending))
}

func TestMkfifo(t *testing.T) {
	h := newHarness(t, nil)

	path := h.call(t, "op_mkfifo", nil, nil).(string)
	assert.True(t, vfs.HasPrefix(path, DefaultFifoPrefix))

	named := h.call(t, "op_mkfifo", "/dev/pipe/jobs", nil)
	assert.Equal(t, "/dev/pipe/jobs", named)

	st := h.call(t, "op_stat", "/dev/pipe/jobs", nil).(FileInfo)
	assert.Equal(t, "fifo", st.Type)

	env := h.fail(t, "op_mkfifo", "/tmp/fifo", nil)
	assert.Equal(t, "NotSupported", env.ClassName)
}

func TestConsoleSize(t *testing.T) {
	h := newHarness(t, nil)

	tty := h.call(t, "op_open", "/dev/tty0", "w").(int)
	assert.Equal(t, ConsoleSize{Columns: 80, Rows: 24}, h.call(t, "op_console_size", tty, nil))

	h.call(t, "op_write", tty, "to the console")
	assert.Equal(t, "to the console", h.console.String())

	file := h.call(t, "op_open", "plain", "w").(int)
	env := h.fail(t, "op_console_size", file, nil)
	assert.Equal(t, "NotSupported", env.ClassName)
}
