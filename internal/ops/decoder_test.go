package ops

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecoderLatin1(t *testing.T) {
	h := newHarness(t, nil)

	rid := h.call(t, "op_decoder_new", "latin1", nil)
	assert.Equal(t, "café", h.call(t, "op_decoder_decode", rid, []byte{0x63, 0x61, 0x66, 0xe9}))
}

func TestDecoderGzipStream(t *testing.T) {
	h := newHarness(t, nil)

	data := gzipped(t, "hello, world")
	rid := h.call(t, "op_decoder_new", map[string]any{"compression": "gzip"}, nil)

	assert.Equal(t, "", h.call(t, "op_decoder_decode", rid, map[string]any{"data": data[:5], "stream": true}))
	assert.Equal(t, "hello, world", h.call(t, "op_decoder_decode", rid, map[string]any{"data": data[5:]}))

	env := h.fail(t, "op_decoder_decode", rid, []byte("not gzip"))
	assert.Equal(t, "InvalidArgument", env.ClassName)
}

func TestDecoderErrors(t *testing.T) {
	h := newHarness(t, nil)

	env := h.fail(t, "op_decoder_new", "klingon", nil)
	assert.Equal(t, "InvalidArgument", env.ClassName)

	env = h.fail(t, "op_decoder_new", map[string]any{"compression": "lzma"}, nil)
	assert.Equal(t, "InvalidArgument", env.ClassName)

	ends := h.call(t, "op_pipe", nil, nil).([]int)
	env = h.fail(t, "op_decoder_decode", ends[0], []byte("x"))
	assert.Equal(t, "BadResource", env.ClassName)
}

func TestDecoderSplitSequence(t *testing.T) {
	d, err := NewDecoder(DecoderOptions{})
	require.NoError(t, err)

	out, err := d.Decode([]byte{'a', 0xC3}, true)
	require.NoError(t, err)
	assert.Equal(t, "a", out)

	out, err = d.Decode([]byte{0xA9}, false)
	require.NoError(t, err)
	assert.Equal(t, "é", out)
}

func TestDecoderBOM(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, "hi"...)

	d, err := NewDecoder(DecoderOptions{})
	require.NoError(t, err)
	out, err := d.Decode(input, false)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	keep, err := NewDecoder(DecoderOptions{IgnoreBOM: true})
	require.NoError(t, err)
	out, err = keep.Decode(input, false)
	require.NoError(t, err)
	assert.Equal(t, "\ufeffhi", out)
}

func TestDecoderFatal(t *testing.T) {
	lenient, err := NewDecoder(DecoderOptions{})
	require.NoError(t, err)
	out, err := lenient.Decode([]byte{'a', 0xFF}, false)
	require.NoError(t, err)
	assert.Equal(t, "a\ufffd", out)

	strict, err := NewDecoder(DecoderOptions{Fatal: true})
	require.NoError(t, err)
	_, err = strict.Decode([]byte{'a', 0xFF}, false)
	require.Error(t, err)
	k, _ := syserr.KindOf(err)
	assert.Equal(t, syserr.InvalidArgument, k)

	// a literal replacement character is valid input
	out, err = strict.Decode([]byte("ok \ufffd"), false)
	require.NoError(t, err)
	assert.Equal(t, "ok \ufffd", out)

	// a split sequence is not an error until the stream ends
	out, err = strict.Decode([]byte{'b', 0xC3}, true)
	require.NoError(t, err)
	assert.Equal(t, "b", out)
	_, err = strict.Decode(nil, false)
	assert.Error(t, err)

	latin, err := NewDecoder(DecoderOptions{Encoding: "latin1", Fatal: true})
	require.NoError(t, err)
	out, err = latin.Decode([]byte{0xe9}, false)
	require.NoError(t, err)
	assert.Equal(t, "é", out)
}

func TestDecoderZstd(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	data := enc.EncodeAll([]byte("zstd text"), nil)
	require.NoError(t, enc.Close())

	d, err := NewDecoder(DecoderOptions{Compression: "zstd"})
	require.NoError(t, err)
	out, err := d.Decode(data, false)
	require.NoError(t, err)
	assert.Equal(t, "zstd text", out)
}

func TestDecoderAuto(t *testing.T) {
	d, err := NewDecoder(DecoderOptions{Encoding: EncodingAuto})
	require.NoError(t, err)
	assert.Empty(t, d.Encoding())

	out, err := d.Decode([]byte("plain ascii text is detected as something ascii compatible"), false)
	require.NoError(t, err)
	assert.Equal(t, "plain ascii text is detected as something ascii compatible", out)
	assert.NotEmpty(t, d.Encoding())
}

func TestDecoderClosed(t *testing.T) {
	d, err := NewDecoder(DecoderOptions{})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = d.Decode([]byte("x"), false)
	assert.Error(t, err)
}
