package ops

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

const (
	// EncodingAuto sniffs the charset from the first bytes seen.
	EncodingAuto = "auto"

	// sniffSize is how much input auto detection waits for while streaming.
	sniffSize = 1024
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecoderOptions configures a text decoder resource.
type DecoderOptions struct {
	Encoding    string `json:"encoding" mapstructure:"encoding"`
	Compression string `json:"compression" mapstructure:"compression"`
	Fatal       bool   `json:"fatal" mapstructure:"fatal"`
	IgnoreBOM   bool   `json:"ignoreBOM" mapstructure:"ignoreBOM"`
}

// Decoder turns byte chunks into text: optional decompression, then
// charset decoding. Incomplete multi-byte sequences carry over between
// streamed chunks. Compressed input is buffered until the final chunk.
type Decoder struct {
	mu sync.Mutex

	name        string
	enc         encoding.Encoding
	tr          transform.Transformer
	compression string
	fatal       bool
	ignoreBOM   bool

	compressed bytes.Buffer
	pending    []byte
	started    bool
	closed     bool
}

// NewDecoder validates opts and returns a decoder.
func NewDecoder(opts DecoderOptions) (*Decoder, error) {
	d := &Decoder{
		compression: strings.ToLower(opts.Compression),
		fatal:       opts.Fatal,
		ignoreBOM:   opts.IgnoreBOM,
	}
	switch d.compression {
	case "", "gzip", "deflate", "deflate-raw", "zlib", "zstd":
	default:
		return nil, invalid("decoder_new", "unsupported compression %q", opts.Compression)
	}

	label := strings.ToLower(strings.TrimSpace(opts.Encoding))
	if label == "" {
		label = "utf-8"
	}
	if label != EncodingAuto {
		if err := d.setEncoding(label); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Decoder) setEncoding(label string) error {
	enc, name := charset.Lookup(label)
	if enc == nil {
		return invalid("decoder_new", "unknown encoding %q", label)
	}
	if name == "utf-8" {
		enc = unicode.UTF8
	}
	d.enc, d.name = enc, name
	d.tr = enc.NewDecoder()
	return nil
}

func (d *Decoder) Kind() resource.Kind { return resource.KindDecoder }

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = nil
	d.compressed.Reset()
	return nil
}

// Encoding returns the canonical charset name, empty while auto detection
// has not run.
func (d *Decoder) Encoding() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// Decode feeds chunk. With stream set more input is expected; otherwise the
// decoder flushes and resets for reuse.
func (d *Decoder) Decode(chunk []byte, stream bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", syserr.New(syserr.BadResource, "decode", "decoder")
	}

	data := chunk
	if d.compression != "" {
		d.compressed.Write(chunk)
		if stream {
			return "", nil
		}
		out, err := decompress(d.compression, d.compressed.Bytes())
		d.compressed.Reset()
		if err != nil {
			return "", syserr.Wrap(syserr.InvalidArgument, "decode", d.compression, err)
		}
		data = out
	}

	src := append(d.pending, data...)
	d.pending = nil

	if d.tr == nil {
		if stream && len(src) < sniffSize {
			d.pending = src
			return "", nil
		}
		if err := d.setEncoding(detect(src)); err != nil {
			return "", err
		}
	}

	if !d.started {
		if stream && len(src) < len(utf8BOM) && bytes.HasPrefix(utf8BOM, src) {
			d.pending = src
			return "", nil
		}
		if !d.ignoreBOM && d.name == "utf-8" {
			src = bytes.TrimPrefix(src, utf8BOM)
		}
		d.started = true
	}

	out, err := d.transform(src, !stream)
	if !stream {
		d.tr.Reset()
		d.started = false
	}
	return out, err
}

func (d *Decoder) transform(src []byte, atEOF bool) (string, error) {
	var out bytes.Buffer
	buf := make([]byte, 3*len(src)+16)
	rest := src
	for {
		nDst, nSrc, err := d.tr.Transform(buf, rest, atEOF)
		out.Write(buf[:nDst])
		rest = rest[nSrc:]

		switch {
		case errors.Is(err, transform.ErrShortDst):
			continue
		case errors.Is(err, transform.ErrShortSrc) && !atEOF:
			d.pending = append([]byte(nil), rest...)
		case err != nil:
			return "", syserr.Wrap(syserr.InvalidArgument, "decode", d.name, err)
		}
		break
	}

	text := out.String()
	if d.fatal && !d.valid(src[:len(src)-len(d.pending)], text) {
		d.pending = nil
		return "", syserr.Errorf(syserr.InvalidArgument, "decode", "the encoded data was not valid %s", d.name)
	}
	return text, nil
}

// valid reports whether src decoded without substitutions. UTF-8 input is
// checked directly since it may carry a literal U+FFFD; other charsets only
// produce one for bytes they cannot map.
func (d *Decoder) valid(src []byte, text string) bool {
	if d.name == "utf-8" {
		return utf8.Valid(src)
	}
	return !strings.ContainsRune(text, utf8.RuneError)
}

// detect guesses a charset label for data, utf-8 when unsure.
func detect(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	if enc, _ := charset.Lookup(result.Charset); enc == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

func decompress(kind string, data []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error

	switch kind {
	case "gzip":
		r, err = gzip.NewReader(bytes.NewReader(data))
	case "zlib", "deflate":
		r, err = zlib.NewReader(bytes.NewReader(data))
	case "deflate-raw":
		r = flate.NewReader(bytes.NewReader(data))
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (h *host) decoderNew(p *process.Process, a, _ any) (any, error) {
	opts := DecoderOptions{}
	if label, ok := a.(string); ok {
		opts.Encoding = label
	} else if err := decodeOptions("decoder_new", a, &opts); err != nil {
		return nil, err
	}

	d, err := NewDecoder(opts)
	if err != nil {
		return nil, err
	}
	return p.Table().Add(d), nil
}

// DecodeOptions is the object form of op_decoder_decode's second argument;
// plain bytes decode a final chunk.
type DecodeOptions struct {
	Data   []byte `json:"data" mapstructure:"data"`
	Stream bool   `json:"stream" mapstructure:"stream"`
}

func (h *host) decoderDecode(p *process.Process, a, b any) (any, error) {
	rid, err := toRid("decoder_decode", a)
	if err != nil {
		return nil, err
	}
	opts := DecodeOptions{}
	if _, isObj := b.(map[string]any); isObj {
		err = decodeOptions("decoder_decode", b, &opts)
	} else {
		opts.Data, err = toBytes("decoder_decode", b)
	}
	if err != nil {
		return nil, err
	}

	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}
	d, ok := resource.Unwrap(r).(*Decoder)
	if !ok {
		return nil, syserr.Errorf(syserr.BadResource, "decoder_decode", "resource %d is a %s", rid, r.Kind())
	}
	return d.Decode(opts.Data, opts.Stream)
}
