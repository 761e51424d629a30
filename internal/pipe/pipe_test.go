package pipe

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

func TestRoundTripAcrossReads(t *testing.T) {
	p := New(1024)
	payload := []byte("the quick brown fox jumps over the lazy dog")

	_, err := p.Write(payload[:10])
	require.NoError(t, err)
	_, err = p.Write(payload[10:])
	require.NoError(t, err)
	require.NoError(t, p.Close())

	var got bytes.Buffer
	buf := make([]byte, 7)
	for {
		n, err := p.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, payload, got.Bytes())
}

func TestReadClosedEmptyReturnsEOFImmediately(t *testing.T) {
	p := New(0)
	require.NoError(t, p.Close())

	n, err := p.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestReadParksUntilWrite(t *testing.T) {
	p := New(0)
	got := make(chan string, 1)

	go func() {
		buf := make([]byte, 16)
		n, _ := p.Read(buf)
		got <- string(buf[:n])
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := p.Write([]byte("wake"))
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, "wake", s)
	case <-time.After(time.Second):
		t.Fatal("reader never woke")
	}
}

func TestUnrefToZeroWakesReaderWithEOF(t *testing.T) {
	p := New(0)
	p.Ref()
	p.Ref()
	done := make(chan error, 1)

	go func() {
		_, err := p.Read(make([]byte, 4))
		done <- err
	}()

	p.Unref()
	assert.False(t, p.Closed())
	p.Unref()
	assert.True(t, p.Closed())

	select {
	case err := <-done:
		assert.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("reader left parked after close")
	}
}

func TestWriteClosedIsBrokenPipe(t *testing.T) {
	p := New(0)
	require.NoError(t, p.Close())

	_, err := p.Write([]byte("x"))
	assert.True(t, syserr.Is(err, syserr.BrokenPipe))
}

func TestBackpressure(t *testing.T) {
	p := New(4)
	written := make(chan struct{})

	go func() {
		_, _ = p.Write([]byte("12345678"))
		close(written)
	}()

	select {
	case <-written:
		t.Fatal("writer should park at capacity")
	case <-time.After(20 * time.Millisecond):
	}

	buf := make([]byte, 6)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "123456", string(buf[:n]))

	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("writer not released after drain")
	}
	assert.Equal(t, 2, p.Buffered())
}

func TestParkedWriterReleasedOnClose(t *testing.T) {
	p := New(2)
	done := make(chan error, 1)

	go func() {
		_, err := p.Write([]byte("abc"))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.True(t, syserr.Is(err, syserr.BrokenPipe))
	case <-time.After(time.Second):
		t.Fatal("writer left parked")
	}
}

func TestConcurrentReaderRejected(t *testing.T) {
	p := New(0)
	go func() { _, _ = p.Read(make([]byte, 1)) }()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.readerParked
	}, time.Second, time.Millisecond)

	_, err := p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrConcurrentRead)
	assert.True(t, syserr.Is(err, syserr.Busy))
	require.NoError(t, p.Close())
}

func TestReadContextCancel(t *testing.T) {
	p := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.ReadContext(ctx, make([]byte, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = p.Write([]byte("z"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	n, err := p.Read(buf)
	require.NoError(t, err, "cancelled reader must not stay parked")
	assert.Equal(t, 1, n)
}

func TestEnds(t *testing.T) {
	p := New(0)
	w := NewWriteEnd(p)
	r := NewReadEnd(p)
	assert.Equal(t, 1, p.Refs())

	_, err := w.Write([]byte("hi\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 0, p.Refs())

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}
