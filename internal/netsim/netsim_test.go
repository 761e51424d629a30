package netsim

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

func readN(t *testing.T, c *Conn, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		m, err := c.Read(buf[:n-len(out)])
		require.NoError(t, err)
		out = append(out, buf[:m]...)
	}
	return out
}

func TestHandshake(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	l, err := n.Listen("tcp", "localhost", 8080)
	require.NoError(t, err)

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := l.Accept(context.Background())
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := n.Connect(context.Background(), "tcp", "127.0.0.1", 8080)
	require.NoError(t, err)

	server, ok := <-accepted
	require.True(t, ok)

	assert.Equal(t, server.LocalAddr(), client.RemoteAddr())
	assert.Equal(t, client.LocalAddr(), server.RemoteAddr())
	assert.Equal(t, 8080, server.LocalAddr().Port)
	assert.GreaterOrEqual(t, client.LocalAddr().Port, ephemeralFirst)

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), readN(t, server, 4))

	_, err = server.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), readN(t, client, 4))
}

func TestConnectBeforeAccept(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	l, err := n.Listen("tcp", "", 0)
	require.NoError(t, err)
	port := l.Addr().Port

	dialed := make(chan *Conn, 1)
	go func() {
		c, err := n.Connect(context.Background(), "tcp", "localhost", port)
		if err == nil {
			dialed <- c
		}
		close(dialed)
	}()

	server, err := l.Accept(context.Background())
	require.NoError(t, err)
	client, ok := <-dialed
	require.True(t, ok)
	assert.Equal(t, server.LocalAddr(), client.RemoteAddr())
}

func TestShutdownDeliversEOF(t *testing.T) {
	server, client := newPair(Addr{Proto: "tcp", Port: 1}, Addr{Proto: "tcp", Port: 2}, 16)

	_, err := client.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, client.Shutdown())

	assert.Equal(t, []byte("bye"), readN(t, server, 3))
	_, err = server.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)

	// the other direction still works
	_, err = server.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), readN(t, client, 2))

	assert.Error(t, client.ShutdownHow(7))
}

func TestListenAddrInUse(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	_, err := n.Listen("tcp", "localhost", 9000)
	require.NoError(t, err)

	_, err = n.Listen("tcp", "localhost", 9000)
	assert.True(t, syserr.Is(err, syserr.AddrInUse))

	// another protocol has its own port space
	_, err = n.Listen("udp", "localhost", 9000)
	assert.NoError(t, err)
}

func TestConnectionRefused(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	_, err := n.Connect(context.Background(), "tcp", "localhost", 1234)
	assert.True(t, syserr.Is(err, syserr.ConnectionRefused))

	_, err = n.Connect(context.Background(), "tcp", "example.com", 80)
	assert.True(t, syserr.Is(err, syserr.ConnectionRefused))

	_, err = n.Listen("tcp", "10.0.0.1", 80)
	assert.True(t, syserr.Is(err, syserr.ConnectionRefused))
}

func TestListenerCloseFailsParkedAccept(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	l, err := n.Listen("tcp", "localhost", 7000)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		errs <- err
	}()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.waiting) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	assert.True(t, syserr.Is(<-errs, syserr.ConnectionRefused))

	// the port is free again
	_, err = n.Listen("tcp", "localhost", 7000)
	assert.NoError(t, err)
}

func TestListenerCloseFailsPendingConnect(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	l, err := n.Listen("tcp", "localhost", 7001)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := n.Connect(context.Background(), "tcp", "localhost", 7001)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.pending) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	assert.True(t, syserr.Is(<-errs, syserr.ConnectionRefused))
}

func TestAcceptHonoursContext(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	l, err := n.Listen("tcp", "localhost", 7002)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.mu.Lock()
	assert.Empty(t, l.waiting)
	l.mu.Unlock()
}

func TestConnectHonoursContext(t *testing.T) {
	n := New(Options{})
	defer n.Close()

	l, err := n.Listen("tcp", "localhost", 7003)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = n.Connect(ctx, "tcp", "localhost", 7003)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	l.mu.Lock()
	assert.Empty(t, l.pending)
	l.mu.Unlock()

	// the abandoned dial is not handed to the next accept
	actx, acancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer acancel()
	_, err = l.Accept(actx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelayAcrossNetworks(t *testing.T) {
	hub := NewHub()
	a := New(Options{Hub: hub, RelayTimeout: time.Second})
	b := New(Options{Hub: hub, RelayTimeout: time.Second})
	defer a.Close()
	defer b.Close()

	l, err := b.Listen("tcp", "localhost", 8443)
	require.NoError(t, err)

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := l.Accept(context.Background())
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := a.Connect(context.Background(), "tcp", "localhost", 8443)
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)

	_, err = client.Write([]byte("across"))
	require.NoError(t, err)
	assert.Equal(t, []byte("across"), readN(t, server, 6))
	assert.Equal(t, 8443, client.RemoteAddr().Port)
}

func TestRelayTimesOut(t *testing.T) {
	hub := NewHub()
	a := New(Options{Hub: hub, RelayTimeout: 20 * time.Millisecond})
	defer a.Close()

	_, err := a.Connect(context.Background(), "tcp", "localhost", 5555)
	assert.True(t, syserr.Is(err, syserr.ConnectionRefused))
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	var got []string
	unsub := hub.Subscribe(func(m Message) { got = append(got, m.ID) })

	hub.Publish(Message{ID: "one"})
	unsub()
	hub.Publish(Message{ID: "two"})

	assert.Equal(t, []string{"one"}, got)
}
