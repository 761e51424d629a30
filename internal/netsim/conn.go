package netsim

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/GriffinCanCode/webkernel/internal/pipe"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Addr is a simulated transport address.
type Addr struct {
	Proto string `json:"transport" mapstructure:"transport"`
	Host  string `json:"hostname" mapstructure:"hostname"`
	Port  int    `json:"port" mapstructure:"port"`
}

func (a Addr) Network() string { return a.Proto }

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Shutdown directions.
const (
	ShutRead = iota
	ShutWrite
	ShutBoth
)

// Conn is one end of an established connection: an incoming pipe and an
// outgoing pipe, mirrored on the peer.
type Conn struct {
	local Addr
	peer  Addr
	in    *pipe.Pipe
	out   *pipe.Pipe

	writeOnce sync.Once
	readOnce  sync.Once
}

// newPair wires two connected ends. Bytes written on one are read on the
// other.
func newPair(a, b Addr, capacity int) (*Conn, *Conn) {
	ab := pipe.New(capacity)
	ba := pipe.New(capacity)
	ab.Ref()
	ba.Ref()

	left := &Conn{local: a, peer: b, in: ba, out: ab}
	right := &Conn{local: b, peer: a, in: ab, out: ba}
	return left, right
}

func (c *Conn) Kind() resource.Kind { return resource.KindSocket }

// LocalAddr returns this end's address.
func (c *Conn) LocalAddr() Addr { return c.local }

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() Addr { return c.peer }

func (c *Conn) Read(p []byte) (int, error) { return c.in.Read(p) }

func (c *Conn) ReadContext(ctx context.Context, p []byte) (int, error) {
	return c.in.ReadContext(ctx, p)
}

func (c *Conn) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *Conn) WriteContext(ctx context.Context, p []byte) (int, error) {
	return c.out.WriteContext(ctx, p)
}

// Shutdown half-closes the write side; the peer reads EOF.
func (c *Conn) Shutdown() error {
	return c.ShutdownHow(ShutWrite)
}

// ShutdownHow closes one or both directions.
func (c *Conn) ShutdownHow(how int) error {
	switch how {
	case ShutRead:
		c.readOnce.Do(func() { c.in.Close() })
	case ShutWrite:
		c.writeOnce.Do(c.out.Unref)
	case ShutBoth:
		c.readOnce.Do(func() { c.in.Close() })
		c.writeOnce.Do(c.out.Unref)
	default:
		return syserr.Errorf(syserr.InvalidArgument, "shutdown", "invalid direction %d", how)
	}
	return nil
}

func (c *Conn) Close() error {
	return c.ShutdownHow(ShutBoth)
}

func (c *Conn) String() string {
	return fmt.Sprintf("%s %s->%s", c.local.Proto, c.local, c.peer)
}
