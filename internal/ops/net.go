package ops

import (
	"context"

	"github.com/GriffinCanCode/webkernel/internal/netsim"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// ListenInfo is op_listen's result.
type ListenInfo struct {
	Rid  int         `json:"rid" mapstructure:"rid"`
	Addr netsim.Addr `json:"localAddr" mapstructure:"localAddr"`
}

// ConnInfo is the result of op_accept and op_connect.
type ConnInfo struct {
	Rid        int         `json:"rid" mapstructure:"rid"`
	LocalAddr  netsim.Addr `json:"localAddr" mapstructure:"localAddr"`
	RemoteAddr netsim.Addr `json:"remoteAddr" mapstructure:"remoteAddr"`
}

func netOf(op string, p *process.Process) (*netsim.Network, error) {
	k := p.Kernel()
	if k == nil || k.Net() == nil {
		return nil, syserr.Errorf(syserr.NotSupported, op, "no network attached")
	}
	return k.Net(), nil
}

func decodeAddr(op string, v any) (netsim.Addr, error) {
	addr := netsim.Addr{}
	if err := decodeOptions(op, v, &addr); err != nil {
		return addr, err
	}
	if addr.Proto == "" {
		addr.Proto = "tcp"
	}
	if addr.Port < 0 || addr.Port > 65535 {
		return addr, invalid(op, "bad port %d", addr.Port)
	}
	return addr, nil
}

func connInfo(rid int, c *netsim.Conn) ConnInfo {
	return ConnInfo{Rid: rid, LocalAddr: c.LocalAddr(), RemoteAddr: c.RemoteAddr()}
}

func (h *host) listen(p *process.Process, a, _ any) (any, error) {
	addr, err := decodeAddr("listen", a)
	if err != nil {
		return nil, err
	}
	n, err := netOf("listen", p)
	if err != nil {
		return nil, err
	}

	l, err := n.Listen(addr.Proto, addr.Host, addr.Port)
	if err != nil {
		return nil, err
	}
	return ListenInfo{Rid: p.Table().Add(l), Addr: l.Addr()}, nil
}

func (h *host) accept(ctx context.Context, p *process.Process, a, _ any) (any, error) {
	rid, err := toRid("accept", a)
	if err != nil {
		return nil, err
	}
	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}
	l, ok := resource.Unwrap(r).(*netsim.Listener)
	if !ok {
		return nil, syserr.Errorf(syserr.BadResource, "accept", "resource %d is a %s", rid, r.Kind())
	}

	c, err := l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return connInfo(p.Table().Add(c), c), nil
}

func (h *host) connect(ctx context.Context, p *process.Process, a, _ any) (any, error) {
	addr, err := decodeAddr("connect", a)
	if err != nil {
		return nil, err
	}
	n, err := netOf("connect", p)
	if err != nil {
		return nil, err
	}

	c, err := n.Connect(ctx, addr.Proto, addr.Host, addr.Port)
	if err != nil {
		p.Metrics().RecordSocketConnect("refused")
		return nil, err
	}
	p.Metrics().RecordSocketConnect("ok")
	return connInfo(p.Table().Add(c), c), nil
}

// shutdown half-closes a socket: 0 read, 1 write (default), 2 both. Other
// resources get their generic shutdown.
func (h *host) shutdown(p *process.Process, a, b any) (any, error) {
	rid, err := toRid("shutdown", a)
	if err != nil {
		return nil, err
	}
	how, err := toIntOr("shutdown", b, netsim.ShutWrite)
	if err != nil {
		return nil, err
	}
	r, err := p.Table().Lookup(rid)
	if err != nil {
		return nil, err
	}
	if c, ok := resource.Unwrap(r).(*netsim.Conn); ok {
		return nil, c.ShutdownHow(int(how))
	}
	return nil, resource.Shutdown(r)
}
