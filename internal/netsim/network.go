// Package netsim simulates connection-oriented networking between kernel
// processes. Listeners register in an address table; connecting to one
// hands both sides a pair of mirrored pipes. Networks in different contexts
// reach each other through a shared Broadcast relay.
package netsim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/pipe"
	"github.com/GriffinCanCode/webkernel/internal/resource"
	"github.com/GriffinCanCode/webkernel/internal/shared/id"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

const (
	ephemeralFirst = 49152
	ephemeralLast  = 65535

	// DefaultRelayTimeout bounds a cross-context connect.
	DefaultRelayTimeout = 5 * time.Second
)

// Options configures a Network.
type Options struct {
	Hub          Broadcast
	RelayTimeout time.Duration
	PipeCapacity int
	Logger       *logging.Logger
}

type addrKey struct {
	proto string
	port  int
}

// Network is one context's address table.
type Network struct {
	id           id.NetworkID
	mu           sync.Mutex
	listeners    map[addrKey]*Listener
	nextPort     int
	hub          Broadcast
	unsubscribe  func()
	relayTimeout time.Duration
	capacity     int
	logger       *logging.Logger

	relayMu sync.Mutex
	relays  map[string]chan Message
}

// New creates a network and attaches it to the hub, if any.
func New(opts Options) *Network {
	if opts.RelayTimeout <= 0 {
		opts.RelayTimeout = DefaultRelayTimeout
	}
	if opts.PipeCapacity <= 0 {
		opts.PipeCapacity = pipe.DefaultCapacity
	}

	n := &Network{
		id:           id.NewNetworkID(),
		listeners:    make(map[addrKey]*Listener),
		nextPort:     ephemeralFirst,
		hub:          opts.Hub,
		relayTimeout: opts.RelayTimeout,
		capacity:     opts.PipeCapacity,
		logger:       logging.OrNop(opts.Logger).Named("netsim"),
		relays:       make(map[string]chan Message),
	}
	if n.hub != nil {
		n.unsubscribe = n.hub.Subscribe(n.onMessage)
	}
	return n
}

// ID returns the network's relay identity.
func (n *Network) ID() id.NetworkID { return n.id }

// Close detaches from the hub and closes every listener.
func (n *Network) Close() {
	if n.unsubscribe != nil {
		n.unsubscribe()
	}

	n.mu.Lock()
	listeners := make([]*Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
}

// IsLoopback reports whether host names this machine.
func IsLoopback(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "0.0.0.0", "::1", "::":
		return true
	}
	return false
}

// ephemeral picks a free port. Callers hold n.mu.
func (n *Network) ephemeral(proto string) int {
	for i := 0; i <= ephemeralLast-ephemeralFirst; i++ {
		port := n.nextPort
		n.nextPort++
		if n.nextPort > ephemeralLast {
			n.nextPort = ephemeralFirst
		}
		if _, used := n.listeners[addrKey{proto, port}]; !used {
			return port
		}
	}
	return 0
}

// Listen registers a listener at (proto, port). Port 0 picks an ephemeral
// port.
func (n *Network) Listen(proto, host string, port int) (*Listener, error) {
	if !IsLoopback(host) {
		return nil, syserr.Errorf(syserr.ConnectionRefused, "listen", "address not available: %s", host)
	}
	if host == "" {
		host = "0.0.0.0"
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		port = n.ephemeral(proto)
		if port == 0 {
			return nil, syserr.New(syserr.AddrInUse, "listen", proto)
		}
	}
	key := addrKey{proto, port}
	if _, used := n.listeners[key]; used {
		return nil, syserr.Errorf(syserr.AddrInUse, "listen", "%s port %d in use", proto, port)
	}

	l := &Listener{
		net:  n,
		addr: Addr{Proto: proto, Host: host, Port: port},
		key:  key,
	}
	n.listeners[key] = l
	n.logger.Debug("listening", zap.String("proto", proto), zap.Int("port", port))
	return l, nil
}

func (n *Network) unlisten(l *Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners[l.key] == l {
		delete(n.listeners, l.key)
	}
}

func (n *Network) lookup(proto string, port int) (*Listener, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.listeners[addrKey{proto, port}]
	return l, ok
}

func (n *Network) clientAddr(proto string) Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Addr{Proto: proto, Host: "127.0.0.1", Port: n.ephemeral(proto)}
}

// Connect dials (proto, host, port). A local listener answers directly;
// otherwise the request is relayed over the hub.
func (n *Network) Connect(ctx context.Context, proto, host string, port int) (*Conn, error) {
	if !IsLoopback(host) {
		return nil, syserr.Errorf(syserr.ConnectionRefused, "connect", "%s:%d unreachable", host, port)
	}

	local := n.clientAddr(proto)
	if l, ok := n.lookup(proto, port); ok {
		req := newRequest(local)
		if err := l.doAccept(req); err != nil {
			return nil, err
		}
		c, err := req.wait(ctx)
		if ctx.Err() != nil {
			l.withdraw(req)
		}
		return c, err
	}

	if n.hub == nil {
		return nil, syserr.Errorf(syserr.ConnectionRefused, "connect", "nothing listening on %s port %d", proto, port)
	}
	return n.relayConnect(ctx, local, proto, host, port)
}

func (n *Network) relayConnect(ctx context.Context, local Addr, proto, host string, port int) (*Conn, error) {
	reqID := id.NewRelayID().String()
	reply := make(chan Message, 1)

	n.relayMu.Lock()
	n.relays[reqID] = reply
	n.relayMu.Unlock()
	defer func() {
		n.relayMu.Lock()
		delete(n.relays, reqID)
		n.relayMu.Unlock()
	}()

	n.hub.Publish(Message{
		Type:  MsgConnectRequest,
		ID:    reqID,
		From:  n.id.String(),
		Proto: proto,
		Host:  local.Host,
		Port:  port,
	})

	timer := time.NewTimer(n.relayTimeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		if !msg.OK || msg.Conn == nil {
			return nil, syserr.Errorf(syserr.ConnectionRefused, "connect", "%s", msg.Error)
		}
		return msg.Conn, nil
	case <-timer.C:
		n.logger.Debug("relay connect timed out", zap.String("id", reqID), zap.Int("port", port))
		return nil, syserr.Errorf(syserr.ConnectionRefused, "connect", "no answer for %s port %d", proto, port)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Network) onMessage(msg Message) {
	if msg.From == n.id.String() {
		return
	}

	switch msg.Type {
	case MsgConnectRequest:
		l, ok := n.lookup(msg.Proto, msg.Port)
		if !ok {
			return
		}
		remote := Addr{Proto: msg.Proto, Host: msg.Host, Port: n.clientAddr(msg.Proto).Port}
		go n.answer(l, msg, remote)

	case MsgConnectResponse:
		if msg.To != n.id.String() {
			return
		}
		n.relayMu.Lock()
		reply, ok := n.relays[msg.ID]
		n.relayMu.Unlock()

		if !ok {
			// dialer gave up; drop the orphaned end
			if msg.Conn != nil {
				msg.Conn.Close()
			}
			return
		}
		select {
		case reply <- msg:
		default:
		}
	}
}

func (n *Network) answer(l *Listener, msg Message, remote Addr) {
	resp := Message{
		Type:  MsgConnectResponse,
		ID:    msg.ID,
		From:  n.id.String(),
		To:    msg.From,
		Proto: msg.Proto,
		Port:  msg.Port,
	}

	req := newRequest(remote)
	if err := l.doAccept(req); err != nil {
		resp.Error = err.Error()
		n.hub.Publish(resp)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.relayTimeout)
	defer cancel()

	conn, err := req.wait(ctx)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.OK = true
		resp.Conn = conn
	}
	n.hub.Publish(resp)
}

// connRequest is a pending dial waiting for an accept.
type connRequest struct {
	remote Addr
	reply  chan *Conn
}

func newRequest(remote Addr) *connRequest {
	return &connRequest{remote: remote, reply: make(chan *Conn, 1)}
}

func (r *connRequest) wait(ctx context.Context) (*Conn, error) {
	select {
	case c, ok := <-r.reply:
		if !ok || c == nil {
			return nil, syserr.Errorf(syserr.ConnectionRefused, "connect", "listener closed")
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Listener is a listening socket. Incoming requests queue until accepted;
// accepts park until a request arrives.
type Listener struct {
	net  *Network
	addr Addr
	key  addrKey

	mu      sync.Mutex
	pending []*connRequest
	waiting []chan *Conn
	closed  bool
}

func (l *Listener) Kind() resource.Kind { return resource.KindListener }

// Addr returns the bound address.
func (l *Listener) Addr() Addr { return l.addr }

// doAccept hands req to a parked Accept, or queues it.
func (l *Listener) doAccept(req *connRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return syserr.Errorf(syserr.ConnectionRefused, "connect", "listener closed")
	}
	if len(l.waiting) == 0 {
		l.pending = append(l.pending, req)
		return nil
	}

	acceptor := l.waiting[0]
	l.waiting = l.waiting[1:]
	server, client := newPair(l.addr, req.remote, l.net.capacity)
	acceptor <- server
	req.reply <- client
	return nil
}

// withdraw drops a request whose dialer gave up. A connection paired with
// it in the meantime is closed.
func (l *Listener) withdraw(req *connRequest) {
	l.mu.Lock()
	for i, r := range l.pending {
		if r == req {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	select {
	case c, ok := <-req.reply:
		if ok && c != nil {
			c.Close()
		}
	default:
	}
}

// Accept returns the next incoming connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, syserr.Errorf(syserr.BadResource, "accept", "listener closed")
	}
	if len(l.pending) > 0 {
		req := l.pending[0]
		l.pending = l.pending[1:]
		server, client := newPair(l.addr, req.remote, l.net.capacity)
		req.reply <- client
		l.mu.Unlock()
		return server, nil
	}

	ch := make(chan *Conn, 1)
	l.waiting = append(l.waiting, ch)
	l.mu.Unlock()

	select {
	case c, ok := <-ch:
		if !ok {
			return nil, syserr.Errorf(syserr.ConnectionRefused, "accept", "listener closed")
		}
		return c, nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiting {
			if w == ch {
				l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
				break
			}
		}
		l.mu.Unlock()

		// lost the race with doAccept
		select {
		case c, ok := <-ch:
			if ok {
				c.Close()
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// Close unregisters the listener and fails parked accepts and queued
// connects.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	waiting, pending := l.waiting, l.pending
	l.waiting, l.pending = nil, nil
	l.mu.Unlock()

	l.net.unlisten(l)
	for _, w := range waiting {
		close(w)
	}
	for _, r := range pending {
		close(r.reply)
	}
	return nil
}
