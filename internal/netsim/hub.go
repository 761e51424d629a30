package netsim

import (
	"sync"
)

// Relay message types.
const (
	MsgConnectRequest  = "connect-request"
	MsgConnectResponse = "connect-response"
)

// Message travels over the broadcast channel shared by networks in
// different contexts.
type Message struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to,omitempty"`
	Proto string `json:"transport"`
	Host  string `json:"hostname"`
	Port  int    `json:"port"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// Conn carries the dialer's end on an accepted response. It is only
	// meaningful within one address space.
	Conn *Conn `json:"-"`
}

// Broadcast is an out-of-band channel every attached party sees.
// Subscribers are called synchronously and must not block.
type Broadcast interface {
	Publish(msg Message)
	Subscribe(fn func(Message)) (unsubscribe func())
}

// Hub is an in-memory Broadcast.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]func(Message)
	next int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(Message))}
}

func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	subs := make([]func(Message), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (h *Hub) Subscribe(fn func(Message)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := h.next
	h.next++
	h.subs[key] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, key)
	}
}
