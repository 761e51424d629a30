package kernel

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/netsim"
	"github.com/GriffinCanCode/webkernel/internal/procmgr"
)

// Event kinds.
const (
	EventProcess = "process"
	EventRelay   = "relay"
)

const subscriberBuffer = 64

// Event is one entry of the kernel event stream.
type Event struct {
	Kind    string              `json:"kind"`
	Time    time.Time           `json:"time"`
	Process *procmgr.Transition `json:"process,omitempty"`
	Relay   *netsim.Message     `json:"relay,omitempty"`
}

// Events fans kernel events out to subscribers. A subscriber that falls
// behind loses events instead of stalling the kernel.
type Events struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	dropped int
	closed  bool
}

func newEvents() *Events {
	return &Events{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel function. The channel
// is closed on cancel or when the kernel closes.
func (e *Events) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	key := e.next
	e.next++
	e.subs[key] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[key]; ok {
				delete(e.subs, key)
				close(c)
			}
		})
	}
}

// Dropped counts events lost to slow subscribers.
func (e *Events) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *Events) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.dropped++
		}
	}
}

func (e *Events) transition(t procmgr.Transition) {
	e.publish(Event{Kind: EventProcess, Time: time.Now(), Process: &t})
}

func (e *Events) relay(msg netsim.Message) {
	msg.Conn = nil
	e.publish(Event{Kind: EventRelay, Time: time.Now(), Relay: &msg})
}

func (e *Events) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for key, ch := range e.subs {
		delete(e.subs, key)
		close(ch)
	}
}
