package ws

import "sync"

const feedBuffer = 256

// Feed copies console output to every attached connection. It is the
// io.Writer a kernel's console sink tees into. A connection that falls
// behind loses chunks.
type Feed struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewFeed creates a feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan []byte]struct{})}
}

// Write never fails and never blocks.
func (f *Feed) Write(p []byte) (int, error) {
	if f == nil || len(p) == 0 {
		return len(p), nil
	}
	chunk := append([]byte(nil), p...)

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- chunk:
		default:
		}
	}
	return len(p), nil
}

func (f *Feed) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, feedBuffer)
	if f == nil {
		return ch, func() {}
	}
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
		})
	}
}
