package process

import "sync"

// loop runs posted callbacks one at a time, in order, on its own goroutine.
// It is the process's scheduling turn: ledger removals and exit checks are
// deferred here so they run after the op that caused them has returned.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newLoop() *loop {
	l := &loop{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.wake:
		case <-l.stop:
			return
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}

// close stops the loop. Callbacks still queued are dropped.
func (l *loop) close() {
	l.once.Do(func() { close(l.stop) })
}
