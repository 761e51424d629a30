package process

import (
	"fmt"
	"sync"
)

// ledger tracks in-flight op calls. Sync calls get strictly decreasing
// negative keys; async calls are keyed by a promise id from promise(), which
// is positive, so the two never collide.
type ledger struct {
	mu          sync.Mutex
	entries     map[int64]string
	nextSync    int64
	nextPromise int64
}

func newLedger() *ledger {
	return &ledger{entries: make(map[int64]string)}
}

func (l *ledger) addSync(name string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSync--
	l.entries[l.nextSync] = name
	return l.nextSync
}

// promise hands out a fresh positive promise id. Ids only grow, so an id
// whose completion has been delivered but not yet removed is never reissued.
func (l *ledger) promise() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		l.nextPromise++
		if _, ok := l.entries[l.nextPromise]; !ok {
			return l.nextPromise
		}
	}
}

func (l *ledger) addAsync(promiseID int64, name string) error {
	if promiseID < 0 {
		return fmt.Errorf("invalid promise id %d", promiseID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[promiseID]; ok {
		return fmt.Errorf("%w: %d", ErrPromiseInUse, promiseID)
	}
	l.entries[promiseID] = name
	return nil
}

func (l *ledger) remove(key int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *ledger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// snapshot returns the op names in flight keyed by ledger key.
func (l *ledger) snapshot() map[int64]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int64]string, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}
