package resource

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Table maps process-local rids to resources. Rids come from a counter owned
// by the table and are never handed out twice while the table lives.
type Table struct {
	mu      sync.Mutex
	entries map[int]Resource
	next    int
	logger  *logging.Logger
}

// NewTable creates an empty table whose first rid is 0.
func NewTable(logger *logging.Logger) *Table {
	return &Table{
		entries: make(map[int]Resource),
		logger:  logging.OrNop(logger),
	}
}

// Add stores r and returns its rid.
func (t *Table) Add(r Resource) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rid := t.next
	t.next++
	t.entries[rid] = r
	return rid
}

// Get returns the resource for rid.
func (t *Table) Get(rid int) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.entries[rid]
	return r, ok
}

// Lookup returns the resource for rid or a BadResource error.
func (t *Table) Lookup(rid int) (Resource, error) {
	r, ok := t.Get(rid)
	if !ok {
		return nil, syserr.Errorf(syserr.BadResource, "lookup", "bad resource id %d", rid)
	}
	return r, nil
}

// Close closes the resource and removes the entry. The entry is removed even
// when the resource's Close fails. Closing an absent rid is a no-op.
func (t *Table) Close(rid int) error {
	r, ok := t.Take(rid)
	if !ok {
		return nil
	}
	return r.Close()
}

// TryClose is Close with the error logged and swallowed.
func (t *Table) TryClose(rid int) {
	if err := t.Close(rid); err != nil {
		t.logger.Warn("resource close failed",
			zap.Int("rid", rid),
			zap.Error(err),
		)
	}
}

// Take removes rid from the table without closing it.
func (t *Table) Take(rid int) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.entries[rid]
	if ok {
		delete(t.entries, rid)
	}
	return r, ok
}

// Replace swaps the resource behind a live rid without closing the old one.
func (t *Table) Replace(rid int, r Resource) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[rid]; !ok {
		return syserr.Errorf(syserr.BadResource, "replace", "bad resource id %d", rid)
	}
	t.entries[rid] = r
	return nil
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Rids returns the live rids in ascending order.
func (t *Table) Rids() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rids := make([]int, 0, len(t.entries))
	for rid := range t.entries {
		rids = append(rids, rid)
	}
	sort.Ints(rids)
	return rids
}

// Entry describes a live table slot for introspection.
type Entry struct {
	Rid  int  `json:"rid"`
	Kind Kind `json:"kind"`
}

// Entries lists live slots in rid order.
func (t *Table) Entries() []Entry {
	rids := t.Rids()
	out := make([]Entry, 0, len(rids))
	for _, rid := range rids {
		if r, ok := t.Get(rid); ok {
			out = append(out, Entry{Rid: rid, Kind: r.Kind()})
		}
	}
	return out
}

// CloseAll try-closes every entry, highest rid first so stdio goes last.
func (t *Table) CloseAll() {
	rids := t.Rids()
	for i := len(rids) - 1; i >= 0; i-- {
		t.TryClose(rids[i])
	}
}
