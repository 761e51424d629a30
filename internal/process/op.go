package process

import (
	"context"
	"errors"
	"fmt"
)

// Reserved op names.
const (
	OpOpsName  = "op_ops"
	ExitOpName = "op_exit"
)

// Dispatch faults. These are host bugs and never reach the guest as an
// envelope.
var (
	ErrOpNotFound   = errors.New("op not found")
	ErrOpNotSync    = errors.New("op not sync")
	ErrDuplicateOp  = errors.New("duplicate op name")
	ErrPromiseInUse = errors.New("promise id already in flight")
)

// SyncFunc is an op body that completes before returning.
type SyncFunc func(p *Process, a, b any) (any, error)

// AsyncFunc is an op body that may block. ctx is cancelled when the process
// exits.
type AsyncFunc func(ctx context.Context, p *Process, a, b any) (any, error)

// Op is a named host operation.
type Op struct {
	Name  string
	Sync  SyncFunc
	Async AsyncFunc
}

// OpTable is the ordered op list of a process. Index 0 is always op_ops.
type OpTable struct {
	ops   []Op
	index map[string]int
}

// NewOpTable builds a table with op_ops at index 0 followed by ops in order.
func NewOpTable(ops ...Op) (*OpTable, error) {
	t := &OpTable{
		ops:   make([]Op, 0, len(ops)+1),
		index: make(map[string]int, len(ops)+1),
	}

	all := append([]Op{{Name: OpOpsName, Sync: opOps}}, ops...)
	for _, op := range all {
		if op.Name == "" {
			return nil, fmt.Errorf("op at index %d has no name", len(t.ops))
		}
		if _, dup := t.index[op.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOp, op.Name)
		}
		t.index[op.Name] = len(t.ops)
		t.ops = append(t.ops, op)
	}
	return t, nil
}

// MustOpTable is NewOpTable for static op lists.
func MustOpTable(ops ...Op) *OpTable {
	t, err := NewOpTable(ops...)
	if err != nil {
		panic(err)
	}
	return t
}

func opOps(p *Process, _, _ any) (any, error) {
	return p.ops.List(), nil
}

// Lookup returns the op at index i.
func (t *OpTable) Lookup(i int) (Op, error) {
	if i < 0 || i >= len(t.ops) {
		return Op{}, fmt.Errorf("%w: index %d", ErrOpNotFound, i)
	}
	return t.ops[i], nil
}

// Index returns the index of name.
func (t *OpTable) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Len returns the number of ops including op_ops.
func (t *OpTable) Len() int { return len(t.ops) }

// List returns the [name, index] pairs a guest caches at startup.
func (t *OpTable) List() [][]any {
	out := make([][]any, len(t.ops))
	for i, op := range t.ops {
		out[i] = []any{op.Name, i}
	}
	return out
}

// Names returns op names in index order.
func (t *OpTable) Names() []string {
	out := make([]string, len(t.ops))
	for i, op := range t.ops {
		out[i] = op.Name
	}
	return out
}
