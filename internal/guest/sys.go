package guest

import (
	"context"
	"encoding"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// Stdio rids of a spawned process.
const (
	Stdin  = 0
	Stdout = 1
	Stderr = 2
)

// OpCaller is the indexed op boundary: a local *process.Process, or a
// remote one reached over a transport.
type OpCaller interface {
	OpSync(index int, a, b any) (any, error)
	OpAsync(index int, promiseID int64, a, b any) (<-chan process.Completion, error)
}

// PromiseAllocator is implemented by op boundaries that hand out promise
// ids themselves. Clients sharing one process must draw from it.
type PromiseAllocator interface {
	NextPromiseID() int64
}

// Pulser is implemented by op boundaries whose liveness is reported from
// the guest's event loop.
type Pulser interface {
	SetPulse(fn func(ack func()))
}

// Sys is a guest's system call client. It fetches the op table once and
// turns error envelopes into *syserr.Envelope errors.
type Sys struct {
	caller OpCaller

	once  sync.Once
	ops   map[string]int
	opErr error

	promises atomic.Int64
}

// NewSys binds a client to caller.
func NewSys(caller OpCaller) *Sys {
	return &Sys{caller: caller}
}

// Caller returns the bound op boundary.
func (s *Sys) Caller() OpCaller { return s.caller }

// Ops returns the op name to index table.
func (s *Sys) Ops() (map[string]int, error) {
	s.once.Do(func() {
		v, err := s.caller.OpSync(0, nil, nil)
		if err != nil {
			s.opErr = err
			return
		}
		s.ops, s.opErr = parseOpList(v)
	})
	return s.ops, s.opErr
}

func parseOpList(v any) (map[string]int, error) {
	var pairs [][]any
	switch list := v.(type) {
	case [][]any:
		pairs = list
	case []any:
		for _, e := range list {
			pair, ok := e.([]any)
			if !ok {
				return nil, fmt.Errorf("op table entry %T", e)
			}
			pairs = append(pairs, pair)
		}
	default:
		return nil, fmt.Errorf("op table is %T", v)
	}

	out := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("op table entry of length %d", len(pair))
		}
		name, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("op name %T", pair[0])
		}
		var idx int
		if err := decode(pair[1], &idx); err != nil {
			return nil, fmt.Errorf("op %s index: %w", name, err)
		}
		out[name] = idx
	}
	return out, nil
}

func (s *Sys) index(name string) (int, error) {
	ops, err := s.Ops()
	if err != nil {
		return 0, err
	}
	i, ok := ops[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", process.ErrOpNotFound, name)
	}
	return i, nil
}

func (s *Sys) nextPromise() int64 {
	if a, ok := s.caller.(PromiseAllocator); ok {
		return a.NextPromiseID()
	}
	return s.promises.Add(1)
}

// Call invokes op name synchronously.
func (s *Sys) Call(name string, a, b any) (any, error) {
	i, err := s.index(name)
	if err != nil {
		return nil, err
	}
	v, err := s.caller.OpSync(i, a, b)
	if err != nil {
		return nil, err
	}
	if env, ok := syserr.AsEnvelope(v); ok {
		return nil, env
	}
	return v, nil
}

// CallAsync invokes op name on its async form and waits for completion or
// ctx.
func (s *Sys) CallAsync(ctx context.Context, name string, a, b any) (any, error) {
	i, err := s.index(name)
	if err != nil {
		return nil, err
	}
	ch, err := s.caller.OpAsync(i, s.nextPromise(), a, b)
	if err != nil {
		return nil, err
	}
	select {
	case c := <-ch:
		if env := c.Err(); env != nil {
			return nil, env
		}
		return c.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallInto calls name and decodes the result into out.
func (s *Sys) CallInto(out any, name string, a, b any) error {
	v, err := s.Call(name, a, b)
	if err != nil {
		return err
	}
	return decode(v, out)
}

// decode copies v into out, directly when the types match and through
// mapstructure when v came over a wire codec.
func decode(v, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("decode target %T", out)
	}
	if v == nil {
		return nil
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(rv.Elem().Type()) {
		rv.Elem().Set(src)
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			textHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(v)
}

var textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// textHook decodes strings into types that parse their own text form.
func textHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || !reflect.PtrTo(to).Implements(textUnmarshaler) {
		return data, nil
	}
	out := reflect.New(to)
	if err := out.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(data.(string))); err != nil {
		return nil, err
	}
	return out.Elem().Interface(), nil
}
