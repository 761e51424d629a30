package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrOpen            = errors.New("circuit open")
	ErrTooManyRequests = errors.New("too many probe requests")
)

// State of a breaker.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	}
	return "unknown"
}

// Settings tune a breaker. Zero values take the defaults applied by New.
type Settings struct {
	// Probes is how many calls half-open admits, and how many must succeed
	// to close again.
	Probes uint32
	// Window clears counts while closed.
	Window time.Duration
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// Trip decides, after a failure while closed, whether to open.
	Trip func(Counts) bool
	// Failure classifies call errors. Errors it rejects count as successes.
	Failure func(error) bool
	// OnChange observes transitions. It runs with the breaker locked.
	OnChange func(name string, from, to State)
}

// Counts within the current window.
type Counts struct {
	Requests             uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// FailureRatio is Failures over Requests, zero before any request.
func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Requests)
}

// Breaker guards calls to something that may fail for a while, such as a
// remote kernel or an external HTTP origin.
type Breaker struct {
	name string
	cfg  Settings
	now  func() time.Time

	mu     sync.Mutex
	state  State
	counts Counts
	gen    uint64
	expiry time.Time
}

// New returns a closed breaker.
func New(name string, cfg Settings) *Breaker {
	if cfg.Probes == 0 {
		cfg.Probes = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trip == nil {
		cfg.Trip = ConsecutiveFailures(5)
	}
	if cfg.Failure == nil {
		cfg.Failure = IgnoreCanceled
	}

	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.expiry = b.now().Add(cfg.Window)
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advance(b.now())
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.now())
	return b.counts
}

// Execute runs fn unless the breaker rejects the call.
func (b *Breaker) Execute(fn func() error) error {
	_, err := Do(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do runs fn through b and returns its result. A panic in fn counts as a
// failure and is re-raised.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	gen, err := b.admit()
	if err != nil {
		return zero, err
	}

	done := false
	defer func() {
		if !done {
			b.record(gen, false)
		}
	}()

	v, err := fn()
	done = true
	b.record(gen, err == nil || !b.cfg.Failure(err))
	return v, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.advance(b.now()) {
	case Open:
		return b.gen, ErrOpen
	case HalfOpen:
		if b.counts.Requests >= b.cfg.Probes {
			return b.gen, ErrTooManyRequests
		}
	}
	b.counts.Requests++
	return b.gen, nil
}

func (b *Breaker) record(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.advance(now)
	if gen != b.gen {
		return
	}

	if ok {
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == HalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.Probes {
			b.transition(Closed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch {
	case state == HalfOpen:
		b.transition(Open, now)
	case state == Closed && b.cfg.Trip(b.counts):
		b.transition(Open, now)
	}
}

// advance applies time-driven changes and returns the current state.
func (b *Breaker) advance(now time.Time) State {
	switch b.state {
	case Closed:
		if now.After(b.expiry) {
			b.gen++
			b.counts = Counts{}
			b.expiry = now.Add(b.cfg.Window)
		}
	case Open:
		if now.After(b.expiry) {
			b.transition(HalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.gen++
	b.counts = Counts{}

	switch to {
	case Closed:
		b.expiry = now.Add(b.cfg.Window)
	case Open:
		b.expiry = now.Add(b.cfg.Cooldown)
	case HalfOpen:
		b.expiry = time.Time{}
	}
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(b.name, from, to)
	}
}

// ConsecutiveFailures trips after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

// FailureRate trips after n failures in a row, or once at least min
// requests were seen and the failure ratio exceeds ratio.
func FailureRate(n, min uint32, ratio float64) func(Counts) bool {
	return func(c Counts) bool {
		return c.ConsecutiveFailures >= n || (c.Requests >= min && c.FailureRatio() > ratio)
	}
}

// IgnoreCanceled treats caller cancellation as not the guarded side's
// fault.
func IgnoreCanceled(err error) bool {
	return !errors.Is(err, context.Canceled)
}
