package procmgr

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

// State is a process machine state.
type State int

const (
	StateLoading State = iota
	StateRunningAlive
	StateRunningPing
	StateDone
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateRunningAlive:
		return "running.alive"
	case StateRunningPing:
		return "running.ping"
	case StateDone:
		return "done"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateLoading; st <= StateDisposed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return syserr.Errorf(syserr.InvalidArgument, "state", "unknown process state %q", text)
}

// Running reports whether s is one of the running substates.
func (s State) Running() bool {
	return s == StateRunningAlive || s == StateRunningPing
}

// Terminal reports whether waiters are resolved in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDisposed
}

// Event drives a machine.
type Event int

const (
	EventSpawningWorker Event = iota
	EventSpawnedWorker
	EventCreatedProcess
	EventCreatedProcessWorker
	EventExit
	EventDispose
	EventPing
	EventAliveTimeout
)

func (e Event) String() string {
	switch e {
	case EventSpawningWorker:
		return "SPAWNING_WORKER"
	case EventSpawnedWorker:
		return "SPAWNED_WORKER"
	case EventCreatedProcess:
		return "CREATED_PROCESS"
	case EventCreatedProcessWorker:
		return "CREATED_PROCESS_WORKER"
	case EventExit:
		return "EXIT"
	case EventDispose:
		return "DISPOSE"
	case EventPing:
		return "PING"
	case EventAliveTimeout:
		return "ALIVE_TIMEOUT"
	}
	return "UNKNOWN"
}

// Payload carries event data: the worker handle on SPAWNED_WORKER and the
// status on EXIT.
type Payload struct {
	Worker    string
	Code      int
	GotSignal bool
}

type transitionKey struct {
	from State
	ev   Event
}

// DISPOSE is also accepted from every other non-terminal state; Send
// handles that outside the table.
var transitions = map[transitionKey]State{
	{StateLoading, EventSpawningWorker}:       StateLoading,
	{StateLoading, EventSpawnedWorker}:        StateLoading,
	{StateLoading, EventCreatedProcess}:       StateRunningAlive,
	{StateLoading, EventCreatedProcessWorker}: StateRunningAlive,
	{StateLoading, EventExit}:                 StateDone,
	{StateRunningAlive, EventPing}:            StateRunningPing,
	{StateRunningAlive, EventAliveTimeout}:    StateDone,
	{StateRunningAlive, EventExit}:            StateDone,
	{StateRunningPing, EventExit}:             StateDone,
	{StateDone, EventDispose}:                 StateDisposed,
}

// TimedOutStatus is reported when a process misses the alive deadline.
var TimedOutStatus = process.ExitStatus{StatusCode: 124, GotSignal: true}

// KilledStatus is reported when a process is disposed before it exited.
var KilledStatus = process.ExitStatus{StatusCode: 137, GotSignal: true}

// MachineOptions configures a Machine.
type MachineOptions struct {
	// AliveTimeout bounds the gap between liveness signals while running.
	// Zero disables the timeout.
	AliveTimeout time.Duration

	// OnEnter runs after every transition, outside the machine lock.
	OnEnter func(m *Machine, from, to State)

	Logger *logging.Logger
}

// Machine sequences one process through spawn, liveness and disposal.
type Machine struct {
	pid     int
	timeout time.Duration
	onEnter func(m *Machine, from, to State)
	logger  *logging.Logger

	mu     sync.Mutex
	state  State
	status process.ExitStatus
	worker string
	timer  *time.Timer
	gen    uint64
	subs   map[int]chan State
	nextID int
	done   chan struct{}
}

// NewMachine creates a machine in the loading state.
func NewMachine(pid int, opts MachineOptions) *Machine {
	return &Machine{
		pid:     pid,
		timeout: opts.AliveTimeout,
		onEnter: opts.OnEnter,
		logger:  logging.OrNop(opts.Logger).Named("machine").ForProcess(pid),
		state:   StateLoading,
		subs:    make(map[int]chan State),
		done:    make(chan struct{}),
	}
}

func (m *Machine) Pid() int { return m.pid }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the recorded exit status. It is meaningful once Done is
// closed.
func (m *Machine) Status() process.ExitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Worker returns the worker handle recorded on SPAWNED_WORKER.
func (m *Machine) Worker() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.worker
}

// Done is closed when the machine first enters done or disposed.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Subscribe streams every state entered from now on. The stream is lossy
// for slow readers; call the returned func to stop.
func (m *Machine) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan State, 8)
	key := m.nextID
	m.nextID++
	m.subs[key] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, key)
	}
}

// Send applies ev. It reports the resulting state and whether the event was
// accepted; events with no transition from the current state are ignored.
func (m *Machine) Send(ev Event, payload Payload) (State, bool) {
	return m.send(ev, payload, 0)
}

func (m *Machine) send(ev Event, payload Payload, gen uint64) (State, bool) {
	m.mu.Lock()

	// a timeout armed for an earlier running.alive entry is stale
	if ev == EventAliveTimeout && gen != 0 && gen != m.gen {
		state := m.state
		m.mu.Unlock()
		return state, false
	}

	from := m.state
	var to State
	switch {
	case ev == EventDispose && from != StateDisposed:
		to = StateDisposed
	default:
		next, ok := transitions[transitionKey{from, ev}]
		if !ok {
			m.mu.Unlock()
			m.logger.Debug("event ignored", zap.Stringer("state", from), zap.Stringer("event", ev))
			return from, false
		}
		to = next
	}

	m.exit(from)
	m.enter(to, ev, payload)
	entered := []State{to}

	// running.ping immediately returns to running.alive
	if to == StateRunningPing {
		m.exit(StateRunningPing)
		m.enter(StateRunningAlive, ev, payload)
		entered = append(entered, StateRunningAlive)
	}

	final := m.state
	for _, s := range entered {
		m.publish(s)
	}
	m.mu.Unlock()

	if m.onEnter != nil {
		prev := from
		for _, s := range entered {
			m.onEnter(m, prev, s)
			prev = s
		}
	}
	return final, true
}

// exit runs the exit action of s. Callers hold m.mu.
func (m *Machine) exit(s State) {
	if s == StateRunningAlive && m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// enter runs the entry action of s. Callers hold m.mu.
func (m *Machine) enter(s State, ev Event, payload Payload) {
	m.state = s

	switch s {
	case StateLoading:
		if ev == EventSpawnedWorker && payload.Worker != "" {
			m.worker = payload.Worker
		}

	case StateRunningAlive:
		m.gen++
		if m.timeout > 0 {
			gen := m.gen
			m.timer = time.AfterFunc(m.timeout, func() {
				m.send(EventAliveTimeout, Payload{}, gen)
			})
		}

	case StateDone:
		switch ev {
		case EventAliveTimeout:
			m.status = TimedOutStatus
			m.logger.Warn("process missed alive deadline", zap.Duration("timeout", m.timeout))
		default:
			m.status = process.ExitStatus{StatusCode: payload.Code, GotSignal: payload.GotSignal}
		}
		m.resolve()

	case StateDisposed:
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		select {
		case <-m.done:
		default:
			m.status = KilledStatus
			m.resolve()
		}
	}
}

func (m *Machine) resolve() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *Machine) publish(s State) {
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
