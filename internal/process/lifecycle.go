package process

import (
	"context"

	"github.com/GriffinCanCode/webkernel/internal/netsim"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

// EventType is a lifecycle notification kind.
type EventType int

const (
	EventSpawned EventType = iota
	EventAlive
	EventExited
)

func (t EventType) String() string {
	switch t {
	case EventSpawned:
		return "spawned"
	case EventAlive:
		return "alive"
	case EventExited:
		return "exited"
	}
	return "unknown"
}

// Event is what a process tells its manager. Code and GotSignal are set on
// EventExited.
type Event struct {
	Type      EventType
	Pid       int
	Code      int
	GotSignal bool
}

// ExitStatus is the terminal status of a process.
type ExitStatus struct {
	StatusCode int  `json:"statusCode"`
	GotSignal  bool `json:"gotSignal"`
}

// Stdio values besides a path.
const (
	StdioInherit = "inherit"
	StdioPiped   = "piped"
	StdioNull    = "null"
)

// SpawnDescriptor describes a process to start. Stdin, Stdout and Stderr are
// a path or one of StdioInherit, StdioPiped, StdioNull.
type SpawnDescriptor struct {
	Cmd       []string          `json:"cmd" mapstructure:"cmd"`
	Cwd       string            `json:"cwd,omitempty" mapstructure:"cwd"`
	Env       map[string]string `json:"env,omitempty" mapstructure:"env"`
	ParentPid int               `json:"parentPid,omitempty" mapstructure:"parentPid"`
	Stdin     string            `json:"stdin,omitempty" mapstructure:"stdin"`
	Stdout    string            `json:"stdout,omitempty" mapstructure:"stdout"`
	Stderr    string            `json:"stderr,omitempty" mapstructure:"stderr"`
}

// SpawnResult reports the new pid and the resolved stdio paths; piped
// streams name the fifo allocated for them.
type SpawnResult struct {
	Pid    int    `json:"pid"`
	Stdin  string `json:"stdin"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Controller is the process manager as ops see it.
type Controller interface {
	Spawn(ctx context.Context, desc SpawnDescriptor) (SpawnResult, error)
	WaitFor(ctx context.Context, pid int) (ExitStatus, error)
	Kill(pid, signal int) error
}

// Kernel is the privileged surface an op body reaches through its process.
type Kernel interface {
	FS() *vfs.Mountable
	Net() *netsim.Network
	Procs() Controller
}

// Main is a program entry point run as a process's top-level command.
type Main func(ctx context.Context, p *Process) int

// Launcher resolves a command name to a program.
type Launcher interface {
	Lookup(name string) (Main, bool)
}
