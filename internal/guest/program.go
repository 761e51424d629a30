package guest

import (
	"context"
	"sort"
	"sync"

	"github.com/GriffinCanCode/webkernel/internal/process"
)

// Program is guest code that reaches the kernel only through Sys.
type Program interface {
	Run(ctx context.Context, sys *Sys) int
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx context.Context, sys *Sys) int

func (f ProgramFunc) Run(ctx context.Context, sys *Sys) int { return f(ctx, sys) }

// Registry maps command names to programs. It is the process manager's
// Launcher.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]Program
}

func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]Program)}
}

// Register adds or replaces a program.
func (r *Registry) Register(name string, p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[name] = p
}

func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, sys *Sys) int) {
	r.Register(name, ProgramFunc(fn))
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.programs))
	for name := range r.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the program bound as a process entry point.
func (r *Registry) Lookup(name string) (process.Main, bool) {
	r.mu.RLock()
	prog, ok := r.programs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, p *process.Process) int {
		return prog.Run(ctx, NewSys(p))
	}, true
}
