package ops

import (
	"context"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

func (h *host) exit(p *process.Process, a, _ any) (any, error) {
	code, err := toIntOr("exit", a, 0)
	if err != nil {
		return nil, err
	}
	p.Exit(int(code))
	return nil, nil
}

func (h *host) pid(p *process.Process, _, _ any) (any, error) { return p.Pid(), nil }

func (h *host) ppid(p *process.Process, _, _ any) (any, error) { return p.ParentPid(), nil }

func (h *host) args(p *process.Process, _, _ any) (any, error) { return p.Args(), nil }

func (h *host) cwd(p *process.Process, _, _ any) (any, error) { return p.Cwd(), nil }

func (h *host) chdir(p *process.Process, a, _ any) (any, error) {
	name, err := toPath("chdir", a)
	if err != nil {
		return nil, err
	}
	fsys, err := fsOf("chdir", p)
	if err != nil {
		return nil, err
	}

	dir := p.Resolve(name)
	st, err := fsys.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, syserr.New(syserr.NotADirectory, "chdir", dir)
	}
	p.SetCwd(dir)
	return nil, nil
}

func (h *host) env(p *process.Process, a, _ any) (any, error) {
	if a == nil {
		return p.Env(), nil
	}
	key, err := toString("env", a)
	if err != nil {
		return nil, err
	}
	v, ok := p.Getenv(key)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (h *host) setEnv(p *process.Process, a, b any) (any, error) {
	key, err := toString("set_env", a)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, invalid("set_env", "empty variable name")
	}
	value, err := toStringOr("set_env", b, "")
	if err != nil {
		return nil, err
	}
	p.Setenv(key, value)
	return nil, nil
}

func (h *host) unsetEnv(p *process.Process, a, _ any) (any, error) {
	key, err := toString("unset_env", a)
	if err != nil {
		return nil, err
	}
	p.Unsetenv(key)
	return nil, nil
}

func controllerOf(op string, p *process.Process) (process.Controller, error) {
	k := p.Kernel()
	if k == nil || k.Procs() == nil {
		return nil, syserr.Errorf(syserr.NotSupported, op, "no process manager attached")
	}
	return k.Procs(), nil
}

// spawn takes a descriptor object, or an argv array with options in b.
func (h *host) spawn(p *process.Process, a, b any) (any, error) {
	var desc process.SpawnDescriptor
	switch v := a.(type) {
	case []any, []string:
		if err := decodeOptions("spawn", b, &desc); err != nil {
			return nil, err
		}
		if err := decodeOptions("spawn", map[string]any{"cmd": v}, &desc); err != nil {
			return nil, err
		}
	default:
		if err := decodeOptions("spawn", a, &desc); err != nil {
			return nil, err
		}
	}
	if len(desc.Cmd) == 0 {
		return nil, invalid("spawn", "empty command")
	}
	if desc.ParentPid == 0 {
		desc.ParentPid = p.Pid()
	}
	if desc.Cwd != "" {
		desc.Cwd = p.Resolve(desc.Cwd)
	}

	procs, err := controllerOf("spawn", p)
	if err != nil {
		return nil, err
	}
	return procs.Spawn(p.Context(), desc)
}

func (h *host) wait(ctx context.Context, p *process.Process, a, _ any) (any, error) {
	pid, err := toInt("wait", a)
	if err != nil {
		return nil, err
	}
	procs, err := controllerOf("wait", p)
	if err != nil {
		return nil, err
	}
	return procs.WaitFor(ctx, int(pid))
}

func (h *host) kill(p *process.Process, a, b any) (any, error) {
	pid, err := toInt("kill", a)
	if err != nil {
		return nil, err
	}
	sig, err := toIntOr("kill", b, 15)
	if err != nil {
		return nil, err
	}
	procs, err := controllerOf("kill", p)
	if err != nil {
		return nil, err
	}
	return nil, procs.Kill(int(pid), int(sig))
}
