// Package programs holds the builtin commands a kernel can spawn. Every
// command is a guest.Program and reaches the kernel only through guest.Sys.
package programs

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/GriffinCanCode/webkernel/internal/guest"
)

// Exit statuses shared by the builtins.
const (
	ExitOK    = 0
	ExitFail  = 1
	ExitUsage = 2
)

// Register binds every builtin into reg. js runs on pool and is left out
// when pool is nil.
func Register(reg *guest.Registry, pool *guest.Pool) {
	reg.RegisterFunc("echo", Echo)
	reg.RegisterFunc("cat", Cat)
	reg.RegisterFunc("true", func(context.Context, *guest.Sys) int { return ExitOK })
	reg.RegisterFunc("false", func(context.Context, *guest.Sys) int { return ExitFail })
	reg.RegisterFunc("sleep", Sleep)
	reg.RegisterFunc("pwd", Pwd)
	reg.RegisterFunc("env", Env)
	reg.RegisterFunc("ls", Ls)
	reg.RegisterFunc("mkdir", Mkdir)
	reg.RegisterFunc("rm", Rm)
	if pool != nil {
		reg.Register("js", JS{Pool: pool})
	}
}

// Builtins returns a registry holding every builtin.
func Builtins(pool *guest.Pool) *guest.Registry {
	reg := guest.NewRegistry()
	Register(reg, pool)
	return reg
}

// cmd is the per-invocation state of a builtin.
type cmd struct {
	ctx    context.Context
	sys    *guest.Sys
	name   string
	args   []string
	stdout io.Writer
	stderr io.Writer
}

func newCmd(ctx context.Context, sys *guest.Sys) (*cmd, error) {
	argv, err := sys.Args()
	if err != nil {
		return nil, err
	}
	c := &cmd{
		ctx:    ctx,
		sys:    sys,
		name:   "?",
		stdout: sys.Writer(ctx, guest.Stdout),
		stderr: sys.Writer(ctx, guest.Stderr),
	}
	if len(argv) > 0 {
		c.name, c.args = argv[0], argv[1:]
	}
	return c, nil
}

// flags returns a flag set that reports to stderr.
func (c *cmd) flags() *flag.FlagSet {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parse reports a usage error as an exit status.
func (c *cmd) parse(fs *flag.FlagSet) (int, bool) {
	if err := fs.Parse(c.args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK, false
		}
		return ExitUsage, false
	}
	return ExitOK, true
}

// fail prints "name: err" to stderr.
func (c *cmd) fail(err error) int {
	fmt.Fprintf(c.stderr, "%s: %v\n", c.name, err)
	return ExitFail
}

func (c *cmd) failf(format string, args ...any) int {
	return c.fail(fmt.Errorf(format, args...))
}

// run wraps a builtin body with argument setup.
func run(ctx context.Context, sys *guest.Sys, body func(c *cmd) int) int {
	c, err := newCmd(ctx, sys)
	if err != nil {
		return ExitFail
	}
	return body(c)
}
