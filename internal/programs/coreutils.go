package programs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/webkernel/internal/guest"
	"github.com/GriffinCanCode/webkernel/internal/ops"
	"github.com/GriffinCanCode/webkernel/internal/process"
)

// Echo writes its arguments separated by spaces. -n drops the newline.
func Echo(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		fs := c.flags()
		noNewline := fs.Bool("n", false, "do not print the trailing newline")
		if code, ok := c.parse(fs); !ok {
			return code
		}
		out := strings.Join(fs.Args(), " ")
		if !*noNewline {
			out += "\n"
		}
		if err := sys.WriteString(ctx, guest.Stdout, out); err != nil {
			return c.fail(err)
		}
		return ExitOK
	})
}

// Cat copies each file, or stdin for "-" or no arguments, to stdout.
func Cat(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		files := c.args
		if len(files) == 0 {
			files = []string{"-"}
		}
		status := ExitOK
		for _, name := range files {
			if err := c.catOne(name); err != nil {
				c.fail(fmt.Errorf("%s: %w", name, err))
				status = ExitFail
			}
		}
		return status
	})
}

func (c *cmd) catOne(name string) error {
	rid := guest.Stdin
	if name != "-" {
		var err error
		if rid, err = c.sys.Open(name, "r"); err != nil {
			return err
		}
		defer c.sys.Close(rid)
	}
	for {
		chunk, err := c.sys.Read(c.ctx, rid, ops.DefaultReadSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if _, err := c.sys.Write(c.ctx, guest.Stdout, chunk); err != nil {
			return err
		}
	}
}

// Sleep pauses for the sum of its arguments, each in seconds or as a
// duration such as "250ms".
func Sleep(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		if len(c.args) == 0 {
			return c.failf("missing operand")
		}
		var total time.Duration
		for _, arg := range c.args {
			d, err := parseSleep(arg)
			if err != nil {
				return c.failf("invalid time interval %q", arg)
			}
			total += d
		}

		timer := time.NewTimer(total)
		defer timer.Stop()
		select {
		case <-timer.C:
			return ExitOK
		case <-ctx.Done():
			return ExitFail
		}
	})
}

func parseSleep(arg string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(arg, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative interval")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(arg)
	if err == nil && d < 0 {
		return 0, fmt.Errorf("negative interval")
	}
	return d, err
}

func Pwd(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		cwd, err := sys.Cwd()
		if err != nil {
			return c.fail(err)
		}
		if err := sys.WriteString(ctx, guest.Stdout, cwd+"\n"); err != nil {
			return c.fail(err)
		}
		return ExitOK
	})
}

// Env prints the environment. With leading NAME=VALUE arguments and a
// command it runs the command with those variables set and returns its
// status.
func Env(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		extra := map[string]string{}
		rest := c.args
		for len(rest) > 0 {
			key, value, ok := strings.Cut(rest[0], "=")
			if !ok || key == "" {
				break
			}
			extra[key] = value
			rest = rest[1:]
		}

		if len(rest) > 0 {
			res, err := sys.Spawn(process.SpawnDescriptor{Cmd: rest, Env: extra})
			if err != nil {
				return c.fail(err)
			}
			st, err := sys.Wait(ctx, res.Pid)
			if err != nil {
				return c.fail(err)
			}
			return st.StatusCode
		}

		env, err := sys.Environ()
		if err != nil {
			return c.fail(err)
		}
		for k, v := range extra {
			env[k] = v
		}
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s\n", k, env[k])
		}
		if err := sys.WriteString(ctx, guest.Stdout, b.String()); err != nil {
			return c.fail(err)
		}
		return ExitOK
	})
}
