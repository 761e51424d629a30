package programs

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/webkernel/internal/guest"
)

// JS runs a script file, or inline code with -e, on a pooled runtime.
// -p prints the script's final value as JSON.
type JS struct {
	Pool *guest.Pool
}

func (j JS) Run(ctx context.Context, sys *guest.Sys) int {
	return run(ctx, sys, func(c *cmd) int {
		fset := c.flags()
		inline := fset.String("e", "", "evaluate `code` instead of a file")
		show := fset.Bool("p", false, "print the result")
		if code, ok := c.parse(fset); !ok {
			return code
		}

		script := *inline
		if script == "" {
			if fset.NArg() == 0 {
				return c.failf("usage: js [-p] <script> | js [-p] -e <code>")
			}
			src, err := sys.ReadFile(ctx, fset.Arg(0))
			if err != nil {
				return c.fail(err)
			}
			script = string(src)
		}

		result, err := j.Pool.Run(ctx, sys.Caller(), script)
		if err != nil {
			return c.fail(err)
		}
		if *show {
			out, err := sonic.Marshal(result)
			if err != nil {
				return c.fail(fmt.Errorf("result: %w", err))
			}
			if err := sys.WriteString(ctx, guest.Stdout, string(out)+"\n"); err != nil {
				return c.fail(err)
			}
		}
		return ExitOK
	})
}
