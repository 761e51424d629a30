package kernel

import (
	"context"

	"github.com/mitchellh/mapstructure"

	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/transport"
)

// rpc is the "kernel" object: process control for other contexts.
func (k *Kernel) rpc() transport.Methods {
	return transport.Methods{
		"spawn": func(ctx context.Context, args []any) (any, error) {
			desc, err := spawnArg(args)
			if err != nil {
				return nil, err
			}
			return k.Spawn(ctx, desc)
		},
		"wait": func(ctx context.Context, args []any) (any, error) {
			var pid int
			if err := decodeArg("wait", args, 0, &pid); err != nil {
				return nil, err
			}
			return k.procs.WaitFor(ctx, pid)
		},
		"kill": func(_ context.Context, args []any) (any, error) {
			var pid, sig int
			if err := decodeArg("kill", args, 0, &pid); err != nil {
				return nil, err
			}
			sig = 15
			if len(args) > 1 {
				if err := decodeArg("kill", args, 1, &sig); err != nil {
					return nil, err
				}
			}
			return nil, k.procs.Kill(pid, sig)
		},
		"procs": func(context.Context, []any) (any, error) {
			return k.procs.List(), nil
		},
		"mounts": func(context.Context, []any) (any, error) {
			return k.fs.Mounts(), nil
		},
	}
}

func spawnArg(args []any) (process.SpawnDescriptor, error) {
	var desc process.SpawnDescriptor
	if len(args) > 0 {
		if d, ok := args[0].(process.SpawnDescriptor); ok {
			desc = d
		}
	}
	if desc.Cmd == nil {
		if err := decodeArg("spawn", args, 0, &desc); err != nil {
			return desc, err
		}
	}
	if len(desc.Cmd) == 0 {
		return desc, syserr.Errorf(syserr.InvalidArgument, "spawn", "empty command")
	}
	return desc, nil
}

func decodeArg(method string, args []any, i int, out any) error {
	if i >= len(args) {
		return syserr.Errorf(syserr.InvalidArgument, method, "missing argument %d", i)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args[i]); err != nil {
		return syserr.Wrap(syserr.InvalidArgument, method, "", err)
	}
	return nil
}
