package ops

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webkernel/internal/pipe"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
	"github.com/GriffinCanCode/webkernel/internal/vfs/fifofs"
)

const (
	// DefaultReadSize is how much op_read returns when no size is given.
	DefaultReadSize = 16 * 1024
	// MaxReadSize caps a single op_read.
	MaxReadSize = 1 << 20

	DefaultFifoPrefix = "/dev/pipe"
)

// Options wires the host services ops reach beyond the process itself.
type Options struct {
	// HTTP performs op_fetch_send. Nil gets a default client.
	HTTP    *resty.Client
	Breaker *resilience.Breaker

	// Fifos backs op_mkfifo; it must be mounted at FifoPrefix.
	Fifos      *fifofs.FS
	FifoPrefix string

	PipeCapacity int
	Logger       *logging.Logger
}

type host struct {
	opts   Options
	logger *logging.Logger
}

// New returns the host op set in registration order.
func New(opts Options) []process.Op {
	if opts.HTTP == nil {
		opts.HTTP = NewHTTPClient(FetchConfig{})
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.Fetch(opts.Logger)
	}
	if opts.FifoPrefix == "" {
		opts.FifoPrefix = DefaultFifoPrefix
	}
	if opts.PipeCapacity <= 0 {
		opts.PipeCapacity = pipe.DefaultCapacity
	}
	h := &host{opts: opts, logger: logging.OrNop(opts.Logger).Named("ops")}

	return []process.Op{
		syncOp("op_exit", h.exit),
		syncOp("op_pid", h.pid),
		syncOp("op_ppid", h.ppid),
		syncOp("op_args", h.args),
		syncOp("op_cwd", h.cwd),
		syncOp("op_chdir", h.chdir),
		syncOp("op_env", h.env),
		syncOp("op_set_env", h.setEnv),
		syncOp("op_unset_env", h.unsetEnv),

		syncOp("op_open", h.open),
		blockingOp("op_read", h.read),
		blockingOp("op_write", h.write),
		syncOp("op_seek", h.seek),
		syncOp("op_close", h.close),
		syncOp("op_fstat", h.fstat),
		syncOp("op_ftruncate", h.ftruncate),
		syncOp("op_fsync", h.fsync),

		syncOp("op_stat", h.stat),
		syncOp("op_lstat", h.lstat),
		syncOp("op_mkdir", h.mkdir),
		syncOp("op_readdir", h.readdir),
		syncOp("op_unlink", h.unlink),
		syncOp("op_rmdir", h.rmdir),
		syncOp("op_remove", h.remove),
		syncOp("op_rename", h.rename),
		blockingOp("op_read_file", h.readFile),
		blockingOp("op_write_file", h.writeFile),
		syncOp("op_truncate", h.truncate),
		syncOp("op_exists", h.exists),
		syncOp("op_realpath", h.realpath),
		syncOp("op_symlink", h.symlink),
		syncOp("op_readlink", h.readlink),
		syncOp("op_chmod", h.chmod),
		syncOp("op_utimes", h.utimes),
		syncOp("op_glob", h.glob),
		syncOp("op_mount_list", h.mountList),

		syncOp("op_pipe", h.pipe),
		syncOp("op_mkfifo", h.mkfifo),
		syncOp("op_dup", h.dup),

		syncOp("op_spawn", h.spawn),
		blockingOp("op_wait", h.wait),
		syncOp("op_kill", h.kill),

		syncOp("op_listen", h.listen),
		blockingOp("op_accept", h.accept),
		blockingOp("op_connect", h.connect),
		syncOp("op_shutdown", h.shutdown),

		syncOp("op_decoder_new", h.decoderNew),
		syncOp("op_decoder_decode", h.decoderDecode),

		syncOp("op_fetch_request", h.fetchRequest),
		blockingOp("op_fetch_send", h.fetchSend),
		syncOp("op_fetch_meta", h.fetchMeta),

		syncOp("op_console_size", h.consoleSize),
	}
}

// Table builds the default op table.
func Table(opts Options) (*process.OpTable, error) {
	return process.NewOpTable(New(opts)...)
}

func syncOp(name string, fn process.SyncFunc) process.Op {
	return process.Op{Name: name, Sync: fn}
}

// blockingOp has both forms. The sync form blocks the caller until the
// process exits at the latest.
func blockingOp(name string, fn process.AsyncFunc) process.Op {
	return process.Op{
		Name: name,
		Sync: func(p *process.Process, a, b any) (any, error) {
			return fn(p.Context(), p, a, b)
		},
		Async: fn,
	}
}

func fsOf(op string, p *process.Process) (*vfs.Mountable, error) {
	k := p.Kernel()
	if k == nil || k.FS() == nil {
		return nil, syserr.Errorf(syserr.NotSupported, op, "no filesystem attached")
	}
	return k.FS(), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
