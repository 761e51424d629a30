package guest

import (
	"context"
	"io"

	"github.com/GriffinCanCode/webkernel/internal/ops"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/vfs"
)

func (s *Sys) Pid() (int, error) {
	var pid int
	if err := s.CallInto(&pid, "op_pid", nil, nil); err != nil {
		return 0, err
	}
	return pid, nil
}

func (s *Sys) Args() ([]string, error) {
	var args []string
	if err := s.CallInto(&args, "op_args", nil, nil); err != nil {
		return nil, err
	}
	return args, nil
}

func (s *Sys) Cwd() (string, error) {
	var cwd string
	if err := s.CallInto(&cwd, "op_cwd", nil, nil); err != nil {
		return "", err
	}
	return cwd, nil
}

func (s *Sys) Chdir(dir string) error {
	_, err := s.Call("op_chdir", dir, nil)
	return err
}

// Getenv returns the value of key and whether it is set.
func (s *Sys) Getenv(key string) (string, bool, error) {
	v, err := s.Call("op_env", key, nil)
	if err != nil || v == nil {
		return "", false, err
	}
	var out string
	if err := decode(v, &out); err != nil {
		return "", false, err
	}
	return out, true, nil
}

// Environ returns the whole environment.
func (s *Sys) Environ() (map[string]string, error) {
	env := map[string]string{}
	if err := s.CallInto(&env, "op_env", nil, nil); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *Sys) Setenv(key, value string) error {
	_, err := s.Call("op_set_env", key, value)
	return err
}

func (s *Sys) Unsetenv(key string) error {
	_, err := s.Call("op_unset_env", key, nil)
	return err
}

// Open opens path with a mode string such as "r", "w" or "a+".
func (s *Sys) Open(path, mode string) (int, error) {
	var rid int
	if err := s.CallInto(&rid, "op_open", path, mode); err != nil {
		return 0, err
	}
	return rid, nil
}

// Read returns up to n bytes from rid; an empty result means end of stream.
func (s *Sys) Read(ctx context.Context, rid, n int) ([]byte, error) {
	v, err := s.CallAsync(ctx, "op_read", rid, n)
	if err != nil {
		return nil, err
	}
	var out []byte
	if err := decode(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAll reads rid until end of stream.
func (s *Sys) ReadAll(ctx context.Context, rid int) ([]byte, error) {
	var out []byte
	for {
		chunk, err := s.Read(ctx, rid, ops.DefaultReadSize)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

func (s *Sys) Write(ctx context.Context, rid int, p []byte) (int, error) {
	v, err := s.CallAsync(ctx, "op_write", rid, p)
	if err != nil {
		return 0, err
	}
	var n int
	if err := decode(v, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteString writes all of str to rid.
func (s *Sys) WriteString(ctx context.Context, rid int, str string) error {
	p := []byte(str)
	for len(p) > 0 {
		n, err := s.Write(ctx, rid, p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func (s *Sys) Close(rid int) error {
	_, err := s.Call("op_close", rid, nil)
	return err
}

// Writer adapts rid to an io.Writer bound to ctx.
func (s *Sys) Writer(ctx context.Context, rid int) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		if err := s.WriteString(ctx, rid, string(p)); err != nil {
			return 0, err
		}
		return len(p), nil
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func (s *Sys) Stat(path string) (ops.FileInfo, error) {
	var info ops.FileInfo
	if err := s.CallInto(&info, "op_stat", path, nil); err != nil {
		return ops.FileInfo{}, err
	}
	return info, nil
}

// Lstat is Stat without following a final symlink.
func (s *Sys) Lstat(path string) (ops.FileInfo, error) {
	var info ops.FileInfo
	if err := s.CallInto(&info, "op_lstat", path, nil); err != nil {
		return ops.FileInfo{}, err
	}
	return info, nil
}

func (s *Sys) Readlink(path string) (string, error) {
	var target string
	if err := s.CallInto(&target, "op_readlink", path, nil); err != nil {
		return "", err
	}
	return target, nil
}

func (s *Sys) Readdir(path string) ([]vfs.DirEntry, error) {
	var entries []vfs.DirEntry
	if err := s.CallInto(&entries, "op_readdir", path, nil); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Sys) Mkdir(path string, recursive bool) error {
	_, err := s.Call("op_mkdir", path, map[string]any{"recursive": recursive})
	return err
}

func (s *Sys) Remove(path string, recursive bool) error {
	_, err := s.Call("op_remove", path, map[string]any{"recursive": recursive})
	return err
}

func (s *Sys) ReadFile(ctx context.Context, path string) ([]byte, error) {
	v, err := s.CallAsync(ctx, "op_read_file", path, nil)
	if err != nil {
		return nil, err
	}
	var out []byte
	if err := decode(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Sys) WriteFile(ctx context.Context, path string, data []byte) error {
	_, err := s.CallAsync(ctx, "op_write_file", path, data)
	return err
}

// Spawn starts a child process.
func (s *Sys) Spawn(desc process.SpawnDescriptor) (process.SpawnResult, error) {
	arg := map[string]any{"cmd": desc.Cmd}
	if desc.Cwd != "" {
		arg["cwd"] = desc.Cwd
	}
	if len(desc.Env) > 0 {
		arg["env"] = desc.Env
	}
	if desc.ParentPid != 0 {
		arg["parentPid"] = desc.ParentPid
	}
	for key, v := range map[string]string{"stdin": desc.Stdin, "stdout": desc.Stdout, "stderr": desc.Stderr} {
		if v != "" {
			arg[key] = v
		}
	}

	var res process.SpawnResult
	if err := s.CallInto(&res, "op_spawn", arg, nil); err != nil {
		return process.SpawnResult{}, err
	}
	return res, nil
}

// Wait blocks until pid exits.
func (s *Sys) Wait(ctx context.Context, pid int) (process.ExitStatus, error) {
	var st process.ExitStatus
	v, err := s.CallAsync(ctx, "op_wait", pid, nil)
	if err != nil {
		return st, err
	}
	if err := decode(v, &st); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Sys) Kill(pid, signal int) error {
	_, err := s.Call("op_kill", pid, signal)
	return err
}

// Exit ends the calling process. Code after it should return promptly; the
// process context is already cancelled.
func (s *Sys) Exit(code int) error {
	_, err := s.Call("op_exit", code, nil)
	return err
}

func (s *Sys) ConsoleSize(rid int) (ops.ConsoleSize, error) {
	var size ops.ConsoleSize
	if err := s.CallInto(&size, "op_console_size", rid, nil); err != nil {
		return ops.ConsoleSize{}, err
	}
	return size, nil
}
