package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

// SafeExecutor prepares child commands and tracks how many are in flight.
type SafeExecutor struct {
	logger   *slog.Logger
	launched atomic.Int64
	active   atomic.Int32
}

// NewSafeExecutor creates a safe executor. A nil logger discards output.
func NewSafeExecutor(logger *slog.Logger) *SafeExecutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SafeExecutor{logger: logger}
}

// Launched returns the number of commands prepared so far.
func (e *SafeExecutor) Launched() int64 { return e.launched.Load() }

// Active returns the number of commands whose pipes are still open.
func (e *SafeExecutor) Active() int { return int(e.active.Load()) }

// Preflight checks that the command's executable can be resolved.
func (e *SafeExecutor) Preflight(cmd *exec.Cmd) error {
	if cmd.Err != nil {
		return core.ErrToolUnavailable(filepath.Base(cmd.Path), cmd.Err.Error()).WithCause(cmd.Err)
	}
	info, err := os.Stat(cmd.Path)
	if err != nil {
		return core.ErrToolUnavailable(filepath.Base(cmd.Path), "executable not found").WithCause(err)
	}
	if info.IsDir() {
		return core.ErrToolUnavailable(filepath.Base(cmd.Path), "executable is a directory")
	}
	return nil
}

// PipeSet holds the standard streams of a prepared command.
type PipeSet struct {
	Stdin   io.WriteCloser
	Stdout  io.ReadCloser
	Stderr  io.ReadCloser
	cleanup func()
	cleaned bool
}

// Cleanup closes the pipes. Safe to call multiple times.
func (p *PipeSet) Cleanup() {
	if p.cleaned {
		return
	}
	p.cleaned = true
	if p.cleanup != nil {
		p.cleanup()
	}
}

// PrepareCommand sets up stdout and stderr pipes for cmd.
// The returned Cleanup MUST be called even if Start() fails.
//
//	pipes, err := executor.PrepareCommand(cmd)
//	if err != nil {
//	    return err
//	}
//	defer pipes.Cleanup()
func (e *SafeExecutor) PrepareCommand(cmd *exec.Cmd) (*PipeSet, error) {
	return e.prepare(cmd, false)
}

// PrepareInteractive is PrepareCommand plus a stdin pipe.
func (e *SafeExecutor) PrepareInteractive(cmd *exec.Cmd) (*PipeSet, error) {
	return e.prepare(cmd, true)
}

func (e *SafeExecutor) prepare(cmd *exec.Cmd, withStdin bool) (*PipeSet, error) {
	e.launched.Add(1)
	e.active.Add(1)

	var closers []io.Closer
	fail := func(what string, err error) (*PipeSet, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		e.active.Add(-1)
		return nil, fmt.Errorf("creating %s pipe: %w", what, err)
	}

	pipes := &PipeSet{}
	if withStdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fail("stdin", err)
		}
		pipes.Stdin = stdin
		closers = append(closers, stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail("stdout", err)
	}
	pipes.Stdout = stdout
	closers = append(closers, stdout)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail("stderr", err)
	}
	pipes.Stderr = stderr
	closers = append(closers, stderr)

	pipes.cleanup = func() {
		// After Start()+Wait() the exec package already closed the read ends.
		for _, c := range closers {
			_ = c.Close()
		}
		e.active.Add(-1)
	}

	e.logger.Debug("command prepared", "path", cmd.Path, "args", cmd.Args[1:])
	return pipes, nil
}
