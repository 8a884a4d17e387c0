package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/inprocess"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/worker"
)

// SignalFunc delivers a lifecycle signal raised while a run is in flight.
// proc is nil until the worker exists.
type SignalFunc func(ctx context.Context, signal core.Signal, extra bool, proc *os.Process)

// LaunchRequest describes one worker run.
type LaunchRequest struct {
	Env      worker.Env
	JobEnv   map[string]string
	OnSignal SignalFunc
}

// RunOutcome is what a finished worker reported.
type RunOutcome struct {
	Results   *core.Results
	InProcess []string
}

// Launcher executes one run of a case and raises its process signals.
// Implementations raise BeforeProcessStart before spawning and
// AfterProcessExit once the worker is gone, even when the run failed.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (*RunOutcome, error)
}

// ExecLauncher runs each case in a child process.
type ExecLauncher struct {
	Command  []string
	Env      map[string]string
	Timeout  time.Duration
	Executor *diagnostics.SafeExecutor
	Logger   *logging.Logger
}

// NewExecLauncher returns a launcher for argv. An empty argv runs this
// executable's hidden worker command.
func NewExecLauncher(argv []string, timeout time.Duration, executor *diagnostics.SafeExecutor, logger *logging.Logger) (*ExecLauncher, error) {
	if len(argv) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving worker executable: %w", err)
		}
		argv = []string{self, "worker"}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if executor == nil {
		executor = diagnostics.NewSafeExecutor(logger.Slog())
	}
	return &ExecLauncher{
		Command:  argv,
		Timeout:  timeout,
		Executor: executor,
		Logger:   logger,
	}, nil
}

// Launch spawns the worker and drives it to completion.
func (l *ExecLauncher) Launch(ctx context.Context, req LaunchRequest) (*RunOutcome, error) {
	env, err := req.Env.Environ()
	if err != nil {
		return nil, err
	}
	logger := l.Logger.WithCase(req.Env.CaseID).With("run", req.Env.Run)

	cmd := exec.Command(l.Command[0], l.Command[1:]...)
	diagnostics.ConfigureProcAttr(cmd)
	cmd.Env = append(os.Environ(), env...)
	for k, v := range l.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range req.JobEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if err := l.Executor.Preflight(cmd); err != nil {
		return nil, err
	}

	req.OnSignal(ctx, core.SignalBeforeProcessStart, false, nil)

	pipes, err := l.Executor.PrepareInteractive(cmd)
	if err != nil {
		req.OnSignal(ctx, core.SignalAfterProcessExit, false, nil)
		return nil, err
	}
	defer pipes.Cleanup()

	if err := cmd.Start(); err != nil {
		req.OnSignal(ctx, core.SignalAfterProcessExit, false, nil)
		return nil, core.ErrCollection(core.CodeWorkerFailed, "starting worker").WithCause(err)
	}
	proc := cmd.Process
	logger.Debug("worker started", "pid", proc.Pid)

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if l.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, l.Timeout)
	}
	defer cancel()
	stopKill := context.AfterFunc(runCtx, func() {
		if err := diagnostics.KillProcessTree(proc.Pid); err != nil {
			logger.Warn("failed to kill worker", "pid", proc.Pid, "error", err)
		}
	})
	defer stopKill()

	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(pipes.Stderr)
		for scanner.Scan() {
			logger.Debug("worker stderr", "line", scanner.Text())
		}
		return nil
	})

	outcome, protoErr := drive(runCtx, pipes.Stdout, pipes.Stdin, req.OnSignal, proc, logger)
	if protoErr != nil {
		_ = diagnostics.KillProcessTree(proc.Pid)
		_, _ = io.Copy(io.Discard, pipes.Stdout)
	}
	_ = g.Wait()
	waitErr := cmd.Wait()

	req.OnSignal(ctx, core.SignalAfterProcessExit, false, proc)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return outcome, core.ErrTimeout(fmt.Sprintf("worker exceeded %s", l.Timeout))
	case ctx.Err() != nil:
		return outcome, ctx.Err()
	case protoErr != nil:
		return outcome, protoErr
	case waitErr != nil:
		return outcome, core.ErrCollection(core.CodeWorkerFailed, "worker exited abnormally").WithCause(waitErr)
	case outcome.Results == nil:
		return outcome, core.ErrContract(core.CodeProtocol, "worker exited without reporting results")
	}
	return outcome, nil
}

// drive reads worker output until EOF. Signal markers are handed to onSignal
// and acknowledged, in-process result lines are collected and the results
// marker is decoded. Anything else is worker chatter.
func drive(ctx context.Context, r io.Reader, ack io.Writer, onSignal SignalFunc, proc *os.Process, logger *logging.Logger) (*RunOutcome, error) {
	out := &RunOutcome{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if s, extra, ok, err := worker.ParseSignal(line); ok {
			if err != nil {
				return out, core.ErrContract(core.CodeProtocol, "malformed signal marker").WithCause(err)
			}
			if s != core.SignalBeforeMeasuredRun && s != core.SignalAfterMeasuredRun {
				return out, core.ErrContract(core.CodeProtocol,
					fmt.Sprintf("worker may not raise %s", s))
			}
			onSignal(ctx, s, extra, proc)
			if _, err := io.WriteString(ack, worker.Ack+"\n"); err != nil {
				return out, fmt.Errorf("acknowledging %s: %w", s, err)
			}
			continue
		}

		if inprocess.IsResult(line) {
			out.InProcess = append(out.InProcess, line)
			continue
		}

		if results, ok, err := worker.ParseResults(line); ok {
			if err != nil {
				return out, core.ErrContract(core.CodeProtocol, "malformed results marker").WithCause(err)
			}
			out.Results = results
			continue
		}

		logger.Debug("worker output", "line", line)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("reading worker output: %w", err)
	}
	return out, nil
}

// LocalLauncher runs in-process jobs inside the harness itself. The process
// handed to diagnosers is the harness process.
type LocalLauncher struct {
	Handlers *inprocess.Registry
	Logger   *logging.Logger
}

// NewLocalLauncher returns a launcher hosting workers in-process.
func NewLocalLauncher(handlers *inprocess.Registry, logger *logging.Logger) *LocalLauncher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalLauncher{Handlers: handlers, Logger: logger}
}

// Launch serves the run on a goroutine connected through pipes.
func (l *LocalLauncher) Launch(ctx context.Context, req LaunchRequest) (*RunOutcome, error) {
	logger := l.Logger.WithCase(req.Env.CaseID).With("run", req.Env.Run)
	self, err := os.FindProcess(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("finding own process: %w", err)
	}

	req.OnSignal(ctx, core.SignalBeforeProcessStart, false, nil)

	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	w := worker.New(req.Env, l.Handlers, inR, outW, logger)

	served := make(chan error, 1)
	go func() {
		err := w.Serve(ctx)
		_ = outW.Close()
		served <- err
	}()

	outcome, protoErr := drive(ctx, outR, inW, req.OnSignal, self, logger)
	if protoErr != nil {
		_ = outR.CloseWithError(protoErr)
	}
	_ = inW.Close()
	serveErr := <-served

	req.OnSignal(ctx, core.SignalAfterProcessExit, false, self)

	switch {
	case protoErr != nil:
		return outcome, protoErr
	case serveErr != nil:
		return outcome, serveErr
	case outcome.Results == nil:
		return outcome, core.ErrContract(core.CodeProtocol, "worker finished without reporting results")
	}
	return outcome, nil
}
