package profiler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
)

const (
	eventQueueSize = 16

	// DefaultReadyTimeout bounds the wait for a collector's started phrase.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultStopTimeout bounds the wait for a collector to exit after interrupt.
	DefaultStopTimeout = 30 * time.Second

	finishedGrace   = time.Second
	killWait        = 5 * time.Second
	artifactTimeout = 2 * time.Second

	// Longer output lines are truncated in the collector log.
	maxLineBytes = 1 << 20
)

type collectorEvent int

const (
	eventReady collectorEvent = iota
	eventFinished
)

// CollectorOptions tune a Collector.
type CollectorOptions struct {
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	Executor     *diagnostics.SafeExecutor
	Logger       *logging.Logger

	// ArtifactTimeout bounds the poll for the artifact after the collector exits.
	ArtifactTimeout time.Duration
}

// StartParams are exposed to argument templates as .Artifact, .PID, .CaseID
// and .ReadyFile.
type StartParams struct {
	Artifact  string
	PID       int
	CaseID    string
	ReadyFile string
}

// Collector runs one external collector process for one case.
type Collector struct {
	spec    config.ToolSpec
	path    string
	opts    CollectorOptions
	logger  *logging.Logger
	machine *Machine

	cmd      *exec.Cmd
	artifact string

	events  chan collectorEvent
	exited  chan struct{}
	exitErr error
	quit    chan struct{}
	once    sync.Once

	logMu   sync.Mutex
	logFile *os.File
}

// Prepare checks the tool through the installer and returns an idle
// collector. On failure the returned machine is in the Failed state.
func Prepare(ctx context.Context, installer *Installer, tool string, opts CollectorOptions) (*Collector, *Machine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Executor == nil {
		opts.Executor = diagnostics.NewSafeExecutor(opts.Logger.Slog())
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.ArtifactTimeout <= 0 {
		opts.ArtifactTimeout = artifactTimeout
	}
	logger := opts.Logger.WithTool(tool)
	m := NewMachine(logger)

	if err := m.Fire(ctx, EventInstall); err != nil {
		return nil, m, err
	}
	path, err := installer.Ensure(ctx, tool)
	if err != nil {
		m.Fail(ctx, err)
		return nil, m, err
	}
	spec, err := installer.Catalog().Tool(tool)
	if err != nil {
		m.Fail(ctx, err)
		return nil, m, err
	}
	if err := m.Fire(ctx, EventInstalled); err != nil {
		return nil, m, err
	}

	return &Collector{
		spec:    spec,
		path:    path,
		opts:    opts,
		logger:  logger,
		machine: m,
		events:  make(chan collectorEvent, eventQueueSize),
		exited:  make(chan struct{}),
		quit:    make(chan struct{}),
	}, m, nil
}

// Machine returns the collector's state machine.
func (c *Collector) Machine() *Machine {
	return c.machine
}

// Artifact returns the artifact path the collector was started with.
func (c *Collector) Artifact() string {
	return c.artifact
}

// Start spawns the collector. It returns once the process runs; use
// AwaitReady to block until it reports that collection began.
func (c *Collector) Start(ctx context.Context, params StartParams) error {
	if err := c.machine.Fire(ctx, EventStart); err != nil {
		return err
	}
	c.artifact = params.Artifact
	if c.spec.ReadyFile && params.ReadyFile == "" {
		params.ReadyFile = params.Artifact + ".ready"
	}

	args, err := renderArgs(c.spec.Args, params)
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := os.MkdirAll(filepath.Dir(params.Artifact), 0o750); err != nil {
		return c.fail(ctx, fmt.Errorf("creating artifact directory: %w", err))
	}
	logFile, err := os.OpenFile(LogPath(params.Artifact), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("creating collector log: %w", err))
	}
	c.logFile = logFile

	var watcher *fsnotify.Watcher
	if params.ReadyFile != "" && c.spec.ReadyFile {
		_ = os.Remove(params.ReadyFile)
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return c.fail(ctx, fmt.Errorf("watching ready file: %w", err))
		}
		if err := watcher.Add(filepath.Dir(params.ReadyFile)); err != nil {
			_ = watcher.Close()
			return c.fail(ctx, fmt.Errorf("watching ready file: %w", err))
		}
	}

	// #nosec G204 -- path is the installed collector, args come from its spec
	cmd := exec.Command(c.path, args...)
	cmd.Env = toolEnv(c.spec)
	diagnostics.ConfigureProcAttr(cmd)

	if err := c.opts.Executor.Preflight(cmd); err != nil {
		closeWatcher(watcher)
		return c.fail(ctx, err)
	}
	pipes, err := c.opts.Executor.PrepareCommand(cmd)
	if err != nil {
		closeWatcher(watcher)
		return c.fail(ctx, err)
	}
	if err := cmd.Start(); err != nil {
		pipes.Cleanup()
		closeWatcher(watcher)
		return c.fail(ctx, fmt.Errorf("starting collector: %w", err))
	}
	c.cmd = cmd
	c.logger.Info("collector started", "pid", cmd.Process.Pid, "artifact", params.Artifact, "target_pid", params.PID)

	var g errgroup.Group
	g.Go(func() error { return c.drain(pipes.Stdout, "stdout") })
	g.Go(func() error { return c.drain(pipes.Stderr, "stderr") })
	go func() {
		readErr := g.Wait()
		c.exitErr = errors.Join(readErr, cmd.Wait())
		pipes.Cleanup()
		close(c.exited)
	}()
	if watcher != nil {
		go c.watchReady(watcher, filepath.Clean(params.ReadyFile))
	}

	return c.machine.Fire(ctx, EventSpawned)
}

// AwaitReady blocks until the collector reports readiness, exits, or the
// ready timeout expires. On any failure the collector is torn down and the
// machine fails; the caller proceeds without this collector's data.
func (c *Collector) AwaitReady(ctx context.Context) error {
	if c.spec.ReadyPhrase == "" && !c.spec.ReadyFile {
		return c.machine.Fire(ctx, EventReady)
	}

	timer := time.NewTimer(c.opts.ReadyTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-c.events:
			if ev == eventReady {
				c.logger.Debug("collector ready")
				return c.machine.Fire(ctx, EventReady)
			}
		case <-c.exited:
			if c.pendingReady() {
				return c.machine.Fire(ctx, EventReady)
			}
			c.closeLog()
			err := core.ErrCollection(core.CodeCollectorCrashed, "collector exited before reporting ready").
				WithCause(c.exitErr)
			c.machine.Fail(ctx, err)
			return err
		case <-timer.C:
			c.teardown()
			err := core.ErrTimeout(fmt.Sprintf("collector not ready after %v", c.opts.ReadyTimeout))
			err.Code = core.CodeReadyTimeout
			c.machine.Fail(ctx, err)
			return err
		case <-ctx.Done():
			c.teardown()
			c.machine.Fail(ctx, ctx.Err())
			return ctx.Err()
		}
	}
}

// Stop interrupts the collector and waits for it to exit or report that it
// finished. A collector that outlives the stop timeout has its whole process
// tree killed. The artifact path is returned only when the file exists, and
// err reports a forced kill or a missing artifact; both may be set.
func (c *Collector) Stop(ctx context.Context) (string, error) {
	if err := c.machine.Fire(ctx, EventStop); err != nil {
		return "", err
	}
	c.stopWatching()

	if err := diagnostics.Interrupt(c.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Debug("collector interrupt failed", "error", err)
	}

	var stopErr error
	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()
wait:
	for {
		select {
		case <-c.exited:
			break wait
		case ev := <-c.events:
			if ev != eventFinished {
				continue
			}
			select {
			case <-c.exited:
			case <-time.After(finishedGrace):
				c.logger.Debug("collector finished but still running, killing it")
				c.kill()
			}
			break wait
		case <-timer.C:
			c.logger.Error("collector did not stop in time, killing process tree",
				"timeout", c.opts.StopTimeout, "pid", c.cmd.Process.Pid)
			c.kill()
			e := core.ErrTimeout(fmt.Sprintf("collector did not stop within %v", c.opts.StopTimeout))
			e.Code = core.CodeStopTimeout
			stopErr = e
			break wait
		case <-ctx.Done():
			c.kill()
			stopErr = ctx.Err()
			break wait
		}
	}
	c.closeLog()

	if !c.awaitArtifact(ctx) {
		err := core.ErrCollection(core.CodeArtifactMissing, "collector produced no artifact").
			WithDetail("path", c.artifact)
		if stopErr != nil {
			err = err.WithCause(stopErr)
		}
		c.machine.Fail(ctx, err)
		return "", err
	}
	if err := c.machine.Fire(ctx, EventCollected); err != nil {
		return c.artifact, err
	}
	c.logger.Info("collector stopped", "artifact", c.artifact)
	return c.artifact, stopErr
}

// Abort kills a collector that is still running and fails the machine.
// It is a no-op once the machine is terminal.
func (c *Collector) Abort(cause error) {
	if c.machine.Terminal() {
		return
	}
	c.teardown()
	c.machine.Fail(context.Background(), cause)
}

// awaitArtifact polls briefly for the artifact; some collectors flush after
// their process exits.
func (c *Collector) awaitArtifact(ctx context.Context) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = c.opts.ArtifactTimeout
	err := backoff.Retry(func() error {
		if fsutil.Exists(c.artifact) {
			return nil
		}
		return errors.New("artifact not written yet")
	}, backoff.WithContext(b, ctx))
	return err == nil
}

func (c *Collector) drain(r io.Reader, stream string) error {
	reader := bufio.NewReader(r)
	var line []byte
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if len(chunk) > 0 && len(line) < maxLineBytes {
			line = append(line, chunk[:min(len(chunk), maxLineBytes-len(line))]...)
		}
		if err == nil && isPrefix {
			continue
		}
		if err == nil || len(line) > 0 {
			c.handleLine(stream, string(line))
			line = line[:0]
		}
		if err != nil {
			// The pipe closes abruptly when the collector is killed.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.logger.Warn("reading collector output", "stream", stream, "error", err)
			}
			return nil
		}
	}
}

func (c *Collector) handleLine(stream, line string) {
	c.writeLog(stream, line)
	if c.spec.ReadyPhrase != "" && strings.Contains(line, c.spec.ReadyPhrase) {
		c.emit(eventReady)
	}
	if c.spec.FinishedPhrase != "" && strings.Contains(line, c.spec.FinishedPhrase) {
		c.emit(eventFinished)
	}
}

func (c *Collector) watchReady(w *fsnotify.Watcher, target string) {
	defer closeWatcher(w)
	if _, err := os.Stat(target); err == nil {
		c.emit(eventReady)
		return
	}
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				c.emit(eventReady)
				return
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Debug("ready file watch error", "error", err)
		case <-c.exited:
			return
		case <-c.quit:
			return
		}
	}
}

// emit never blocks; matched events are rare and the queue outsizes them.
func (c *Collector) emit(ev collectorEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

// pendingReady consumes queued events and reports whether one was ready.
func (c *Collector) pendingReady() bool {
	for {
		select {
		case ev := <-c.events:
			if ev == eventReady {
				return true
			}
		default:
			return false
		}
	}
}

func (c *Collector) writeLog(stream, line string) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if c.logFile == nil {
		return
	}
	_, _ = fmt.Fprintf(c.logFile, "[%s] %s\n", stream, line)
}

func (c *Collector) closeLog() {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}
}

func (c *Collector) stopWatching() {
	c.once.Do(func() { close(c.quit) })
}

// kill terminates the collector tree and waits a bounded time for its exit.
func (c *Collector) kill() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	if err := diagnostics.KillProcessTree(c.cmd.Process.Pid); err != nil {
		c.logger.Warn("killing collector process tree", "error", err)
	}
	select {
	case <-c.exited:
	case <-time.After(killWait):
		c.logger.Error("collector did not exit after kill", "pid", c.cmd.Process.Pid)
	}
}

func (c *Collector) teardown() {
	c.stopWatching()
	c.kill()
	c.closeLog()
}

func (c *Collector) fail(ctx context.Context, err error) error {
	c.closeLog()
	c.machine.Fail(ctx, err)
	return err
}

func renderArgs(args []string, params StartParams) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		tmpl, err := template.New("arg").Option("missingkey=error").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("parsing argument %q: %w", a, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, params); err != nil {
			return nil, fmt.Errorf("rendering argument %q: %w", a, err)
		}
		out[i] = buf.String()
	}
	return out, nil
}

func closeWatcher(w *fsnotify.Watcher) {
	if w != nil {
		_ = w.Close()
	}
}
