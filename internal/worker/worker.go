package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/inprocess"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
)

// Worker executes one run of one case.
type Worker struct {
	env      Env
	handlers *inprocess.Registry
	logger   *logging.Logger

	in  *bufio.Reader
	out io.Writer
}

// New creates a worker reading acks from in and writing markers to out.
func New(env Env, handlers *inprocess.Registry, in io.Reader, out io.Writer, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if handlers == nil {
		handlers = inprocess.NewRegistry()
	}
	return &Worker{
		env:      env,
		handlers: handlers,
		logger:   logger.WithCase(env.CaseID),
		in:       bufio.NewReader(in),
		out:      out,
	}
}

// Serve runs the measured iteration and, when asked, the extra iteration
// with the in-process handlers attached, then reports the results.
func (w *Worker) Serve(ctx context.Context) error {
	bench, ok := Benchmarks[w.env.Case.Method]
	if !ok {
		return core.ErrNotFound("benchmark", w.env.Case.Method)
	}
	params := make(map[string]string, len(w.env.Case.Parameters))
	for _, p := range w.env.Case.Parameters {
		params[p.Name] = p.Value
	}
	env, err := inprocess.DecodeEnvelope(w.env.Handlers)
	if err != nil {
		return err
	}
	router := inprocess.NewRouter(w.handlers, env, w.logger)

	counters := &Counters{}
	if err := w.signal(core.SignalBeforeMeasuredRun, false); err != nil {
		return err
	}
	before := diagnostics.TakeMemSnapshot()
	start := time.Now()
	if err := bench(ctx, w.env.Operations, params, counters); err != nil {
		return fmt.Errorf("running %s: %w", w.env.Case.Method, err)
	}
	elapsed := time.Since(start)
	delta := diagnostics.TakeMemSnapshot().Sub(before)
	if err := w.signal(core.SignalAfterMeasuredRun, false); err != nil {
		return err
	}
	w.logger.Debug("measured run finished", "ops", w.env.Operations, "elapsed", elapsed)

	if w.env.ExtraIteration {
		if err := w.extraIteration(ctx, bench, params, router); err != nil {
			return err
		}
	}

	if err := router.Flush(w.out); err != nil {
		return err
	}
	line, err := FormatResults(&core.Results{
		TotalOperations: w.env.Operations,
		GC: core.GCStats{
			Collections:    int64(delta.NumGC),
			AllocatedBytes: int64(delta.TotalAlloc),
			PauseTotal:     time.Duration(delta.PauseTotalNs),
		},
		Threading: core.ThreadingStats{
			CompletedWorkItems: counters.WorkItems.Load(),
			LockContentions:    counters.Contentions.Load(),
		},
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, line)
	return err
}

func (w *Worker) extraIteration(ctx context.Context, bench Benchmark, params map[string]string, router *inprocess.Router) error {
	if err := w.signal(core.SignalBeforeMeasuredRun, true); err != nil {
		return err
	}
	router.Handle(inprocess.Event{Signal: inprocess.SignalBeforeExtraIteration})
	if err := bench(ctx, w.env.Operations, params, &Counters{}); err != nil {
		return fmt.Errorf("running extra iteration of %s: %w", w.env.Case.Method, err)
	}
	router.Handle(inprocess.Event{Signal: inprocess.SignalAfterExtraIteration, Operations: w.env.Operations})
	return w.signal(core.SignalAfterMeasuredRun, true)
}

// signal writes a marker and blocks until the harness acknowledges it.
func (w *Worker) signal(s core.Signal, extra bool) error {
	if _, err := fmt.Fprintln(w.out, FormatSignal(s, extra)); err != nil {
		return fmt.Errorf("writing %s marker: %w", s, err)
	}
	line, err := w.in.ReadString('\n')
	if err != nil && line == "" {
		return core.ErrContract(core.CodeProtocol, "harness closed the channel before acknowledging "+s.String()).WithCause(err)
	}
	if got := strings.TrimSpace(line); got != Ack {
		return core.ErrContract(core.CodeProtocol, fmt.Sprintf("expected %q after %s, got %q", Ack, s, got))
	}
	return nil
}
