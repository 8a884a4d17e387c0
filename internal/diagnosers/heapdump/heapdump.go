// Package heapdump takes one memory snapshot of each case at the end of the
// measured part of its extra run.
package heapdump

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
)

// ID is the diagnoser name.
const ID = "heapdump"

// Options configure the diagnoser.
type Options struct {
	Logger *logging.Logger

	// OutOfProcess serves worker jobs and InProcess serves in-process jobs.
	OutOfProcess profiler.SnapshotStrategy
	InProcess    profiler.SnapshotStrategy
}

type snapshot struct {
	name    string
	path    string
	failure error
}

// Diagnoser captures snapshots through the strategy matching each job.
type Diagnoser struct {
	opts   Options
	logger *logging.Logger

	mu        sync.Mutex
	snapshots map[string]*snapshot
	order     []string
	artifacts []core.ArtifactRef
}

var (
	_ core.Diagnoser        = (*Diagnoser)(nil)
	_ core.ArtifactProducer = (*Diagnoser)(nil)
)

// New creates the diagnoser with gcore and pprof unless opts replace them.
func New(opts Options) *Diagnoser {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.OutOfProcess == nil {
		opts.OutOfProcess = &GcoreStrategy{}
	}
	if opts.InProcess == nil {
		opts.InProcess = PprofStrategy{}
	}
	return &Diagnoser{
		opts:      opts,
		logger:    opts.Logger.WithDiagnoser(ID),
		snapshots: make(map[string]*snapshot),
	}
}

func (d *Diagnoser) strategy(c *core.BenchmarkCase) profiler.SnapshotStrategy {
	if c.Job.InProcess {
		return d.opts.InProcess
	}
	return d.opts.OutOfProcess
}

func (d *Diagnoser) IDs() []string {
	return []string{ID}
}

func (d *Diagnoser) Exporters() []core.Exporter {
	return nil
}

func (d *Diagnoser) Analysers() []core.Analyser {
	return nil
}

// RunMode asks for an extra run: a snapshot pauses the target.
func (d *Diagnoser) RunMode(c *core.BenchmarkCase) core.ExecutionMode {
	if ok, _ := d.strategy(c).IsSupported(c); !ok {
		return core.ModeNone
	}
	return core.ModeExtraRun
}

func (d *Diagnoser) Validate(_ context.Context, cases []*core.BenchmarkCase) []core.ValidationError {
	var out []core.ValidationError
	for _, c := range cases {
		if ok, reason := d.strategy(c).IsSupported(c); !ok {
			e := core.Fatal(c, "%s", reason)
			e.Source = ID
			out = append(out, e)
		}
	}
	return out
}

// Handle snapshots the target after the measured run of the extra run.
// A failed snapshot is logged and remembered, never returned.
func (d *Diagnoser) Handle(ctx context.Context, signal core.Signal, p *core.ActionParameters) error {
	if signal != core.SignalAfterMeasuredRun || p.Run != core.RunExtra || p.ExtraIteration {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	key := p.Case.Key()
	if _, done := d.snapshots[key]; done {
		return nil
	}
	snap := &snapshot{name: p.Case.DisplayName()}
	d.snapshots[key] = snap
	d.order = append(d.order, key)
	log := d.logger.WithCase(p.CaseID)

	s := d.strategy(p.Case)
	path, err := profiler.ArtifactPath(p.Config, p.Case, p.Case.Job.Toolchain, s.Ext())
	if err != nil {
		snap.failure = err
		log.Error("cannot name snapshot, no data will be collected", "error", err)
		return nil
	}
	target := profiler.SnapshotTarget{Path: path, Self: p.Case.Job.InProcess}
	if !target.Self {
		target.PID = p.ProcessID()
	}
	if err := profiler.CaptureSnapshot(ctx, s, target); err != nil {
		snap.failure = err
		log.Error("snapshot failed, no data collected", "error", err)
		return nil
	}
	snap.path = path
	ref := core.ArtifactRef{
		CaseID:    p.CaseID,
		Diagnoser: ID,
		Kind:      core.ArtifactSnapshot,
		Path:      path,
		CreatedAt: time.Now(),
	}
	if p.Config != nil {
		ref.SessionID = p.Config.SessionID
	}
	d.artifacts = append(d.artifacts, ref)
	return nil
}

func (d *Diagnoser) ProcessResults(*core.BenchmarkCase, *core.Results) []metrics.Metric {
	return nil
}

func (d *Diagnoser) DisplayResults(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.order) == 0 {
		return
	}
	fmt.Fprintf(w, "// %s\n", ID)
	for _, key := range d.order {
		s := d.snapshots[key]
		switch {
		case s.path != "":
			fmt.Fprintf(w, "  %s: %s\n", s.name, s.path)
		case s.failure != nil:
			fmt.Fprintf(w, "  %s: no data collected: %v\n", s.name, s.failure)
		}
	}
}

func (d *Diagnoser) Artifacts() []core.ArtifactRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]core.ArtifactRef, len(d.artifacts))
	copy(out, d.artifacts)
	return out
}
