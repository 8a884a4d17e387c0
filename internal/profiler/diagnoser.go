package profiler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// CaseRecord is what a tool diagnoser kept for one case.
type CaseRecord struct {
	Case        *core.BenchmarkCase
	CaseID      string
	Artifact    string
	Interchange string
	Profile     *Profile
	Failure     error
}

// ToolOptions configure a ToolDiagnoser.
type ToolOptions struct {
	// ID is the diagnoser id; Tool names the catalog entry it drives.
	ID   string
	Tool string

	Installer *Installer
	Executor  *diagnostics.SafeExecutor
	Logger    *logging.Logger

	// Convert enables the interchange conversion for tools that declare one.
	Convert bool

	// Metrics turns a case record into metrics. Nil contributes none.
	Metrics func(rec *CaseRecord) []metrics.Metric

	// Analysers contributed by the diagnoser.
	Analysers []core.Analyser
}

// ToolDiagnoser is the shared shape of every diagnoser that drives an
// external collector during the extra run of a case.
type ToolDiagnoser struct {
	opts   ToolOptions
	logger *logging.Logger

	mu        sync.Mutex
	active    *Collector
	records   map[string]*CaseRecord
	order     []string
	artifacts []core.ArtifactRef
}

var (
	_ core.Diagnoser         = (*ToolDiagnoser)(nil)
	_ core.ExclusiveAttacher = (*ToolDiagnoser)(nil)
	_ core.ArtifactProducer  = (*ToolDiagnoser)(nil)
)

// NewToolDiagnoser creates a diagnoser driving opts.Tool.
func NewToolDiagnoser(opts ToolOptions) *ToolDiagnoser {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Tool == "" {
		opts.Tool = opts.ID
	}
	return &ToolDiagnoser{
		opts:    opts,
		logger:  opts.Logger.WithDiagnoser(opts.ID),
		records: make(map[string]*CaseRecord),
	}
}

// IDs returns the diagnoser id.
func (t *ToolDiagnoser) IDs() []string { return []string{t.opts.ID} }

// Exporters returns nothing; tool artifacts are indexed by the session.
func (t *ToolDiagnoser) Exporters() []core.Exporter { return nil }

// Analysers returns the configured analysers.
func (t *ToolDiagnoser) Analysers() []core.Analyser { return t.opts.Analysers }

// Tool returns the catalog name of the driven collector.
func (t *ToolDiagnoser) Tool() string { return t.opts.Tool }

func (t *ToolDiagnoser) spec() (config.ToolSpec, error) {
	return t.opts.Installer.Catalog().Tool(t.opts.Tool)
}

// unsupportedReason decides both RunMode and Validate so they cannot
// disagree. The install check is cached by the installer.
func (t *ToolDiagnoser) unsupportedReason(ctx context.Context, c *core.BenchmarkCase) string {
	spec, err := t.spec()
	if err != nil {
		return err.Error()
	}
	if reason := Supported(spec, c); reason != "" {
		return reason
	}
	if _, err := t.opts.Installer.Ensure(ctx, t.opts.Tool); err != nil {
		return err.Error()
	}
	return ""
}

// RunMode is ExtraRun: attaching a collector would bias the primary run.
func (t *ToolDiagnoser) RunMode(c *core.BenchmarkCase) core.ExecutionMode {
	if t.unsupportedReason(context.Background(), c) != "" {
		return core.ModeNone
	}
	return core.ModeExtraRun
}

// ExclusiveAttach reports whether the tool needs the worker to itself.
func (t *ToolDiagnoser) ExclusiveAttach(_ *core.BenchmarkCase) bool {
	spec, err := t.spec()
	return err == nil && spec.Exclusive
}

// Validate reports a fatal entry for every case the tool cannot serve.
func (t *ToolDiagnoser) Validate(ctx context.Context, cases []*core.BenchmarkCase) []core.ValidationError {
	var out []core.ValidationError
	for _, c := range cases {
		if reason := t.unsupportedReason(ctx, c); reason != "" {
			v := core.Fatal(c, "%s", reason)
			v.Source = t.opts.ID
			out = append(out, v)
		}
	}
	return out
}

// Handle starts the collector before the worker (before-start tools) or once
// its pid is known (attach-pid tools), and stops it after the worker exits.
// Collection failures are logged and recorded, never returned.
func (t *ToolDiagnoser) Handle(ctx context.Context, signal core.Signal, p *core.ActionParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch signal {
	case core.SignalBeforeProcessStart:
		if p.Run == core.RunExtra && !t.attachesToPID() {
			t.start(ctx, p, 0)
		}
	case core.SignalBeforeMeasuredRun:
		if p.Run == core.RunExtra && t.attachesToPID() && t.active == nil && !t.started(p) {
			t.start(ctx, p, p.ProcessID())
		}
	case core.SignalAfterProcessExit:
		if p.Run == core.RunExtra {
			t.stop(ctx, p)
		}
	case core.SignalAfterAll:
		if t.active != nil {
			t.logger.Warn("collector still running after all runs, aborting it", "case_id", p.CaseID)
			t.active.Abort(core.ErrCollection(core.CodeCollectorCrashed, "aborted after all runs"))
			t.record(p).Failure = t.active.Machine().Cause()
			t.active = nil
		}
	}
	return nil
}

func (t *ToolDiagnoser) attachesToPID() bool {
	spec, err := t.spec()
	return err == nil && spec.Attach == config.AttachPID
}

func (t *ToolDiagnoser) started(p *core.ActionParameters) bool {
	rec, ok := t.records[p.Case.Key()]
	return ok && (rec.Artifact != "" || rec.Failure != nil)
}

func (t *ToolDiagnoser) record(p *core.ActionParameters) *CaseRecord {
	key := p.Case.Key()
	rec, ok := t.records[key]
	if !ok {
		rec = &CaseRecord{Case: p.Case, CaseID: p.CaseID}
		t.records[key] = rec
		t.order = append(t.order, key)
	}
	return rec
}

func (t *ToolDiagnoser) start(ctx context.Context, p *core.ActionParameters, pid int) {
	rec := t.record(p)
	log := t.logger.WithCase(p.CaseID)

	spec, err := t.spec()
	if err != nil {
		rec.Failure = err
		log.Error("collector unavailable, no data will be collected", "error", err)
		return
	}
	artifact, err := ArtifactPath(p.Config, p.Case, p.Case.Job.Toolchain, spec.ArtifactExt)
	if err != nil {
		rec.Failure = err
		log.Error("cannot name artifact, no data will be collected", "error", err)
		return
	}

	collector, _, err := Prepare(ctx, t.opts.Installer, t.opts.Tool, CollectorOptions{
		ReadyTimeout: readyTimeout(p.Config),
		StopTimeout:  stopTimeout(p.Config),
		Executor:     t.opts.Executor,
		Logger:       log,
	})
	if err != nil {
		rec.Failure = err
		log.Error("collector unavailable, no data will be collected", "error", err)
		return
	}
	if err := collector.Start(ctx, StartParams{Artifact: artifact, PID: pid, CaseID: p.CaseID}); err != nil {
		rec.Failure = err
		log.Error("collector failed to start, no data will be collected", "error", err)
		return
	}
	if err := collector.AwaitReady(ctx); err != nil {
		rec.Failure = err
		log.Error("collector never became ready, continuing without its data", "error", err)
		return
	}
	t.active = collector
}

func (t *ToolDiagnoser) stop(ctx context.Context, p *core.ActionParameters) {
	if t.active == nil {
		return
	}
	collector := t.active
	t.active = nil
	rec := t.record(p)
	log := t.logger.WithCase(p.CaseID)

	artifact, err := collector.Stop(ctx)
	if err != nil {
		log.Error("collector stop failed", "error", err)
	}
	if artifact == "" {
		rec.Failure = err
		return
	}
	rec.Artifact = artifact
	t.addArtifact(p, core.ArtifactTrace, artifact)
	if logPath := LogPath(artifact); fsutil.Exists(logPath) {
		t.addArtifact(p, core.ArtifactLog, logPath)
	}

	spec, _ := t.spec()
	if spec.Convert == ConverterCollapsed && t.opts.Convert {
		dst := InterchangePath(artifact)
		profile, err := ConvertFile(artifact, dst, p.Case.FullName(), log)
		if err != nil {
			log.Warn("interchange conversion failed, keeping the raw trace", "error", err)
			return
		}
		rec.Interchange = dst
		rec.Profile = profile
		t.addArtifact(p, core.ArtifactInterchange, dst)
	}
}

func (t *ToolDiagnoser) addArtifact(p *core.ActionParameters, kind core.ArtifactKind, path string) {
	ref := core.ArtifactRef{
		CaseID:    p.CaseID,
		Diagnoser: t.opts.ID,
		Kind:      kind,
		Path:      path,
		CreatedAt: time.Now(),
	}
	if p.Config != nil {
		ref.SessionID = p.Config.SessionID
	}
	t.artifacts = append(t.artifacts, ref)
}

// Artifacts returns a copy of every recorded artifact.
func (t *ToolDiagnoser) Artifacts() []core.ArtifactRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.ArtifactRef, len(t.artifacts))
	copy(out, t.artifacts)
	return out
}

// Record returns what was kept for c, if anything.
func (t *ToolDiagnoser) Record(c *core.BenchmarkCase) (*CaseRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[c.Key()]
	return rec, ok
}

func (t *ToolDiagnoser) ProcessResults(c *core.BenchmarkCase, _ *core.Results) []metrics.Metric {
	if t.opts.Metrics == nil {
		return nil
	}
	rec, ok := t.Record(c)
	if !ok || rec.Artifact == "" {
		return nil
	}
	return t.opts.Metrics(rec)
}

// DisplayResults lists the artifact of each case, or why there is none.
func (t *ToolDiagnoser) DisplayResults(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return
	}
	fmt.Fprintf(w, "// %s\n", t.opts.ID)
	for _, key := range t.order {
		rec := t.records[key]
		name := rec.Case.DisplayName()
		switch {
		case rec.Artifact != "":
			fmt.Fprintf(w, "  %s: %s\n", name, rec.Artifact)
			if rec.Interchange != "" {
				fmt.Fprintf(w, "  %s: %s\n", name, rec.Interchange)
			}
		case rec.Failure != nil:
			fmt.Fprintf(w, "  %s: no data collected: %v\n", name, rec.Failure)
		default:
			fmt.Fprintf(w, "  %s: no data collected\n", name)
		}
	}
}

func readyTimeout(cfg *core.RunConfig) time.Duration {
	if cfg == nil || cfg.ReadyTimeout <= 0 {
		return DefaultReadyTimeout
	}
	return cfg.ReadyTimeout
}

func stopTimeout(cfg *core.RunConfig) time.Duration {
	if cfg == nil || cfg.StopTimeout <= 0 {
		return DefaultStopTimeout
	}
	return cfg.StopTimeout
}
