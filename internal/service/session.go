// Package service runs a benchmark session: it validates the active
// diagnosers, executes each case as the merged plan requires while raising
// lifecycle signals, and hands the collected metrics to analysers,
// exporters and the artifact index.
package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnoser"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/inprocess"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/worker"
)

// Options configures a Session.
type Options struct {
	Config     *core.RunConfig
	Diagnosers *diagnoser.Composite

	// Launcher runs out-of-process jobs. Local runs in-process jobs and
	// defaults to Launcher.
	Launcher Launcher
	Local    Launcher

	Exporters  []core.Exporter
	Index      core.ArtifactIndex
	CrashDumps *diagnostics.CrashDumpWriter
	Logger     *logging.Logger
	Operations int64
}

// Session executes benchmark cases under diagnosis.
type Session struct {
	cfg        *core.RunConfig
	composite  *diagnoser.Composite
	launcher   Launcher
	local      Launcher
	exporters  []core.Exporter
	index      core.ArtifactIndex
	dumps      *diagnostics.CrashDumpWriter
	logger     *logging.Logger
	operations int64
}

// CaseOutcome is the result of one case.
type CaseOutcome struct {
	Case    *core.BenchmarkCase
	CaseID  string
	Plan    core.CasePlan
	Results *core.Results
	Metrics []metrics.Metric

	// Err is the first run failure. Diagnoser failures never land here.
	Err error
}

// Outcome is the result of a whole session.
type Outcome struct {
	Validation  []core.ValidationError
	Cases       []CaseOutcome
	Report      *core.Report
	Conclusions []core.Conclusion
}

// New creates a session.
func New(opts Options) (*Session, error) {
	if opts.Launcher == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "session needs a launcher")
	}
	if opts.Config == nil {
		opts.Config = &core.RunConfig{}
	}
	if opts.Config.SessionID == "" {
		opts.Config.SessionID = uuid.NewString()
	}
	if opts.Config.SessionStart.IsZero() {
		opts.Config.SessionStart = time.Now()
	}
	if opts.Diagnosers == nil {
		opts.Diagnosers = diagnoser.NewComposite()
	}
	if opts.Local == nil {
		opts.Local = opts.Launcher
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Operations <= 0 {
		opts.Operations = worker.DefaultOperations
	}
	return &Session{
		cfg:        opts.Config,
		composite:  opts.Diagnosers,
		launcher:   opts.Launcher,
		local:      opts.Local,
		exporters:  opts.Exporters,
		index:      opts.Index,
		dumps:      opts.CrashDumps,
		logger:     opts.Logger.WithSession(opts.Config.SessionID),
		operations: opts.Operations,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.cfg.SessionID
}

// Validate asks every diagnoser about every case and adds a fatal entry for
// each case whose extra-run members demand exclusive attachment together.
// Members validate concurrently; entries keep member order.
func (s *Session) Validate(ctx context.Context, cases []*core.BenchmarkCase) []core.ValidationError {
	members := s.composite.Members()
	found := make([][]core.ValidationError, len(members))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range members {
		g.Go(func() error {
			name := diagnoser.Name(m)
			err := s.guard(m, "Validate", "", func() error {
				for _, v := range m.Validate(gctx, cases) {
					if v.Source == "" {
						v.Source = name
					}
					found[i] = append(found[i], v)
				}
				return nil
			})
			if err != nil {
				found[i] = append(found[i], core.ValidationError{
					Fatal:   true,
					Message: fmt.Sprintf("validation failed: %v", err),
					Source:  name,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []core.ValidationError
	for _, vs := range found {
		out = append(out, vs...)
	}
	for _, c := range cases {
		plan := core.BuildPlan(members, c)
		if ids := plan.ExclusiveConflicts(); len(ids) > 0 {
			v := core.Fatal(c, "collectors %s each need exclusive attachment to the extra run", strings.Join(ids, ", "))
			v.Source = "session"
			out = append(out, v)
		}
	}
	return out
}

// Run validates, then executes every case. A fatal validation entry aborts
// the session before any worker starts. Cancelling ctx stops after the case
// in flight has received its closing signals.
func (s *Session) Run(ctx context.Context, cases []*core.BenchmarkCase) (*Outcome, error) {
	out := &Outcome{Validation: s.Validate(ctx, cases)}
	for _, v := range out.Validation {
		if v.Fatal {
			s.logger.Error("validation failed", "entry", v.String())
		} else {
			s.logger.Warn("validation advisory", "entry", v.String())
		}
	}
	if err := core.FatalError(out.Validation); err != nil {
		return out, err
	}

	s.logger.Info("session started", "cases", len(cases), "diagnosers", s.composite.IDs())
	var runErr error
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("session interrupted: %w", err)
			break
		}
		out.Cases = append(out.Cases, s.runCase(ctx, c))
	}

	out.Report, out.Conclusions = s.report(ctx, out.Cases)
	s.logger.Info("session finished", "cases", len(out.Cases), "artifacts", len(out.Report.Artifacts))
	return out, runErr
}

func (s *Session) runCase(ctx context.Context, c *core.BenchmarkCase) CaseOutcome {
	co := CaseOutcome{
		Case:   c,
		CaseID: uuid.NewString(),
		Plan:   core.BuildPlan(s.composite.Members(), c),
	}
	logger := s.logger.WithCase(co.CaseID).With("case", c.DisplayName())
	logger.Info("running case", "mode", co.Plan.Mode.String(), "runs", co.Plan.RunCount(),
		"extra_iteration", co.Plan.ExtraIteration)

	active := co.Plan.Active()
	base := core.ActionParameters{Case: c, CaseID: co.CaseID, Run: core.RunPrimary, Config: s.cfg}
	s.broadcast(ctx, active, core.SignalBeforeAnythingElse, &base)

	results, err := s.execute(ctx, &co, core.RunPrimary, logger)
	if err != nil {
		logger.Error("primary run failed", "error", err)
		co.Err = err
	}
	co.Results = results

	if co.Plan.ExtraRun() && ctx.Err() == nil {
		if _, err := s.execute(ctx, &co, core.RunExtra, logger); err != nil {
			logger.Error("extra run failed", "error", err)
			if co.Err == nil {
				co.Err = err
			}
		}
	}

	if sep := co.Plan.SeparateLogic(); len(sep) > 0 {
		s.broadcast(ctx, sep, core.SignalSeparateLogic, &base)
	}
	s.broadcast(ctx, active, core.SignalAfterAll, &base)

	if co.Results == nil {
		co.Results = &core.Results{}
	}
	for _, m := range active {
		err := s.guard(m, "ProcessResults", co.CaseID, func() error {
			co.Metrics = append(co.Metrics, m.ProcessResults(c, co.Results)...)
			return nil
		})
		if err != nil {
			logger.Warn("diagnoser failed processing results", "diagnoser", diagnoser.Name(m), "error", err)
		}
	}
	return co
}

// execute performs one run. The primary run carries the in-process handler
// envelope when the plan asks for an extra iteration.
func (s *Session) execute(ctx context.Context, co *CaseOutcome, run core.RunKind, logger *logging.Logger) (*core.Results, error) {
	members := co.Plan.MembersFor(run)
	extraIteration := run == core.RunPrimary && co.Plan.ExtraIteration

	var host *inprocess.Host
	env := worker.Env{
		CaseID:     co.CaseID,
		Run:        run,
		Case:       *co.Case,
		Operations: s.operations,
	}
	if extraIteration {
		env.ExtraIteration = true
		host = inprocess.NewHost(members, co.Case)
		envelope, err := host.Envelope()
		if err != nil {
			return nil, err
		}
		env.Handlers = envelope
	}

	// Serializes signal delivery; a worker raises one signal at a time but
	// the launcher calls back from its own goroutines.
	var mu sync.Mutex
	req := LaunchRequest{
		Env:    env,
		JobEnv: co.Case.Job.Env,
		OnSignal: func(ctx context.Context, signal core.Signal, extra bool, proc *os.Process) {
			mu.Lock()
			defer mu.Unlock()
			p := core.ActionParameters{
				Process:        proc,
				Case:           co.Case,
				CaseID:         co.CaseID,
				Run:            run,
				Config:         s.cfg,
				ExtraIteration: extra,
			}
			s.broadcast(ctx, members, signal, &p)
		},
	}

	launcher := s.launcher
	if co.Case.Job.InProcess {
		launcher = s.local
	}
	logger.Debug("launching worker", "run", run, "members", len(members))
	outcome, err := launcher.Launch(ctx, req)

	if host != nil && outcome != nil {
		for _, line := range outcome.InProcess {
			if derr := host.Deliver(co.CaseID, line); derr != nil {
				logger.Warn("in-process results rejected", "error", derr)
			}
		}
	}
	if outcome == nil {
		return nil, err
	}
	return outcome.Results, err
}

// broadcast sends signal to members in order. A failing member is logged
// and the others still receive the signal.
func (s *Session) broadcast(ctx context.Context, members []core.Diagnoser, signal core.Signal, p *core.ActionParameters) {
	for _, m := range members {
		err := s.guard(m, signal.String(), p.CaseID, func() error {
			return m.Handle(ctx, signal, p)
		})
		if err != nil {
			s.logger.Warn("diagnoser failed handling signal",
				"diagnoser", diagnoser.Name(m),
				"signal", signal.String(),
				"case_id", p.CaseID,
				"error", err,
			)
		}
	}
}

func (s *Session) guard(m core.Diagnoser, op, caseID string, fn func() error) error {
	scope := diagnostics.Scope{Diagnoser: diagnoser.Name(m), Operation: op, CaseID: caseID}
	return diagnostics.Guard(s.logger.Slog(), s.dumps, scope, fn)
}

// report builds the session report, runs analysers and exporters, and
// records every artifact in the index.
func (s *Session) report(ctx context.Context, cases []CaseOutcome) (*core.Report, []core.Conclusion) {
	results := make([]metrics.CaseMetrics, 0, len(cases))
	for _, co := range cases {
		results = append(results, metrics.CaseMetrics{
			CaseKey:  co.Case.Key(),
			CaseName: co.Case.DisplayName(),
			Metrics:  co.Metrics,
		})
	}
	report := &core.Report{
		SessionID:    s.cfg.SessionID,
		ArtifactsDir: s.cfg.ArtifactsDir,
		Cases:        results,
		Columns:      metrics.BuildColumns(results, s.cfg.ShowColumns),
		Artifacts:    s.composite.Artifacts(),
	}

	var conclusions []core.Conclusion
	for _, a := range s.composite.Analysers() {
		scope := diagnostics.Scope{Diagnoser: a.ID(), Operation: "Analyse"}
		err := diagnostics.Guard(s.logger.Slog(), s.dumps, scope, func() error {
			conclusions = append(conclusions, a.Analyse(report)...)
			return nil
		})
		if err != nil {
			s.logger.Warn("analyser failed", "analyser", a.ID(), "error", err)
		}
	}

	exporters := append(append([]core.Exporter{}, s.exporters...), s.composite.Exporters()...)
	var exported []core.ArtifactRef
	for _, e := range exporters {
		refs, err := e.Export(ctx, report)
		if err != nil {
			s.logger.Warn("export failed", "exporter", e.Name(), "error", err)
			continue
		}
		exported = append(exported, refs...)
	}
	report.Artifacts = append(report.Artifacts, exported...)

	if s.index != nil {
		for _, ref := range report.Artifacts {
			if ref.SessionID == "" {
				ref.SessionID = s.cfg.SessionID
			}
			if err := s.index.Record(ctx, ref); err != nil {
				s.logger.Warn("failed to index artifact", "path", ref.Path, "error", err)
			}
		}
	}
	return report, conclusions
}

// Display writes the metrics table, each diagnoser's summary and the
// analyser conclusions.
func (s *Session) Display(w io.Writer, out *Outcome) error {
	if out == nil || out.Report == nil {
		return nil
	}
	if err := metrics.WriteTable(w, out.Report.Cases, out.Report.Columns); err != nil {
		return err
	}
	s.composite.DisplayResults(w)
	for _, c := range out.Conclusions {
		if _, err := fmt.Fprintf(w, "[%s] %s: %s\n", c.Kind, c.Analyser, c.Message); err != nil {
			return err
		}
	}
	for _, co := range out.Cases {
		if co.Err != nil {
			if _, err := fmt.Fprintf(w, "%s: run failed: %v\n", co.Case.DisplayName(), co.Err); err != nil {
				return err
			}
		}
	}
	return nil
}
