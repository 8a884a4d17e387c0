// Package threading reports work item and lock contention counts of the
// primary run and flags contended cases.
package threading

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

const (
	// ID is the diagnoser name.
	ID = "threading"

	// AnalyserID names the contention analyser.
	AnalyserID = "threading.contention"

	// DefaultContentionThreshold is the lock contentions per operation above
	// which a case is reported.
	DefaultContentionThreshold = 0.01
)

var (
	CompletedWorkItems = &metrics.Descriptor{
		ID:           "CompletedWorkItemCount",
		DisplayName:  "Completed Work Items",
		Legend:       "The number of work items processed by worker goroutines per operation",
		NumberFormat: "#,###.0000",
		UnitType:     metrics.UnitDimensionless,
		Priority:     20,
		Available:    metrics.AnyNonZero,
	}
	LockContentions = &metrics.Descriptor{
		ID:           "LockContentionCount",
		DisplayName:  "Lock Contentions",
		Legend:       "The number of times there was contention upon trying to take a lock per operation",
		NumberFormat: "#,###.0000",
		UnitType:     metrics.UnitDimensionless,
		Priority:     21,
		Available:    metrics.AnyNonZero,
	}
)

// Diagnoser reports threading statistics. It never adds runs.
type Diagnoser struct {
	analyser *ContentionAnalyser

	mu     sync.Mutex
	order  []string
	totals map[string]core.ThreadingStats
	names  map[string]string
}

var _ core.Diagnoser = (*Diagnoser)(nil)

// New creates the diagnoser. A threshold of zero or less uses the default.
func New(threshold float64) *Diagnoser {
	if threshold <= 0 {
		threshold = DefaultContentionThreshold
	}
	return &Diagnoser{
		analyser: &ContentionAnalyser{Threshold: threshold},
		totals:   make(map[string]core.ThreadingStats),
		names:    make(map[string]string),
	}
}

func (d *Diagnoser) IDs() []string {
	return []string{ID}
}

func (d *Diagnoser) Exporters() []core.Exporter {
	return nil
}

func (d *Diagnoser) Analysers() []core.Analyser {
	return []core.Analyser{d.analyser}
}

func (d *Diagnoser) RunMode(*core.BenchmarkCase) core.ExecutionMode {
	return core.ModeNoOverhead
}

func (d *Diagnoser) Handle(context.Context, core.Signal, *core.ActionParameters) error {
	return nil
}

func (d *Diagnoser) ProcessResults(c *core.BenchmarkCase, r *core.Results) []metrics.Metric {
	if r == nil || r.TotalOperations <= 0 {
		return nil
	}
	d.mu.Lock()
	key := c.Key()
	if _, ok := d.totals[key]; !ok {
		d.order = append(d.order, key)
	}
	d.totals[key] = r.Threading
	d.names[key] = c.DisplayName()
	d.mu.Unlock()

	return []metrics.Metric{
		metrics.New(CompletedWorkItems, r.PerOperation(r.Threading.CompletedWorkItems)),
		metrics.New(LockContentions, r.PerOperation(r.Threading.LockContentions)),
	}
}

func (d *Diagnoser) DisplayResults(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var lines []string
	for _, key := range d.order {
		if t := d.totals[key]; t.LockContentions > 0 {
			lines = append(lines, fmt.Sprintf("  %s: %d lock contentions", d.names[key], t.LockContentions))
		}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "// %s\n", ID)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

func (d *Diagnoser) Validate(context.Context, []*core.BenchmarkCase) []core.ValidationError {
	return nil
}

// ContentionAnalyser warns about cases whose lock contentions per operation
// exceed a threshold.
type ContentionAnalyser struct {
	Threshold float64
}

func (a *ContentionAnalyser) ID() string {
	return AnalyserID
}

func (a *ContentionAnalyser) Analyse(report *core.Report) []core.Conclusion {
	var out []core.Conclusion
	for _, cm := range report.Cases {
		for _, m := range cm.Metrics {
			if m.Descriptor == nil || m.Descriptor.ID != LockContentions.ID {
				continue
			}
			if m.Value > a.Threshold {
				out = append(out, core.Conclusion{
					Kind:     core.ConclusionWarning,
					Analyser: AnalyserID,
					CaseKey:  cm.CaseKey,
					Message: fmt.Sprintf("%s takes contended locks (%s per operation); results may reflect scheduling rather than the code under test",
						cm.CaseName, LockContentions.Format(m.Value)),
				})
			}
		}
	}
	return out
}
