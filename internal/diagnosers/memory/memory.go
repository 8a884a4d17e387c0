// Package memory reports garbage collector activity of the primary run from
// the results the harness already collects.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// ID is the diagnoser name.
const ID = "memory"

var (
	GCCollections = &metrics.Descriptor{
		ID:           "GCCollections",
		DisplayName:  "GC/1k Op",
		Legend:       "Garbage collections per 1000 operations",
		NumberFormat: "#,###.0000",
		UnitType:     metrics.UnitDimensionless,
		Priority:     10,
		Available:    metrics.AnyNonZero,
	}
	GCPause = &metrics.Descriptor{
		ID:          "GCPause",
		DisplayName: "GC Pause/Op",
		Legend:      "Stop-the-world pause time per operation",
		UnitType:    metrics.UnitTime,
		Unit:        "ns",
		Priority:    11,
		Available:   metrics.AnyNonZero,
	}
	Allocated = &metrics.Descriptor{
		ID:          "Allocated",
		DisplayName: "Allocated",
		Legend:      "Allocated memory per single operation (managed only, inclusive, 1KB = 1024B)",
		UnitType:    metrics.UnitSize,
		Unit:        "B",
		Priority:    12,
	}
)

// Diagnoser reports GC statistics. It never adds runs.
type Diagnoser struct {
	mu    sync.Mutex
	seen  []string
	bytes map[string]float64
	names map[string]string
}

var _ core.Diagnoser = (*Diagnoser)(nil)

// New creates the memory diagnoser.
func New() *Diagnoser {
	return &Diagnoser{
		bytes: make(map[string]float64),
		names: make(map[string]string),
	}
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

// RunMode is NoOverhead for every case: the counters come for free.
func (d *Diagnoser) RunMode(*core.BenchmarkCase) core.ExecutionMode {
	return core.ModeNoOverhead
}

func (d *Diagnoser) Handle(context.Context, core.Signal, *core.ActionParameters) error {
	return nil
}

// ProcessResults derives per-operation figures from the run totals.
func (d *Diagnoser) ProcessResults(c *core.BenchmarkCase, r *core.Results) []metrics.Metric {
	if r == nil || r.TotalOperations <= 0 {
		return nil
	}
	perKilo := r.PerOperation(r.GC.Collections) * 1000
	bytes := r.PerOperation(r.GC.AllocatedBytes)

	d.mu.Lock()
	key := c.Key()
	if _, ok := d.bytes[key]; !ok {
		d.seen = append(d.seen, key)
	}
	d.bytes[key] = bytes
	d.names[key] = c.DisplayName()
	d.mu.Unlock()

	return []metrics.Metric{
		metrics.New(GCCollections, perKilo),
		metrics.New(GCPause, r.PerOperation(int64(r.GC.PauseTotal))),
		metrics.New(Allocated, bytes),
	}
}

func (d *Diagnoser) DisplayResults(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.seen) == 0 {
		return
	}
	fmt.Fprintf(w, "// %s\n", ID)
	for _, key := range d.seen {
		fmt.Fprintf(w, "  %s: %s/op\n", d.names[key], Allocated.Format(d.bytes[key]))
	}
}

// Validate warns about native jobs, which have no collector to observe.
func (d *Diagnoser) Validate(_ context.Context, cases []*core.BenchmarkCase) []core.ValidationError {
	var out []core.ValidationError
	for _, c := range cases {
		if c.Job.Runtime == core.RuntimeNative {
			out = append(out, core.Advisory(c, "native job has no garbage collector, GC columns will be empty"))
		}
	}
	return out
}
