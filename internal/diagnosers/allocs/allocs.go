// Package allocs measures allocations of one extra measured iteration from
// inside the worker process, where the allocator counters are exact.
package allocs

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// ID is the diagnoser name.
const ID = "allocs"

var (
	AllocsPerOp = &metrics.Descriptor{
		ID:           "AllocsPerOp",
		DisplayName:  "Allocs/Op",
		Legend:       "Heap allocations per operation during the extra iteration",
		NumberFormat: "#,###.##",
		UnitType:     metrics.UnitDimensionless,
		Priority:     30,
	}
	BytesPerOp = &metrics.Descriptor{
		ID:          "AllocBytesPerOp",
		DisplayName: "Alloc Bytes/Op",
		Legend:      "Bytes allocated per operation during the extra iteration",
		UnitType:    metrics.UnitSize,
		Unit:        "B",
		Priority:    31,
	}
	GCPerOp = &metrics.Descriptor{
		ID:           "ExtraIterationGC",
		DisplayName:  "GC (extra)",
		Legend:       "Garbage collections during the extra iteration",
		NumberFormat: "#,###",
		UnitType:     metrics.UnitDimensionless,
		Priority:     32,
		Available:    metrics.AnyNonZero,
	}
)

// Diagnoser owns the allocs in-process handler. It only serves Go jobs
// running out of process, where a worker can host the handler.
type Diagnoser struct {
	logger *logging.Logger

	mu      sync.Mutex
	results map[string]Payload
	names   map[string]string
	order   []string // requested or reported cases, first sight order
}

var _ core.InProcessDiagnoser = (*Diagnoser)(nil)

// New creates the diagnoser.
func New(logger *logging.Logger) *Diagnoser {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Diagnoser{
		logger:  logger.WithDiagnoser(ID),
		results: make(map[string]Payload),
		names:   make(map[string]string),
	}
}

func unsupported(c *core.BenchmarkCase) string {
	if c.Job.Runtime != "" && c.Job.Runtime != core.RuntimeGo {
		return fmt.Sprintf("allocation counters need a go job, got %s", c.Job.Runtime)
	}
	if c.Job.InProcess {
		return "in-process jobs share the harness allocator; run the job in a worker"
	}
	return ""
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

func (d *Diagnoser) RunMode(c *core.BenchmarkCase) core.ExecutionMode {
	if unsupported(c) != "" {
		return core.ModeNone
	}
	return core.ModeExtraIteration
}

// Handle does nothing: the work happens in the worker-side handler.
func (d *Diagnoser) Handle(context.Context, core.Signal, *core.ActionParameters) error {
	return nil
}

// HandlerFor requests the allocs handler for c and remembers the request so
// a case that never reports back is listed as missing data.
func (d *Diagnoser) HandlerFor(c *core.BenchmarkCase) (string, string, bool) {
	if unsupported(c) != "" {
		return "", "", false
	}
	d.mu.Lock()
	d.track(c)
	d.mu.Unlock()
	return HandlerKind, "", true
}

// track must be called with mu held.
func (d *Diagnoser) track(c *core.BenchmarkCase) string {
	key := c.Key()
	if _, ok := d.names[key]; !ok {
		d.order = append(d.order, key)
		d.names[key] = c.DisplayName()
	}
	return key
}

// AcceptResults stores the handler payload for c.
func (d *Diagnoser) AcceptResults(c *core.BenchmarkCase, caseID, payload string) error {
	p, err := ParsePayload(payload)
	if err != nil {
		d.logger.Warn("discarding allocs payload", "case_id", caseID, "error", err)
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[d.track(c)] = p
	return nil
}

// Result returns the payload received for c.
func (d *Diagnoser) Result(c *core.BenchmarkCase) (Payload, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.results[c.Key()]
	return p, ok
}

func (d *Diagnoser) ProcessResults(c *core.BenchmarkCase, _ *core.Results) []metrics.Metric {
	p, ok := d.Result(c)
	if !ok {
		if unsupported(c) == "" {
			d.logger.Warn("worker sent no allocs result, no allocation metrics "+
				"(handler missing, failed to initialise or panicked in the worker)",
				"case", c.DisplayName())
		}
		return nil
	}
	if p.Operations <= 0 {
		d.logger.Warn("extra iteration reported no operations, no allocation metrics", "case", c.DisplayName())
		return nil
	}
	ops := float64(p.Operations)
	return []metrics.Metric{
		metrics.New(AllocsPerOp, float64(p.Mallocs)/ops),
		metrics.New(BytesPerOp, float64(p.Bytes)/ops),
		metrics.New(GCPerOp, float64(p.GC)),
	}
}

func (d *Diagnoser) DisplayResults(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.order) == 0 {
		return
	}
	fmt.Fprintf(w, "// %s\n", ID)
	for _, key := range d.order {
		p, ok := d.results[key]
		if !ok {
			fmt.Fprintf(w, "  %s: no data collected\n", d.names[key])
			continue
		}
		fmt.Fprintf(w, "  %s: %d allocations, %d frees over %d ops\n", d.names[key], p.Mallocs, p.Frees, p.Operations)
	}
}

func (d *Diagnoser) Validate(_ context.Context, cases []*core.BenchmarkCase) []core.ValidationError {
	var out []core.ValidationError
	for _, c := range cases {
		if reason := unsupported(c); reason != "" {
			e := core.Fatal(c, "%s", reason)
			e.Source = ID
			out = append(out, e)
		}
	}
	return out
}
