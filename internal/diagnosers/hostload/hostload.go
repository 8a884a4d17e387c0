// Package hostload samples host CPU usage while the primary measured run
// executes, so noisy neighbours show up next to the numbers they distort.
package hostload

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// ID is the diagnoser name.
const ID = "hostload"

var (
	HostCPU = &metrics.Descriptor{
		ID:           "HostCPU",
		DisplayName:  "Host CPU",
		Legend:       "Mean host CPU utilisation during the measured run",
		NumberFormat: "#,###.#",
		UnitType:     metrics.UnitDimensionless,
		Unit:         "%",
		Priority:     40,
		Available:    metrics.AnyNonZero,
	}
	HostCPUMax = &metrics.Descriptor{
		ID:           "HostCPUMax",
		DisplayName:  "Host CPU Max",
		Legend:       "Peak host CPU utilisation during the measured run",
		NumberFormat: "#,###.#",
		UnitType:     metrics.UnitDimensionless,
		Unit:         "%",
		Priority:     41,
		Available:    metrics.AnyNonZero,
	}
)

// Probe reports the one minute load average and the logical CPU count.
type Probe func() (load1 float64, threads int)

// Options configure the diagnoser.
type Options struct {
	Interval  time.Duration
	Collector *diagnostics.SystemMetricsCollector
	Logger    *logging.Logger

	// Probe replaces the host load check used by Validate.
	Probe Probe
}

// Diagnoser samples the host between BeforeMeasuredRun and AfterMeasuredRun
// of each primary run.
type Diagnoser struct {
	opts   Options
	logger *logging.Logger

	mu        sync.Mutex
	sampler   *diagnostics.HostSampler
	summaries map[string]diagnostics.HostSummary
	names     map[string]string
	order     []string
	topology  *diagnostics.Topology
}

var _ core.Diagnoser = (*Diagnoser)(nil)

// New creates the diagnoser.
func New(opts Options) *Diagnoser {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Collector == nil {
		opts.Collector = diagnostics.NewSystemMetricsCollector()
	}
	if opts.Probe == nil {
		collector := opts.Collector
		opts.Probe = func() (float64, int) {
			m := collector.Collect()
			threads := m.CPUThreads
			if threads == 0 {
				threads = diagnostics.HostTopology().Threads
			}
			return m.LoadAvg1, threads
		}
	}
	return &Diagnoser{
		opts:      opts,
		logger:    opts.Logger.WithDiagnoser(ID),
		summaries: make(map[string]diagnostics.HostSummary),
		names:     make(map[string]string),
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

func (d *Diagnoser) RunMode(*core.BenchmarkCase) core.ExecutionMode {
	return core.ModeNoOverhead
}

// Handle starts sampling before the primary measured run and stops after it.
// The extra measured iteration is not sampled.
func (d *Diagnoser) Handle(ctx context.Context, signal core.Signal, p *core.ActionParameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if signal == core.SignalAfterAll {
		if d.sampler != nil {
			d.sampler.Stop()
			d.sampler = nil
		}
		return nil
	}
	if p == nil || p.Run != core.RunPrimary || p.ExtraIteration {
		return nil
	}

	switch signal {
	case core.SignalBeforeMeasuredRun:
		if d.sampler != nil {
			d.sampler.Stop()
		}
		d.sampler = diagnostics.NewHostSampler(d.opts.Interval, 0, d.opts.Collector, d.logger.Slog())
		d.sampler.Start(ctx)
	case core.SignalAfterMeasuredRun:
		if d.sampler == nil {
			return nil
		}
		summary := d.sampler.Stop()
		d.sampler = nil
		key := p.Case.Key()
		if _, ok := d.summaries[key]; !ok {
			d.order = append(d.order, key)
		}
		d.summaries[key] = summary
		d.names[key] = p.Case.DisplayName()
	}
	return nil
}

func (d *Diagnoser) ProcessResults(c *core.BenchmarkCase, _ *core.Results) []metrics.Metric {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.summaries[c.Key()]
	if !ok || s.Samples == 0 {
		return nil
	}
	return []metrics.Metric{
		metrics.New(HostCPU, s.MeanCPU),
		metrics.New(HostCPUMax, s.MaxCPU),
	}
}

func (d *Diagnoser) DisplayResults(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.order) == 0 {
		return
	}
	fmt.Fprintf(w, "// %s\n", ID)
	if d.topology != nil {
		fmt.Fprintf(w, "  host: %d package(s), %d cores, %d threads %s\n",
			d.topology.Packages, d.topology.Cores, d.topology.Threads, d.topology.Model)
	}
	for _, key := range d.order {
		s := d.summaries[key]
		fmt.Fprintf(w, "  %s: cpu mean %.1f%% max %.1f%%, load %.2f (%d samples)\n",
			d.names[key], s.MeanCPU, s.MaxCPU, s.MaxLoadAvg, s.Samples)
	}
}

// Validate reads the host topology once and warns when the machine is
// already busier than it has logical CPUs.
func (d *Diagnoser) Validate(context.Context, []*core.BenchmarkCase) []core.ValidationError {
	topo := diagnostics.HostTopology()
	d.mu.Lock()
	d.topology = &topo
	d.mu.Unlock()

	load1, threads := d.opts.Probe()
	if threads > 0 && load1 > float64(threads) {
		return []core.ValidationError{core.Advisory(nil,
			"host load average %.2f exceeds %d logical CPUs; measurements will be noisy", load1, threads)}
	}
	return nil
}
