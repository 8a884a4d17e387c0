// Package diagnoser fans the diagnoser protocol out to a set of concrete
// diagnosers and builds that set from configuration.
package diagnoser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// Composite forwards every protocol call to its members in order and
// concatenates their answers. It never resolves an execution mode itself.
type Composite struct {
	members []core.Diagnoser
}

var _ core.Diagnoser = (*Composite)(nil)

// NewComposite wraps diagnosers, dropping repeats. Two members are the same
// when they are the same instance or expose the same id list.
func NewComposite(diagnosers ...core.Diagnoser) *Composite {
	c := &Composite{}
	seen := make(map[string]bool, len(diagnosers))
	for _, d := range diagnosers {
		if d == nil {
			continue
		}
		key := identity(d)
		if seen[key] || c.contains(d) {
			continue
		}
		seen[key] = true
		c.members = append(c.members, d)
	}
	return c
}

func identity(d core.Diagnoser) string {
	return strings.Join(d.IDs(), "\x00")
}

func (c *Composite) contains(d core.Diagnoser) bool {
	for _, m := range c.members {
		if m == d {
			return true
		}
	}
	return false
}

// Members returns the deduplicated member list.
func (c *Composite) Members() []core.Diagnoser {
	out := make([]core.Diagnoser, len(c.members))
	copy(out, c.members)
	return out
}

// Len returns the number of members.
func (c *Composite) Len() int {
	return len(c.members)
}

// IDs returns the union of member ids in first-seen order.
func (c *Composite) IDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range c.members {
		for _, id := range m.IDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Exporters concatenates member exporters.
func (c *Composite) Exporters() []core.Exporter {
	var out []core.Exporter
	for _, m := range c.members {
		out = append(out, m.Exporters()...)
	}
	return out
}

// Analysers concatenates member analysers.
func (c *Composite) Analysers() []core.Analyser {
	var out []core.Analyser
	for _, m := range c.members {
		out = append(out, m.Analysers()...)
	}
	return out
}

// RunMode panics: members may legitimately disagree, so the question is only
// meaningful per member. Use core.BuildPlan over Members instead.
func (c *Composite) RunMode(bc *core.BenchmarkCase) core.ExecutionMode {
	panic(core.ErrContract(core.CodeCompositeRunMode,
		"run mode requested from a composite diagnoser; resolve it per member"))
}

// Handle delivers the signal to every member. A failing member does not stop
// delivery to the others; their errors are joined.
func (c *Composite) Handle(ctx context.Context, signal core.Signal, params *core.ActionParameters) error {
	var errs []error
	for _, m := range c.members {
		if err := m.Handle(ctx, signal, params); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Name(m), err))
		}
	}
	return errors.Join(errs...)
}

// ProcessResults concatenates member metrics.
func (c *Composite) ProcessResults(bc *core.BenchmarkCase, results *core.Results) []metrics.Metric {
	var out []metrics.Metric
	for _, m := range c.members {
		out = append(out, m.ProcessResults(bc, results)...)
	}
	return out
}

// DisplayResults lets every member write its summary.
func (c *Composite) DisplayResults(w io.Writer) {
	for _, m := range c.members {
		m.DisplayResults(w)
	}
}

// Validate concatenates member findings, tagging each with its source.
func (c *Composite) Validate(ctx context.Context, cases []*core.BenchmarkCase) []core.ValidationError {
	var out []core.ValidationError
	for _, m := range c.members {
		for _, v := range m.Validate(ctx, cases) {
			if v.Source == "" {
				v.Source = Name(m)
			}
			out = append(out, v)
		}
	}
	return out
}

// Artifacts collects the artifacts of members that produce files.
func (c *Composite) Artifacts() []core.ArtifactRef {
	var out []core.ArtifactRef
	for _, m := range c.members {
		if p, ok := m.(core.ArtifactProducer); ok {
			out = append(out, p.Artifacts()...)
		}
	}
	return out
}

// Name is the primary id of d, used in logs and error prefixes.
func Name(d core.Diagnoser) string {
	if ids := d.IDs(); len(ids) > 0 {
		return ids[0]
	}
	return fmt.Sprintf("%T", d)
}
