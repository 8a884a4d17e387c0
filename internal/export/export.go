// Package export writes session reports under the artifacts directory.
package export

import (
	"sort"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

// Factory creates an exporter.
type Factory func() core.Exporter

var builtins = map[string]Factory{
	PrometheusName: func() core.Exporter { return NewPrometheus() },
	JSONName:       func() core.Exporter { return NewJSON() },
}

// Names returns the built-in exporter names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves exporter names.
func Build(names []string) ([]core.Exporter, error) {
	out := make([]core.Exporter, 0, len(names))
	for _, name := range names {
		f, ok := builtins[name]
		if !ok {
			return nil, core.ErrNotFound("exporter", name)
		}
		out = append(out, f())
	}
	return out, nil
}
