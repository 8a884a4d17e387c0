// Package perf attaches Linux perf to the worker of the extra run.
package perf

import (
	"os"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
)

// ID is the diagnoser name and the catalog tool it drives.
const ID = "perf"

var TraceSize = &metrics.Descriptor{
	ID:          "PerfTraceSize",
	DisplayName: "perf.data",
	Legend:      "Size of the recorded perf trace",
	UnitType:    metrics.UnitSize,
	Unit:        "B",
	Priority:    55,
	Available:   metrics.AnyNonZero,
}

// New creates the diagnoser.
func New(installer *profiler.Installer, executor *diagnostics.SafeExecutor, logger *logging.Logger) *profiler.ToolDiagnoser {
	return profiler.NewToolDiagnoser(profiler.ToolOptions{
		ID:        ID,
		Tool:      ID,
		Installer: installer,
		Executor:  executor,
		Logger:    logger,
		Metrics:   caseMetrics,
	})
}

func caseMetrics(rec *profiler.CaseRecord) []metrics.Metric {
	info, err := os.Stat(rec.Artifact)
	if err != nil {
		return nil
	}
	return []metrics.Metric{metrics.New(TraceSize, float64(info.Size()))}
}
