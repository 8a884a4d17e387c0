// Package eventtrace records a runtime event trace of the extra run with the
// bundled eventtrace collector and converts it to the interchange format.
package eventtrace

import (
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
)

// ID is the diagnoser name and the catalog tool it drives.
const ID = "eventtrace"

var (
	Samples = &metrics.Descriptor{
		ID:           "EventTraceSamples",
		DisplayName:  "Trace Samples",
		Legend:       "Stack samples recorded by the event trace session",
		NumberFormat: "#,###",
		UnitType:     metrics.UnitDimensionless,
		Priority:     50,
		Available:    metrics.AnyNonZero,
	}
	Frames = &metrics.Descriptor{
		ID:           "EventTraceFrames",
		DisplayName:  "Trace Frames",
		Legend:       "Distinct frames in the converted trace",
		NumberFormat: "#,###",
		UnitType:     metrics.UnitDimensionless,
		Priority:     51,
		Available:    metrics.AnyNonZero,
	}
)

// New creates the diagnoser. convert enables the interchange conversion.
func New(installer *profiler.Installer, executor *diagnostics.SafeExecutor, logger *logging.Logger, convert bool) *profiler.ToolDiagnoser {
	return profiler.NewToolDiagnoser(profiler.ToolOptions{
		ID:        ID,
		Tool:      ID,
		Installer: installer,
		Executor:  executor,
		Logger:    logger,
		Convert:   convert,
		Metrics:   caseMetrics,
	})
}

func caseMetrics(rec *profiler.CaseRecord) []metrics.Metric {
	if rec.Profile == nil {
		return nil
	}
	return []metrics.Metric{
		metrics.New(Samples, float64(rec.Profile.TotalWeight())),
		metrics.New(Frames, float64(len(rec.Profile.Frames))),
	}
}
