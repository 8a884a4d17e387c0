package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// PrometheusName is the exporter name in configuration.
const PrometheusName = "prometheus"

// Prometheus writes every case metric as a gauge in the node exporter
// textfile collector format.
type Prometheus struct {
	namespace string
}

// NewPrometheus creates the exporter.
func NewPrometheus() *Prometheus {
	return &Prometheus{namespace: "benchdiag"}
}

func (p *Prometheus) Name() string {
	return PrometheusName
}

// Export writes <session>.prom into the artifacts directory.
func (p *Prometheus) Export(_ context.Context, report *core.Report) ([]core.ArtifactRef, error) {
	registry := prometheus.NewRegistry()
	values := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      "metric_value",
		Help:      "Diagnoser metric value per benchmark case.",
	}, []string{"session", "case", "metric", "unit"})
	cases := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.namespace,
		Name:        "cases",
		Help:        "Benchmark cases in the session.",
		ConstLabels: prometheus.Labels{"session": report.SessionID},
	})
	artifacts := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.namespace,
		Name:        "artifacts",
		Help:        "Artifacts recorded in the session.",
		ConstLabels: prometheus.Labels{"session": report.SessionID},
	})
	registry.MustRegister(values, cases, artifacts)

	for _, cm := range report.Cases {
		for _, m := range cm.Metrics {
			if m.Descriptor == nil {
				continue
			}
			values.WithLabelValues(report.SessionID, cm.CaseName, m.Descriptor.ID, unitLabel(m.Descriptor)).Set(m.Value)
		}
	}
	cases.Set(float64(len(report.Cases)))
	artifacts.Set(float64(len(report.Artifacts)))

	if err := os.MkdirAll(report.ArtifactsDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating artifacts directory: %w", err)
	}
	path := filepath.Join(report.ArtifactsDir, report.SessionID+".prom")
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return nil, fmt.Errorf("writing prometheus textfile: %w", err)
	}
	return []core.ArtifactRef{{
		SessionID: report.SessionID,
		Diagnoser: PrometheusName,
		Kind:      core.ArtifactReport,
		Path:      path,
		CreatedAt: time.Now(),
	}}, nil
}

func unitLabel(d *metrics.Descriptor) string {
	switch d.UnitType {
	case metrics.UnitSize:
		return "bytes"
	case metrics.UnitTime:
		return "nanoseconds"
	default:
		return d.Unit
	}
}
