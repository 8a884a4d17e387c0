package export

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
)

// JSONName is the exporter name in configuration.
const JSONName = "json"

// JSON writes the report as <session>.report.json.
type JSON struct{}

// NewJSON creates the exporter.
func NewJSON() *JSON {
	return &JSON{}
}

func (j *JSON) Name() string {
	return JSONName
}

type jsonMetric struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Unit    string  `json:"unit,omitempty"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
}

type jsonCase struct {
	Key     string       `json:"key"`
	Name    string       `json:"name"`
	Metrics []jsonMetric `json:"metrics"`
}

type jsonReport struct {
	SessionID string             `json:"session_id"`
	Columns   []string           `json:"columns"`
	Cases     []jsonCase         `json:"cases"`
	Artifacts []core.ArtifactRef `json:"artifacts"`
}

func (j *JSON) Export(_ context.Context, report *core.Report) ([]core.ArtifactRef, error) {
	doc := jsonReport{
		SessionID: report.SessionID,
		Columns:   make([]string, 0, len(report.Columns)),
		Cases:     make([]jsonCase, 0, len(report.Cases)),
		Artifacts: report.Artifacts,
	}
	for _, col := range report.Columns {
		doc.Columns = append(doc.Columns, col.Descriptor.ID)
	}
	for _, cm := range report.Cases {
		jc := jsonCase{Key: cm.CaseKey, Name: cm.CaseName}
		for _, m := range cm.Metrics {
			if m.Descriptor == nil {
				continue
			}
			jc.Metrics = append(jc.Metrics, jsonMetric{
				ID:      m.Descriptor.ID,
				Name:    m.Descriptor.DisplayName,
				Unit:    m.Descriptor.Unit,
				Value:   m.Value,
				Display: m.Descriptor.Format(m.Value),
			})
		}
		doc.Cases = append(doc.Cases, jc)
	}

	path := filepath.Join(report.ArtifactsDir, report.SessionID+".report.json")
	if err := fsutil.WriteJSONAtomic(path, doc); err != nil {
		return nil, fmt.Errorf("writing json report: %w", err)
	}
	return []core.ArtifactRef{{
		SessionID: report.SessionID,
		Diagnoser: JSONName,
		Kind:      core.ArtifactReport,
		Path:      path,
		CreatedAt: time.Now(),
	}}, nil
}
