package export

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

var allocated = &metrics.Descriptor{ID: "Allocated", DisplayName: "Allocated", UnitType: metrics.UnitSize, Unit: "B"}

func testReport(dir string) *core.Report {
	cases := []metrics.CaseMetrics{
		{CaseKey: "a", CaseName: "Bench.A", Metrics: []metrics.Metric{metrics.New(allocated, 2048)}},
		{CaseKey: "b", CaseName: "Bench.B", Metrics: []metrics.Metric{metrics.New(allocated, 16)}},
	}
	return &core.Report{
		SessionID:    "s1",
		ArtifactsDir: dir,
		Cases:        cases,
		Columns:      metrics.BuildColumns(cases, nil),
		Artifacts:    []core.ArtifactRef{{Path: "x.trace", Kind: core.ArtifactTrace}},
	}
}

func TestBuild(t *testing.T) {
	assert.Equal(t, []string{"json", "prometheus"}, Names())
	es, err := Build([]string{"prometheus", "json"})
	require.NoError(t, err)
	require.Len(t, es, 2)
	assert.Equal(t, "prometheus", es[0].Name())

	_, err = Build([]string{"csv"})
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestPrometheusTextfile(t *testing.T) {
	refs, err := NewPrometheus().Export(context.Background(), testReport(t.TempDir()))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, core.ArtifactReport, refs[0].Kind)

	data, err := os.ReadFile(refs[0].Path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# TYPE benchdiag_metric_value gauge")
	assert.Contains(t, text, `benchdiag_metric_value{case="Bench.A",metric="Allocated",session="s1",unit="bytes"} 2048`)
	assert.Contains(t, text, `benchdiag_cases{session="s1"} 2`)
	assert.Contains(t, text, `benchdiag_artifacts{session="s1"} 1`)
}

func TestJSONReport(t *testing.T) {
	refs, err := NewJSON().Export(context.Background(), testReport(t.TempDir()))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, strings.HasSuffix(refs[0].Path, "s1.report.json"))

	data, err := os.ReadFile(refs[0].Path)
	require.NoError(t, err)
	var doc jsonReport
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, []string{"Allocated"}, doc.Columns)
	require.Len(t, doc.Cases, 2)
	assert.Equal(t, "2.0 KiB", doc.Cases[0].Metrics[0].Display)
	assert.Len(t, doc.Artifacts, 1)
}
