package threading

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/testutil"
)

func TestProcessResults(t *testing.T) {
	d := New(0)
	c := testutil.NewTestCase("Contend")
	ms := d.ProcessResults(c, &core.Results{
		TotalOperations: 100,
		Threading:       core.ThreadingStats{CompletedWorkItems: 400, LockContentions: 5},
	})
	require.Len(t, ms, 2)
	assert.Equal(t, 4.0, ms[0].Value)
	assert.Equal(t, 0.05, ms[1].Value)

	var buf bytes.Buffer
	d.DisplayResults(&buf)
	assert.Contains(t, buf.String(), "Bench.Contend [job]: 5 lock contentions")
}

func TestDisplayResults_QuietWithoutContention(t *testing.T) {
	d := New(0)
	d.ProcessResults(testutil.NewTestCase("Calm"), &core.Results{TotalOperations: 10})
	var buf bytes.Buffer
	d.DisplayResults(&buf)
	assert.Empty(t, buf.String())
}

func TestContentionAnalyser(t *testing.T) {
	d := New(0.1)
	require.Len(t, d.Analysers(), 1)
	a := d.Analysers()[0]

	report := &core.Report{Cases: []metrics.CaseMetrics{
		{CaseKey: "calm", CaseName: "Calm", Metrics: []metrics.Metric{metrics.New(LockContentions, 0.05)}},
		{CaseKey: "hot", CaseName: "Hot", Metrics: []metrics.Metric{
			metrics.New(CompletedWorkItems, 3),
			metrics.New(LockContentions, 1.5),
		}},
	}}
	found := a.Analyse(report)
	require.Len(t, found, 1)
	assert.Equal(t, "hot", found[0].CaseKey)
	assert.Equal(t, core.ConclusionWarning, found[0].Kind)
	assert.True(t, strings.HasPrefix(found[0].Message, "Hot takes contended locks"))
}
