package core

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

type stubDiagnoser struct {
	id        string
	mode      ExecutionMode
	exclusive bool
}

func (s *stubDiagnoser) IDs() []string                                         { return []string{s.id} }
func (s *stubDiagnoser) Exporters() []Exporter                                 { return nil }
func (s *stubDiagnoser) Analysers() []Analyser                                 { return nil }
func (s *stubDiagnoser) RunMode(*BenchmarkCase) ExecutionMode                  { return s.mode }
func (s *stubDiagnoser) Handle(context.Context, Signal, *ActionParameters) error { return nil }
func (s *stubDiagnoser) ProcessResults(*BenchmarkCase, *Results) []metrics.Metric {
	return nil
}
func (s *stubDiagnoser) DisplayResults(io.Writer) {}
func (s *stubDiagnoser) Validate(context.Context, []*BenchmarkCase) []ValidationError {
	return nil
}
func (s *stubDiagnoser) ExclusiveAttach(*BenchmarkCase) bool { return s.exclusive }

func ids(ds []Diagnoser) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.IDs()...)
	}
	return out
}

func TestBuildPlan_NoOverheadNeverSchedulesExtraRun(t *testing.T) {
	c := &BenchmarkCase{Type: "Bench", Method: "Sum"}
	plan := BuildPlan([]Diagnoser{&stubDiagnoser{id: "memory", mode: ModeNoOverhead}}, c)

	assert.Equal(t, ModeNoOverhead, plan.Mode)
	assert.False(t, plan.ExtraRun())
	assert.False(t, plan.ExtraIteration)
	assert.Equal(t, 1, plan.RunCount())
	assert.Equal(t, []string{"memory"}, ids(plan.MembersFor(RunPrimary)))
	assert.Empty(t, plan.MembersFor(RunExtra))
}

func TestBuildPlan_MaximumNotSum(t *testing.T) {
	c := &BenchmarkCase{Type: "Bench", Method: "Sum"}
	plan := BuildPlan([]Diagnoser{
		&stubDiagnoser{id: "perf", mode: ModeExtraRun},
		&stubDiagnoser{id: "memory", mode: ModeNoOverhead},
		&stubDiagnoser{id: "eventtrace", mode: ModeExtraRun},
	}, c)

	assert.Equal(t, ModeExtraRun, plan.Mode)
	assert.Equal(t, 2, plan.RunCount())
	if diff := cmp.Diff([]string{"perf", "eventtrace"}, ids(plan.MembersFor(RunExtra))); diff != "" {
		t.Errorf("extra run members mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"memory"}, ids(plan.MembersFor(RunPrimary))); diff != "" {
		t.Errorf("primary run members mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPlan_SeparateLogicIsOutOfBand(t *testing.T) {
	c := &BenchmarkCase{Method: "M"}
	plan := BuildPlan([]Diagnoser{
		&stubDiagnoser{id: "sep", mode: ModeSeparateLogic},
		&stubDiagnoser{id: "allocs", mode: ModeExtraIteration},
		&stubDiagnoser{id: "off", mode: ModeNone},
	}, c)

	assert.Equal(t, ModeExtraIteration, plan.Mode)
	assert.True(t, plan.ExtraIteration)
	assert.Equal(t, []string{"sep"}, ids(plan.SeparateLogic()))
	assert.Equal(t, []string{"sep", "allocs"}, ids(plan.Active()))
}

func TestCasePlan_ExclusiveConflicts(t *testing.T) {
	c := &BenchmarkCase{Method: "M"}
	plan := BuildPlan([]Diagnoser{
		&stubDiagnoser{id: "a", mode: ModeExtraRun, exclusive: true},
		&stubDiagnoser{id: "b", mode: ModeExtraRun},
	}, c)
	assert.Nil(t, plan.ExclusiveConflicts())

	plan = BuildPlan([]Diagnoser{
		&stubDiagnoser{id: "a", mode: ModeExtraRun, exclusive: true},
		&stubDiagnoser{id: "b", mode: ModeExtraRun, exclusive: true},
		&stubDiagnoser{id: "c", mode: ModeNoOverhead, exclusive: true},
	}, c)
	assert.Equal(t, []string{"a", "b"}, plan.ExclusiveConflicts())
}

func TestMaxMode(t *testing.T) {
	assert.Equal(t, ModeNone, MaxMode())
	assert.Equal(t, ModeNone, MaxMode(ModeSeparateLogic))
	assert.Equal(t, ModeExtraRun, MaxMode(ModeNoOverhead, ModeExtraRun, ModeExtraIteration))
	assert.Equal(t, "ExtraIteration", ModeExtraIteration.String())
}
