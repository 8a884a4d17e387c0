package core

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionParameters_ProcessIDWithoutProcessPanics(t *testing.T) {
	params := &ActionParameters{CaseID: "c1"}

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, IsContractViolation(r))
	}()
	params.ProcessID()
	t.Fatal("expected panic")
}

func TestActionParameters_ProcessID(t *testing.T) {
	params := &ActionParameters{Process: &os.Process{Pid: 4242}}
	assert.True(t, params.HasProcess())
	assert.Equal(t, 4242, params.ProcessID())
}

func TestBenchmarkCase_Names(t *testing.T) {
	c := &BenchmarkCase{
		Type:       "Strings",
		Method:     "Concat",
		Parameters: []Parameter{{Name: "n", Value: "10"}, {Name: "sep", Value: ","}},
		Job:        Job{ID: "go1.24"},
	}
	assert.Equal(t, "Strings.Concat", c.FullName())
	assert.Equal(t, "Strings.Concat(n=10, sep=,) [go1.24]", c.DisplayName())
	assert.Equal(t, "Strings.Concat|n=10, sep=,|go1.24", c.Key())
}

func TestSignals(t *testing.T) {
	for s := SignalBeforeAnythingElse; s <= SignalAfterAll; s++ {
		parsed, err := ParseSignal(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseSignal("Nope")
	assert.Error(t, err)
	assert.True(t, SignalBeforeMeasuredRun.Repeats())
	assert.False(t, SignalAfterAll.Repeats())
	assert.Less(t, int(SignalBeforeProcessStart), int(SignalAfterProcessExit))
}

func TestValidationHelpers(t *testing.T) {
	c := &BenchmarkCase{Method: "M"}
	errs := []ValidationError{Advisory(c, "slow host"), Fatal(nil, "perf needs %s", "root")}
	assert.True(t, HasFatal(errs))
	assert.False(t, HasFatal(errs[:1]))

	err := FatalError(errs)
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))
	assert.Nil(t, FatalError(errs[:1]))
	assert.True(t, strings.HasPrefix(errs[1].String(), "fatal: perf needs root"))
}

func TestResultsPerOperation(t *testing.T) {
	r := &Results{TotalOperations: 4}
	assert.InDelta(t, 2.5, r.PerOperation(10), 1e-9)
	assert.Zero(t, (&Results{}).PerOperation(10))
}
