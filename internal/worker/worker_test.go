package worker

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/inprocess"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/testutil"
)

type opsHandler struct{ ops int64 }

func (h *opsHandler) Init(string) error { return nil }

func (h *opsHandler) Handle(ev inprocess.Event) {
	if ev.Signal == inprocess.SignalAfterExtraIteration {
		h.ops = ev.Operations
	}
}

func (h *opsHandler) Results() string { return "seen" }

func acks(n int) *strings.Reader {
	return strings.NewReader(strings.Repeat(Ack+"\n", n))
}

func TestEnvRoundTrip(t *testing.T) {
	c := testutil.NewTestCase("Allocate", testutil.WithParams("size", "64"))
	in := Env{CaseID: "id-1", Run: core.RunExtra, ExtraIteration: true, Case: *c, Operations: 42, Handlers: `{"v":1}`}
	pairs, err := in.Environ()
	require.NoError(t, err)

	vars := map[string]string{}
	for _, kv := range pairs {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	out, err := EnvFrom(func(k string) (string, bool) { v, ok := vars[k]; return v, ok })
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEnvFrom_Errors(t *testing.T) {
	_, err := EnvFrom(func(string) (string, bool) { return "", false })
	assert.ErrorContains(t, err, EnvCase)

	vars := map[string]string{EnvCase: `{"method":"Allocate"}`, EnvOperations: "-1"}
	_, err = EnvFrom(func(k string) (string, bool) { v, ok := vars[k]; return v, ok })
	assert.ErrorContains(t, err, EnvOperations)
}

func TestSignalMarkers(t *testing.T) {
	line := FormatSignal(core.SignalAfterMeasuredRun, true)
	assert.Equal(t, "#benchdiag signal AfterMeasuredRun extra", line)
	s, extra, ok, err := ParseSignal(line)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, extra)
	assert.Equal(t, core.SignalAfterMeasuredRun, s)

	_, _, ok, err = ParseSignal("hello")
	assert.False(t, ok)
	assert.NoError(t, err)

	for _, bad := range []string{"#benchdiag signal ", "#benchdiag signal Nope", "#benchdiag signal AfterAll twice", "#benchdiag signal AfterAll a b"} {
		_, _, ok, err := ParseSignal(bad)
		assert.True(t, ok, bad)
		assert.Error(t, err, bad)
	}
}

func TestServe_PrimaryRun(t *testing.T) {
	c := testutil.NewTestCase("Allocate", testutil.WithParams("size", "256"))
	var out bytes.Buffer
	w := New(Env{CaseID: "c1", Run: core.RunPrimary, Case: *c, Operations: 1000}, nil, acks(2), &out, nil)
	require.NoError(t, w.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, FormatSignal(core.SignalBeforeMeasuredRun, false), lines[0])
	assert.Equal(t, FormatSignal(core.SignalAfterMeasuredRun, false), lines[1])

	r, ok, err := ParseResults(lines[2])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1000), r.TotalOperations)
	assert.GreaterOrEqual(t, r.GC.AllocatedBytes, int64(256*1000))
}

func TestServe_ExtraIterationFeedsHandlers(t *testing.T) {
	handler := &opsHandler{}
	registry := inprocess.NewRegistry()
	require.NoError(t, registry.Register("ops", func() inprocess.Handler { return handler }))
	envelope, err := inprocess.EncodeEnvelope([]inprocess.HandlerSpec{{Kind: "ops"}})
	require.NoError(t, err)

	c := testutil.NewTestCase("Contend", testutil.WithParams("goroutines", "3"))
	var out bytes.Buffer
	w := New(Env{Case: *c, Operations: 500, ExtraIteration: true, Handlers: envelope}, registry, acks(4), &out, nil)
	require.NoError(t, w.Serve(context.Background()))

	assert.Equal(t, int64(500), handler.ops)
	text := out.String()
	assert.Contains(t, text, FormatSignal(core.SignalBeforeMeasuredRun, true))
	assert.Contains(t, text, inprocess.FormatResult("ops", "seen"))

	lines := strings.Split(strings.TrimSpace(text), "\n")
	r, ok, err := ParseResults(lines[len(lines)-1])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(500), r.Threading.CompletedWorkItems)
}

func TestServe_MissingAckIsProtocolError(t *testing.T) {
	c := testutil.NewTestCase("Allocate")
	w := New(Env{Case: *c, Operations: 1}, nil, strings.NewReader("nope\n"), &bytes.Buffer{}, nil)
	err := w.Serve(context.Background())
	assert.True(t, core.IsContractViolation(err), "got %v", err)
}

func TestServe_UnknownBenchmark(t *testing.T) {
	w := New(Env{Case: core.BenchmarkCase{Method: "Nope"}, Operations: 1}, nil, acks(2), &bytes.Buffer{}, nil)
	assert.True(t, core.IsCategory(w.Serve(context.Background()), core.ErrCatNotFound))
}

func TestContend_CountsWorkItems(t *testing.T) {
	counters := &Counters{}
	require.NoError(t, Contend(context.Background(), 2000, map[string]string{"goroutines": "8"}, counters))
	assert.Equal(t, int64(2000), counters.WorkItems.Load())
	assert.GreaterOrEqual(t, counters.Contentions.Load(), int64(0))

	assert.Error(t, Contend(context.Background(), 1, map[string]string{"goroutines": "0"}, counters))
	assert.Error(t, Allocate(context.Background(), 1, map[string]string{"size": "x"}, counters))
}
