package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// MockDiagnoser implements core.Diagnoser and records every call.
type MockDiagnoser struct {
	ids        []string
	mode       core.ExecutionMode
	exclusive  bool
	fatal      string
	advisory   string
	handleFunc func(context.Context, core.Signal, *core.ActionParameters) error
	metrics    []metrics.Metric
	exporters  []core.Exporter
	analysers  []core.Analyser
	calls      []MockCall
	mu         sync.Mutex
}

// MockCall records a call to the mock.
type MockCall struct {
	Method    string
	Signal    core.Signal
	Run       core.RunKind
	CaseID    string
	Timestamp time.Time
}

var (
	_ core.Diagnoser         = (*MockDiagnoser)(nil)
	_ core.ExclusiveAttacher = (*MockDiagnoser)(nil)
)

// NewMockDiagnoser creates a mock answering mode for every case.
func NewMockDiagnoser(id string, mode core.ExecutionMode) *MockDiagnoser {
	return &MockDiagnoser{ids: []string{id}, mode: mode}
}

// WithIDs replaces the id list.
func (m *MockDiagnoser) WithIDs(ids ...string) *MockDiagnoser {
	m.ids = ids
	return m
}

// WithFatal makes Validate report a fatal entry per case and RunMode None.
func (m *MockDiagnoser) WithFatal(msg string) *MockDiagnoser {
	m.fatal = msg
	return m
}

// WithAdvisory makes Validate report an advisory entry per case.
func (m *MockDiagnoser) WithAdvisory(msg string) *MockDiagnoser {
	m.advisory = msg
	return m
}

// WithExclusive marks the mock as an exclusive attacher.
func (m *MockDiagnoser) WithExclusive() *MockDiagnoser {
	m.exclusive = true
	return m
}

// WithHandleFunc sets custom signal handling.
func (m *MockDiagnoser) WithHandleFunc(fn func(context.Context, core.Signal, *core.ActionParameters) error) *MockDiagnoser {
	m.handleFunc = fn
	return m
}

// WithMetrics sets the metrics returned for every case.
func (m *MockDiagnoser) WithMetrics(ms ...metrics.Metric) *MockDiagnoser {
	m.metrics = ms
	return m
}

// WithExporters sets the contributed exporters.
func (m *MockDiagnoser) WithExporters(e ...core.Exporter) *MockDiagnoser {
	m.exporters = e
	return m
}

// WithAnalysers sets the contributed analysers.
func (m *MockDiagnoser) WithAnalysers(a ...core.Analyser) *MockDiagnoser {
	m.analysers = a
	return m
}

func (m *MockDiagnoser) IDs() []string              { return m.ids }
func (m *MockDiagnoser) Exporters() []core.Exporter { return m.exporters }
func (m *MockDiagnoser) Analysers() []core.Analyser { return m.analysers }

// RunMode returns the configured mode, or None when the mock is fatal.
func (m *MockDiagnoser) RunMode(c *core.BenchmarkCase) core.ExecutionMode {
	m.record(MockCall{Method: "RunMode"})
	if m.fatal != "" {
		return core.ModeNone
	}
	return m.mode
}

// ExclusiveAttach reports the configured exclusivity.
func (m *MockDiagnoser) ExclusiveAttach(*core.BenchmarkCase) bool {
	return m.exclusive
}

// Handle records the signal and runs the custom handler, if any.
func (m *MockDiagnoser) Handle(ctx context.Context, signal core.Signal, p *core.ActionParameters) error {
	call := MockCall{Method: "Handle", Signal: signal}
	if p != nil {
		call.Run = p.Run
		call.CaseID = p.CaseID
	}
	m.record(call)
	if m.handleFunc != nil {
		return m.handleFunc(ctx, signal, p)
	}
	return nil
}

// ProcessResults returns the configured metrics.
func (m *MockDiagnoser) ProcessResults(*core.BenchmarkCase, *core.Results) []metrics.Metric {
	m.record(MockCall{Method: "ProcessResults"})
	return m.metrics
}

// DisplayResults writes the mock id.
func (m *MockDiagnoser) DisplayResults(w io.Writer) {
	m.record(MockCall{Method: "DisplayResults"})
	fmt.Fprintf(w, "mock %s\n", m.ids[0])
}

// Validate reports the configured fatal and advisory entries for every case.
func (m *MockDiagnoser) Validate(_ context.Context, cases []*core.BenchmarkCase) []core.ValidationError {
	m.record(MockCall{Method: "Validate"})
	var out []core.ValidationError
	for _, c := range cases {
		if m.fatal != "" {
			out = append(out, core.Fatal(c, "%s", m.fatal))
		}
		if m.advisory != "" {
			out = append(out, core.Advisory(c, "%s", m.advisory))
		}
	}
	return out
}

func (m *MockDiagnoser) record(call MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.Timestamp = time.Now()
	m.calls = append(m.calls, call)
}

// Calls returns every recorded call.
func (m *MockDiagnoser) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Signals returns the handled signals in delivery order.
func (m *MockDiagnoser) Signals() []core.Signal {
	var out []core.Signal
	for _, c := range m.Calls() {
		if c.Method == "Handle" {
			out = append(out, c.Signal)
		}
	}
	return out
}

// CallCount returns how often method was called.
func (m *MockDiagnoser) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls.
func (m *MockDiagnoser) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
