package testutil

import (
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

// NewTestCase creates a Go benchmark case with sensible defaults.
// Use functional options to override specific fields.
func NewTestCase(method string, opts ...func(*core.BenchmarkCase)) *core.BenchmarkCase {
	c := &core.BenchmarkCase{
		Type:   "Bench",
		Method: method,
		Job:    core.Job{ID: "job", Runtime: core.RuntimeGo},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithParams sets name/value parameter pairs on a test case.
func WithParams(pairs ...string) func(*core.BenchmarkCase) {
	return func(c *core.BenchmarkCase) {
		for i := 0; i+1 < len(pairs); i += 2 {
			c.Parameters = append(c.Parameters, core.Parameter{Name: pairs[i], Value: pairs[i+1]})
		}
	}
}

// NewRunConfig creates a run configuration writing artifacts under dir.
func NewRunConfig(dir string) *core.RunConfig {
	return &core.RunConfig{
		SessionID:    "session-test",
		SessionStart: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		ArtifactsDir: dir,
		ReadyTimeout: 5 * time.Second,
		StopTimeout:  5 * time.Second,
	}
}
