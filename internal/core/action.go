package core

import (
	"os"
	"time"
)

// RunKind distinguishes the primary run of a case from its extra diagnostic run.
type RunKind string

const (
	RunPrimary RunKind = "primary"
	RunExtra   RunKind = "extra"
)

// RunConfig is the resolved, read-only configuration shared by every
// diagnoser during a session.
type RunConfig struct {
	SessionID     string
	SessionStart  time.Time
	ArtifactsDir  string
	Toolchains    []string
	ShowColumns   []string
	MaxPathLength int
	ReadyTimeout  time.Duration
	StopTimeout   time.Duration
}

// MultiToolchain reports whether artifact names need a toolchain discriminator.
func (c *RunConfig) MultiToolchain() bool {
	return c != nil && len(c.Toolchains) > 1
}

// ActionParameters accompany every lifecycle signal.
type ActionParameters struct {
	// Process is the worker process; nil before it is spawned.
	Process *os.Process
	Case    *BenchmarkCase
	CaseID  string
	Run     RunKind
	Config  *RunConfig

	// ExtraIteration is set while the worker runs the additional measured iteration.
	ExtraIteration bool
}

// HasProcess reports whether a worker process handle is present.
func (p *ActionParameters) HasProcess() bool {
	return p != nil && p.Process != nil
}

// ProcessID returns the worker process id. Calling it before the worker is
// spawned is harness misuse and panics with a contract violation.
func (p *ActionParameters) ProcessID() int {
	if !p.HasProcess() {
		panic(ErrContract(CodeNoProcess, "process id requested before the worker process exists"))
	}
	return p.Process.Pid
}
