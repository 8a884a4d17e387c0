package core

import (
	"context"
	"io"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/metrics"
)

// =============================================================================
// Diagnoser Port
// =============================================================================

// Diagnoser observes the execution of benchmark cases and contributes metrics.
// An instance is case-sequential: signals for one case are fully handled
// before those of the next are issued.
type Diagnoser interface {
	// IDs returns the stable identifiers of this diagnoser.
	IDs() []string

	// Exporters returns the exporters this diagnoser contributes.
	Exporters() []Exporter

	// Analysers returns the analysers this diagnoser contributes.
	Analysers() []Analyser

	// RunMode resolves the execution mode for a case. It is a pure function
	// of configuration and case, called before any process exists.
	// It returns ModeNone exactly when Validate reports a fatal entry for c.
	RunMode(c *BenchmarkCase) ExecutionMode

	// Handle reacts to a lifecycle signal; unhandled signals are ignored.
	Handle(ctx context.Context, signal Signal, params *ActionParameters) error

	// ProcessResults turns data accumulated for c into metrics.
	ProcessResults(c *BenchmarkCase, results *Results) []metrics.Metric

	// DisplayResults writes a human readable summary.
	DisplayResults(w io.Writer)

	// Validate inspects every case up front.
	Validate(ctx context.Context, cases []*BenchmarkCase) []ValidationError
}

// InProcessDiagnoser is a diagnoser whose data is collected by a handler
// living inside the worker process.
type InProcessDiagnoser interface {
	Diagnoser

	// HandlerFor returns the handler kind and serialized configuration for c.
	// ok is false when c needs no in-process handler.
	HandlerFor(c *BenchmarkCase) (kind, config string, ok bool)

	// AcceptResults receives the serialized handler result after the worker exits.
	AcceptResults(c *BenchmarkCase, caseID, payload string) error
}

// ExclusiveAttacher is implemented by diagnosers whose collector cannot share
// a worker process with another exclusive collector.
type ExclusiveAttacher interface {
	ExclusiveAttach(c *BenchmarkCase) bool
}

// ArtifactProducer is implemented by diagnosers that leave files behind.
type ArtifactProducer interface {
	// Artifacts returns every artifact recorded so far.
	Artifacts() []ArtifactRef
}

// =============================================================================
// Exporter / Analyser Ports
// =============================================================================

// Report is the session outcome handed to exporters and analysers.
type Report struct {
	SessionID    string
	ArtifactsDir string
	Cases        []metrics.CaseMetrics
	Columns      []metrics.Column
	Artifacts    []ArtifactRef
}

// Exporter writes a report in some format under the artifacts directory.
type Exporter interface {
	Name() string
	Export(ctx context.Context, report *Report) ([]ArtifactRef, error)
}

// ConclusionKind grades an analyser finding.
type ConclusionKind string

const (
	ConclusionHint    ConclusionKind = "hint"
	ConclusionWarning ConclusionKind = "warning"
	ConclusionError   ConclusionKind = "error"
)

// Conclusion is one analyser finding.
type Conclusion struct {
	Kind     ConclusionKind
	Analyser string
	Message  string
	CaseKey  string
}

// Analyser inspects a report and reports findings.
type Analyser interface {
	ID() string
	Analyse(report *Report) []Conclusion
}

// =============================================================================
// ArtifactIndex Port
// =============================================================================

// ArtifactKind classifies an indexed file.
type ArtifactKind string

const (
	ArtifactTrace       ArtifactKind = "trace"
	ArtifactInterchange ArtifactKind = "interchange"
	ArtifactLog         ArtifactKind = "log"
	ArtifactSnapshot    ArtifactKind = "snapshot"
	ArtifactReport      ArtifactKind = "report"
)

// ArtifactRef references a file produced during a session.
type ArtifactRef struct {
	SessionID string       `json:"session_id"`
	CaseID    string       `json:"case_id"`
	Diagnoser string       `json:"diagnoser"`
	Kind      ArtifactKind `json:"kind"`
	Path      string       `json:"path"`
	CreatedAt time.Time    `json:"created_at"`
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Artifacts int       `json:"artifacts"`
	StartedAt time.Time `json:"started_at"`
}

// ArtifactIndex persists artifact references across sessions.
type ArtifactIndex interface {
	// Record stores ref. Recording the same path twice for a session is a no-op.
	Record(ctx context.Context, ref ArtifactRef) error

	// List returns artifacts of a session in creation order.
	List(ctx context.Context, sessionID string) ([]ArtifactRef, error)

	// Sessions returns every known session, newest first.
	Sessions(ctx context.Context) ([]SessionSummary, error)

	// Close releases resources.
	Close() error
}
