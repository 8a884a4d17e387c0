package core

import "time"

// GCStats are the garbage collector totals of a case's primary run.
type GCStats struct {
	Collections    int64         `json:"collections"`
	AllocatedBytes int64         `json:"allocated_bytes"`
	PauseTotal     time.Duration `json:"pause_total"`
}

// ThreadingStats are the concurrency totals of a case's primary run.
type ThreadingStats struct {
	CompletedWorkItems int64 `json:"completed_work_items"`
	LockContentions    int64 `json:"lock_contentions"`
}

// Results are delivered once per case after its runs complete.
type Results struct {
	TotalOperations int64          `json:"total_operations"`
	GC              GCStats        `json:"gc"`
	Threading       ThreadingStats `json:"threading"`
	BuildArtifact   string         `json:"build_artifact,omitempty"`
}

// PerOperation divides total by the executed operation count.
// It returns 0 when no operations were recorded.
func (r *Results) PerOperation(total int64) float64 {
	if r == nil || r.TotalOperations <= 0 {
		return 0
	}
	return float64(total) / float64(r.TotalOperations)
}
