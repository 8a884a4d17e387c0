package profiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
)

// SnapshotStrategy is one concrete snapshot tool. CaptureSnapshot drives the
// hooks in a fixed order: Init, AttachByPID or AttachSelf, Snapshot, Detach.
type SnapshotStrategy interface {
	// Init prepares the tool once per capture.
	Init(ctx context.Context) error

	// AttachByPID attaches to an out-of-process worker.
	AttachByPID(ctx context.Context, pid int) error

	// AttachSelf attaches to the current process, for in-process jobs.
	AttachSelf(ctx context.Context) error

	// Snapshot writes the snapshot to path.
	Snapshot(ctx context.Context, path string) error

	// Detach releases the target. It runs even when Snapshot failed.
	Detach(ctx context.Context) error

	// RunnerPath is the tool executable, or "" for in-process tools.
	RunnerPath() string

	// IsSupported reports whether the tool can snapshot c, and why not.
	IsSupported(c *core.BenchmarkCase) (bool, string)

	// Ext is the snapshot file extension, including the dot.
	Ext() string
}

// SnapshotTarget selects what CaptureSnapshot attaches to.
type SnapshotTarget struct {
	PID  int
	Self bool
	Path string
}

// CaptureSnapshot runs one snapshot through s and verifies the file exists.
func CaptureSnapshot(ctx context.Context, s SnapshotStrategy, target SnapshotTarget) (err error) {
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("initializing snapshot tool: %w", err)
	}

	if target.Self {
		err = s.AttachSelf(ctx)
	} else {
		err = s.AttachByPID(ctx, target.PID)
	}
	if err != nil {
		return fmt.Errorf("attaching snapshot tool: %w", err)
	}
	defer func() {
		if derr := s.Detach(ctx); derr != nil {
			err = errors.Join(err, fmt.Errorf("detaching snapshot tool: %w", derr))
		}
	}()

	if err := s.Snapshot(ctx, target.Path); err != nil {
		return fmt.Errorf("taking snapshot: %w", err)
	}
	if !fsutil.Exists(target.Path) {
		return core.ErrCollection(core.CodeArtifactMissing, "snapshot file was not written").
			WithDetail("path", target.Path)
	}
	return nil
}
