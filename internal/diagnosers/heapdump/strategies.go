package heapdump

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
)

// GcoreStrategy dumps an out-of-process worker with gdb's gcore.
type GcoreStrategy struct {
	// Executable overrides the gcore lookup on PATH.
	Executable string

	runner string
	pid    int
}

var _ profiler.SnapshotStrategy = (*GcoreStrategy)(nil)

func (g *GcoreStrategy) lookup() (string, error) {
	name := g.Executable
	if name == "" {
		name = "gcore"
	}
	return exec.LookPath(name)
}

func (g *GcoreStrategy) Init(context.Context) error {
	path, err := g.lookup()
	if err != nil {
		return core.ErrToolUnavailable("gcore", "gcore not found").WithCause(err)
	}
	g.runner = path
	return nil
}

func (g *GcoreStrategy) AttachByPID(_ context.Context, pid int) error {
	if !diagnostics.ProcessAlive(pid) {
		return core.ErrCollection(core.CodeCollectorCrashed, "worker exited before the snapshot").
			WithDetail("pid", pid)
	}
	g.pid = pid
	return nil
}

func (g *GcoreStrategy) AttachSelf(context.Context) error {
	return core.ErrToolUnavailable("gcore", "gcore cannot dump the harness itself")
}

// Snapshot runs gcore, which names its output <prefix>.<pid>, and moves the
// dump to path.
func (g *GcoreStrategy) Snapshot(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	prefix := path + ".gcore"
	pid := strconv.Itoa(g.pid)
	out, err := exec.CommandContext(ctx, g.runner, "-o", prefix, pid).CombinedOutput()
	if err != nil {
		return core.ErrCollection(core.CodeCollectorCrashed, "gcore failed").
			WithDetail("output", string(out)).WithCause(err)
	}
	if err := os.Rename(prefix+"."+pid, path); err != nil {
		return fmt.Errorf("moving core dump: %w", err)
	}
	return nil
}

func (g *GcoreStrategy) Detach(context.Context) error {
	g.pid = 0
	return nil
}

func (g *GcoreStrategy) RunnerPath() string {
	return g.runner
}

func (g *GcoreStrategy) IsSupported(c *core.BenchmarkCase) (bool, string) {
	platform := c.Job.Platform
	if platform == "" {
		platform = runtime.GOOS
	}
	if platform != "linux" {
		return false, fmt.Sprintf("gcore needs linux, job targets %s", platform)
	}
	if c.Job.InProcess {
		return false, "gcore dumps worker processes; the job runs in-process"
	}
	if _, err := g.lookup(); err != nil {
		return false, "gcore not found on PATH"
	}
	return true, ""
}

func (g *GcoreStrategy) Ext() string {
	return ".core"
}

// PprofStrategy writes a Go heap profile of the current process. It serves
// jobs that run inside the harness.
type PprofStrategy struct{}

var _ profiler.SnapshotStrategy = PprofStrategy{}

func (PprofStrategy) Init(context.Context) error {
	return nil
}

func (PprofStrategy) AttachByPID(context.Context, int) error {
	return core.ErrToolUnavailable("pprof", "heap profiles can only be taken of the current process")
}

func (PprofStrategy) AttachSelf(context.Context) error {
	return nil
}

func (PprofStrategy) Snapshot(_ context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating heap profile: %w", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("writing heap profile: %w", err)
	}
	return f.Close()
}

func (PprofStrategy) Detach(context.Context) error {
	return nil
}

func (PprofStrategy) RunnerPath() string {
	return ""
}

func (PprofStrategy) IsSupported(c *core.BenchmarkCase) (bool, string) {
	if !c.Job.InProcess {
		return false, "heap profiles need an in-process job"
	}
	if c.Job.Runtime != "" && c.Job.Runtime != core.RuntimeGo {
		return false, fmt.Sprintf("heap profiles need a go job, got %s", c.Job.Runtime)
	}
	return true, ""
}

func (PprofStrategy) Ext() string {
	return ".pprof"
}
