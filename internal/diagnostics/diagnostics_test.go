package diagnostics

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSafeExecutor_PrepareCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	executor := NewSafeExecutor(testLogger())

	cmd := exec.Command("/bin/sh", "-c", "echo hello")
	pipes, err := executor.PrepareCommand(cmd)
	if err != nil {
		t.Fatalf("PrepareCommand: %v", err)
	}
	defer pipes.Cleanup()

	if executor.Active() != 1 {
		t.Errorf("expected 1 active command, got %d", executor.Active())
	}
	if pipes.Stdin != nil {
		t.Error("expected no stdin pipe")
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := pipes.Stdout.Read(buf); err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	_ = cmd.Wait()

	pipes.Cleanup()
	pipes.Cleanup()
	if executor.Active() != 0 {
		t.Errorf("expected 0 active commands after cleanup, got %d", executor.Active())
	}
	if executor.Launched() != 1 {
		t.Errorf("expected 1 launched command, got %d", executor.Launched())
	}
}

func TestSafeExecutor_PrepareInteractive(t *testing.T) {
	executor := NewSafeExecutor(nil)
	pipes, err := executor.PrepareInteractive(exec.Command("cat"))
	if err != nil {
		t.Fatalf("PrepareInteractive: %v", err)
	}
	defer pipes.Cleanup()
	if pipes.Stdin == nil || pipes.Stdout == nil || pipes.Stderr == nil {
		t.Error("expected all three pipes")
	}
}

func TestSafeExecutor_PrepareAfterStdoutSet(t *testing.T) {
	executor := NewSafeExecutor(nil)
	cmd := exec.Command("true")
	cmd.Stdout = os.Stdout
	if _, err := executor.PrepareCommand(cmd); err == nil {
		t.Fatal("expected error when Stdout already set")
	}
	if executor.Active() != 0 {
		t.Errorf("expected active count restored, got %d", executor.Active())
	}
}

func TestSafeExecutor_Preflight(t *testing.T) {
	executor := NewSafeExecutor(nil)
	err := executor.Preflight(exec.Command("/definitely/not/here"))
	if !core.IsCategory(err, core.ErrCatToolUnavailable) {
		t.Errorf("expected tool unavailable, got %v", err)
	}
	if err := executor.Preflight(exec.Command(os.Args[0])); err != nil {
		t.Errorf("expected test binary to pass preflight, got %v", err)
	}
}

func TestKillProcessTree(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & sleep 30; wait")
	ConfigureProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := cmd.Process.Pid
	time.Sleep(100 * time.Millisecond)

	if err := KillProcessTree(pid); err != nil {
		t.Fatalf("KillProcessTree: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process tree still running after kill")
	}

	// The target is gone now; killing again must be tolerated.
	if err := KillProcessTree(pid); err != nil {
		t.Errorf("expected already exited target to be tolerated, got %v", err)
	}
	if ProcessAlive(pid) {
		t.Error("expected process to be reported dead")
	}
}

func TestKillProcessTree_InvalidPID(t *testing.T) {
	if err := KillProcessTree(0); err != nil {
		t.Errorf("expected nil for pid 0, got %v", err)
	}
}

func TestGuard_RecoversPanic(t *testing.T) {
	dir := t.TempDir()
	dumps := NewCrashDumpWriter(dir, 2, true, testLogger())
	scope := Scope{Diagnoser: "perf", Operation: "Handle", CaseID: "c1"}

	err := Guard(testLogger(), dumps, scope, func() error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr.Code != core.CodeDiagnoserPanic {
		t.Fatalf("expected diagnoser panic code, got %v", err)
	}

	dump, loadErr := LoadLatestCrashDump(dir)
	if loadErr != nil {
		t.Fatalf("LoadLatestCrashDump: %v", loadErr)
	}
	if dump.Diagnoser != "perf" || dump.PanicValue != "boom" || dump.StackTrace == "" {
		t.Errorf("unexpected dump: %+v", dump)
	}
}

func TestGuard_PassesErrorsThrough(t *testing.T) {
	want := errors.New("plain")
	if err := Guard(nil, nil, Scope{}, func() error { return want }); err != want {
		t.Errorf("expected error passthrough, got %v", err)
	}
}

func TestGuard_RepanicsContractViolation(t *testing.T) {
	defer func() {
		r := recover()
		if !core.IsContractViolation(r) {
			t.Errorf("expected contract violation to propagate, got %v", r)
		}
	}()
	_ = Guard(nil, nil, Scope{}, func() error {
		(&core.ActionParameters{}).ProcessID()
		return nil
	})
}

func TestCrashDumpWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	w := NewCrashDumpWriter(dir, 1, false, nil)
	for i := 0; i < 3; i++ {
		if _, err := w.Write(Scope{Diagnoser: "x"}, i, nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected 1 dump after rotation, got %d", len(entries))
	}
}

func TestMemSnapshot_Sub(t *testing.T) {
	before := TakeMemSnapshot()
	sink := make([][]byte, 0, 100)
	for i := 0; i < 100; i++ {
		sink = append(sink, make([]byte, 1024))
	}
	_ = sink
	delta := TakeMemSnapshot().Sub(before)
	if delta.Mallocs == 0 || delta.TotalAlloc < 100*1024 {
		t.Errorf("expected allocations to be visible, got %+v", delta)
	}
}

func TestHostSampler_StartStop(t *testing.T) {
	sampler := NewHostSampler(20*time.Millisecond, 5, nil, testLogger())
	sampler.Start(t.Context())
	time.Sleep(100 * time.Millisecond)

	summary := sampler.Stop()
	if summary.Samples == 0 {
		t.Error("expected samples")
	}
	if summary.Samples > 5 {
		t.Errorf("expected history bounded to 5, got %d", summary.Samples)
	}
	if summary.MaxCPU < summary.MeanCPU {
		t.Errorf("max below mean: %+v", summary)
	}
	// Second stop is a no-op.
	_ = sampler.Stop()
}

func TestHostTopology(t *testing.T) {
	topo := HostTopology()
	if topo.Threads <= 0 {
		t.Errorf("expected positive thread count, got %+v", topo)
	}
}

func TestCPUSample_PercentSince(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur cpuSample
		want      float64
	}{
		{"first reading", cpuSample{}, cpuSample{busy: 5, total: 10}, 0},
		{"half busy", cpuSample{busy: 10, total: 100}, cpuSample{busy: 60, total: 200}, 50},
		{"idle", cpuSample{busy: 10, total: 100}, cpuSample{busy: 10, total: 150}, 0},
		{"counter went backwards", cpuSample{busy: 10, total: 100}, cpuSample{busy: 5, total: 50}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cur.percentSince(tt.prev); got != tt.want {
				t.Errorf("percentSince() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSystemMetricsCollector_Collect(t *testing.T) {
	c := NewSystemMetricsCollector()
	first := c.Collect()
	if first.CPUThreads <= 0 {
		t.Errorf("expected thread count from topology, got %+v", first)
	}
	if first.CPUPercent != 0 {
		t.Errorf("first reading should report no CPU share, got %v", first.CPUPercent)
	}
	second := c.Collect()
	if second.CPUPercent < 0 || second.CPUPercent > 100 {
		t.Errorf("CPU percent out of range: %v", second.CPUPercent)
	}
}
