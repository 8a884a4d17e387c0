package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

func validConfig() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "auto"},
		Artifacts: ArtifactsConfig{Dir: "artifacts", Index: IndexConfig{Backend: "json", Path: "index.json"}},
		Profiler:  ProfilerConfig{ReadyTimeout: time.Second, StopTimeout: time.Second, ToolsDir: "tools"},
		Worker:    WorkerConfig{Timeout: time.Minute, Operations: 100},
	}
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			out[e.Field] = e.Message
		}
	}
	return out
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := NewValidator("memory").Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidator_UnknownDiagnoserSuggestion(t *testing.T) {
	cfg := validConfig()
	cfg.Diagnosers = []string{"threadng"}

	errs := fieldErrors(NewValidator("memory", "threading", "perf").Validate(cfg))
	msg, ok := errs["diagnosers"]
	if !ok {
		t.Fatalf("expected diagnosers error, got %v", errs)
	}
	if !strings.Contains(msg, `did you mean "threading"`) {
		t.Errorf("expected suggestion, got %q", msg)
	}
}

func TestValidator_UnknownDiagnoserWithoutMatch(t *testing.T) {
	cfg := validConfig()
	cfg.Diagnosers = []string{"zzz"}
	msg := fieldErrors(NewValidator("memory", "perf").Validate(cfg))["diagnosers"]
	if !strings.Contains(msg, "available: memory, perf") {
		t.Errorf("expected available list, got %q", msg)
	}
}

func TestValidator_DuplicateDiagnoser(t *testing.T) {
	cfg := validConfig()
	cfg.Diagnosers = []string{"memory", "memory"}
	if _, ok := fieldErrors(NewValidator().Validate(cfg))["diagnosers"]; !ok {
		t.Error("expected duplicate diagnoser error")
	}
}

func TestValidator_Fields(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "loud"
	cfg.Artifacts.Index.Backend = "postgres"
	cfg.Artifacts.MaxPath = 10
	cfg.Profiler.ReadyTimeout = 0
	cfg.Worker.Timeout = -time.Second
	cfg.Tools = map[string]ToolSpec{
		"x": {Attach: "sideways", RuntimeConstraint: ">>1", ArtifactExt: "trace", Convert: "pprof"},
	}
	cfg.Cases = []core.BenchmarkCase{
		{Method: "A", Job: core.Job{RuntimeVersion: "not-a-version"}},
		{Method: "A", Job: core.Job{RuntimeVersion: "not-a-version"}},
		{},
	}

	errs := fieldErrors(NewValidator().Validate(cfg))
	for _, field := range []string{
		"log.level", "artifacts.index.backend", "artifacts.max_path",
		"profiler.ready_timeout", "worker.timeout",
		"tools.x.attach", "tools.x.runtime_constraint", "tools.x.artifact_ext", "tools.x.convert",
		"cases[0].job.runtime_version", "cases[1]", "cases[2].method",
	} {
		if _, ok := errs[field]; !ok {
			t.Errorf("expected error for %s, got %v", field, errs)
		}
	}
}

func TestValidator_UnknownExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Exporters = []string{"promethus"}
	msg := fieldErrors(NewValidator().WithExporters("prometheus", "json").Validate(cfg))["exporters"]
	if !strings.Contains(msg, "prometheus") {
		t.Errorf("expected exporter suggestion, got %q", msg)
	}
}

func TestToolSpecMerge(t *testing.T) {
	base := ToolSpec{Name: "perf", Template: "perf.sh", Args: []string{"a"}, Env: map[string]string{"A": "1"}}
	merged := base.Merge(ToolSpec{Executable: "/usr/bin/perf", Env: map[string]string{"B": "2"}, RequiresRoot: true})

	if merged.Template != "" || merged.Executable != "/usr/bin/perf" {
		t.Errorf("explicit executable must replace template: %+v", merged)
	}
	if merged.Env["A"] != "1" || merged.Env["B"] != "2" {
		t.Errorf("env not merged: %v", merged.Env)
	}
	if len(merged.Args) != 1 || !merged.RequiresRoot {
		t.Errorf("unexpected merge: %+v", merged)
	}
	if base.Env["B"] != "" {
		t.Error("merge must not mutate the base env")
	}
}
