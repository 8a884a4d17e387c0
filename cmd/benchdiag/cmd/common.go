package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnoser"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/export"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
)

// loadConfig reads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoaderWithViper(v).WithConfigFile(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	known := diagnosers.NewRegistry(diagnoser.Deps{}).List()
	if err := config.NewValidator(known...).WithExporters(export.Names()...).Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level, format := logLevel, logFormat
	if cfg != nil {
		level, format = cfg.Log.Level, cfg.Log.Format
	}
	if quiet {
		level = "warn"
	}
	return logging.New(logging.Config{Level: level, Format: format, Output: os.Stderr})
}

// runConfig resolves the read-only view diagnosers see.
func runConfig(cfg *config.Config) *core.RunConfig {
	return &core.RunConfig{
		SessionID:     uuid.NewString(),
		ArtifactsDir:  cfg.Artifacts.Dir,
		Toolchains:    cfg.Worker.Toolchains,
		ShowColumns:   cfg.ShowColumns,
		MaxPathLength: cfg.Artifacts.MaxPath,
		ReadyTimeout:  cfg.Profiler.ReadyTimeout,
		StopTimeout:   cfg.Profiler.StopTimeout,
	}
}

// selectCases returns the configured cases whose display name contains any
// filter, ignoring case. No filters selects every case. Unset platform and
// runtime resolve to the host and go.
func selectCases(cfg *config.Config, filters []string) ([]*core.BenchmarkCase, error) {
	var out []*core.BenchmarkCase
	for i := range cfg.Cases {
		c := &cfg.Cases[i]
		if c.Job.Platform == "" {
			c.Job.Platform = runtime.GOOS
		}
		if c.Job.Runtime == "" {
			c.Job.Runtime = core.RuntimeGo
		}
		if len(filters) == 0 || matchesAny(c, filters) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		if len(filters) > 0 {
			return nil, fmt.Errorf("no case matches %s", strings.Join(filters, ", "))
		}
		return nil, fmt.Errorf("no cases configured (run 'benchdiag init' for an example)")
	}
	return out, nil
}

func matchesAny(c *core.BenchmarkCase, filters []string) bool {
	name := strings.ToLower(c.DisplayName())
	for _, f := range filters {
		if strings.Contains(name, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
