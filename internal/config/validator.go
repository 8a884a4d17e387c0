package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sahilm/fuzzy"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors     ValidationErrors
	diagnosers []string
	exporters  []string
}

// NewValidator creates a validator. Known diagnoser names enable the
// unknown-name check with suggestions.
func NewValidator(knownDiagnosers ...string) *Validator {
	return &Validator{
		errors:     make(ValidationErrors, 0),
		diagnosers: knownDiagnosers,
	}
}

// WithExporters enables the unknown exporter check.
func (v *Validator) WithExporters(known ...string) *Validator {
	v.exporters = known
	return v
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateArtifacts(&cfg.Artifacts)
	v.validateDiagnosers(cfg.Diagnosers)
	v.validateExporters(cfg.Exporters)
	v.validateProfiler(&cfg.Profiler)
	v.validateTools(cfg.Tools)
	v.validateWorker(&cfg.Worker)
	v.validateCases(cfg)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateArtifacts(cfg *ArtifactsConfig) {
	if cfg.Dir == "" {
		v.addError("artifacts.dir", cfg.Dir, "directory required")
	} else if !isValidPath(cfg.Dir) {
		v.addError("artifacts.dir", cfg.Dir, "invalid directory path")
	}
	if cfg.MaxPath < 0 {
		v.addError("artifacts.max_path", cfg.MaxPath, "must be zero (host limit) or positive")
	} else if cfg.MaxPath > 0 && cfg.MaxPath < 32 {
		v.addError("artifacts.max_path", cfg.MaxPath, "too small to hold any artifact name")
	}

	switch cfg.Index.Backend {
	case "sqlite", "json":
	default:
		v.addError("artifacts.index.backend", cfg.Index.Backend, "must be one of: sqlite, json")
	}
	if cfg.Index.Path == "" {
		v.addError("artifacts.index.path", cfg.Index.Path, "path required")
	}
}

func (v *Validator) validateDiagnosers(names []string) {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			v.addError("diagnosers", name, "listed more than once")
			continue
		}
		seen[name] = true
		if len(v.diagnosers) > 0 && !contains(v.diagnosers, name) {
			v.addError("diagnosers", name, unknownMessage("diagnoser", name, v.diagnosers))
		}
	}
}

func (v *Validator) validateExporters(names []string) {
	if len(v.exporters) == 0 {
		return
	}
	for _, name := range names {
		if !contains(v.exporters, name) {
			v.addError("exporters", name, unknownMessage("exporter", name, v.exporters))
		}
	}
}

func (v *Validator) validateProfiler(cfg *ProfilerConfig) {
	if cfg.ReadyTimeout <= 0 {
		v.addError("profiler.ready_timeout", cfg.ReadyTimeout, "must be positive")
	}
	if cfg.StopTimeout <= 0 {
		v.addError("profiler.stop_timeout", cfg.StopTimeout, "must be positive")
	}
	if cfg.ToolsDir == "" {
		v.addError("profiler.tools_dir", cfg.ToolsDir, "directory required")
	}
}

func (v *Validator) validateTools(tools map[string]ToolSpec) {
	for name, spec := range tools {
		prefix := "tools." + name
		switch spec.Attach {
		case "", AttachBeforeStart, AttachPID:
		default:
			v.addError(prefix+".attach", spec.Attach,
				fmt.Sprintf("must be one of: %s, %s", AttachBeforeStart, AttachPID))
		}
		if spec.RuntimeConstraint != "" {
			if _, err := semver.NewConstraint(spec.RuntimeConstraint); err != nil {
				v.addError(prefix+".runtime_constraint", spec.RuntimeConstraint, "invalid version constraint")
			}
		}
		if spec.ArtifactExt != "" && !strings.HasPrefix(spec.ArtifactExt, ".") {
			v.addError(prefix+".artifact_ext", spec.ArtifactExt, "must start with a dot")
		}
		switch spec.Convert {
		case "", "collapsed":
		default:
			v.addError(prefix+".convert", spec.Convert, "unknown converter")
		}
	}
}

func (v *Validator) validateWorker(cfg *WorkerConfig) {
	if cfg.Timeout <= 0 {
		v.addError("worker.timeout", cfg.Timeout, "must be positive")
	}
	if cfg.Operations <= 0 {
		v.addError("worker.operations", cfg.Operations, "must be positive")
	}
	if len(cfg.Command) > 0 && strings.TrimSpace(cfg.Command[0]) == "" {
		v.addError("worker.command", cfg.Command, "first element must name an executable")
	}
}

func (v *Validator) validateCases(cfg *Config) {
	keys := make(map[string]bool, len(cfg.Cases))
	for i := range cfg.Cases {
		c := &cfg.Cases[i]
		field := fmt.Sprintf("cases[%d]", i)
		if c.Method == "" {
			v.addError(field+".method", c.Method, "method required")
		}
		if c.Job.RuntimeVersion != "" {
			if _, err := semver.NewVersion(c.Job.RuntimeVersion); err != nil {
				v.addError(field+".job.runtime_version", c.Job.RuntimeVersion, "invalid version")
			}
		}
		if keys[c.Key()] {
			v.addError(field, c.DisplayName(), "duplicate case")
		}
		keys[c.Key()] = true
	}
}

func unknownMessage(kind, name string, known []string) string {
	msg := "unknown " + kind
	if matches := fuzzy.Find(name, known); len(matches) > 0 {
		return fmt.Sprintf("%s (did you mean %q?)", msg, matches[0].Str)
	}
	return fmt.Sprintf("%s (available: %s)", msg, strings.Join(known, ", "))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config, knownDiagnosers ...string) error {
	return NewValidator(knownDiagnosers...).Validate(cfg)
}
