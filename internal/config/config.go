package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log         LogConfig            `mapstructure:"log"`
	Artifacts   ArtifactsConfig      `mapstructure:"artifacts"`
	Diagnosers  []string             `mapstructure:"diagnosers"`
	ShowColumns []string             `mapstructure:"show_columns"`
	Profiler    ProfilerConfig       `mapstructure:"profiler"`
	Tools       map[string]ToolSpec  `mapstructure:"tools"`
	Hostload    HostloadConfig       `mapstructure:"hostload"`
	Worker      WorkerConfig         `mapstructure:"worker"`
	CrashDumps  CrashDumpConfig      `mapstructure:"crash_dumps"`
	Exporters   []string             `mapstructure:"exporters"`
	Cases       []core.BenchmarkCase `mapstructure:"cases"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ArtifactsConfig configures where collector output goes.
type ArtifactsConfig struct {
	Dir     string      `mapstructure:"dir"`
	MaxPath int         `mapstructure:"max_path"` // 0 means the host limit
	Index   IndexConfig `mapstructure:"index"`
}

// IndexConfig selects the artifact index backend.
type IndexConfig struct {
	Backend string `mapstructure:"backend"` // sqlite, json
	Path    string `mapstructure:"path"`
}

// ProfilerConfig configures external collector orchestration.
type ProfilerConfig struct {
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	ToolsDir     string        `mapstructure:"tools_dir"`
	Convert      bool          `mapstructure:"convert"`
}

// HostloadConfig configures the host load sampler.
type HostloadConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// WorkerConfig configures how benchmark workers are spawned.
type WorkerConfig struct {
	// Command is the worker argv. Empty means this binary's hidden worker command.
	Command    []string          `mapstructure:"command"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Operations int64             `mapstructure:"operations"`
	Toolchains []string          `mapstructure:"toolchains"`
	Env        map[string]string `mapstructure:"env"`
}

// CrashDumpConfig configures diagnoser panic dumps.
type CrashDumpConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Dir          string `mapstructure:"dir"`
	MaxFiles     int    `mapstructure:"max_files"`
	IncludeStack bool   `mapstructure:"include_stack"`
}

// Attach modes of an external collector.
const (
	AttachBeforeStart = "before-start"
	AttachPID         = "attach-pid"
)

// ToolSpec describes an external collector program.
type ToolSpec struct {
	Name string `mapstructure:"name" yaml:"name"`

	// Executable is an absolute path or a name resolved on PATH. When Template
	// is set the executable is materialized under the tools directory instead.
	Executable  string   `mapstructure:"executable" yaml:"executable"`
	Template    string   `mapstructure:"template" yaml:"template"`
	InstallArgs []string `mapstructure:"install_args" yaml:"install_args"`

	// Args are text/template strings with .Artifact, .PID, .CaseID and .ReadyFile.
	Args []string          `mapstructure:"args" yaml:"args"`
	Env  map[string]string `mapstructure:"env" yaml:"env"`

	Attach         string `mapstructure:"attach" yaml:"attach"`
	ReadyPhrase    string `mapstructure:"ready_phrase" yaml:"ready_phrase"`
	ReadyFile      bool   `mapstructure:"ready_file" yaml:"ready_file"`
	FinishedPhrase string `mapstructure:"finished_phrase" yaml:"finished_phrase"`
	ArtifactExt    string `mapstructure:"artifact_ext" yaml:"artifact_ext"`

	RequiresRoot      bool     `mapstructure:"requires_root" yaml:"requires_root"`
	Platforms         []string `mapstructure:"platforms" yaml:"platforms"`
	Runtimes          []string `mapstructure:"runtimes" yaml:"runtimes"`
	RuntimeConstraint string   `mapstructure:"runtime_constraint" yaml:"runtime_constraint"`
	Exclusive         bool     `mapstructure:"exclusive" yaml:"exclusive"`

	// Convert names a post-processing converter ("collapsed") or is empty.
	Convert string `mapstructure:"convert" yaml:"convert"`
}

// Merge overlays the non-zero fields of o onto s.
func (s ToolSpec) Merge(o ToolSpec) ToolSpec {
	if o.Name != "" {
		s.Name = o.Name
	}
	if o.Executable != "" {
		s.Executable = o.Executable
		s.Template = ""
	}
	if o.Template != "" {
		s.Template = o.Template
	}
	if o.InstallArgs != nil {
		s.InstallArgs = o.InstallArgs
	}
	if o.Args != nil {
		s.Args = o.Args
	}
	if len(o.Env) > 0 {
		env := make(map[string]string, len(s.Env)+len(o.Env))
		for k, v := range s.Env {
			env[k] = v
		}
		for k, v := range o.Env {
			env[k] = v
		}
		s.Env = env
	}
	if o.Attach != "" {
		s.Attach = o.Attach
	}
	if o.ReadyPhrase != "" {
		s.ReadyPhrase = o.ReadyPhrase
	}
	if o.ReadyFile {
		s.ReadyFile = true
	}
	if o.FinishedPhrase != "" {
		s.FinishedPhrase = o.FinishedPhrase
	}
	if o.ArtifactExt != "" {
		s.ArtifactExt = o.ArtifactExt
	}
	if o.RequiresRoot {
		s.RequiresRoot = true
	}
	if o.Platforms != nil {
		s.Platforms = o.Platforms
	}
	if o.Runtimes != nil {
		s.Runtimes = o.Runtimes
	}
	if o.RuntimeConstraint != "" {
		s.RuntimeConstraint = o.RuntimeConstraint
	}
	if o.Exclusive {
		s.Exclusive = true
	}
	if o.Convert != "" {
		s.Convert = o.Convert
	}
	return s
}
