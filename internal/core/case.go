package core

import (
	"fmt"
	"strings"
)

// Runtime identifies the managed runtime a job targets.
type Runtime string

const (
	RuntimeGo     Runtime = "go"
	RuntimeNative Runtime = "native"
	RuntimeJVM    Runtime = "jvm"
	RuntimeDotNet Runtime = "dotnet"
)

// Parameter is one named benchmark parameter value.
type Parameter struct {
	Name  string `mapstructure:"name" json:"name"`
	Value string `mapstructure:"value" json:"value"`
}

// Job is the resolved job configuration of a benchmark case.
// Diagnosers only read it.
type Job struct {
	ID             string            `mapstructure:"id" json:"id"`
	Runtime        Runtime           `mapstructure:"runtime" json:"runtime"`
	RuntimeVersion string            `mapstructure:"runtime_version" json:"runtime_version,omitempty"`
	Platform       string            `mapstructure:"platform" json:"platform"`
	Arch           string            `mapstructure:"arch" json:"arch,omitempty"`
	Toolchain      string            `mapstructure:"toolchain" json:"toolchain,omitempty"`
	InProcess      bool              `mapstructure:"in_process" json:"in_process,omitempty"`
	Env            map[string]string `mapstructure:"env" json:"env,omitempty"`
}

// BenchmarkCase identifies one fully resolved benchmark invocation
// (method x parameters x job). It is owned by the harness and immutable.
type BenchmarkCase struct {
	Type       string      `mapstructure:"type" json:"type"`
	Method     string      `mapstructure:"method" json:"method"`
	Parameters []Parameter `mapstructure:"parameters" json:"parameters,omitempty"`
	Job        Job         `mapstructure:"job" json:"job"`
}

// FullName returns Type.Method.
func (c *BenchmarkCase) FullName() string {
	if c.Type == "" {
		return c.Method
	}
	return c.Type + "." + c.Method
}

// ParameterString renders parameters in declaration order as "a=1, b=2".
func (c *BenchmarkCase) ParameterString() string {
	if len(c.Parameters) == 0 {
		return ""
	}
	parts := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		parts[i] = p.Name + "=" + p.Value
	}
	return strings.Join(parts, ", ")
}

// DisplayName is the human readable name used in logs and summaries.
func (c *BenchmarkCase) DisplayName() string {
	name := c.FullName()
	if params := c.ParameterString(); params != "" {
		name += "(" + params + ")"
	}
	if c.Job.ID != "" {
		name += " [" + c.Job.ID + "]"
	}
	return name
}

// Key returns a stable map key for per-case state.
func (c *BenchmarkCase) Key() string {
	return fmt.Sprintf("%s|%s|%s", c.FullName(), c.ParameterString(), c.Job.ID)
}
