// Package worker runs synthetic benchmark cases in a child process and
// speaks the line protocol the harness drives diagnosers with.
//
// The harness passes the case in the environment. The worker writes markers
// on stdout:
//
//	#benchdiag signal <SignalName> [extra]
//	#benchdiag inprocess v1 <kind> <base64 payload>
//	#benchdiag results <json>
//
// After every signal marker it blocks until the harness writes "ack" on its
// stdin, so diagnoser handling completes before the worker moves on.
package worker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/inprocess"
)

// Environment variables set by the harness before spawning a worker.
const (
	EnvCaseID         = "BENCHDIAG_CASE_ID"
	EnvRun            = "BENCHDIAG_RUN"
	EnvExtraIteration = "BENCHDIAG_EXTRA_ITERATION"
	EnvCase           = "BENCHDIAG_CASE"
	EnvOperations     = "BENCHDIAG_OPERATIONS"
	EnvInProcess      = inprocess.EnvVar
)

// Line markers.
const (
	SignalPrefix  = "#benchdiag signal "
	ResultsPrefix = "#benchdiag results "
	Ack           = "ack"
	extraFlag     = "extra"
)

// DefaultOperations is used when the environment names no operation count.
const DefaultOperations = 10000

// Env is the worker's view of one run.
type Env struct {
	CaseID         string
	Run            core.RunKind
	ExtraIteration bool
	Case           core.BenchmarkCase
	Operations     int64
	Handlers       string
}

// Environ renders e as KEY=value pairs.
func (e Env) Environ() ([]string, error) {
	c, err := json.Marshal(e.Case)
	if err != nil {
		return nil, fmt.Errorf("encoding case: %w", err)
	}
	extra := "0"
	if e.ExtraIteration {
		extra = "1"
	}
	env := []string{
		EnvCaseID + "=" + e.CaseID,
		EnvRun + "=" + string(e.Run),
		EnvExtraIteration + "=" + extra,
		EnvCase + "=" + string(c),
		EnvOperations + "=" + strconv.FormatInt(e.Operations, 10),
	}
	if e.Handlers != "" {
		env = append(env, EnvInProcess+"="+e.Handlers)
	}
	return env, nil
}

// EnvFrom reads the run description through lookup, usually os.LookupEnv.
func EnvFrom(lookup func(string) (string, bool)) (Env, error) {
	var e Env
	raw, ok := lookup(EnvCase)
	if !ok || raw == "" {
		return e, fmt.Errorf("%s not set: the worker must be started by benchdiag", EnvCase)
	}
	if err := json.Unmarshal([]byte(raw), &e.Case); err != nil {
		return e, fmt.Errorf("decoding %s: %w", EnvCase, err)
	}
	e.CaseID, _ = lookup(EnvCaseID)
	run, _ := lookup(EnvRun)
	e.Run = core.RunKind(run)
	if e.Run == "" {
		e.Run = core.RunPrimary
	}
	extra, _ := lookup(EnvExtraIteration)
	e.ExtraIteration = extra == "1"
	e.Operations = DefaultOperations
	if ops, ok := lookup(EnvOperations); ok && ops != "" {
		n, err := strconv.ParseInt(ops, 10, 64)
		if err != nil || n <= 0 {
			return e, fmt.Errorf("invalid %s %q", EnvOperations, ops)
		}
		e.Operations = n
	}
	e.Handlers, _ = lookup(EnvInProcess)
	return e, nil
}

// FormatSignal renders a signal marker. extra marks the extra measured
// iteration.
func FormatSignal(s core.Signal, extra bool) string {
	line := SignalPrefix + s.String()
	if extra {
		line += " " + extraFlag
	}
	return line
}

// ParseSignal decodes a signal marker. ok is false for other lines.
func ParseSignal(line string) (s core.Signal, extra, ok bool, err error) {
	rest, found := strings.CutPrefix(line, SignalPrefix)
	if !found {
		return 0, false, false, nil
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, false, true, fmt.Errorf("malformed signal marker %q", line)
	}
	if len(fields) == 2 {
		if fields[1] != extraFlag {
			return 0, false, true, fmt.Errorf("unknown signal flag %q", fields[1])
		}
		extra = true
	}
	s, err = core.ParseSignal(fields[0])
	return s, extra, true, err
}

// FormatResults renders the results marker.
func FormatResults(r *core.Results) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding results: %w", err)
	}
	return ResultsPrefix + string(data), nil
}

// ParseResults decodes a results marker. ok is false for other lines.
func ParseResults(line string) (r *core.Results, ok bool, err error) {
	rest, found := strings.CutPrefix(line, ResultsPrefix)
	if !found {
		return nil, false, nil
	}
	r = &core.Results{}
	if err := json.Unmarshal([]byte(rest), r); err != nil {
		return nil, true, fmt.Errorf("decoding results: %w", err)
	}
	return r, true, nil
}
