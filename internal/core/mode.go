package core

import "fmt"

// ExecutionMode is a diagnoser's declared requirement for extra executions
// of a benchmark case.
type ExecutionMode int

const (
	// ModeNone means the diagnoser is inert for the case.
	ModeNone ExecutionMode = iota
	// ModeNoOverhead observes during the primary run with negligible bias.
	ModeNoOverhead
	// ModeExtraIteration needs one additional measured iteration only.
	ModeExtraIteration
	// ModeExtraRun needs a full additional run; attaching would bias the primary run.
	ModeExtraRun
	// ModeSeparateLogic runs fully outside the normal run loop.
	ModeSeparateLogic
)

var modeNames = map[ExecutionMode]string{
	ModeNone:           "None",
	ModeNoOverhead:     "NoOverhead",
	ModeExtraIteration: "ExtraIteration",
	ModeExtraRun:       "ExtraRun",
	ModeSeparateLogic:  "SeparateLogic",
}

func (m ExecutionMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ExecutionMode(%d)", int(m))
}

// InRunLoop reports whether the mode is served by the normal run loop.
// SeparateLogic and None are not.
func (m ExecutionMode) InRunLoop() bool {
	return m == ModeNoOverhead || m == ModeExtraIteration || m == ModeExtraRun
}

// MaxMode returns the pointwise maximum of the in-loop modes.
// SeparateLogic is out of band and never raises the result.
func MaxMode(modes ...ExecutionMode) ExecutionMode {
	result := ModeNone
	for _, m := range modes {
		if m.InRunLoop() && m > result {
			result = m
		}
	}
	return result
}
