package core

import "fmt"

// Signal is a named checkpoint raised by the harness during a benchmark's life.
// Values are ordered: within one run they are delivered in ascending order.
type Signal int

const (
	SignalBeforeAnythingElse Signal = iota
	SignalBeforeProcessStart
	SignalBeforeMeasuredRun
	SignalAfterMeasuredRun
	SignalAfterProcessExit
	SignalSeparateLogic
	SignalAfterAll
)

var signalNames = []string{
	"BeforeAnythingElse",
	"BeforeProcessStart",
	"BeforeMeasuredRun",
	"AfterMeasuredRun",
	"AfterProcessExit",
	"SeparateLogic",
	"AfterAll",
}

func (s Signal) String() string {
	if s >= 0 && int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// ParseSignal resolves a signal name as written on the worker stream.
func ParseSignal(name string) (Signal, error) {
	for i, n := range signalNames {
		if n == name {
			return Signal(i), nil
		}
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

// Repeats reports whether the signal fires once per measured iteration
// rather than at most once per occurrence.
func (s Signal) Repeats() bool {
	return s == SignalBeforeMeasuredRun || s == SignalAfterMeasuredRun
}
