// Package profiler drives external collector programs that observe a
// benchmark worker from outside its process.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
)

// Collector states.
const (
	StateUninstalled   = "uninstalled"
	StateInstalling    = "installing"
	StateIdle          = "idle"
	StateStarting      = "starting"
	StateAwaitingReady = "awaiting_ready"
	StateCollecting    = "collecting"
	StateStopping      = "stopping"
	StateCollected     = "collected"
	StateFailed        = "failed"
)

// Collector events.
const (
	EventInstall   = "install"
	EventInstalled = "installed"
	EventStart     = "start"
	EventSpawned   = "spawned"
	EventReady     = "ready"
	EventStop      = "stop"
	EventCollected = "collected"
	EventFail      = "fail"
)

var liveStates = []string{
	StateUninstalled, StateInstalling, StateIdle, StateStarting,
	StateAwaitingReady, StateCollecting, StateStopping,
}

// Machine tracks the lifecycle of one collection. Collected and Failed are
// terminal; Failed is reachable from every other state.
type Machine struct {
	mu     sync.Mutex
	fsm    *fsm.FSM
	logger *logging.Logger
	cause  error
}

// NewMachine creates a machine in the Uninstalled state.
func NewMachine(logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Machine{logger: logger}
	m.fsm = fsm.NewFSM(
		StateUninstalled,
		fsm.Events{
			{Name: EventInstall, Src: []string{StateUninstalled}, Dst: StateInstalling},
			{Name: EventInstalled, Src: []string{StateInstalling}, Dst: StateIdle},
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateStarting},
			{Name: EventSpawned, Src: []string{StateStarting}, Dst: StateAwaitingReady},
			{Name: EventReady, Src: []string{StateAwaitingReady}, Dst: StateCollecting},
			{Name: EventStop, Src: []string{StateCollecting}, Dst: StateStopping},
			{Name: EventCollected, Src: []string{StateStopping}, Dst: StateCollected},
			{Name: EventFail, Src: liveStates, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Debug("collector state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return m
}

// Current returns the current state.
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Current()
}

// Is reports whether the machine is in state.
func (m *Machine) Is(state string) bool {
	return m.Current() == state
}

// Terminal reports whether the machine reached Collected or Failed.
func (m *Machine) Terminal() bool {
	s := m.Current()
	return s == StateCollected || s == StateFailed
}

// Fire applies event. An event that does not apply to the current state is
// an error carrying both names.
func (m *Machine) Fire(ctx context.Context, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fsm.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		return fmt.Errorf("collector event %s in state %s: %w", event, m.fsm.Current(), err)
	}
	return nil
}

// Fail moves the machine to Failed and remembers cause. Failing a terminal
// machine keeps the first cause.
func (m *Machine) Fail(ctx context.Context, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsm.Current() == StateFailed || m.fsm.Current() == StateCollected {
		return
	}
	m.cause = cause
	if err := m.fsm.Event(ctx, EventFail); err != nil {
		m.logger.Warn("collector failure transition rejected", "state", m.fsm.Current(), "error", err)
	}
}

// Cause returns the error that failed the machine, if any.
func (m *Machine) Cause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}
