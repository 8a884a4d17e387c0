// Package inprocess hosts diagnoser handlers inside the benchmark worker and
// carries their serialized results back to the owning diagnoser.
//
// The worker side builds a Router from the handler envelope it receives in
// its environment. The harness side uses a Host to build that envelope from
// the active diagnosers and to deliver each result line to its owner.
package inprocess

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Signal is a worker-local checkpoint, finer grained than the harness
// lifecycle.
type Signal int

const (
	SignalBeforeExtraIteration Signal = iota
	SignalAfterExtraIteration
)

func (s Signal) String() string {
	switch s {
	case SignalBeforeExtraIteration:
		return "BeforeExtraIteration"
	case SignalAfterExtraIteration:
		return "AfterExtraIteration"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// Event accompanies a worker-local signal.
type Event struct {
	Signal Signal
	// Operations is the number of benchmark operations the iteration executes.
	Operations int64
}

// Handler is instantiated inside the worker for one case.
type Handler interface {
	// Init configures the handler from its serialized configuration.
	Init(config string) error

	// Handle reacts to a worker-local signal.
	Handle(ev Event)

	// Results serializes what the handler collected.
	Results() string
}

// Constructor creates a zero handler. Returning nil means the kind cannot be
// served in this worker.
type Constructor func() Handler

// Registry maps stable handler kinds to constructors. It is populated at
// worker startup.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor for kind. Kinds travel as a space separated
// field on result lines and must not contain whitespace.
func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" {
		return fmt.Errorf("handler kind required")
	}
	if strings.IndexFunc(kind, unicode.IsSpace) >= 0 {
		return fmt.Errorf("handler kind %q contains whitespace", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[kind]; exists {
		return fmt.Errorf("handler kind %q already registered", kind)
	}
	r.ctors[kind] = ctor
	return nil
}

// New instantiates a handler of kind. ok is false when the kind is unknown
// or its constructor yields nothing.
func (r *Registry) New(kind string) (h Handler, ok bool) {
	r.mu.RLock()
	ctor := r.ctors[kind]
	r.mu.RUnlock()
	if ctor == nil {
		return nil, false
	}
	h = ctor()
	return h, h != nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
