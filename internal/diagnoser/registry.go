package diagnoser

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
)

// Deps are the shared collaborators handed to every factory. They are
// created once per session by the caller and torn down with Close.
type Deps struct {
	Config    *config.Config
	Logger    *logging.Logger
	Installer *profiler.Installer
	Executor  *diagnostics.SafeExecutor
}

// Factory creates a diagnoser from the session dependencies.
type Factory func(deps Deps) (core.Diagnoser, error)

// Registry manages the available diagnosers by stable name.
type Registry struct {
	deps      Deps
	factories map[string]Factory
	instances map[string]core.Diagnoser
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry bound to deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Registry{
		deps:      deps,
		factories: make(map[string]Factory),
		instances: make(map[string]core.Diagnoser),
	}
}

// Deps returns the dependencies factories receive.
func (r *Registry) Deps() Deps {
	return r.deps
}

// RegisterFactory registers a factory under name, replacing any previous one.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.instances, name)
}

// Has checks if a diagnoser is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the diagnoser registered as name, creating it on first use.
// Instances are shared for the lifetime of the registry.
func (r *Registry) Get(name string) (core.Diagnoser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.instances[name]; ok {
		return d, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, core.ErrNotFound("diagnoser", name)
	}
	d, err := factory(r.deps)
	if err != nil {
		return nil, fmt.Errorf("creating diagnoser %s: %w", name, err)
	}
	if d == nil {
		return nil, core.ErrInternal(fmt.Sprintf("factory for %s returned no diagnoser", name))
	}
	r.instances[name] = d
	return d, nil
}

// Build resolves names into a composite. Unknown names fail the whole build.
func (r *Registry) Build(names []string) (*Composite, error) {
	members := make([]core.Diagnoser, 0, len(names))
	for _, name := range names {
		d, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		members = append(members, d)
	}
	return NewComposite(members...), nil
}

// Closer is implemented by diagnosers holding resources beyond a session.
type Closer interface {
	Close() error
}

// Close releases every created instance that holds resources and forgets
// them all.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, d := range r.instances {
		if c, ok := d.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing diagnoser %s: %w", name, err)
			}
		}
	}
	r.instances = make(map[string]core.Diagnoser)
	return firstErr
}
