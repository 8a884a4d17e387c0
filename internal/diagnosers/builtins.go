// Package diagnosers wires the built-in diagnosers into the registries the
// harness and the worker use.
package diagnosers

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnoser"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers/allocs"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers/eventtrace"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers/heapdump"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers/hostload"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers/memory"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers/perf"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers/threading"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/inprocess"
)

// NewRegistry creates a diagnoser registry with every built-in registered.
func NewRegistry(deps diagnoser.Deps) *diagnoser.Registry {
	r := diagnoser.NewRegistry(deps)
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins registers the built-in diagnoser factories.
func RegisterBuiltins(r *diagnoser.Registry) {
	r.RegisterFactory(memory.ID, func(diagnoser.Deps) (core.Diagnoser, error) {
		return memory.New(), nil
	})
	r.RegisterFactory(threading.ID, func(diagnoser.Deps) (core.Diagnoser, error) {
		return threading.New(0), nil
	})
	r.RegisterFactory(hostload.ID, func(deps diagnoser.Deps) (core.Diagnoser, error) {
		return hostload.New(hostload.Options{
			Interval: deps.Config.Hostload.Interval,
			Logger:   deps.Logger,
		}), nil
	})
	r.RegisterFactory(allocs.ID, func(deps diagnoser.Deps) (core.Diagnoser, error) {
		return allocs.New(deps.Logger), nil
	})
	r.RegisterFactory(eventtrace.ID, func(deps diagnoser.Deps) (core.Diagnoser, error) {
		if deps.Installer == nil {
			return nil, fmt.Errorf("%s needs a collector installer", eventtrace.ID)
		}
		return eventtrace.New(deps.Installer, deps.Executor, deps.Logger, deps.Config.Profiler.Convert), nil
	})
	r.RegisterFactory(perf.ID, func(deps diagnoser.Deps) (core.Diagnoser, error) {
		if deps.Installer == nil {
			return nil, fmt.Errorf("%s needs a collector installer", perf.ID)
		}
		return perf.New(deps.Installer, deps.Executor, deps.Logger), nil
	})
	r.RegisterFactory(heapdump.ID, func(deps diagnoser.Deps) (core.Diagnoser, error) {
		return heapdump.New(heapdump.Options{Logger: deps.Logger}), nil
	})
}

// RegisterHandlers registers the in-process handlers a worker can host.
func RegisterHandlers(r *inprocess.Registry) error {
	return r.Register(allocs.HandlerKind, allocs.NewHandler)
}

// HandlerRegistry returns a handler registry with every built-in handler.
func HandlerRegistry() *inprocess.Registry {
	r := inprocess.NewRegistry()
	if err := RegisterHandlers(r); err != nil {
		panic(err)
	}
	return r
}
