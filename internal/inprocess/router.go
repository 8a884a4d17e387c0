package inprocess

import (
	"fmt"
	"io"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
)

type routed struct {
	kind    string
	handler Handler
}

// Router forwards worker-local signals to the handlers named in an envelope.
type Router struct {
	handlers []routed
	logger   *logging.Logger
}

// NewRouter instantiates and initializes every handler of env. A kind with
// no constructor, or a handler that fails to initialize, is logged and left
// out: the owning diagnoser contributes nothing for the case.
func NewRouter(registry *Registry, env Envelope, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Router{logger: logger}
	for _, spec := range env.Handlers {
		h, ok := registry.New(spec.Kind)
		if !ok {
			logger.Warn("no in-process handler for this case", "kind", spec.Kind)
			continue
		}
		err := r.guard(spec.Kind, "Init", func() error { return h.Init(spec.Config) })
		if err != nil {
			logger.Warn("in-process handler failed to initialize", "kind", spec.Kind, "error", err)
			continue
		}
		r.handlers = append(r.handlers, routed{kind: spec.Kind, handler: h})
	}
	return r
}

// Len returns the number of live handlers.
func (r *Router) Len() int {
	return len(r.handlers)
}

// Handle forwards ev to every handler.
func (r *Router) Handle(ev Event) {
	for _, h := range r.handlers {
		err := r.guard(h.kind, ev.Signal.String(), func() error {
			h.handler.Handle(ev)
			return nil
		})
		if err != nil {
			r.logger.Warn("in-process handler failed", "kind", h.kind, "signal", ev.Signal, "error", err)
		}
	}
}

// Flush writes one result line per handler to w.
func (r *Router) Flush(w io.Writer) error {
	for _, h := range r.handlers {
		var payload string
		err := r.guard(h.kind, "Results", func() error {
			payload = h.handler.Results()
			return nil
		})
		if err != nil {
			r.logger.Warn("in-process handler results unavailable", "kind", h.kind, "error", err)
			continue
		}
		if _, err := fmt.Fprintln(w, FormatResult(h.kind, payload)); err != nil {
			return fmt.Errorf("writing %s result: %w", h.kind, err)
		}
	}
	return nil
}

func (r *Router) guard(kind, op string, fn func() error) error {
	return diagnostics.Guard(r.logger.Slog(), nil, diagnostics.Scope{Diagnoser: kind, Operation: op}, fn)
}
