package allocs

import (
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/inprocess"
)

// HandlerKind is the in-process handler kind served by this package.
const HandlerKind = "allocs"

// Handler runs inside the worker and measures allocator deltas across the
// extra measured iteration.
type Handler struct {
	snapshot func() diagnostics.MemSnapshot

	before  diagnostics.MemSnapshot
	started bool
	result  Payload
}

// NewHandler is the registry constructor.
func NewHandler() inprocess.Handler {
	return &Handler{snapshot: diagnostics.TakeMemSnapshot}
}

// Init accepts an empty configuration; the handler has no settings.
func (h *Handler) Init(string) error {
	return nil
}

func (h *Handler) Handle(ev inprocess.Event) {
	switch ev.Signal {
	case inprocess.SignalBeforeExtraIteration:
		h.before = h.snapshot()
		h.started = true
	case inprocess.SignalAfterExtraIteration:
		if !h.started {
			return
		}
		d := h.snapshot().Sub(h.before)
		h.result = Payload{
			Operations: ev.Operations,
			Mallocs:    d.Mallocs,
			Frees:      d.Frees,
			Bytes:      d.TotalAlloc,
			GC:         d.NumGC,
			PauseNs:    d.PauseTotalNs,
		}
		h.started = false
	}
}

func (h *Handler) Results() string {
	return h.result.String()
}
