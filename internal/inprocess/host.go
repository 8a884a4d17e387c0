package inprocess

import (
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

// Host is the harness side of the router for one case: it knows which
// diagnoser owns each handler kind.
type Host struct {
	c      *core.BenchmarkCase
	specs  []HandlerSpec
	owners map[string]core.InProcessDiagnoser
}

// NewHost collects the handlers the members need for c.
func NewHost(members []core.Diagnoser, c *core.BenchmarkCase) *Host {
	h := &Host{c: c, owners: make(map[string]core.InProcessDiagnoser)}
	for _, m := range members {
		d, ok := m.(core.InProcessDiagnoser)
		if !ok {
			continue
		}
		kind, cfg, ok := d.HandlerFor(c)
		if !ok {
			continue
		}
		if _, dup := h.owners[kind]; dup {
			continue
		}
		h.owners[kind] = d
		h.specs = append(h.specs, HandlerSpec{Kind: kind, Config: cfg})
	}
	return h
}

// Empty reports whether no handler is needed.
func (h *Host) Empty() bool {
	return len(h.specs) == 0
}

// Specs returns the handler list.
func (h *Host) Specs() []HandlerSpec {
	return h.specs
}

// Envelope encodes the handler list, or returns "" when it is empty.
func (h *Host) Envelope() (string, error) {
	if h.Empty() {
		return "", nil
	}
	return EncodeEnvelope(h.specs)
}

// Deliver hands one result line to the diagnoser owning its kind.
func (h *Host) Deliver(caseID, line string) error {
	kind, payload, err := ParseResult(line)
	if err != nil {
		return core.ErrContract(core.CodeProtocol, "malformed in-process result").WithCause(err)
	}
	owner, ok := h.owners[kind]
	if !ok {
		return core.ErrNotFound("in-process handler owner", kind)
	}
	return owner.AcceptResults(h.c, caseID, payload)
}
