package core

// PlanMember is one diagnoser participating in a case, with its resolved mode.
type PlanMember struct {
	Diagnoser Diagnoser
	Mode      ExecutionMode
}

// CasePlan says how a case must be executed to satisfy every active diagnoser.
type CasePlan struct {
	Case *BenchmarkCase

	// Mode is the pointwise maximum of the members' in-loop modes.
	Mode ExecutionMode

	// ExtraIteration is set when at least one member needs an extra measured
	// iteration inside the primary run.
	ExtraIteration bool

	Members []PlanMember
}

// BuildPlan resolves every diagnoser's mode for c and merges them.
// At most one extra run is ever planned, however many members require one.
func BuildPlan(diagnosers []Diagnoser, c *BenchmarkCase) CasePlan {
	plan := CasePlan{Case: c}
	modes := make([]ExecutionMode, 0, len(diagnosers))
	for _, d := range diagnosers {
		mode := d.RunMode(c)
		plan.Members = append(plan.Members, PlanMember{Diagnoser: d, Mode: mode})
		modes = append(modes, mode)
		if mode == ModeExtraIteration {
			plan.ExtraIteration = true
		}
	}
	plan.Mode = MaxMode(modes...)
	return plan
}

// ExtraRun reports whether the case needs its single extra diagnostic run.
func (p *CasePlan) ExtraRun() bool {
	return p.Mode == ModeExtraRun
}

// RunCount is the number of worker runs the plan schedules.
func (p *CasePlan) RunCount() int {
	if p.ExtraRun() {
		return 2
	}
	return 1
}

// MembersFor returns the diagnosers that receive signals during a run.
// The primary run serves NoOverhead and ExtraIteration members; the extra
// run serves ExtraRun members only.
func (p *CasePlan) MembersFor(run RunKind) []Diagnoser {
	var out []Diagnoser
	for _, m := range p.Members {
		switch run {
		case RunPrimary:
			if m.Mode == ModeNoOverhead || m.Mode == ModeExtraIteration {
				out = append(out, m.Diagnoser)
			}
		case RunExtra:
			if m.Mode == ModeExtraRun {
				out = append(out, m.Diagnoser)
			}
		}
	}
	return out
}

// SeparateLogic returns the members running outside the run loop.
func (p *CasePlan) SeparateLogic() []Diagnoser {
	var out []Diagnoser
	for _, m := range p.Members {
		if m.Mode == ModeSeparateLogic {
			out = append(out, m.Diagnoser)
		}
	}
	return out
}

// Active returns every member that is not inert for the case.
func (p *CasePlan) Active() []Diagnoser {
	var out []Diagnoser
	for _, m := range p.Members {
		if m.Mode != ModeNone {
			out = append(out, m.Diagnoser)
		}
	}
	return out
}

// ExclusiveConflicts returns the ids of extra-run members that each demand
// exclusive attachment. Two or more of them cannot share the single extra run.
func (p *CasePlan) ExclusiveConflicts() []string {
	var ids []string
	for _, m := range p.Members {
		if m.Mode != ModeExtraRun {
			continue
		}
		if ex, ok := m.Diagnoser.(ExclusiveAttacher); ok && ex.ExclusiveAttach(p.Case) {
			if len(m.Diagnoser.IDs()) > 0 {
				ids = append(ids, m.Diagnoser.IDs()[0])
			}
		}
	}
	if len(ids) < 2 {
		return nil
	}
	return ids
}
