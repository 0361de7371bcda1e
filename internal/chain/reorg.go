package chain

import (
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/forkchoice"
)

// ReorgGuard bounds how far back the canonical chain may be rewritten.
// *finality.Tracker implements it.
type ReorgGuard interface {
	ValidateReorg(forkHeight uint64) error
}

// Plan describes switching the canonical tip from one slice to another.
type Plan struct {
	Ancestor Entry
	Detach   []Entry // current branch after Ancestor, ascending
	Attach   []Entry // candidate branch after Ancestor, ascending
}

// Depth is the number of canonical slices the switch rolls back.
func (p Plan) Depth() int {
	return len(p.Detach)
}

// IsExtension reports whether the candidate simply builds on the current tip.
func (p Plan) IsExtension() bool {
	return len(p.Detach) == 0
}

func heads(es []Entry) []forkchoice.Head {
	out := make([]forkchoice.Head, len(es))
	for i, e := range es {
		out[i] = e.Head
	}
	return out
}

// PlanReorg computes the switch from current to candidate.
func (ix *Index) PlanReorg(current, candidate crypto.Hash) (Plan, error) {
	anc, err := ix.CommonAncestor(current, candidate)
	if err != nil {
		return Plan{}, err
	}
	detach, err := ix.Path(anc.Hash, current)
	if err != nil {
		return Plan{}, err
	}
	attach, err := ix.Path(anc.Hash, candidate)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Ancestor: anc, Detach: detach, Attach: attach}, nil
}

// Evaluate decides whether candidate should replace current as the
// canonical tip. Extensions of the current tip are always taken. Otherwise
// the guard must accept the fork point and the candidate branch must win the
// fork choice at every boundary it shares with the current one.
func (ix *Index) Evaluate(current, candidate crypto.Hash, guard ReorgGuard) (Plan, bool, error) {
	plan, err := ix.PlanReorg(current, candidate)
	if err != nil {
		return Plan{}, false, err
	}
	if len(plan.Attach) == 0 {
		return plan, false, nil
	}
	if plan.IsExtension() {
		return plan, true, nil
	}
	if err := guard.ValidateReorg(plan.Ancestor.Height); err != nil {
		return plan, false, err
	}
	ok, err := forkchoice.PreferBranch(heads(plan.Detach), heads(plan.Attach))
	if err != nil {
		return plan, false, err
	}
	return plan, ok, nil
}
