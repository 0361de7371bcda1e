package lottery

import (
	"fmt"

	"github.com/eigerco/montana/internal/montime"
)

// Phase is the state of one period's production round.
type Phase uint8

const (
	PhaseOpen Phase = iota
	PhaseSelecting
	PhaseProducing
	PhaseGrace
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseSelecting:
		return "selecting"
	case PhaseProducing:
		return "producing"
	case PhaseGrace:
		return "grace"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Round tracks which slot holder may currently publish the period's slice.
//
//	OPEN -> SELECTING -> PRODUCING(k) -> GRACE(k) -> PRODUCING(k+1) ... -> CLOSED
//
// A slot holder may publish while PRODUCING or in GRACE for its slot. Once
// the grace deadline passes the next slot holder takes over. The round
// closes when a slice is accepted or the winners run out.
type Round struct {
	period montime.Period
	phase  Phase
	slot   uint8
	result *Result
}

func NewRound(period montime.Period) *Round {
	return &Round{period: period}
}

func (r *Round) Period() montime.Period { return r.period }
func (r *Round) Phase() Phase           { return r.phase }
func (r *Round) Slot() uint8            { return r.slot }
func (r *Round) Result() *Result        { return r.result }

func (r *Round) transition(from []Phase, to Phase) error {
	for _, f := range from {
		if r.phase == f {
			r.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, r.phase, to)
}

// BeginSelection moves an open round into selection.
func (r *Round) BeginSelection() error {
	return r.transition([]Phase{PhaseOpen}, PhaseSelecting)
}

// Selected installs the lottery result and opens slot 0.
func (r *Round) Selected(res *Result) error {
	if res.Period != r.period {
		return ErrResultMismatch
	}
	if err := r.transition([]Phase{PhaseSelecting}, PhaseProducing); err != nil {
		return err
	}
	r.result = res
	r.slot = 0
	if len(res.Winners) == 0 {
		r.phase = PhaseClosed
	}
	return nil
}

func (r *Round) EnterGrace() error {
	return r.transition([]Phase{PhaseProducing}, PhaseGrace)
}

// GraceExpired hands production to the next slot holder, or closes the
// round when none is left.
func (r *Round) GraceExpired() error {
	if err := r.transition([]Phase{PhaseGrace}, PhaseProducing); err != nil {
		return err
	}
	r.slot++
	if int(r.slot) >= len(r.result.Winners) {
		r.phase = PhaseClosed
	}
	return nil
}

// Produced closes the round after a slice for it was accepted.
func (r *Round) Produced() error {
	return r.transition([]Phase{PhaseProducing, PhaseGrace}, PhaseClosed)
}

// CurrentProducer returns the slot holder allowed to publish right now.
func (r *Round) CurrentProducer() (Winner, bool) {
	if r.result == nil || (r.phase != PhaseProducing && r.phase != PhaseGrace) {
		return Winner{}, false
	}
	return r.result.Producer(r.slot)
}

// Accepts reports whether a slice from slot may be accepted now. Earlier
// slots whose grace has expired are no longer accepted.
func (r *Round) Accepts(slot uint8) bool {
	if r.phase != PhaseProducing && r.phase != PhaseGrace {
		return false
	}
	return slot == r.slot
}

// Advance drives the round from wall-clock time measured from the end of
// its period, which is when production for it starts. It returns true if
// the phase or slot changed.
func (r *Round) Advance(now montime.Time) bool {
	if r.phase != PhaseProducing && r.phase != PhaseGrace {
		return false
	}
	before, beforeSlot := r.phase, r.slot

	slot, grace := now.SlotAt()
	if now.ToPeriod() != r.period+1 {
		if now.ToPeriod() > r.period+1 {
			r.phase = PhaseClosed
		}
		return r.phase != before
	}
	for r.phase != PhaseClosed && r.slot < slot {
		if r.phase == PhaseProducing {
			_ = r.EnterGrace()
		}
		_ = r.GraceExpired()
	}
	if r.phase == PhaseProducing && r.slot == slot && grace {
		_ = r.EnterGrace()
	}
	return r.phase != before || r.slot != beforeSlot
}
