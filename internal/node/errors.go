package node

import (
	"errors"
	"fmt"

	"github.com/eigerco/montana/internal/finality"
	"github.com/eigerco/montana/internal/slice"
)

// Error kinds. Every error returned by the Deliver methods wraps exactly one
// of them, so callers can react with errors.Is.
var (
	// ErrValidation marks malformed, expired or misbound input. It is dropped.
	ErrValidation = errors.New("validation failed")
	// ErrForkDivergence marks a valid slice on a branch that could not be
	// placed, e.g. because its parent is not known yet.
	ErrForkDivergence = errors.New("fork divergence")
	// ErrGrindingAttempt marks a slice whose lottery ticket was not derived
	// from the seed. The producer is flagged.
	ErrGrindingAttempt = errors.New("grinding attempt")
	// ErrReorgTooDeep marks a branch switch beyond the reorg bound or below
	// the latest FINAL slice.
	ErrReorgTooDeep = errors.New("reorg too deep")
	// ErrClockDivergence is returned while the local clock is too far from
	// the peer median. Production and period processing are paused.
	ErrClockDivergence = errors.New("clock divergence")
)

var (
	ErrStopped = errors.New("engine stopped")

	// ErrFutureSlice is returned for a slice whose period has not ended yet.
	ErrFutureSlice = errors.New("slice period not closed yet")

	// ErrStaleSlice is returned for a slice whose parent's ledger state was
	// pruned.
	ErrStaleSlice = errors.New("parent ledger state pruned")

	ErrSlotNotActive   = errors.New("slice slot is not active")
	ErrFlaggedProducer = errors.New("producer flagged for grinding")
	ErrStorageRequired = errors.New("storage is required")
)

// Kind is the label an error is counted under.
type Kind string

const (
	KindNone            Kind = ""
	KindValidation      Kind = "validation"
	KindForkDivergence  Kind = "fork_divergence"
	KindGrindingAttempt Kind = "grinding_attempt"
	KindReorgTooDeep    Kind = "reorg_too_deep"
	KindClockDivergence Kind = "clock_divergence"
	KindInternal        Kind = "internal"
)

// Classify maps an error from any consensus package to its kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrGrindingAttempt), errors.Is(err, slice.ErrGrindingAttempt):
		return KindGrindingAttempt
	case errors.Is(err, ErrReorgTooDeep),
		errors.Is(err, finality.ErrReorgTooDeep),
		errors.Is(err, finality.ErrReorgBelowFinal):
		return KindReorgTooDeep
	case errors.Is(err, ErrClockDivergence):
		return KindClockDivergence
	case errors.Is(err, ErrForkDivergence):
		return KindForkDivergence
	case errors.Is(err, ErrValidation):
		return KindValidation
	}
	return KindInternal
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindForkDivergence:
		return ErrForkDivergence
	case KindGrindingAttempt:
		return ErrGrindingAttempt
	case KindReorgTooDeep:
		return ErrReorgTooDeep
	case KindClockDivergence:
		return ErrClockDivergence
	}
	return nil
}

// classified wraps err with the sentinel of kind k unless it already has one.
func classified(k Kind, err error) error {
	if err == nil {
		return nil
	}
	s := sentinel(k)
	if s == nil || errors.Is(err, s) {
		return err
	}
	return fmt.Errorf("%w: %w", s, err)
}
