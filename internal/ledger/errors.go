package ledger

import "errors"

var (
	// ErrStaleProof is returned for proofs naming a period that is no longer
	// open. Stale proofs are dropped and never retried.
	ErrStaleProof = errors.New("ledger: stale presence proof")

	// ErrFutureProof is returned for proofs naming a period that has not started.
	ErrFutureProof = errors.New("ledger: presence proof from the future")

	// ErrUnknownBranch is returned when a proof binds to a slice hash that is
	// not the tip of any known branch.
	ErrUnknownBranch = errors.New("ledger: proof bound to unknown branch")

	// ErrCooldownConflict is returned when a participant resubmits a proof for
	// the same period and branch carrying a different, still-open cooldown.
	ErrCooldownConflict = errors.New("ledger: conflicting cooldown in duplicate proof")

	// ErrClassMismatch is returned when a registered participant submits a
	// proof of a different class.
	ErrClassMismatch = errors.New("ledger: proof class differs from registration")

	ErrPeriodClosed = errors.New("ledger: period already closed")
)
