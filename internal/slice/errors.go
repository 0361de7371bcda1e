package slice

import "errors"

var (
	ErrInvalidSignature  = errors.New("slice: invalid producer signature")
	ErrPresenceRoot      = errors.New("slice: presence root does not match body")
	ErrForeignProof      = errors.New("slice: proof belongs to another period or branch")
	ErrDuplicateProof    = errors.New("slice: participant included twice")
	ErrWrongRound        = errors.New("slice: header does not match lottery round")
	ErrGrindingAttempt   = errors.New("slice: producer-controlled lottery input")
	ErrNotWinner         = errors.New("slice: producer did not win the claimed slot")
	ErrTooManyProofs     = errors.New("slice: too many proofs")
	ErrInvalidProofInSet = errors.New("slice: invalid proof in body")
)
