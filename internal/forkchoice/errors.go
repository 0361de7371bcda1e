package forkchoice

import "errors"

var (
	ErrBoundaryMismatch = errors.New("forkchoice: heads are at different boundaries")
	ErrUnknownScorer    = errors.New("forkchoice: unknown scorer")
	ErrUnordered        = errors.New("forkchoice: branch not ordered by boundary")
)
