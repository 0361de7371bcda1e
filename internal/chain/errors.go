package chain

import "errors"

var (
	ErrKnownSlice    = errors.New("slice already indexed")
	ErrUnknownSlice  = errors.New("slice not indexed")
	ErrUnknownParent = errors.New("parent slice not indexed")
	ErrPeriodOrder   = errors.New("slice period does not follow its parent")
	ErrNotDescendant = errors.New("slice does not descend from the finalized slice")
	ErrNotAncestor   = errors.New("slice is not an ancestor")
)
