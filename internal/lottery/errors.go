package lottery

import "errors"

var (
	ErrNotSelected     = errors.New("lottery: producer not selected for period")
	ErrWrongSlot       = errors.New("lottery: producer claims a slot it was not awarded")
	ErrTicketMismatch  = errors.New("lottery: ticket does not match seed and producer")
	ErrResultMismatch  = errors.New("lottery: result belongs to a different period or branch")
	ErrInvalidQuotas   = errors.New("lottery: invalid slot quotas")
	ErrBadTransition   = errors.New("lottery: invalid round transition")
	ErrSlotOutOfBounds = errors.New("lottery: slot out of bounds")
)
