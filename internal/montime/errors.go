package montime

import "errors"

var (
	// ErrBeforeGenesis is returned when converting a wall-clock time that
	// precedes the network genesis.
	ErrBeforeGenesis = errors.New("time is before genesis")

	// ErrSlotOutOfRange is returned for a slot index >= SlotsPerPeriod.
	ErrSlotOutOfRange = errors.New("slot index out of range")

	// ErrTimestampOutsidePeriod is returned when a timestamp does not fall
	// inside the period it claims, even after allowing for clock skew.
	ErrTimestampOutsidePeriod = errors.New("timestamp outside claimed period")
)
