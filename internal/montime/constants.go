package montime

import "time"

const (
	MinuteDuration = time.Minute

	// MinutesPerPeriod is the number of presence sub-intervals a proof's mask covers.
	MinutesPerPeriod = 10
	PeriodDuration   = MinutesPerPeriod * MinuteDuration

	// PeriodsPerWindow makes a window 14 days long.
	PeriodsPerWindow = 2016
	WindowDuration   = PeriodsPerWindow * PeriodDuration

	// WindowsPerEra is floor(4 years of minutes / minutes per window).
	WindowsPerEra = 104

	// SlotsPerPeriod producer slots open one after another from the period boundary.
	SlotsPerPeriod = 10
	SlotDuration   = time.Minute

	// GraceDuration is the tail of each slot during which the slot holder may
	// still publish before the next slot holder takes over.
	GraceDuration = 30 * time.Second
)
