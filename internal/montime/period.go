package montime

import "time"

// Minute is the smallest unit of presence weight.
type Minute uint64

// Period is a 10-minute interval, the lottery and slice cadence.
type Period uint64

// Window is PeriodsPerWindow periods, the cooldown and checkpoint cadence.
type Window uint64

// Era is WindowsPerEra windows.
type Era uint64

func CurrentPeriod() Period {
	return Now().ToPeriod()
}

func (p Period) Start() Time {
	return Time{Seconds: uint64(p) * uint64(PeriodDuration.Seconds())}
}

// End returns the last second belonging to p.
func (p Period) End() Time {
	return Time{Seconds: (uint64(p)+1)*uint64(PeriodDuration.Seconds()) - 1}
}

// MinuteIndex returns which of the period's minutes m falls in, if any.
func (p Period) MinuteIndex(m Minute) (uint8, bool) {
	first := Minute(uint64(p) * MinutesPerPeriod)
	if m < first || m >= first+MinutesPerPeriod {
		return 0, false
	}
	return uint8(m - first), true
}

func (p Period) Next() Period {
	return p + 1
}

func (p Period) Previous() Period {
	if p == 0 {
		return p
	}
	return p - 1
}

func (p Period) ToWindow() Window {
	return Window(p / PeriodsPerWindow)
}

// IsWindowBoundary reports whether p is the first period of a window.
func (p Period) IsWindowBoundary() bool {
	return p%PeriodsPerWindow == 0
}

// SlotStart returns the instant slot opens within p.
func (p Period) SlotStart(slot uint8) (Time, error) {
	if slot >= SlotsPerPeriod {
		return Time{}, ErrSlotOutOfRange
	}
	return p.Start().Add(time.Duration(slot) * SlotDuration), nil
}

// GraceDeadline returns the instant after which slot has been missed.
func (p Period) GraceDeadline(slot uint8) (Time, error) {
	start, err := p.SlotStart(slot)
	if err != nil {
		return Time{}, err
	}
	return start.Add(SlotDuration), nil
}

func (w Window) FirstPeriod() Period {
	return Period(uint64(w) * PeriodsPerWindow)
}

func (w Window) ToEra() Era {
	return Era(w / WindowsPerEra)
}

func (w Window) Previous() Window {
	if w == 0 {
		return w
	}
	return w - 1
}
