package ledger

import (
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/safemath"
)

// Tier is one of the nested calendar units weight is counted in.
type Tier uint32

const (
	TierMinute Tier = iota
	TierPeriod
	TierWindow
	TierEra
)

// Tiers lists every tier in the persisted weight table. The minute tier is
// kept for the table layout only: minutes complete as part of a qualifying
// period, so no participant ever holds minute units and the tier reads 0.
var Tiers = []Tier{TierMinute, TierPeriod, TierWindow, TierEra}

// Weight of one completed unit per tier.
const (
	MinuteWeight uint64 = 1
	PeriodWeight uint64 = 20
	WindowWeight uint64 = 60_480
	EraWeight    uint64 = 8_409_600
)

func (t Tier) Weight() uint64 {
	switch t {
	case TierMinute:
		return MinuteWeight
	case TierPeriod:
		return PeriodWeight
	case TierWindow:
		return WindowWeight
	case TierEra:
		return EraWeight
	}
	return 0
}

func (t Tier) String() string {
	switch t {
	case TierMinute:
		return "minute"
	case TierPeriod:
		return "period"
	case TierWindow:
		return "window"
	case TierEra:
		return "era"
	}
	return "unknown"
}

// Weight counts completed period, window and era units.
type Weight struct {
	Periods uint64
	Windows uint64
	Eras    uint64
}

func (w Weight) Units(t Tier) uint64 {
	switch t {
	case TierPeriod:
		return w.Periods
	case TierWindow:
		return w.Windows
	case TierEra:
		return w.Eras
	}
	return 0
}

// Total is the sum of completed units times their tier weight.
func (w Weight) Total() uint64 {
	var total uint64
	for _, t := range Tiers {
		total = safemath.SaturatingAdd64(total, safemath.SaturatingMul64(w.Units(t), t.Weight()))
	}
	return total
}

// CreditPeriod adds one period unit, rolling full windows and eras upward.
// Every rollover strictly increases Total.
func (w *Weight) CreditPeriod() {
	w.Periods++
	if w.Periods >= montime.PeriodsPerWindow {
		w.Periods = 0
		w.Windows++
		if w.Windows >= montime.WindowsPerEra {
			w.Windows = 0
			w.Eras++
		}
	}
}
