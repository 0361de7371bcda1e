package presence

import (
	"math/bits"

	"github.com/eigerco/montana/internal/montime"
)

// Mask has bit i set when the participant was present in minute i of the period.
type Mask uint32

const (
	FullMask Mask = 1<<montime.MinutesPerPeriod - 1

	// Threshold is the minimum number of minutes that count as full-period presence.
	Threshold = 9
)

func (m Mask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// InRange reports whether m only references minutes of a single period.
func (m Mask) InRange() bool {
	return m&^FullMask == 0
}

func (m Mask) MeetsThreshold() bool {
	return m.InRange() && m.Count() >= Threshold
}

// Set returns m with minute i marked present.
func (m Mask) Set(i uint8) Mask {
	return m | 1<<i
}
