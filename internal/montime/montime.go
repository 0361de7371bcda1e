// Package montime maps wall-clock time onto the nested calendar units the
// consensus core counts presence in: minute, period, window and era.
package montime

import (
	"time"
)

var now = time.Now

// Genesis is the start of period 0.
var Genesis = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// Time is a point in time measured in whole seconds since Genesis.
type Time struct {
	Seconds uint64
}

// Now returns the current time.
func Now() Time {
	t, err := FromTime(now())
	if err != nil {
		return Time{}
	}
	return t
}

// FromTime converts a standard time.Time, truncating sub-second precision.
func FromTime(t time.Time) (Time, error) {
	if t.Before(Genesis) {
		return Time{}, ErrBeforeGenesis
	}
	return Time{Seconds: uint64(t.Unix() - Genesis.Unix())}, nil
}

// FromUnix converts a unix timestamp in seconds.
func FromUnix(sec int64) (Time, error) {
	return FromTime(time.Unix(sec, 0))
}

func FromSeconds(seconds uint64) Time {
	return Time{Seconds: seconds}
}

func (t Time) ToTime() time.Time {
	return Genesis.Add(time.Duration(t.Seconds) * time.Second)
}

// Unix returns the unix timestamp in seconds.
func (t Time) Unix() int64 {
	return Genesis.Unix() + int64(t.Seconds)
}

func (t Time) Before(u Time) bool { return t.Seconds < u.Seconds }
func (t Time) After(u Time) bool  { return t.Seconds > u.Seconds }

// Add returns t+d, saturating at Genesis.
func (t Time) Add(d time.Duration) Time {
	delta := int64(d / time.Second)
	if delta < 0 && uint64(-delta) > t.Seconds {
		return Time{}
	}
	return Time{Seconds: uint64(int64(t.Seconds) + delta)}
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	return time.Duration(int64(t.Seconds)-int64(u.Seconds)) * time.Second
}

func (t Time) ToMinute() Minute {
	return Minute(t.Seconds / uint64(MinuteDuration.Seconds()))
}

func (t Time) ToPeriod() Period {
	return Period(t.Seconds / uint64(PeriodDuration.Seconds()))
}

// SinceBoundary is the time elapsed since the start of t's period.
func (t Time) SinceBoundary() time.Duration {
	return t.Sub(t.ToPeriod().Start())
}

// SlotAt returns the producer slot active at t and whether t is in its grace tail.
// Slots are only defined for the first SlotsPerPeriod minutes of a period.
func (t Time) SlotAt() (slot uint8, grace bool) {
	elapsed := t.SinceBoundary()
	slot = uint8(elapsed / SlotDuration)
	grace = elapsed%SlotDuration >= SlotDuration-GraceDuration
	return slot, grace
}

// CheckInPeriod verifies that ts lies within period p allowing skew on both sides.
func CheckInPeriod(ts Time, p Period, skew time.Duration) error {
	start := p.Start().Add(-skew)
	end := p.End().Add(skew)
	if ts.Before(start) || ts.After(end) {
		return ErrTimestampOutsidePeriod
	}
	return nil
}
