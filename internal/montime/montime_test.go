package montime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTime(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		wall := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
		mt, err := FromTime(wall)
		require.NoError(t, err)
		assert.True(t, wall.Equal(mt.ToTime()))
	})

	t.Run("before genesis", func(t *testing.T) {
		_, err := FromTime(Genesis.Add(-time.Second))
		assert.ErrorIs(t, err, ErrBeforeGenesis)
	})
}

func TestNowUsesInjectedClock(t *testing.T) {
	orig := now
	t.Cleanup(func() { now = orig })

	now = func() time.Time { return Genesis.Add(25 * time.Minute) }
	assert.Equal(t, Period(2), CurrentPeriod())
	assert.Equal(t, Minute(25), Now().ToMinute())
}

func TestPeriodBounds(t *testing.T) {
	p := Period(3)
	assert.Equal(t, uint64(1800), p.Start().Seconds)
	assert.Equal(t, uint64(2399), p.End().Seconds)
	assert.Equal(t, p, p.End().ToPeriod())
	assert.Equal(t, p.Next(), p.End().Add(time.Second).ToPeriod())
	assert.Equal(t, Period(0), Period(0).Previous())
}

func TestMinuteIndex(t *testing.T) {
	p := Period(2)
	idx, ok := p.MinuteIndex(Minute(27))
	require.True(t, ok)
	assert.Equal(t, uint8(7), idx)

	_, ok = p.MinuteIndex(Minute(30))
	assert.False(t, ok)
	_, ok = p.MinuteIndex(Minute(19))
	assert.False(t, ok)
}

func TestWindowsAndEras(t *testing.T) {
	assert.Equal(t, Window(0), Period(PeriodsPerWindow-1).ToWindow())
	assert.Equal(t, Window(1), Period(PeriodsPerWindow).ToWindow())
	assert.True(t, Period(2*PeriodsPerWindow).IsWindowBoundary())
	assert.False(t, Period(2*PeriodsPerWindow+1).IsWindowBoundary())
	assert.Equal(t, Period(2*PeriodsPerWindow), Window(2).FirstPeriod())
	assert.Equal(t, Era(1), Window(WindowsPerEra).ToEra())
	assert.Equal(t, 14*24*time.Hour, time.Duration(WindowDuration))
}

func TestSlots(t *testing.T) {
	p := Period(5)
	tests := []struct {
		name  string
		after time.Duration
		slot  uint8
		grace bool
	}{
		{"boundary", 0, 0, false},
		{"slot 0 producing", 29 * time.Second, 0, false},
		{"slot 0 grace", 30 * time.Second, 0, true},
		{"slot 1 opens", 60 * time.Second, 1, false},
		{"slot 9 grace", 9*time.Minute + 45*time.Second, 9, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			slot, grace := p.Start().Add(tc.after).SlotAt()
			assert.Equal(t, tc.slot, slot)
			assert.Equal(t, tc.grace, grace)
		})
	}

	deadline, err := p.GraceDeadline(0)
	require.NoError(t, err)
	next, err := p.SlotStart(1)
	require.NoError(t, err)
	assert.Equal(t, next, deadline)

	_, err = p.SlotStart(SlotsPerPeriod)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
}

func TestCheckInPeriod(t *testing.T) {
	p := Period(10)
	skew := 5 * time.Second

	assert.NoError(t, CheckInPeriod(p.Start(), p, skew))
	assert.NoError(t, CheckInPeriod(p.Start().Add(-skew), p, skew))
	assert.NoError(t, CheckInPeriod(p.End().Add(skew), p, skew))
	assert.ErrorIs(t, CheckInPeriod(p.End().Add(skew+time.Second), p, skew), ErrTimestampOutsidePeriod)
	assert.ErrorIs(t, CheckInPeriod(p.Start().Add(-skew-time.Second), p, skew), ErrTimestampOutsidePeriod)
}

func TestAddSaturates(t *testing.T) {
	assert.Equal(t, Time{}, FromSeconds(3).Add(-time.Minute))
	assert.Equal(t, uint64(63), FromSeconds(3).Add(time.Minute).Seconds)
}
