// Package cooldown computes how many periods a newly registered participant
// waits before it becomes lottery-eligible. The delay grows when
// registrations spike above their recent median, which makes bulk Sybil
// registration expensive in time.
package cooldown

import (
	"errors"
	"fmt"

	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/safemath"
	"github.com/eigerco/montana/pkg/log"
)

const (
	Min     uint64 = 144    // 1 day in periods
	Mid     uint64 = 1_008  // 7 days
	Max     uint64 = 25_920 // 180 days
	Default        = Min

	SmoothWindows    = 4
	MaxChangePercent = 20
)

var ErrWindowOutOfOrder = errors.New("cooldown: window already closed")

// Raw maps a registration count against its smoothed median onto [Min, Max].
// At or below the median the delay interpolates Min..Mid, above it Mid..Max.
func Raw(count, median uint64) uint64 {
	if median == 0 {
		median = 1
	}
	var v uint64
	if count <= median {
		v = Min + safemath.SaturatingMul64(count, Mid-Min)/median
	} else {
		v = safemath.SaturatingAdd64(Mid, safemath.SaturatingMul64(count-median, Max-Mid)/median)
	}
	return clamp(v)
}

// RateLimit moves prev toward raw by at most MaxChangePercent of prev.
func RateLimit(raw, prev uint64) uint64 {
	step := prev * MaxChangePercent / 100
	var v uint64
	if raw > prev {
		v = min(raw, prev+step)
	} else {
		v = max(raw, prev-step)
	}
	return clamp(v)
}

// SmoothedMedian is the mean of the recorded per-window counts, at least 1.
func SmoothedMedian(history []uint64) uint64 {
	if len(history) == 0 {
		return 1
	}
	var sum uint64
	for _, h := range history {
		sum = safemath.SaturatingAdd64(sum, h)
	}
	return max(1, sum/uint64(len(history)))
}

func clamp(v uint64) uint64 {
	return min(Max, max(Min, v))
}

// Update describes one class's recomputation at a window close.
type Update struct {
	Class    presence.Class
	Count    uint64
	Median   uint64
	Raw      uint64
	Previous uint64
	Cooldown uint64
}

type classState struct {
	current uint64
	history []uint64 // newest last, at most SmoothWindows entries
}

// Calculator holds per-class cooldowns. It is not safe for concurrent use.
type Calculator struct {
	classes    map[presence.Class]*classState
	lastClosed uint64
	anyClosed  bool
}

func New() *Calculator {
	c := &Calculator{classes: make(map[presence.Class]*classState)}
	for _, class := range presence.Classes {
		c.classes[class] = &classState{current: Default}
	}
	return c
}

// Cooldown returns the delay in periods applied to new registrations of class.
func (c *Calculator) Cooldown(class presence.Class) uint64 {
	if s, ok := c.classes[class]; ok {
		return s.current
	}
	return Default
}

// CloseWindow recomputes every class's cooldown from the registrations
// counted during window. Windows must be closed in increasing order.
func (c *Calculator) CloseWindow(window uint64, registrations map[presence.Class]uint64) ([]Update, error) {
	if c.anyClosed && window <= c.lastClosed {
		return nil, fmt.Errorf("%w: %d <= %d", ErrWindowOutOfOrder, window, c.lastClosed)
	}
	updates := make([]Update, 0, len(presence.Classes))
	for _, class := range presence.Classes {
		s := c.classes[class]
		count := registrations[class]

		s.history = append(s.history, max(1, count))
		if len(s.history) > SmoothWindows {
			s.history = s.history[len(s.history)-SmoothWindows:]
		}

		median := SmoothedMedian(s.history)
		raw := Raw(count, median)
		next := RateLimit(raw, s.current)

		u := Update{Class: class, Count: count, Median: median, Raw: raw, Previous: s.current, Cooldown: next}
		updates = append(updates, u)
		s.current = next

		log.Ledger.Info().
			Uint64("window", window).
			Stringer("class", class).
			Uint64("count", count).
			Uint64("median", median).
			Uint64("cooldown", next).
			Msg("Cooldown recomputed")
	}
	c.lastClosed = window
	c.anyClosed = true
	return updates, nil
}

// ClassState is the persisted form of one class's calculator state.
type ClassState struct {
	Class    presence.Class
	Cooldown uint64
	History  []uint64
}

// State is the persisted form of a Calculator.
type State struct {
	Classes    []ClassState
	LastClosed uint64
	AnyClosed  bool
}

func (c *Calculator) State() State {
	st := State{LastClosed: c.lastClosed, AnyClosed: c.anyClosed}
	for _, class := range presence.Classes {
		s := c.classes[class]
		st.Classes = append(st.Classes, ClassState{
			Class:    class,
			Cooldown: s.current,
			History:  append([]uint64(nil), s.history...),
		})
	}
	return st
}

// Restore rebuilds a Calculator from persisted state. Unknown classes are ignored.
func Restore(st State) *Calculator {
	c := New()
	c.lastClosed = st.LastClosed
	c.anyClosed = st.AnyClosed
	for _, cs := range st.Classes {
		s, ok := c.classes[cs.Class]
		if !ok {
			continue
		}
		s.current = clamp(cs.Cooldown)
		s.history = append([]uint64(nil), cs.History...)
	}
	return c
}
