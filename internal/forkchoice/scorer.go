package forkchoice

import (
	"fmt"
	"math/bits"

	"github.com/eigerco/montana/internal/safemath"
)

// Scorer turns participant weights into a head's aggregate score. It must
// be monotonic: adding a participant or weight never lowers the score.
type Scorer interface {
	Score(weights []uint64) uint64
}

// SqrtScorer sums isqrt(weight), damping the influence of very old keys.
type SqrtScorer struct{}

func (SqrtScorer) Score(weights []uint64) uint64 {
	var s uint64
	for _, w := range weights {
		s = safemath.SaturatingAdd64(s, isqrt(w))
	}
	return s
}

// LinearScorer sums raw weights.
type LinearScorer struct{}

func (LinearScorer) Score(weights []uint64) uint64 {
	var s uint64
	for _, w := range weights {
		s = safemath.SaturatingAdd64(s, w)
	}
	return s
}

// NewScorer returns the scorer configured by name.
func NewScorer(name string) (Scorer, error) {
	switch name {
	case "", "sqrt":
		return SqrtScorer{}, nil
	case "linear":
		return LinearScorer{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScorer, name)
}

// isqrt is floor(sqrt(n)) by Newton's method.
func isqrt(n uint64) uint64 {
	if n < 2 {
		return n
	}
	x := uint64(1) << ((bits.Len64(n) + 1) / 2)
	for {
		y := (x + n/x) / 2
		if y >= x {
			return x
		}
		x = y
	}
}
