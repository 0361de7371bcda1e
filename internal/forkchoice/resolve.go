package forkchoice

import (
	"fmt"
)

// Level names the tie-breaker that decided a comparison.
type Level uint8

const (
	LevelIdentical Level = iota
	LevelParticipants
	LevelProvenTime
	LevelScore
	LevelHash
	LevelFinal
)

func (l Level) String() string {
	switch l {
	case LevelIdentical:
		return "identical"
	case LevelParticipants:
		return "participants"
	case LevelProvenTime:
		return "proven_time"
	case LevelScore:
		return "score"
	case LevelHash:
		return "hash"
	case LevelFinal:
		return "final"
	}
	return "unknown"
}

// ResolveLevel picks the canonical head among two at the same boundary:
//  1. more participants
//  2. more proven time units
//  3. higher aggregate score
//  4. lower hash
//
// A FINAL head beats a non-final one regardless. The result does not
// depend on argument order.
func ResolveLevel(a, b Head) (Head, Level, error) {
	if a.Boundary != b.Boundary {
		return Head{}, 0, fmt.Errorf("%w: %d != %d", ErrBoundaryMismatch, a.Boundary, b.Boundary)
	}
	if a.Hash == b.Hash {
		return a, LevelIdentical, nil
	}
	if a.Final != b.Final {
		if a.Final {
			return a, LevelFinal, nil
		}
		return b, LevelFinal, nil
	}
	if a.ParticipantsCount != b.ParticipantsCount {
		return pick(a, b, a.ParticipantsCount > b.ParticipantsCount), LevelParticipants, nil
	}
	if a.ProvenTimeUnits != b.ProvenTimeUnits {
		return pick(a, b, a.ProvenTimeUnits > b.ProvenTimeUnits), LevelProvenTime, nil
	}
	if a.AggregateScore != b.AggregateScore {
		return pick(a, b, a.AggregateScore > b.AggregateScore), LevelScore, nil
	}
	return pick(a, b, a.Hash.Compare(b.Hash) < 0), LevelHash, nil
}

// Resolve is ResolveLevel without the level.
func Resolve(a, b Head) (Head, error) {
	h, _, err := ResolveLevel(a, b)
	return h, err
}

func pick(a, b Head, first bool) Head {
	if first {
		return a
	}
	return b
}

// PreferBranch reports whether alternative should replace current. Both are
// the heads after their common ancestor in increasing boundary order. The
// alternative must win at every boundary both branches have a head for; when
// they share none the cumulative summaries are compared instead.
func PreferBranch(current, alternative []Head) (bool, error) {
	if err := checkOrdered(current); err != nil {
		return false, err
	}
	if err := checkOrdered(alternative); err != nil {
		return false, err
	}
	if len(alternative) == 0 {
		return false, nil
	}
	if len(current) == 0 {
		return true, nil
	}

	shared := 0
	i, j := 0, 0
	for i < len(current) && j < len(alternative) {
		c, a := current[i], alternative[j]
		switch {
		case c.Boundary < a.Boundary:
			i++
		case c.Boundary > a.Boundary:
			j++
		default:
			shared++
			winner, level, err := ResolveLevel(c, a)
			if err != nil {
				return false, err
			}
			if level != LevelIdentical && winner.Hash != a.Hash {
				return false, nil
			}
			i++
			j++
		}
	}
	if shared > 0 {
		return true, nil
	}

	cc, ca := Cumulative(current), Cumulative(alternative)
	winner, level, err := ResolveLevel(cc, ca)
	if err != nil {
		return false, err
	}
	return level != LevelIdentical && winner.Hash == ca.Hash, nil
}

func checkOrdered(branch []Head) error {
	for i := 1; i < len(branch); i++ {
		if branch[i].Boundary <= branch[i-1].Boundary {
			return ErrUnordered
		}
	}
	return nil
}
