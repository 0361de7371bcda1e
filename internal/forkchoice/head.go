// Package forkchoice decides between competing chain heads at the same
// boundary with a fixed cascade of tie-breakers.
package forkchoice

import (
	"fmt"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/safemath"
)

// Head summarises a chain position for comparison. The same shape describes
// slice heads at period boundaries and checkpoints at window boundaries.
type Head struct {
	Boundary          uint64
	ParticipantsCount uint64
	ProvenTimeUnits   uint64
	AggregateScore    uint64
	Hash              crypto.Hash
	Final             bool
}

func (h Head) String() string {
	return fmt.Sprintf("head(%d %s n=%d t=%d s=%d)", h.Boundary, h.Hash.Short(), h.ParticipantsCount, h.ProvenTimeUnits, h.AggregateScore)
}

// Weights looks up a participant's weight. *ledger.Snapshot implements it.
type Weights interface {
	WeightOf(pub crypto.PublicKey) uint64
}

// Summarize builds the head for a slice at boundary carrying proofs.
func Summarize(boundary uint64, hash crypto.Hash, proofs []presence.Proof, weights Weights, scorer Scorer, prover presence.TimeProver) Head {
	h := Head{Boundary: boundary, Hash: hash, ParticipantsCount: uint64(len(proofs))}
	ws := make([]uint64, 0, len(proofs))
	for _, p := range proofs {
		h.ProvenTimeUnits = safemath.SaturatingAdd64(h.ProvenTimeUnits, prover.ProvenTimeUnits(p))
		ws = append(ws, weights.WeightOf(p.Common().Participant))
	}
	h.AggregateScore = scorer.Score(ws)
	return h
}

// Cumulative folds a branch into one summary for comparing branches that
// share no boundary. Boundary is left zero and Hash is the branch tip.
func Cumulative(branch []Head) Head {
	var c Head
	for _, h := range branch {
		c.ParticipantsCount = safemath.SaturatingAdd64(c.ParticipantsCount, h.ParticipantsCount)
		c.ProvenTimeUnits = safemath.SaturatingAdd64(c.ProvenTimeUnits, h.ProvenTimeUnits)
		c.AggregateScore = safemath.SaturatingAdd64(c.AggregateScore, h.AggregateScore)
		c.Hash = h.Hash
		c.Final = c.Final || h.Final
	}
	return c
}
