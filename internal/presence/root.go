package presence

import (
	"sort"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/merkle"
)

// SortCanonical orders proofs by (timestamp, proof hash), the only order
// presence roots are ever computed over.
func SortCanonical(proofs []Proof) {
	hashes := make(map[Proof]crypto.Hash, len(proofs))
	for _, p := range proofs {
		hashes[p] = p.Hash()
	}
	sort.SliceStable(proofs, func(i, j int) bool {
		ti, tj := proofs[i].Common().Timestamp, proofs[j].Common().Timestamp
		if ti != tj {
			return ti < tj
		}
		return hashes[proofs[i]].Compare(hashes[proofs[j]]) < 0
	})
}

// Root returns the Merkle root over the canonically ordered proof hashes.
// The input slice is not modified.
func Root(proofs []Proof) crypto.Hash {
	sorted := make([]Proof, len(proofs))
	copy(sorted, proofs)
	SortCanonical(sorted)

	leaves := make([][]byte, len(sorted))
	for i, p := range sorted {
		h := p.Hash()
		leaves[i] = h[:]
	}
	return merkle.ComputeRoot(leaves, crypto.HashData)
}
