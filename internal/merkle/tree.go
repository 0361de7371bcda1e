// Package merkle computes binary Merkle roots over ordered byte sequences.
package merkle

import (
	"github.com/eigerco/montana/internal/crypto"
)

var (
	leafPrefix = []byte("leaf")
	nodePrefix = []byte("node")
)

// ComputeRoot returns the root of a well-balanced binary Merkle tree over blobs.
// Leaves and inner nodes are domain separated so a leaf can never be
// mistaken for a subtree. An empty sequence has the zero hash as root.
func ComputeRoot(blobs [][]byte, hashFunc func([]byte) crypto.Hash) crypto.Hash {
	if len(blobs) == 0 {
		return crypto.Hash{}
	}
	return computeNode(blobs, hashFunc)
}

func computeNode(blobs [][]byte, hashFunc func([]byte) crypto.Hash) crypto.Hash {
	if len(blobs) == 1 {
		return hashFunc(concat(leafPrefix, blobs[0]))
	}

	mid := (len(blobs) + 1) / 2
	left := computeNode(blobs[:mid], hashFunc)
	right := computeNode(blobs[mid:], hashFunc)

	return hashFunc(concat(nodePrefix, left[:], right[:]))
}

// ComputeTrace returns the sibling hashes from the leaf at index up to the
// root, leaf side first. Returns nil when index is out of range.
func ComputeTrace(blobs [][]byte, index int, hashFunc func([]byte) crypto.Hash) []crypto.Hash {
	if index < 0 || index >= len(blobs) {
		return nil
	}
	var trace []crypto.Hash
	for len(blobs) > 1 {
		mid := (len(blobs) + 1) / 2
		if index < mid {
			trace = append(trace, computeNode(blobs[mid:], hashFunc))
			blobs = blobs[:mid]
		} else {
			trace = append(trace, computeNode(blobs[:mid], hashFunc))
			blobs = blobs[mid:]
			index -= mid
		}
	}
	// collected root side first
	for i, j := 0, len(trace)-1; i < j; i, j = i+1, j-1 {
		trace[i], trace[j] = trace[j], trace[i]
	}
	return trace
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Verify checks that blob sits at index in a tree of n leaves with the given root.
func Verify(root crypto.Hash, blob []byte, index, n int, trace []crypto.Hash, hashFunc func([]byte) crypto.Hash) bool {
	if index < 0 || index >= n {
		return false
	}
	var wentLeft []bool
	for n > 1 {
		mid := (n + 1) / 2
		if index < mid {
			wentLeft = append(wentLeft, true)
			n = mid
		} else {
			wentLeft = append(wentLeft, false)
			n -= mid
			index -= mid
		}
	}
	if len(wentLeft) != len(trace) {
		return false
	}

	acc := hashFunc(concat(leafPrefix, blob))
	for i, sibling := range trace {
		if wentLeft[len(wentLeft)-1-i] {
			acc = hashFunc(concat(nodePrefix, acc[:], sibling[:]))
		} else {
			acc = hashFunc(concat(nodePrefix, sibling[:], acc[:]))
		}
	}
	return acc == root
}
