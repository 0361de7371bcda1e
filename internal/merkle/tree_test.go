package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eigerco/montana/internal/crypto"
)

func TestComputeRoot(t *testing.T) {
	h := crypto.HashData
	leaf := func(b []byte) crypto.Hash { return h(concat(leafPrefix, b)) }
	node := func(l, r crypto.Hash) crypto.Hash { return h(concat(nodePrefix, l[:], r[:])) }

	a, b, c := []byte("a"), []byte("b"), []byte("c")

	tests := []struct {
		name  string
		blobs [][]byte
		want  crypto.Hash
	}{
		{"empty", nil, crypto.Hash{}},
		{"single", [][]byte{a}, leaf(a)},
		{"two", [][]byte{a, b}, node(leaf(a), leaf(b))},
		{"three", [][]byte{a, b, c}, node(node(leaf(a), leaf(b)), leaf(c))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeRoot(tc.blobs, h))
		})
	}
}

func TestComputeRootOrderSensitive(t *testing.T) {
	a, b := []byte("a"), []byte("b")
	assert.NotEqual(t,
		ComputeRoot([][]byte{a, b}, crypto.HashData),
		ComputeRoot([][]byte{b, a}, crypto.HashData))
}

func TestComputeTraceRebuildsRoot(t *testing.T) {
	blobs := [][]byte{[]byte("p0"), []byte("p1"), []byte("p2"), []byte("p3"), []byte("p4")}
	root := ComputeRoot(blobs, crypto.HashData)

	for i := range blobs {
		trace := ComputeTrace(blobs, i, crypto.HashData)
		assert.True(t, Verify(root, blobs[i], i, len(blobs), trace, crypto.HashData), "leaf %d", i)
	}
	assert.Nil(t, ComputeTrace(blobs, len(blobs), crypto.HashData))
}
