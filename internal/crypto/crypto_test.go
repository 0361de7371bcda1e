package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashConcatMatchesHashData(t *testing.T) {
	a, b := []byte("prev-slice"), []byte{1, 0, 0, 0, 0, 0, 0, 0}
	assert.Equal(t, HashData(append(append([]byte{}, a...), b...)), HashConcat(a, b))
}

func TestHashCompare(t *testing.T) {
	lo := Hash{0x00, 0xff}
	hi := Hash{0x01}
	assert.Equal(t, -1, lo.Compare(hi))
	assert.Equal(t, 1, hi.Compare(lo))
	assert.Equal(t, 0, lo.Compare(lo))
	assert.True(t, Hash{}.IsZero())
}

func TestHashFromHex(t *testing.T) {
	h := HashData([]byte("x"))
	parsed, err := HashFromHex("0x" + h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = HashFromHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestKeypairSignVerify(t *testing.T) {
	kp, err := GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	sig, err := kp.Sign([]byte("period 7"))
	require.NoError(t, err)

	suite := Ed25519Suite{}
	assert.True(t, suite.Verify(kp.PublicKey(), []byte("period 7"), sig))
	assert.False(t, suite.Verify(kp.PublicKey(), []byte("period 8"), sig))
}

func TestKeypairFromSeedDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	b, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())

	_, err = KeypairFromSeed([]byte{1})
	assert.ErrorIs(t, err, ErrInvalidLength)
}
