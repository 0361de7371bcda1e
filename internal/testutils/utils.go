package testutils

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/internal/presence"
)

func RandomHash(t *testing.T) crypto.Hash {
	var hash crypto.Hash
	_, err := rand.Read(hash[:])
	require.NoError(t, err)
	return hash
}

func RandomPublicKey(t *testing.T) crypto.PublicKey {
	var key crypto.PublicKey
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	return key
}

func RandomKeypair(t *testing.T) *crypto.Keypair {
	kp, err := crypto.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	return kp
}

// SeededKeypair returns the same keypair for the same seed byte.
func SeededKeypair(t *testing.T, seed byte) *crypto.Keypair {
	kp, err := crypto.KeypairFromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return kp
}

// FullNodeProof builds a signed proof with every minute of period present,
// timestamped at the start of the period.
func FullNodeProof(t *testing.T, kp *crypto.Keypair, period montime.Period, prev crypto.Hash) *presence.FullNodePresence {
	p := &presence.FullNodePresence{Header: presence.Header{
		Participant:   kp.PublicKey(),
		Timestamp:     uint64(period.Start().Unix()),
		PrevSliceHash: prev,
		Period:        uint64(period),
		Mask:          presence.FullMask,
	}}
	require.NoError(t, p.Sign(kp))
	return p
}

// VerifiedUserProof builds a signed proof carrying a packed attestation with
// user-present and user-verified flags.
func VerifiedUserProof(t *testing.T, kp *crypto.Keypair, period montime.Period, prev crypto.Hash) *presence.VerifiedUserPresence {
	authData := make([]byte, 37)
	authData[32] = 0x01 | 0x04
	p := &presence.VerifiedUserPresence{
		Header: presence.Header{
			Participant:   kp.PublicKey(),
			Timestamp:     uint64(period.Start().Unix()),
			PrevSliceHash: prev,
			Period:        uint64(period),
			Mask:          presence.FullMask,
		},
		Device: presence.DeviceAttestation{
			AuthData:  authData,
			Signature: []byte{1},
			Format:    presence.FormatPacked,
		},
		Liveness: bytes.Repeat([]byte{0xaa}, presence.MinLivenessLen),
	}
	require.NoError(t, p.Sign(kp))
	return p
}
