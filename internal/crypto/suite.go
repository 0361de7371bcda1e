package crypto

import "github.com/eigerco/montana/internal/crypto/ed25519"

// Suite bundles the primitives consensus treats as opaque and trusted.
type Suite interface {
	Verifier
	Hash(data []byte) Hash
}

// Ed25519Suite verifies ed25519 signatures and hashes with SHA3-256.
type Ed25519Suite struct{}

func (Ed25519Suite) Verify(pub PublicKey, message, signature []byte) bool {
	return ed25519.Verify(pub[:], message, signature)
}

func (Ed25519Suite) Hash(data []byte) Hash {
	return HashData(data)
}

var _ Suite = Ed25519Suite{}
