package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"

	"github.com/eigerco/montana/internal/crypto/ed25519"
)

var (
	ErrInvalidLength = errors.New("crypto: invalid length")
	ErrNoPrivateKey  = errors.New("crypto: keypair has no private key")
)

// PublicKey identifies a participant. Fixed size so it can key maps.
type PublicKey [PublicKeySize]byte

func (k PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(k[:], other[:])
}

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k PublicKey) Short() string {
	return hex.EncodeToString(k[:5])
}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var k PublicKey
	if len(b) != PublicKeySize {
		return k, ErrInvalidLength
	}
	copy(k[:], b)
	return k, nil
}

// Signer signs on behalf of one participant.
type Signer interface {
	PublicKey() PublicKey
	Sign(message []byte) ([]byte, error)
}

// Verifier checks signatures. Implementations must be side-effect free.
type Verifier interface {
	Verify(pub PublicKey, message, signature []byte) bool
}

// Keypair is an ed25519 Signer.
type Keypair struct {
	pub PublicKey
	prv ed25519.PrivateKey
}

func GenerateKeypair(rand io.Reader) (*Keypair, error) {
	pub, prv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	k, err := PublicKeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &Keypair{pub: k, prv: prv}, nil
}

// KeypairFromSeed derives a keypair from a 32 byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidLength
	}
	prv := ed25519.NewKeyFromSeed(seed)
	k, err := PublicKeyFromBytes(prv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Keypair{pub: k, prv: prv}, nil
}

func (k *Keypair) PublicKey() PublicKey {
	return k.pub
}

func (k *Keypair) Sign(message []byte) ([]byte, error) {
	if len(k.prv) == 0 {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(k.prv, message), nil
}
