package finality

import (
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/pkg/serialization"
)

const attestationDomain = "MONTANA_ATTESTATION_V1"

// Attestation is a participant's signed vote that a slice is canonical.
type Attestation struct {
	SliceHash crypto.Hash
	Height    uint64
	Attester  crypto.PublicKey
	Signature []byte
}

type attestationMessage struct {
	Domain    string
	SliceHash crypto.Hash
	Height    uint64
}

func (a Attestation) SigningMessage() []byte {
	return serialization.MustMarshal(attestationMessage{
		Domain:    attestationDomain,
		SliceHash: a.SliceHash,
		Height:    a.Height,
	})
}

func (a *Attestation) Sign(s crypto.Signer) error {
	a.Attester = s.PublicKey()
	sig, err := s.Sign(a.SigningMessage())
	if err != nil {
		return err
	}
	a.Signature = sig
	return nil
}
