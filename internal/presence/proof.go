// Package presence defines the signed presence proofs participants publish
// once per period and the checks every receiver runs before counting them.
package presence

import (
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/montime"
	"github.com/eigerco/montana/pkg/serialization"
)

const (
	fullNodeDomain     = "MONTANA_FULL_NODE_V1"
	verifiedUserDomain = "MONTANA_VERIFIED_USER_V1"
)

// Header holds the fields common to every proof variant.
type Header struct {
	Participant   crypto.PublicKey
	Timestamp     uint64 // unix seconds
	PrevSliceHash crypto.Hash
	Period        uint64
	Mask          Mask
	CooldownUntil uint64
	Signature     []byte
}

// Proof is implemented by *FullNodePresence and *VerifiedUserPresence.
type Proof interface {
	Class() Class
	Common() Header
	// Hash identifies the proof, signature included.
	Hash() crypto.Hash
	// SigningMessage is the canonical byte string the participant signs.
	SigningMessage() []byte
	MeetsThreshold() bool
	// validateClass runs the class-specific structural checks.
	validateClass() error
}

func (h Header) Common() Header {
	return h
}

func (h Header) MeetsThreshold() bool {
	return h.Mask.MeetsThreshold()
}

func (h Header) Time() (montime.Time, error) {
	return montime.FromUnix(int64(h.Timestamp))
}

func (h Header) PeriodIndex() montime.Period {
	return montime.Period(h.Period)
}

// FullNodePresence is backed by the participant's signature only.
type FullNodePresence struct {
	Header
}

func (*FullNodePresence) Class() Class { return FullNode }

func (p *FullNodePresence) SigningMessage() []byte {
	return serialization.MustMarshal(signingRecord{
		Domain: fullNodeDomain,
		Header: unsigned(p.Header),
	})
}

func (p *FullNodePresence) Hash() crypto.Hash {
	return crypto.HashData(serialization.MustMarshal(EnvelopeOf(p)))
}

func (p *FullNodePresence) Sign(s crypto.Signer) error {
	sig, err := s.Sign(p.SigningMessage())
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

func (*FullNodePresence) validateClass() error { return nil }

// AttestationFormat names the device attestation statement format.
type AttestationFormat uint32

const (
	FormatNone AttestationFormat = iota
	FormatPacked
	FormatAndroidKey
	FormatApple
	FormatSamsungKnox
	FormatHuaweiHMS
	FormatTPM
)

// DeviceAttestation is a FIDO2 authenticator assertion.
type DeviceAttestation struct {
	AuthData       []byte // rpIdHash(32) | flags(1) | counter(4) | ...
	ClientDataHash crypto.Hash
	Signature      []byte
	Certificates   [][]byte
	Format         AttestationFormat
}

const (
	minAuthDataLen  = 37
	authFlagsOffset = 32
	flagUserPresent = 0x01
	flagUserVerify  = 0x04

	MinLivenessLen = 64
)

func (a DeviceAttestation) validate() error {
	if len(a.AuthData) < minAuthDataLen {
		return ErrInvalidAuthData
	}
	flags := a.AuthData[authFlagsOffset]
	if flags&flagUserPresent == 0 {
		return ErrUserNotPresent
	}
	if flags&flagUserVerify == 0 {
		return ErrUserNotVerified
	}
	switch a.Format {
	case FormatPacked, FormatAndroidKey, FormatApple:
		if len(a.Signature) == 0 {
			return ErrMissingAttestation
		}
	case FormatSamsungKnox, FormatHuaweiHMS, FormatTPM:
		if len(a.Certificates) == 0 {
			return ErrMissingCertificates
		}
	default:
		return ErrMissingAttestation
	}
	return nil
}

// VerifiedUserPresence adds hardware-backed user verification to a proof.
type VerifiedUserPresence struct {
	Header
	Device   DeviceAttestation
	Liveness []byte
}

func (*VerifiedUserPresence) Class() Class { return VerifiedUser }

func (p *VerifiedUserPresence) SigningMessage() []byte {
	return serialization.MustMarshal(signingRecord{
		Domain:   verifiedUserDomain,
		Header:   unsigned(p.Header),
		AuthData: p.Device.AuthData,
		Liveness: p.Liveness,
	})
}

func (p *VerifiedUserPresence) Hash() crypto.Hash {
	return crypto.HashData(serialization.MustMarshal(EnvelopeOf(p)))
}

func (p *VerifiedUserPresence) Sign(s crypto.Signer) error {
	sig, err := s.Sign(p.SigningMessage())
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

func (p *VerifiedUserPresence) validateClass() error {
	if err := p.Device.validate(); err != nil {
		return err
	}
	if len(p.Liveness) < MinLivenessLen {
		return ErrLivenessTooShort
	}
	return nil
}

type signingRecord struct {
	Domain   string
	Header   Header
	AuthData []byte
	Liveness []byte
}

func unsigned(h Header) Header {
	h.Signature = nil
	return h
}

// Validate runs the stateless checks: mask range and threshold, class rules
// and the participant's signature.
func Validate(p Proof, v crypto.Verifier) error {
	h := p.Common()
	if !h.Mask.InRange() {
		return ErrMaskOutOfRange
	}
	if !h.Mask.MeetsThreshold() {
		return ErrBelowThreshold
	}
	if err := p.validateClass(); err != nil {
		return err
	}
	if !v.Verify(h.Participant, p.SigningMessage(), h.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

var (
	_ Proof = (*FullNodePresence)(nil)
	_ Proof = (*VerifiedUserPresence)(nil)
)
