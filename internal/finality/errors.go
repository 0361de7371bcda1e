package finality

import "errors"

var (
	// ErrReorgTooDeep is returned for reorganisations deeper than the
	// configured bound, regardless of how the alternative compares.
	ErrReorgTooDeep = errors.New("finality: reorg too deep")

	// ErrReorgBelowFinal is returned when a fork point lies below the latest FINAL slice.
	ErrReorgBelowFinal = errors.New("finality: reorg below final slice")

	ErrUnknownSlice        = errors.New("finality: unknown slice")
	ErrInvalidAttestation  = errors.New("finality: invalid attestation signature")
	ErrZeroWeight          = errors.New("finality: attester has no weight")
	ErrAlreadyAttested     = errors.New("finality: attester already attested")
	ErrTooManyAttestations = errors.New("finality: attestation limit reached")
	ErrHeightMismatch      = errors.New("finality: attestation height does not match slice")
)
