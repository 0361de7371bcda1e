package presence

import "errors"

var (
	ErrMaskOutOfRange      = errors.New("presence mask references sub-intervals outside the period")
	ErrBelowThreshold      = errors.New("presence mask below threshold")
	ErrInvalidSignature    = errors.New("invalid presence signature")
	ErrUnknownClass        = errors.New("unknown participant class")
	ErrInvalidAuthData     = errors.New("authenticator data too short")
	ErrUserNotPresent      = errors.New("authenticator user-present flag not set")
	ErrUserNotVerified     = errors.New("authenticator user-verified flag not set")
	ErrMissingAttestation  = errors.New("device attestation missing")
	ErrMissingCertificates = errors.New("device attestation certificates missing")
	ErrLivenessTooShort    = errors.New("liveness attestation too short")
)
