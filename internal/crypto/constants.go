package crypto

const (
	HashSize      = 32
	PublicKeySize = 32
	SignatureSize = 64
)
