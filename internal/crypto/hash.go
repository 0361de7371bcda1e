package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

type Hash [HashSize]byte

// HashData is SHA3-256, the hash every consensus artefact is identified by.
func HashData(data []byte) Hash {
	return sha3.Sum256(data)
}

// HashConcat hashes the concatenation of parts without building it first.
func HashConcat(parts ...[]byte) Hash {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// Compare orders hashes as big-endian unsigned integers.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short is the first five bytes in hex, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:5])
}

// HashFromHex parses a hex string with an optional 0x prefix.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, ErrInvalidLength
	}
	copy(h[:], b)
	return h, nil
}
