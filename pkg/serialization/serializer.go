// Package serialization is the canonical binary encoding used everywhere a
// value is hashed, signed or persisted. Two nodes encoding equal values must
// produce identical bytes, so only fixed-width integers, fixed arrays,
// byte slices and structs of those are allowed in encoded types.
package serialization

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-xdr/xdr"
)

var ErrTrailingBytes = errors.New("serialization: trailing bytes after value")

// Marshal returns the XDR encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	b, err := xdr.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialization: marshal %T: %w", v, err)
	}
	return b, nil
}

// MustMarshal is Marshal for values whose types are known to be encodable.
// It panics on error, which indicates a programming mistake in the type.
func MustMarshal(v interface{}) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal decodes data into v and rejects leftover input.
func Unmarshal(data []byte, v interface{}) error {
	rest, err := xdr.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("serialization: unmarshal %T: %w", v, err)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, len(rest))
	}
	return nil
}
