package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Period uint64
	Key    [4]byte
	Blob   []byte
}

func TestMarshalIsCanonical(t *testing.T) {
	a := record{Period: 42, Key: [4]byte{1, 2, 3, 4}, Blob: []byte("abc")}
	b := record{Period: 42, Key: [4]byte{1, 2, 3, 4}, Blob: []byte("abc")}

	ea, err := Marshal(a)
	require.NoError(t, err)
	eb, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)

	b.Period = 43
	eb = MustMarshal(b)
	assert.NotEqual(t, ea, eb)
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	enc := MustMarshal(record{Period: 1, Blob: []byte{9}})

	var got record
	require.NoError(t, Unmarshal(enc, &got))
	assert.Equal(t, uint64(1), got.Period)
	assert.Equal(t, []byte{9}, got.Blob)

	err := Unmarshal(append(enc, 0, 0, 0, 0), &got)
	assert.ErrorIs(t, err, ErrTrailingBytes)
}
