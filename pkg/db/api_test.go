package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		name   string
		prefix []byte
		want   []byte
	}{
		{name: "single_byte", prefix: []byte{0x01}, want: []byte{0x02}},
		{name: "carry", prefix: []byte{0x01, 0xff}, want: []byte{0x02}},
		{name: "all_ff", prefix: []byte{0xff, 0xff}, want: nil},
		{name: "empty", prefix: []byte{}, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PrefixEnd(tc.prefix))
		})
	}
}
