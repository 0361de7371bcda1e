package safemath

import (
	"errors"
	"math"
	"math/bits"
)

var ErrOverflow = errors.New("number overflow")

func Add64(a, b uint64) (uint64, bool) {
	v, carry := bits.Add64(a, b, 0)
	return v, carry == 0
}

func Sub64(a, b uint64) (uint64, bool) {
	v, borrow := bits.Sub64(a, b, 0)
	return v, borrow == 0
}

func Mul64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// SaturatingAdd64 returns a+b, or MaxUint64 on overflow.
func SaturatingAdd64(a, b uint64) uint64 {
	v, ok := Add64(a, b)
	if !ok {
		return math.MaxUint64
	}
	return v
}

// SaturatingSub64 returns a-b, or 0 on underflow.
func SaturatingSub64(a, b uint64) uint64 {
	v, ok := Sub64(a, b)
	if !ok {
		return 0
	}
	return v
}

func SaturatingMul64(a, b uint64) uint64 {
	v, ok := Mul64(a, b)
	if !ok {
		return math.MaxUint64
	}
	return v
}
