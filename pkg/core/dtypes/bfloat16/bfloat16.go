// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 is a small implementation of the bfloat16 type, based on https://github.com/x448/float16.
//
// Conversions from float32 round to nearest even, matching what the hardware conversion instructions do.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) is a 16 bits floating point format: the upper half of an IEEE 754
// float32, with the same exponent range and 7 bits of mantissa.
type BFloat16 uint16

// Float32 returns the exact float32 value.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, rounding to nearest even.
// NaNs are quieted, preserving the sign.
func FromFloat32(x float32) BFloat16 {
	u := math.Float32bits(x)
	if u&0x7FFFFFFF > 0x7F800000 {
		return BFloat16(u>>16 | 0x0040)
	}
	lsb := (u >> 16) & 1
	u += 0x7FFF + lsb
	return BFloat16(u >> 16)
}

// FromFloat32Truncate converts a float32 to a BFloat16 by dropping the lower 16 bits.
func FromFloat32Truncate(x float32) BFloat16 {
	return BFloat16(math.Float32bits(x) >> 16)
}

// FromFloat64 converts a float64 to a BFloat16, going through float32.
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// FromBits convert an uint16 to a BFloat16.
func FromBits(bits uint16) BFloat16 {
	return BFloat16(bits)
}

// Bits convert BFloat16 to an uint16.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// IsNaN reports whether f is a "not-a-number" value.
func (f BFloat16) IsNaN() bool {
	return f&0x7F80 == 0x7F80 && f&0x007F != 0
}

// String implements fmt.Stringer, and prints a float representation of the BFloat16.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}

// Inf returns a BFloat16 with an infinity value with the specified sign.
// A sign >= 0 returns positive infinity.
// A sign < 0 returns negative infinity.
func Inf(sign int) BFloat16 {
	if sign < 0 {
		return 0xFF80
	}
	return 0x7F80
}

// SmallestNonzero is the smallest nonzero denormal value for bfloat16 (9.1835e-41).
const SmallestNonzero = BFloat16(0x0001)
