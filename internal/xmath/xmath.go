// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xmath holds small integer helpers used when sizing work-groups and register regions.
package xmath

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// DivUp returns ceil(a/b) for non-negative a and positive b.
func DivUp[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// RndUp rounds a up to the next multiple of b.
func RndUp[T constraints.Integer](a, b T) T {
	return DivUp(a, b) * b
}

// RndDown rounds a down to a multiple of b.
func RndDown[T constraints.Integer](a, b T) T {
	return (a / b) * b
}

// IsPow2 returns whether a is a (positive) power of two.
func IsPow2[T constraints.Integer](a T) bool {
	return a > 0 && a&(a-1) == 0
}

// ILog2 returns floor(log2(a)) for a > 0, and 0 otherwise.
func ILog2[T constraints.Integer](a T) int {
	if a <= 0 {
		return 0
	}
	return 63 - bits.LeadingZeros64(uint64(a))
}

// RndDownPow2 returns the largest power of two <= a, or 0 if a <= 0.
func RndDownPow2[T constraints.Integer](a T) T {
	if a <= 0 {
		return 0
	}
	return T(1) << ILog2(a)
}

// RndUpPow2 returns the smallest power of two >= a, or 1 if a <= 1.
func RndUpPow2[T constraints.Integer](a T) T {
	if a <= 1 {
		return 1
	}
	p := RndDownPow2(a)
	if p == a {
		return a
	}
	return p << 1
}

// MaxDiv returns the largest divisor of value that is not larger than limit.
// It returns 1 if limit < 1.
func MaxDiv[T constraints.Integer](value, limit T) T {
	if limit < 1 {
		return 1
	}
	if value <= limit {
		if value < 1 {
			return 1
		}
		return value
	}
	for d := limit; d > 1; d-- {
		if value%d == 0 {
			return d
		}
	}
	return 1
}

// Gcd returns the greatest common divisor of a and b.
func Gcd[T constraints.Integer](a, b T) T {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
