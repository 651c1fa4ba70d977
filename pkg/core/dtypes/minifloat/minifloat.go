// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package minifloat implements reference codecs for the 8 bits (E5M2, E4M3) and 4 bits (E2M1, E3M0) floating
// point formats.
//
// Encoders round to nearest even, from the exact value. They are used as the ground truth for conversions
// generated as instruction sequences.
package minifloat

import (
	"math"

	"github.com/x448/float16"
)

// Format describes a small binary floating point format with a sign bit.
type Format struct {
	Name         string
	ExpBits      int
	MantBits     int
	Bias         int
	HasInf       bool // Max exponent encodes Inf/NaN (IEEE style).
	NaNAllOnes   bool // Only S.111..1 encodes NaN, no infinities (E4M3FN style).
	HasNaN       bool
	SaturateOnly bool // Overflow and NaN saturate to the max finite value.
}

var (
	// E5M2 is the 8 bits float with 5 exponent bits and IEEE semantics (bf8).
	E5M2 = Format{Name: "e5m2", ExpBits: 5, MantBits: 2, Bias: 15, HasInf: true, HasNaN: true}

	// E4M3 is the 8 bits float with 4 exponent bits, no infinities and a single NaN mantissa (hf8).
	E4M3 = Format{Name: "e4m3", ExpBits: 4, MantBits: 3, Bias: 7, NaNAllOnes: true, HasNaN: true}

	// E2M1 is the 4 bits float with 2 exponent bits. Values: 0, 0.5, 1, 1.5, 2, 3, 4, 6.
	E2M1 = Format{Name: "e2m1", ExpBits: 2, MantBits: 1, Bias: 1, SaturateOnly: true}

	// E3M0 is the 4 bits float with 3 exponent bits and no mantissa. Values: 0, 0.25, 0.5, ..., 16.
	E3M0 = Format{Name: "e3m0", ExpBits: 3, MantBits: 0, Bias: 3, SaturateOnly: true}
)

// Bits returns the total number of bits of the format, including the sign.
func (f Format) Bits() int {
	return 1 + f.ExpBits + f.MantBits
}

func (f Format) signMask() uint8 {
	return 1 << (f.ExpBits + f.MantBits)
}

func (f Format) magMask() uint8 {
	return f.signMask() - 1
}

// MaxFinite returns the encoding (without sign) of the largest finite value.
func (f Format) MaxFinite() uint8 {
	switch {
	case f.HasInf:
		// Max exponent is reserved.
		return uint8(((1<<f.ExpBits)-1)<<f.MantBits) - 1
	case f.NaNAllOnes:
		return f.magMask() - 1
	default:
		return f.magMask()
	}
}

// NaN returns the canonical (quiet) NaN encoding, or the max finite value for formats without NaN.
func (f Format) NaN(negative bool) uint8 {
	var v uint8
	switch {
	case f.HasInf:
		v = uint8(((1<<f.ExpBits)-1)<<f.MantBits) | 1<<(f.MantBits-1)
	case f.NaNAllOnes:
		v = f.magMask()
	default:
		v = f.MaxFinite()
	}
	if negative {
		v |= f.signMask()
	}
	return v
}

// IsNaN reports whether the encoding is a NaN.
func (f Format) IsNaN(v uint8) bool {
	mag := v & f.magMask()
	switch {
	case f.HasInf:
		expMask := uint8(((1 << f.ExpBits) - 1) << f.MantBits)
		return mag&expMask == expMask && mag&^expMask != 0
	case f.NaNAllOnes:
		return mag == f.magMask()
	}
	return false
}

// Decode returns the exact value of the encoding v.
func (f Format) Decode(v uint8) float64 {
	negative := v&f.signMask() != 0
	mag := v & f.magMask()
	exp := int(mag >> f.MantBits)
	mant := int(mag & (1<<f.MantBits - 1))
	var res float64
	switch {
	case f.IsNaN(v):
		res = math.NaN()
	case f.HasInf && exp == (1<<f.ExpBits)-1:
		res = math.Inf(1)
	case exp == 0:
		res = math.Ldexp(float64(mant), 1-f.Bias-f.MantBits)
	default:
		res = math.Ldexp(float64(mant+1<<f.MantBits), exp-f.Bias-f.MantBits)
	}
	if negative {
		res = -res
	}
	return res
}

// Encode converts x to the format, rounding to nearest even.
//
// Overflow goes to Inf for formats with infinities, to NaN for E4M3 (or to the max finite value if saturate
// is set), and always saturates for the 4 bits formats. NaN converts to the canonical NaN, or to the max
// finite value (keeping the sign) for formats without NaN.
func (f Format) Encode(x float64, saturate bool) uint8 {
	negative := math.Signbit(x)
	var sign uint8
	if negative {
		sign = f.signMask()
	}
	if math.IsNaN(x) {
		return f.NaN(negative)
	}
	a := math.Abs(x)
	overflow := func() uint8 {
		switch {
		case saturate || f.SaturateOnly:
			return sign | f.MaxFinite()
		case f.HasInf:
			return sign | uint8(((1<<f.ExpBits)-1)<<f.MantBits)
		default:
			return f.NaN(negative)
		}
	}
	if math.IsInf(a, 0) {
		return overflow()
	}

	minNormalExp := 1 - f.Bias
	var bits int
	if a < math.Ldexp(1, minNormalExp) {
		// Denormal range: units of the smallest denormal.
		bits = int(math.RoundToEven(math.Ldexp(a, f.Bias-1+f.MantBits)))
	} else {
		frac, exp := math.Frexp(a) // a = frac * 2^exp, frac in [0.5, 1)
		e := exp - 1
		r := math.Ldexp(frac*2-1, f.MantBits)
		m := int(math.RoundToEven(r))
		if f.MantBits == 0 && r == 0.5 && (e+f.Bias)%2 != 0 {
			// Without mantissa the last bit of the code is the exponent's: ties go to the even exponent.
			m = 1
		}
		if m == 1<<f.MantBits {
			m = 0
			e++
		}
		biased := e + f.Bias
		if biased >= 1<<f.ExpBits {
			return overflow()
		}
		bits = biased<<f.MantBits | m
	}
	if bits > int(f.MaxFinite()) {
		return overflow()
	}
	return sign | uint8(bits)
}

// E5M2FromFloat16 converts half precision bits to E5M2, rounding to nearest even.
func E5M2FromFloat16(h uint16) uint8 {
	if h&0x7FFF > 0x7C00 {
		return uint8(h>>8) | 0x02
	}
	lsb := (h >> 8) & 1
	return uint8((uint32(h) + 0x7F + uint32(lsb)) >> 8)
}

// E5M2ToFloat16 converts E5M2 to half precision bits. It is exact.
func E5M2ToFloat16(v uint8) uint16 {
	return uint16(v) << 8
}

// E4M3FromFloat16 converts half precision bits to E4M3, rounding to nearest even.
func E4M3FromFloat16(h uint16, saturate bool) uint8 {
	return E4M3.Encode(float64(float16.Frombits(h).Float32()), saturate)
}

// E4M3ToFloat16 converts E4M3 to half precision bits. It is exact.
func E4M3ToFloat16(v uint8) uint16 {
	return float16.Fromfloat32(float32(E4M3.Decode(v))).Bits()
}

// E2M1FromFloat32 converts a float32 to E2M1, rounding to nearest even and saturating.
// NaN converts to the max value with the NaN sign.
func E2M1FromFloat32(x float32) uint8 {
	return E2M1.Encode(float64(x), true)
}

// E3M0FromFloat32 converts a float32 to E3M0, rounding to nearest even and saturating.
func E3M0FromFloat32(x float32) uint8 {
	return E3M0.Encode(float64(x), true)
}
