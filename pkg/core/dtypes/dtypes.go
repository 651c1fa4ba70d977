// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types that can be held by GPU registers.
//
// It covers the native integer and float types, the 8 bits floats (BF8 and HF8), the 4 bits floats
// (F4E2M1 and F4E3M0) and the packed 4 bits integers.
// Sub-byte types report a Size of 0: they are always accessed through a wider (16 bits) view.
package dtypes

import (
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
// In principle, it should never happen -- the same way nil-pointer panics should never happen.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

func init() {
	// Hardware short names.
	for dtype, name := range shortNames {
		if _, found := MapOfNames[name]; !found {
			MapOfNames[name] = dtype
		}
	}

	// Add a mapping to the lower-case version of dtypes.
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if lowerKey == key {
			continue
		}
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// FromName returns the DType for the given name, which can be the Go name (e.g. "Float32"), one of the
// aliases (e.g. "F32") or the hardware short name (e.g. "f"). It is case-insensitive.
func FromName(name string) (DType, error) {
	if dtype, found := MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// Bits returns the number of bits of one element of the dtype.
func (dtype DType) Bits() int {
	switch dtype {
	case Int4, Uint4, F4E2M1, F4E3M0:
		return 4
	case Int8, Uint8, BF8, HF8:
		return 8
	case Int16, Uint16, Float16, BFloat16:
		return 16
	case Int32, Uint32, Float32, TF32:
		return 32
	case Int64, Uint64, Float64:
		return 64
	default:
		return 0
	}
}

// Size returns the number of bytes of one element, or 0 for sub-byte types.
func (dtype DType) Size() int {
	return dtype.Bits() / 8
}

// IsSubByte returns whether the dtype is smaller than a byte.
func (dtype DType) IsSubByte() bool {
	bits := dtype.Bits()
	return bits > 0 && bits < 8
}

// IsFloat returns whether dtype is a floating point encoding, including the 8 and 4 bits floats.
func (dtype DType) IsFloat() bool {
	switch dtype {
	case Float16, BFloat16, Float32, Float64, TF32, BF8, HF8, F4E2M1, F4E3M0:
		return true
	}
	return false
}

// IsFP8 returns whether dtype is one of the 8 bits floats.
func (dtype DType) IsFP8() bool {
	return dtype == BF8 || dtype == HF8
}

// IsFP4 returns whether dtype is one of the 4 bits floats.
func (dtype DType) IsFP4() bool {
	return dtype == F4E2M1 || dtype == F4E3M0
}

// IsInt returns whether dtype is a signed or unsigned integer.
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int4, Uint4, Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64:
		return true
	}
	return false
}

// IsUnsigned returns whether dtype is an unsigned integer.
func (dtype DType) IsUnsigned() bool {
	switch dtype {
	case Uint4, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// IsSupported returns whether dtype is a valid value of the enum.
func (dtype DType) IsSupported() bool {
	_, found := shortNames[dtype]
	return found
}

// UnsignedOfBits returns the unsigned integer type with the given number of bits.
// It panics for unsupported bit widths.
func UnsignedOfBits(bits int) DType {
	switch bits {
	case 4:
		return Uint4
	case 8:
		return Uint8
	case 16:
		return Uint16
	case 32:
		return Uint32
	case 64:
		return Uint64
	}
	panicf("no unsigned integer type with %d bits", bits)
	return InvalidDType
}

// SignedOfBits returns the signed integer type with the given number of bits.
// It panics for unsupported bit widths.
func SignedOfBits(bits int) DType {
	switch bits {
	case 4:
		return Int4
	case 8:
		return Int8
	case 16:
		return Int16
	case 32:
		return Int32
	case 64:
		return Int64
	}
	panicf("no signed integer type with %d bits", bits)
	return InvalidDType
}

// IntRange returns the lowest and highest values representable by the integer dtype.
// For Uint64 the highest value is clamped to math.MaxInt64.
// It panics if dtype is not an integer.
func (dtype DType) IntRange() (lowest, highest int64) {
	if !dtype.IsInt() {
		panicf("IntRange() called for non-integer dtype %s", dtype)
	}
	bits := dtype.Bits()
	if dtype.IsUnsigned() {
		if bits == 64 {
			return 0, 1<<63 - 1
		}
		return 0, 1<<bits - 1
	}
	return -(1 << (bits - 1)), 1<<(bits-1) - 1
}
