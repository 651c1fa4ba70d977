// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
)

// RegBufData is a typed position inside a range of registers: the data view generators work with.
//
// Positions are kept in bits, so 4 bits types can be addressed, but only views at byte boundaries (and of
// 8 bits or wider types) can be turned into operands.
type RegBufData struct {
	grfs   GRFRange
	bitOff int
	dtype  dtypes.DType
}

// NewRegBufData returns a view of the start of the range with the given type.
func NewRegBufData(grfs GRFRange, dtype dtypes.DType) RegBufData {
	return RegBufData{grfs: grfs, dtype: dtype}
}

// IsEmpty returns whether the view has no registers (e.g. an unallocated temporary).
func (b RegBufData) IsEmpty() bool { return b.grfs.IsInvalid() }

// Range returns the register range of the view.
func (b RegBufData) Range() GRFRange { return b.grfs }

// Type returns the element type of the view.
func (b RegBufData) Type() dtypes.DType { return b.dtype }

// BitOffset returns the position of the view, in bits from the start of the range.
func (b RegBufData) BitOffset() int { return b.bitOff }

// ByteOffset returns the position of the view, in bytes from the start of the range (rounded down).
func (b RegBufData) ByteOffset() int { return b.bitOff / 8 }

// Offset returns the position of the view in elements of its type.
func (b RegBufData) Offset() int { return b.bitOff / b.dtype.Bits() }

// Format returns the view moved by off elements of dtype, typed as dtype.
func (b RegBufData) Format(off int, dtype dtypes.DType) RegBufData {
	b.bitOff += off * dtype.Bits()
	b.dtype = dtype
	if b.bitOff < 0 {
		exceptions.Panicf("RegBufData.Format(%d, %s): negative offset", off, dtype)
	}
	return b
}

// Reinterpret returns the view at the same position with another type.
func (b RegBufData) Reinterpret(dtype dtypes.DType) RegBufData {
	b.dtype = dtype
	return b
}

// Subregister returns the view moved by off elements of its own type.
func (b RegBufData) Subregister(off int) RegBufData {
	return b.Format(off, b.dtype)
}

// regData returns the operand starting at the view position, with a unit stride.
func (b RegBufData) regData() RegData {
	if b.grfs.IsInvalid() {
		exceptions.Panicf("RegBufData: operand from an empty buffer")
	}
	bits := b.dtype.Bits()
	if b.bitOff%bits != 0 {
		exceptions.Panicf("RegBufData: bit offset %d not aligned to %s", b.bitOff, b.dtype)
	}
	return RegData{Base: b.grfs.Base, Offset: b.bitOff / bits, Type: b.dtype, HS: 1}
}

// Strided returns the operand with horizontal stride hs and inferred region.
func (b RegBufData) Strided(hs int) RegData { return b.regData().Strided(hs) }

// Scalar returns the operand broadcasting the element at the view position.
func (b RegBufData) Scalar() RegData { return b.regData().Scalar() }

// ExplicitRegion returns the operand with region <vs;width,hs>.
func (b RegBufData) ExplicitRegion(vs, width, hs int) RegData {
	return b.regData().WithRegion(vs, width, hs)
}

// String implements fmt.Stringer.
func (b RegBufData) String() string {
	return fmt.Sprintf("%s+%db:%s", b.grfs, b.bitOff, b.dtype.ShortName())
}
