// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
)

// MaxRegionWidth is the largest width of a register region row.
const MaxRegionWidth = 16

// GRFRange is a range of consecutive general registers. A range with Len == 0 is invalid, it is returned by
// non-throwing allocations that failed.
type GRFRange struct {
	Base, Len int
}

// IsInvalid returns whether the range is the "allocation failed" handle.
func (r GRFRange) IsInvalid() bool { return r.Len <= 0 }

// String implements fmt.Stringer.
func (r GRFRange) String() string {
	if r.IsInvalid() {
		return "r<invalid>"
	}
	return fmt.Sprintf("r%d-r%d", r.Base, r.Base+r.Len-1)
}

// Operand is either a register region (RegData) or an Immediate.
type Operand interface {
	// DType of the operand elements.
	DType() dtypes.DType

	// String representation, used when printing programs.
	String() string

	isOperand()
}

// RegData is a register region operand.
//
// The region starts at register Base, Offset elements (of Type) in; for 4 bits types the offset counts nibbles.
// Elements of a row of Width are HS elements apart and rows are VS elements apart.
// A Width of 0 means the region is inferred from the execution size, see Region.
type RegData struct {
	Base   int
	Offset int
	Type   dtypes.DType

	VS, Width, HS int

	AbsMod, NegMod bool
	Null           bool
}

var _ Operand = RegData{}

func (RegData) isOperand() {}

// NullReg returns the null register with the given type: writes to it are discarded.
func NullReg(dtype dtypes.DType) RegData {
	return RegData{Type: dtype, Null: true, HS: 1}
}

// DType implements Operand.
func (r RegData) DType() dtypes.DType { return r.Type }

// Bits returns the number of bits of one element.
func (r RegData) Bits() int { return r.Type.Bits() }

// BitOffset returns the offset of the first element, in bits, from the start of the Base register.
func (r RegData) BitOffset() int { return r.Offset * r.Type.Bits() }

// ByteOffset returns the offset of the first element, in bytes, from the start of the Base register.
func (r RegData) ByteOffset() int { return r.BitOffset() / 8 }

// Strided returns the region with horizontal stride hs and inferred width and vertical stride.
// A stride of 0 broadcasts the first element.
func (r RegData) Strided(hs int) RegData {
	r.VS, r.Width, r.HS = 0, 0, hs
	return r
}

// Scalar returns the region <0;1,0>: the first element broadcast to all channels.
func (r RegData) Scalar() RegData {
	r.VS, r.Width, r.HS = 0, 1, 0
	return r
}

// WithRegion returns the region with an explicit <vs;width,hs>.
func (r RegData) WithRegion(vs, width, hs int) RegData {
	r.VS, r.Width, r.HS = vs, width, hs
	return r
}

// Retype returns the same region (same offset in elements and strides) with another type.
func (r RegData) Retype(dtype dtypes.DType) RegData {
	r.Type = dtype
	return r
}

// Reinterpret returns an operand of dtype starting at the same bit position, moved by off elements of
// dtype. The region is reset to a unit stride.
func (r RegData) Reinterpret(off int, dtype dtypes.DType) RegData {
	bit := r.BitOffset()
	if bit%dtype.Bits() != 0 {
		exceptions.Panicf("RegData.Reinterpret(%d, %s): %s is not aligned to the new type", off, dtype, r)
	}
	r.Type = dtype
	r.Offset = bit/dtype.Bits() + off
	r.VS, r.Width, r.HS = 0, 0, 1
	return r
}

// Abs returns the operand with the absolute value source modifier.
func (r RegData) Abs() RegData {
	r.AbsMod = true
	r.NegMod = false
	return r
}

// Neg returns the operand with the negation source modifier. For logic instructions it is a bitwise not.
func (r RegData) Neg() RegData {
	r.NegMod = !r.NegMod
	return r
}

// Region returns the effective <vs;width,hs> region for the given execution size.
//
// Explicit regions (Width > 0) are returned as is. Otherwise, for sources, HS == 0 is a broadcast <0;1,0>,
// and other strides use the widest power of 2 row (up to MaxRegionWidth) that fits in one register.
// Destinations only use HS, where 0 is taken as 1. A single channel always uses a scalar region.
func (r RegData) Region(execSize, grfBytes int, isDst bool) (vs, width, hs int) {
	if isDst {
		hs = r.HS
		if hs == 0 || execSize == 1 {
			hs = 1
		}
		return hs * execSize, execSize, hs
	}
	if execSize == 1 {
		return 0, 1, 0
	}
	if r.Width > 0 {
		return r.VS, r.Width, r.HS
	}
	if r.HS == 0 {
		return 0, 1, 0
	}
	bytesPerElem := max(1, r.Type.Bits()/8)
	width = xmath.RndDownPow2(max(1, grfBytes/(bytesPerElem*r.HS)))
	width = min(width, MaxRegionWidth, execSize)
	return width * r.HS, width, r.HS
}

// ChannelBit returns the absolute bit address (counting from the start of r0) of channel ch of the region.
func (r RegData) ChannelBit(ch, execSize, grfBytes int, isDst bool) int {
	vs, width, hs := r.Region(execSize, grfBytes, isDst)
	row, col := ch/width, ch%width
	elem := r.Offset + row*vs + col*hs
	return r.Base*grfBytes*8 + elem*r.Type.Bits()
}

// String implements Operand.
func (r RegData) String() string {
	return r.Format(32)
}

// Format returns the assembly-like representation, using grfBytes to compute the sub-register.
func (r RegData) Format(grfBytes int) string {
	mods := ""
	if r.NegMod {
		mods = "-"
	}
	if r.Null {
		return fmt.Sprintf("null:%s", r.Type.ShortName())
	}
	bit := r.Base*grfBytes*8 + r.BitOffset()
	reg := bit / (grfBytes * 8)
	sub := (bit % (grfBytes * 8)) / max(r.Type.Bits(), 1)
	region := fmt.Sprintf("<%d>", r.HS)
	if r.Width > 0 {
		region = fmt.Sprintf("<%d;%d,%d>", r.VS, r.Width, r.HS)
	}
	s := fmt.Sprintf("%sr%d.%d%s:%s", mods, reg, sub, region, r.Type.ShortName())
	if r.AbsMod {
		s = fmt.Sprintf("%s(%s)", "abs", s)
	}
	return s
}

// Immediate is a constant operand. Bits holds the raw encoding of the value in Type.
type Immediate struct {
	Type dtypes.DType
	Bits uint64
}

var _ Operand = Immediate{}

func (Immediate) isOperand() {}

// DType implements Operand.
func (imm Immediate) DType() dtypes.DType { return imm.Type }

// String implements Operand.
func (imm Immediate) String() string {
	return fmt.Sprintf("0x%x:%s", imm.Bits, imm.Type.ShortName())
}

// ImmUW returns an unsigned 16 bits immediate.
func ImmUW(v uint16) Immediate { return Immediate{Type: dtypes.Uint16, Bits: uint64(v)} }

// ImmW returns a signed 16 bits immediate.
func ImmW(v int16) Immediate { return Immediate{Type: dtypes.Int16, Bits: uint64(uint16(v))} }

// ImmUD returns an unsigned 32 bits immediate.
func ImmUD(v uint32) Immediate { return Immediate{Type: dtypes.Uint32, Bits: uint64(v)} }

// ImmD returns a signed 32 bits immediate.
func ImmD(v int32) Immediate { return Immediate{Type: dtypes.Int32, Bits: uint64(uint32(v))} }

// ImmF returns a float32 immediate given by its bits.
func ImmF(bits uint32) Immediate { return Immediate{Type: dtypes.Float32, Bits: uint64(bits)} }

// ImmHF returns a float16 immediate given by its bits.
func ImmHF(bits uint16) Immediate { return Immediate{Type: dtypes.Float16, Bits: uint64(bits)} }
