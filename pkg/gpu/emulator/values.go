// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package emulator

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/gpujit/pkg/core/dtypes/minifloat"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/x448/float16"
)

// value is one channel's operand or result.
type value struct {
	float bool
	f     float64

	// i is the integer value, saturated to the int64 range; raw holds its two's complement bits, used by
	// wrapping conversions and logic operations. For floats raw holds the encoding.
	i   int64
	raw uint64

	// typ and bits are the original operand encoding. When exact, writing to the same type copies bits.
	typ   dtypes.DType
	bits  uint64
	exact bool
}

func load(dtype dtypes.DType, bits uint64) value {
	v := value{typ: dtype, bits: bits, exact: true, raw: bits}
	if dtype.IsInt() {
		if dtype.IsUnsigned() {
			if bits > math.MaxInt64 {
				v.i = math.MaxInt64
			} else {
				v.i = int64(bits)
			}
		} else {
			shift := 64 - dtype.Bits()
			v.i = int64(bits<<shift) >> shift
			v.raw = uint64(v.i)
		}
		return v
	}
	v.float = true
	v.f = decodeFloat(dtype, bits)
	return v
}

func decodeFloat(dtype dtypes.DType, bits uint64) float64 {
	switch dtype {
	case dtypes.Float32, dtypes.TF32:
		return float64(math.Float32frombits(uint32(bits)))
	case dtypes.Float64:
		return math.Float64frombits(bits)
	case dtypes.Float16:
		return float64(float16.Frombits(uint16(bits)).Float32())
	case dtypes.BFloat16:
		return float64(bfloat16.FromBits(uint16(bits)).Float32())
	case dtypes.BF8:
		return minifloat.E5M2.Decode(uint8(bits))
	case dtypes.HF8:
		return minifloat.E4M3.Decode(uint8(bits))
	case dtypes.F4E2M1:
		return minifloat.E2M1.Decode(uint8(bits))
	case dtypes.F4E3M0:
		return minifloat.E3M0.Decode(uint8(bits))
	}
	exceptions.Panicf("emulator: can't decode %s", dtype)
	return 0
}

func (v value) asFloat() float64 {
	if v.float {
		return v.f
	}
	if v.i == math.MaxInt64 && v.raw > math.MaxInt64 && v.typ == dtypes.Uint64 {
		return float64(v.raw)
	}
	return float64(v.i)
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return math.MaxUint64
	}
	return 1<<bits - 1
}

func intValue(i int64, raw uint64) value {
	return value{i: i, raw: raw}
}

func floatValue(f float64) value {
	return value{float: true, f: f}
}

// encode converts v to the bits of dtype, as a destination write does.
func encode(dtype dtypes.DType, v value, sat bool) uint64 {
	if v.exact && v.typ == dtype && !sat {
		return v.bits
	}
	if dtype.IsFloat() {
		x := v.asFloat()
		if sat {
			switch {
			case math.IsNaN(x):
				x = 0
			case x < 0:
				x = 0
			case x > 1:
				x = 1
			}
		}
		return encodeFloat(dtype, x)
	}

	// IntRange stops at math.MaxInt64: the upper half of uq is handled apart.
	lo, hi := dtype.IntRange()
	uq := dtype == dtypes.Uint64
	if v.float {
		var n int64
		switch t := math.Trunc(v.f); {
		case math.IsNaN(t):
			n = 0
		case t <= float64(lo):
			n = lo
		case uq && t >= 1<<64:
			return math.MaxUint64
		case uq && t >= 1<<63:
			return uint64(t)
		case t >= float64(hi):
			n = hi
		default:
			n = int64(t)
		}
		return uint64(n) & mask(dtype.Bits())
	}
	if sat {
		if uq && v.i == math.MaxInt64 && v.raw > math.MaxInt64 {
			return v.raw
		}
		n := min(max(v.i, lo), hi)
		return uint64(n) & mask(dtype.Bits())
	}
	return v.raw & mask(dtype.Bits())
}

func encodeFloat(dtype dtypes.DType, x float64) uint64 {
	switch dtype {
	case dtypes.Float32, dtypes.TF32:
		return uint64(math.Float32bits(float32(x)))
	case dtypes.Float64:
		return math.Float64bits(x)
	case dtypes.Float16:
		return uint64(float16.Fromfloat32(float32(x)).Bits())
	case dtypes.BFloat16:
		return uint64(bfloat16.FromFloat64(x).Bits())
	case dtypes.BF8:
		return uint64(minifloat.E5M2.Encode(x, false))
	case dtypes.HF8:
		return uint64(minifloat.E4M3.Encode(x, false))
	case dtypes.F4E2M1:
		return uint64(minifloat.E2M1.Encode(x, true))
	case dtypes.F4E3M0:
		return uint64(minifloat.E3M0.Encode(x, true))
	}
	exceptions.Panicf("emulator: can't encode %s", dtype)
	return 0
}

// applyModifiers applies the source modifiers. For logic operations negation is a bitwise not.
func applyModifiers(v value, abs, neg, logic bool) value {
	if !abs && !neg {
		return v
	}
	v.exact = false
	if logic {
		if neg {
			v.raw = ^v.raw
			v.i = int64(v.raw)
		}
		return v
	}
	if v.float {
		if abs {
			v.f = math.Abs(v.f)
		}
		if neg {
			v.f = -v.f
		}
		return v
	}
	if abs && v.i < 0 {
		v.i = satNeg(v.i)
		v.raw = -v.raw
	}
	if neg {
		v.i = satNeg(v.i)
		v.raw = -v.raw
	}
	return v
}

func satNeg(i int64) int64 {
	if i == math.MinInt64 {
		return math.MaxInt64
	}
	return -i
}

func satAdd(a, b int64) int64 {
	s := a + b
	if a > 0 && b > 0 && s < 0 {
		return math.MaxInt64
	}
	if a < 0 && b < 0 && s >= 0 {
		return math.MinInt64
	}
	return s
}

func satMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		if (a < 0) != (b < 0) {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return p
}

// minNum returns the smaller operand; a NaN operand yields the other one.
func minNum(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Min(a, b)
}

func maxNum(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Max(a, b)
}

// compute returns the result of the instruction for one channel, before conversion to the destination.
func compute(inst isa.Instruction, srcs []value) value {
	switch inst.Op {
	case isa.OpMov:
		return srcs[0]

	case isa.OpAdd, isa.OpMul, isa.OpMin, isa.OpMax:
		a, b := srcs[0], srcs[1]
		if a.float || b.float {
			x, y := a.asFloat(), b.asFloat()
			switch inst.Op {
			case isa.OpAdd:
				return floatValue(x + y)
			case isa.OpMul:
				return floatValue(x * y)
			case isa.OpMin:
				return floatValue(minNum(x, y))
			default:
				return floatValue(maxNum(x, y))
			}
		}
		switch inst.Op {
		case isa.OpAdd:
			return intValue(satAdd(a.i, b.i), a.raw+b.raw)
		case isa.OpMul:
			return intValue(satMul(a.i, b.i), a.raw*b.raw)
		case isa.OpMin:
			if b.i < a.i {
				return intValue(b.i, b.raw)
			}
			return intValue(a.i, a.raw)
		default:
			if b.i > a.i {
				return intValue(b.i, b.raw)
			}
			return intValue(a.i, a.raw)
		}

	case isa.OpAnd:
		return logicValue(srcs[0].raw & srcs[1].raw)
	case isa.OpOr:
		return logicValue(srcs[0].raw | srcs[1].raw)
	case isa.OpXor:
		return logicValue(srcs[0].raw ^ srcs[1].raw)
	case isa.OpShl:
		return logicValue(srcs[0].raw << (srcs[1].raw & 63))
	case isa.OpShr:
		a := srcs[0]
		return logicValue((a.raw & mask(a.typ.Bits())) >> (srcs[1].raw & 63))
	case isa.OpAsr:
		a := srcs[0]
		shift := 64 - a.typ.Bits()
		signed := int64(a.raw<<shift) >> shift
		if a.typ.IsUnsigned() {
			signed = int64(a.raw & mask(a.typ.Bits()))
		}
		return logicValue(uint64(signed >> (srcs[1].raw & 63)))

	case isa.OpCsel:
		if testCond(inst.Mod.Cond, srcs[2]) {
			return srcs[0]
		}
		return srcs[1]

	case isa.OpBfn:
		s0, s1, s2 := srcs[0].raw, srcs[1].raw, srcs[2].raw
		var res uint64
		for bit := range 64 {
			idx := (s2>>bit&1)<<2 | (s1>>bit&1)<<1 | s0>>bit&1
			res |= uint64(inst.Ctrl>>idx&1) << bit
		}
		return logicValue(res)
	}
	exceptions.Panicf("emulator: unsupported opcode %s", inst.Op)
	return value{}
}

func logicValue(raw uint64) value {
	return intValue(int64(raw), raw)
}

// testCond evaluates the conditional modifier on v. NaN compares as not equal to zero, and it fails all
// the other conditions.
func testCond(c isa.CondMod, v value) bool {
	var cmp int
	if v.float {
		switch {
		case math.IsNaN(v.f):
			return c == isa.CondNZ
		case v.f > 0:
			cmp = 1
		case v.f < 0:
			cmp = -1
		}
	} else {
		switch {
		case v.i > 0:
			cmp = 1
		case v.i < 0:
			cmp = -1
		}
	}
	switch c {
	case isa.CondZE:
		return cmp == 0
	case isa.CondNZ:
		return cmp != 0
	case isa.CondG:
		return cmp > 0
	case isa.CondGE:
		return cmp >= 0
	case isa.CondL:
		return cmp < 0
	case isa.CondLE:
		return cmp <= 0
	}
	return false
}

// Convert returns the bits of srcType value converted to dstType the way a single mov does, saturating
// integer destinations: floats are rounded to nearest even, and integers are clamped.
// It is the reference the reorder conversions are checked against.
func Convert(srcType, dstType dtypes.DType, bits uint64) uint64 {
	return encode(dstType, load(srcType, bits&mask(srcType.Bits())), dstType.IsInt())
}
