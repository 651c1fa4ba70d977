// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
)

// 4 bits values are handled as "lanes": one value per word (or per dword low word), in the low nibble.

// nibbleByte returns the byte holding element k of the 4 bits view b, and whether it is the high nibble.
func nibbleByte(b isa.RegBufData, k int) (isa.RegBufData, int) {
	nib := b.BitOffset()/4 + k
	parity := nib % 2
	return b.Format(k-parity, b.Type()).Reinterpret(dtypes.Uint8), parity
}

// unpackU4 writes esize nibbles of src (srcStride nibbles apart) to the uw lanes, laneStride words apart.
func (g *gen1D) unpackU4(esize int, lanes isa.RegBufData, laneStride int, src isa.RegBufData, srcStride int) {
	lanes = lanes.Reinterpret(dtypes.Uint16)
	low := immOp(g.b.And, isa.ImmUW(0xF))
	high := immOp(g.b.Shr, isa.ImmUW(4))
	first, parity := nibbleByte(src, 0)
	switch {
	case srcStride == 1 && parity == 0 && esize > 1:
		half := isa.Exec(esize / 2)
		g.apply(low, half, lanes.Strided(2*laneStride), first.Strided(1))
		g.apply(high, half, lanes.Format(laneStride, dtypes.Uint16).Strided(2*laneStride), first.Strided(1))

	case srcStride%2 == 0:
		// All elements are in the same half of their byte.
		op := low
		if parity == 1 {
			op = high
		}
		g.apply(op, isa.Exec(esize), lanes.Strided(laneStride), first.Strided(srcStride/2))

	default:
		for k := range esize {
			bk, pk := nibbleByte(src, k*srcStride)
			op := low
			if pk == 1 {
				op = high
			}
			g.apply(op, isa.Exec(1), lanes.Format(k*laneStride, dtypes.Uint16).Strided(1), bk.Scalar())
		}
	}
}

// packU4 writes the low nibbles of esize uw lanes (at the start of a temporary) to dst, dstStride nibbles
// apart. It clobbers lanes, and uses tmp (at least 64 bytes) as scratch.
func (g *gen1D) packU4(esize int, dst isa.RegBufData, dstStride int, lanes, tmp isa.RegBufData) {
	b := g.b
	lanes = lanes.Reinterpret(dtypes.Uint16)
	tmp = tmp.Reinterpret(dtypes.Uint16)
	first, parity := nibbleByte(dst, 0)
	switch {
	case dstStride == 1 && parity == 0 && esize > 1:
		mod := isa.Exec(esize / 2)
		b.Shl(mod, tmp.Strided(1), lanes.Format(1, dtypes.Uint16).Strided(2), isa.ImmUW(4))
		b.Mov(mod, lanes.Strided(1), lanes.Strided(2))
		g.bfnCA(mod, lanes.Strided(1), lanes.Strided(1), tmp.Strided(1), isa.ImmUW(0xF0))
		lb := lanes.Reinterpret(dtypes.Uint8)
		b.Mov(mod, lb.Strided(1), lb.Strided(2))
		g.mov(mod, first.Strided(1), lb.Strided(1))

	case dstStride%2 == 0:
		g.mergeNibbles(isa.Exec(esize), first, dstStride/2, parity, lanes.Strided(1), tmp)

	default:
		for k := range esize {
			bk, pk := nibbleByte(dst, k*dstStride)
			g.mergeNibbles(isa.Exec(1), bk, 1, pk, lanes.Format(k, dtypes.Uint16).Strided(1), tmp)
		}
	}
}

// mergeNibbles replaces the low (shift=0) or high (shift=1) nibble of the bytes of dst, byteStride apart,
// with the low nibbles of lanes. lanes is clobbered.
func (g *gen1D) mergeNibbles(mod isa.Mod, dst isa.RegBufData, byteStride, shift int, lanes isa.RegData,
	tmp isa.RegBufData) {
	b := g.b
	tb := tmp.Reinterpret(dtypes.Uint8)
	g.mov(mod, tb.Strided(byteStride), dst.Strided(byteStride))
	b.Mov(mod, tmp.Strided(1), tb.Strided(byteStride))
	if shift == 1 {
		b.Shl(mod, lanes, lanes, isa.ImmUW(4))
	}
	g.bfnCA(mod, tmp.Strided(1), tmp.Strided(1), lanes, isa.ImmUW(uint16(0xF<<(4*shift))))
	b.Mov(mod, tb.Strided(byteStride), tmp.Strided(1))
	g.mov(mod, dst.Strided(byteStride), tb.Strided(byteStride))
}

// f4Params returns the mantissa shift and the scale that maps the 4 bits float exponent onto the exponent
// of the float type (f or hf).
func f4Params(f4Type, fType dtypes.DType) (mshift int, scale isa.Immediate) {
	e2m1 := f4Type == dtypes.F4E2M1
	if fType == dtypes.Float32 {
		if e2m1 {
			return 22, isa.ImmF(0x7e800000)
		}
		return 23, isa.ImmF(0x7d800000)
	}
	if e2m1 {
		return 9, isa.ImmHF(0x7400)
	}
	return 10, isa.ImmHF(0x6c00)
}

// cvtF4ToFloat converts esize lanes holding 4 bits floats to dst, of type f or hf. Lanes are ud (value in
// the low word) for f and uw for hf. Both are at the start of temporaries; the lanes are clobbered.
func (g *gen1D) cvtF4ToFloat(esize int, f4Type dtypes.DType, dst, lanes isa.RegBufData) {
	b := g.b
	mod := isa.Exec(esize)
	mshift, scale := f4Params(f4Type, dst.Type())
	laneStride, intType := 1, dtypes.Uint16
	mask := isa.ImmUW(uint16(0x7 << mshift))
	if dst.Type() == dtypes.Float32 {
		laneStride, intType = 2, dtypes.Uint32
		mask = isa.ImmUD(uint32(0x7 << mshift))
	}
	srcUW := lanes.Reinterpret(dtypes.Uint16).Strided(laneStride)
	dstI := dst.Reinterpret(intType).Strided(1)
	b.Shl(mod, dstI, srcUW, isa.ImmUW(uint16(mshift)))
	b.Shl(mod, srcUW, srcUW, isa.ImmUW(12))
	b.And(mod, dstI, dstI, mask)
	b.Mul(mod, dst.Strided(1), dst.Strided(1), scale)
	high := dst.Format(laneStride-1, dtypes.Uint16).Strided(laneStride)
	g.bfnCA(mod, high, high, srcUW, isa.ImmUW(0x8000))
}

// cvtFloatToF4 converts esize values of src (f or hf, at the start of a temporary, clobbered) to 4 bits
// floats with saturation, rounding to nearest even. The results are left in the low nibbles of the uw
// lanes at the start of lanes (of the same size as src).
func (g *gen1D) cvtFloatToF4(esize int, f4Type dtypes.DType, lanes, src isa.RegBufData) {
	b := g.b
	mod := isa.Exec(esize)
	isF := src.Type() == dtypes.Float32
	mshift, _ := f4Params(f4Type, src.Type())
	e2m1 := f4Type == dtypes.F4E2M1
	half := 1 << (mshift - 1)

	var maxVal, scale, rtne, one isa.Immediate
	laneStride, intType := 1, dtypes.Uint16
	if isF {
		laneStride, intType = 2, dtypes.Uint32
		maxVal, scale = isa.ImmF(0x41800000), isa.ImmF(0x01800000)
		if e2m1 {
			maxVal, scale = isa.ImmF(0x40c00000), isa.ImmF(0x00800000)
		}
		rtne, one = isa.ImmUD(uint32(half<<2-1)), isa.ImmUD(1)
	} else {
		maxVal, scale = isa.ImmHF(0x4c00), isa.ImmHF(0x0c00)
		if e2m1 {
			maxVal, scale = isa.ImmHF(0x4600), isa.ImmHF(0x0400)
		}
		rtne, one = isa.ImmUW(uint16(half<<2-1)), isa.ImmUW(1)
	}

	dstF := lanes.Reinterpret(src.Type()).Strided(1)
	dstI := lanes.Reinterpret(intType).Strided(1)
	b.Min(mod, dstF, src.Strided(1).Abs(), maxVal)
	b.Mul(mod, dstF, dstF, scale)
	b.Add(mod, dstI, dstI, isa.ImmD(int32(-half)))
	b.And(mod.WithCond(isa.CondNZ, isa.F0_0), isa.NullReg(intType), dstI, rtne)
	b.Shr(mod, dstI, dstI, isa.ImmUW(uint16(mshift)))
	b.Add(mod.WithPred(isa.F0_0), dstI, dstI, one)

	srcUW := src.Reinterpret(dtypes.Uint16).Strided(laneStride)
	b.Shr(mod, srcUW, src.Reinterpret(intType).Strided(1), isa.ImmUW(uint16(8*intType.Size()-4)))
	dstUW := lanes.Reinterpret(dtypes.Uint16).Strided(laneStride)
	g.bfnCA(mod, dstUW, dstUW, srcUW, isa.ImmUW(0x8))
	if isF {
		b.Mov(mod, lanes.Reinterpret(dtypes.Uint16).Strided(1), dstUW)
	}
}

func emitF4ToHF(g *gen1D) {
	step := g.step()
	lanes := g.tmpFor(step, dtypes.Uint16)
	vals := g.tmpFor(step, dtypes.Float16)
	g.forEachStep(step, func(i, esize int) {
		g.unpackU4(esize, lanes, 1, g.srcAt(i), g.srcStride)
		g.cvtF4ToFloat(esize, g.srcType, vals, lanes)
		g.mov(isa.Exec(esize), g.dstAt(i).Reinterpret(dtypes.Uint16).Strided(g.dstStride),
			vals.Reinterpret(dtypes.Uint16).Strided(1))
	})
}

func emitHFToF4(g *gen1D) {
	step := g.step()
	vals := g.tmpFor(2*step, dtypes.Float16)
	lanes := g.tmpFor(2*step, dtypes.Uint16)
	g.forEachStep(step, func(i, esize int) {
		g.mov(isa.Exec(esize), vals.Reinterpret(dtypes.Uint16).Strided(1),
			g.srcAt(i).Reinterpret(dtypes.Uint16).Strided(g.srcStride))
		g.cvtFloatToF4(esize, g.dstType, lanes, vals)
		g.packU4(esize, g.dstAt(i), g.dstStride, lanes, vals)
	})
}

func emitF4ToF(g *gen1D) {
	step := g.step()
	lanes := g.tmpFor(step, dtypes.Uint32)
	vals := g.tmpFor(step, dtypes.Float32)
	g.forEachStep(step, func(i, esize int) {
		g.unpackU4(esize, lanes, 2, g.srcAt(i), g.srcStride)
		g.cvtF4ToFloat(esize, g.srcType, vals, lanes)
		mod := isa.Exec(esize)
		d := g.dstAt(i)
		if g.dstType == dtypes.Float32 {
			g.mov(mod, d.Reinterpret(dtypes.Uint32).Strided(g.dstStride), vals.Reinterpret(dtypes.Uint32).Strided(1))
			return
		}
		// 4 bits float values are exact in bf16: keep the high word.
		g.mov(mod, d.Reinterpret(dtypes.Uint16).Strided(g.dstStride), vals.Format(1, dtypes.Uint16).Strided(2))
	})
}

func emitFToF4(g *gen1D) {
	step := g.step()
	vals := g.tmpFor(step, dtypes.Float32)
	lanes := g.tmpFor(step, dtypes.Uint32)
	g.forEachStep(step, func(i, esize int) {
		mod := isa.Exec(esize)
		s := g.srcAt(i)
		valsUD := vals.Reinterpret(dtypes.Uint32).Strided(1)
		if g.srcType == dtypes.BFloat16 {
			g.apply(immOp(g.b.Shl, isa.ImmUW(16)), mod, valsUD, s.Reinterpret(dtypes.Uint16).Strided(g.srcStride))
		} else {
			g.mov(mod, valsUD, s.Reinterpret(dtypes.Uint32).Strided(g.srcStride))
		}
		g.cvtFloatToF4(esize, g.dstType, lanes, vals)
		g.packU4(esize, g.dstAt(i), g.dstStride, lanes, vals)
	})
}

// emitF4ViaFloat converts 4 bits floats from and to any other type: through hf when reading them (values
// are exact) and through f when writing them.
func emitF4ViaFloat(g *gen1D) {
	if g.srcType.IsFP4() {
		g.via(dtypes.Float16)
		return
	}
	g.via(dtypes.Float32)
}

// emitInt4 converts from and to 4 bits integers, through words.
func emitInt4(g *gen1D) {
	srcX4, dstX4 := isInt4(g.srcType), isInt4(g.dstType)
	if srcX4 && dstX4 && g.srcType == g.dstType && g.srcStride == 1 && g.dstStride == 1 && g.width%2 == 0 &&
		g.src.BitOffset()%8 == 0 && g.dst.BitOffset()%8 == 0 {
		g.recurse(g.width/2, g.src.Reinterpret(dtypes.Uint8), 1, g.dst.Reinterpret(dtypes.Uint8), 1)
		return
	}

	step := g.step()
	words := g.tmpFor(step, dtypes.Int16)
	if srcX4 {
		g.forEachStep(step, func(i, esize int) {
			g.unpackU4(esize, words, 1, g.srcAt(i), g.srcStride)
			if g.srcType == dtypes.Int4 {
				w := words.Strided(1)
				g.b.Shl(isa.Exec(esize), w, w, isa.ImmUW(12))
				g.b.Asr(isa.Exec(esize), w, w, isa.ImmUW(12))
			}
			g.recurse(esize, words, 1, g.dstAt(i), g.dstStride)
		})
		return
	}

	lo, hi := g.dstType.IntRange()
	scratch := g.tmpFor(2*step, dtypes.Uint16)
	g.forEachStep(step, func(i, esize int) {
		g.recurse(esize, g.srcAt(i), g.srcStride, words, 1)
		mod := isa.Exec(esize)
		w := words.Strided(1)
		g.b.Max(mod, w, w, isa.ImmW(int16(lo)))
		g.b.Min(mod, w, w, isa.ImmW(int16(hi)))
		g.packU4(esize, g.dstAt(i), g.dstStride, words, scratch)
	})
}
