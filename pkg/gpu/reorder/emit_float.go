// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
)

func emitBFToF(g *gen1D) {
	shl16 := immOp(g.b.Shl, isa.ImmUW(16))
	g.forEachStep(g.step(), func(i, esize int) {
		g.apply(shl16, isa.Exec(esize), g.dstAt(i).Reinterpret(dtypes.Uint32).Strided(g.dstStride),
			g.srcAt(i).Reinterpret(dtypes.Uint16).Strided(g.srcStride))
	})
}

// byteToHFStrides are the strides handled by emitByteToHF.
func byteToHFStrides(k convKey) bool {
	return (k.dstStride == 1 || k.dstStride == 2) && (k.srcStride == 1 || k.srcStride == 4)
}

func matchIntViaF32(k convKey) bool {
	if !k.srcType.IsInt() || isInt4(k.srcType) {
		return false
	}
	switch k.dstType {
	case dtypes.BFloat16:
		return true
	case dtypes.Float16:
		return k.srcType.Bits() >= 32 || (isByte(k.srcType) && !byteToHFStrides(k))
	}
	return false
}

func matchHalfViaF32(k convKey) bool {
	half := func(t dtypes.DType) bool { return t == dtypes.Float16 || t == dtypes.BFloat16 }
	switch {
	case half(k.srcType) && half(k.dstType) && k.srcType != k.dstType:
		return true
	case k.srcType == dtypes.Float64 && half(k.dstType):
		return true
	case k.dstType == dtypes.Float64 && half(k.srcType):
		return true
	}
	return false
}

func matchByteToHF(k convKey) bool {
	return isByte(k.srcType) && k.dstType == dtypes.Float16 && byteToHFStrides(k)
}

// emitByteToHF converts bytes to hf through w and f, keeping the temporaries aligned with the destination.
func emitByteToHF(g *gen1D) {
	step := g.step()
	n := 1 + xmath.DivUp(4*step, g.grf())
	t1 := g.tmp(n, dtypes.Int16)
	t2 := g.tmp(n, dtypes.Float32)
	g.forEachStep(step, func(i, esize int) {
		mod := isa.Exec(esize)
		d := g.dstAt(i)
		off := 2 * (d.ByteOffset() % (g.grf() / 2))
		w1 := t1.Format(off/2, dtypes.Int16)
		f2 := t2.Format(off/4, dtypes.Float32)
		g.mov(mod, w1.Strided(2), g.srcAt(i).Strided(g.srcStride))
		g.mov(mod, f2.Strided(1), w1.Strided(2))
		g.mov(mod, w1.Reinterpret(dtypes.Float16).Strided(2), f2.Strided(1))
		g.mov(mod, d.Reinterpret(dtypes.Int16).Strided(g.dstStride), w1.Strided(2))
	})
}

func matchHFToByte(k convKey) bool {
	return k.srcType == dtypes.Float16 && isByte(k.dstType) &&
		(k.srcStride == 1 || k.srcStride == 2) && (k.dstStride == 1 || k.dstStride == 4)
}

// emitHFToByte converts hf to bytes with saturation, through a temporary with a 4 bytes stride unless
// the destination already has it.
func emitHFToByte(g *gen1D) {
	step := g.step()
	n := xmath.DivUp((16+step)*4, g.grf())
	t1 := g.tmp(n, g.dstType)
	t2 := g.tmp(n, g.dstType)
	g.forEachStep(step, func(i, esize int) {
		s, d := g.srcAt(i), g.dstAt(i)
		sat := isa.Exec(esize).WithSat()
		if esize == 1 {
			g.mov(isa.Exec(2).WithSat(), t1.Strided(4), s.Scalar())
			g.mov(isa.Exec(1), d.Scalar(), t1.Scalar())
			return
		}
		if g.dstStride >= 4 {
			g.mov(sat, d.Strided(g.dstStride), s.Strided(g.srcStride))
			return
		}
		off1 := g.inGRF(s) / 2
		off2 := (d.ByteOffset() % 16) * 4
		t := t1.Format(off1, g.dstType)
		g.mov(sat, t.Strided(4), s.Strided(g.srcStride))
		if off1 != off2 {
			tt := t2.Format(off2, g.dstType)
			g.mov(isa.Exec(esize), tt.Strided(4), t.Strided(4))
			t = tt
		}
		g.mov(isa.Exec(esize), d.Strided(g.dstStride), t.Strided(4))
	})
}

func emitF32ToF64(g *gen1D) {
	step := g.step()
	t := g.tmp(1+xmath.DivUp(8*step, g.grf()), dtypes.Float32)
	g.forEachStep(step, func(i, esize int) {
		mod := isa.Exec(esize)
		d := g.dstAt(i)
		tt := t.Format((g.inGRF(d)/8)*2, dtypes.Float32)
		g.mov(mod, tt.Reinterpret(dtypes.Int32).Strided(2), g.srcAt(i).Reinterpret(dtypes.Int32).Strided(g.srcStride))
		g.mov(mod, d.Strided(g.dstStride), tt.Strided(2))
	})
}

func emitF64ToF32(g *gen1D) {
	step := g.step()
	t := g.tmp(1+xmath.DivUp(8*step, g.grf()), dtypes.Float32)
	g.forEachStep(step, func(i, esize int) {
		mod := isa.Exec(esize)
		s := g.srcAt(i)
		tt := t.Format((g.inGRF(s)/8)*2, dtypes.Float32)
		g.mov(mod, tt.Strided(2), s.Strided(g.srcStride))
		g.mov(mod, g.dstAt(i).Reinterpret(dtypes.Int32).Strided(g.dstStride), tt.Reinterpret(dtypes.Int32).Strided(2))
	})
}

// emitF32ToF16 converts in place of the source dwords (the hf takes the low word of each), then packs the
// words to the destination.
func emitF32ToF16(g *gen1D) {
	step := g.step()
	n := 2 + xmath.DivUp(4*step*max(g.srcStride, 1), g.grf())
	t1 := g.tmp(n, dtypes.Float16)
	t2 := g.tmp(n, dtypes.Float16)
	g.forEachStep(step, func(i, esize int) {
		mod := isa.Exec(esize)
		s, d := g.srcAt(i), g.dstAt(i)
		tmpStride := 2 * g.srcStride
		sOff, dOff := g.inGRF(s), g.inGRF(d)
		if esize == 1 || tmpStride == 0 || tmpStride > 4 || (sOff == dOff && tmpStride == g.dstStride) {
			g.mov(mod, d.Strided(g.dstStride), s.Strided(g.srcStride))
			return
		}
		h := t1.Format(sOff/2, dtypes.Float16)
		g.mov(mod, h.Strided(tmpStride), s.Strided(g.srcStride))
		if g.info.Gen >= hw.XeHPC && g.dstStride == 1 && dOff != sOff {
			hh := t2.Format(2*((dOff/2)%16), dtypes.Float16)
			g.mov(mod, hh.Reinterpret(dtypes.Int16).Strided(2), h.Reinterpret(dtypes.Int16).Strided(tmpStride))
			h, tmpStride = hh, 2
		}
		g.mov(mod, d.Reinterpret(dtypes.Int16).Strided(g.dstStride), h.Reinterpret(dtypes.Int16).Strided(tmpStride))
	})
}

// emitF16ToF32 first spreads the words to the positions of the destination dwords.
func emitF16ToF32(g *gen1D) {
	step := g.step()
	t := g.tmp(1+xmath.DivUp(4*step*max(g.dstStride, 1), g.grf()), dtypes.Float16)
	g.forEachStep(step, func(i, esize int) {
		mod := isa.Exec(esize)
		s, d := g.srcAt(i), g.dstAt(i)
		ss := g.srcStride
		tmpStride := 2 * g.dstStride
		sOff, dOff := g.inGRF(s), g.inGRF(d)
		if esize > 1 && tmpStride <= 4 && (sOff != dOff || ss != tmpStride) {
			tt := t.Format(dOff/2, dtypes.Float16)
			g.mov(mod, tt.Reinterpret(dtypes.Int16).Strided(tmpStride), s.Reinterpret(dtypes.Int16).Strided(ss))
			s, ss = tt, tmpStride
		}
		g.mov(mod, d.Strided(g.dstStride), s.Strided(ss))
	})
}

// emitFloatMove is the generic move for conversions involving f, hf, bf or df that have no dedicated
// sequence. The float pipe requires aligned operands, so sources are realigned through temporaries where
// needed, and bf destinations not at the start of a register are written through a temporary.
func emitFloatMove(g *gen1D) {
	g.forEachStep(g.step(), func(i, esize int) {
		chunk := regalloc.NewScope(g.scope.Allocator())
		defer chunk.Release()
		g.floatMoveChunk(chunk, esize, g.srcAt(i), g.dstAt(i))
	})
}

func (g *gen1D) floatMoveChunk(scope *regalloc.Scope, esize int, s, d isa.RegBufData) {
	grf := g.grf()
	st, dt := g.srcType, g.dstType
	ss, ds := g.srcStride, g.dstStride
	mod := isa.Exec(esize)

	dOrig, dsOrig := d, ds
	redirect := false
	if esize > 1 && dt == dtypes.BFloat16 {
		off := g.inGRF(d)
		redirect = off != 0 && (off != grf/2 || ds != 1)
	}
	if redirect {
		d = scope.AllocRegBufData(xmath.DivUp(2*esize, grf), dt)
		ds = 1
	}

	if esize > 1 && ss != 0 && g.needsAlign(s, d) {
		raw := dtypes.UnsignedOfBits(st.Bits())
		s = alignSrcDstOffset(g.b.Host, scope, g.cfg, esize, d, ds, s.Reinterpret(raw), ss).Reinterpret(st)
	}

	if st.Bits() == 16 && st.IsInt() && dt == dtypes.Float32 && ds <= 2 {
		// Words are first spread in place over the destination dwords.
		td := d.Reinterpret(st)
		g.mov(mod, td.Strided(2*ds), s.Strided(ss))
		s, ss = td, 2*ds
	}

	if dt == dtypes.BFloat16 && !g.info.NativeBF16() {
		if st != dtypes.Float32 {
			exceptions.Panicf("reorder: emulated bf16 conversion from %s", st)
		}
		g.f32ToBF16(scope, esize, s, ss, d, ds)
	} else {
		g.mov(mod, d.Strided(ds), s.Strided(ss))
	}

	if redirect {
		g.mov(mod, dOrig.Reinterpret(dtypes.Uint16).Strided(dsOrig), d.Reinterpret(dtypes.Uint16).Strided(1))
	}
}

// needsAlign returns whether the float pipe requires s to be moved to the position of d in its register.
func (g *gen1D) needsAlign(s, d isa.RegBufData) bool {
	grf := g.grf()
	st, dt := s.Type(), d.Type()
	sByte, dByte := g.inGRF(s), g.inGRF(d)
	sOff, dOff := sByte*8/st.Bits(), dByte*8/dt.Bits()
	var align bool
	if (st == dtypes.Float32 && dt == dtypes.Float16) || (st == dtypes.Float16 && dt == dtypes.Float32) {
		align = sByte != dByte
	} else {
		align = sOff != dOff
	}
	if !align {
		return false
	}
	halfAligned := func(t dtypes.DType, off int) bool {
		return (t == dtypes.Float16 || t == dtypes.BFloat16) && (off == 0 || off == grf/2)
	}
	if dt == dtypes.Float32 && dOff == 0 && halfAligned(st, sByte) {
		return false
	}
	if st == dtypes.Float32 && sOff == 0 && halfAligned(dt, dByte) {
		return false
	}
	return true
}

// f32ToBF16 rounds f to bf with round to nearest even, using integer operations:
// bf = (u - 0x8000) >> 16, plus one unless the dropped 17 bits are exactly the lower tie.
//
// The rounding carry can turn a NaN into zero or Inf, so NaN channels are written afterwards with their
// high half and the quiet bit set.
func (g *gen1D) f32ToBF16(scope *regalloc.Scope, esize int, s isa.RegBufData, ss int, d isa.RegBufData, ds int) {
	mod := isa.Exec(esize)
	regs := xmath.DivUp(4*esize, g.grf())
	t := scope.AllocRegBufData(regs, dtypes.Uint32)
	g.mov(mod, t.Strided(1), s.Reinterpret(dtypes.Uint32).Strided(ss))
	td := t.Reinterpret(dtypes.Int32).Strided(1)

	// f1.0 flags NaNs: (u & 0x7fffffff) > 0x7f800000.
	abs := scope.AllocRegBufData(regs, dtypes.Int32)
	g.b.And(mod, abs.Strided(1), td, isa.ImmD(0x7fffffff))
	g.b.Add(mod.WithCond(isa.CondG, isa.F1_0), isa.NullReg(dtypes.Int32), abs.Strided(1), isa.ImmD(-0x7f800001))

	g.b.Add(mod, td, td, isa.ImmD(-0x8000))
	g.b.And(mod.WithCond(isa.CondNZ, isa.F0_0), isa.NullReg(dtypes.Uint32), t.Strided(1), isa.ImmUD(0x1FFFF))
	dw := d.Reinterpret(dtypes.Uint16).Strided(ds)
	g.mov(mod, dw, t.Format(1, dtypes.Uint16).Strided(2))
	g.apply(immOp(g.b.Add, isa.ImmUW(1)), mod.WithPred(isa.F0_0), dw, dw)

	nan := mod.WithPred(isa.F1_0)
	g.mov(nan, dw, s.Format(1, dtypes.Uint16).Strided(2*ss))
	g.apply(immOp(g.b.Or, isa.ImmUW(0x40)), nan, dw, dw)
}
