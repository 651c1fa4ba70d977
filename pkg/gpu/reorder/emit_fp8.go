// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
)

// All 8 bits float conversions go through hf: hf holds every bf8 and hf8 value exactly.

func matchFP8Native(k convKey) bool {
	if isFP8Cross(k.srcType, k.dstType) {
		return false
	}
	bf8 := k.srcType == dtypes.BF8 || k.dstType == dtypes.BF8
	hf8 := k.srcType == dtypes.HF8 || k.dstType == dtypes.HF8
	return (bf8 && k.info.NativeBF8()) || (hf8 && k.info.NativeHF8())
}

// fp8Chunks runs the conversion in steps, moving the non-fp8 side through an hf temporary when it is not
// already hf. core converts esize hf values to or from fp8.
func (g *gen1D) fp8Chunks(core func(esize int, src isa.RegBufData, srcStride int, dst isa.RegBufData, dstStride int)) {
	step := g.step()
	srcViaHF := !g.srcType.IsFP8() && g.srcType != dtypes.Float16
	dstViaHF := !g.dstType.IsFP8() && g.dstType != dtypes.Float16
	var t isa.RegBufData
	if srcViaHF || dstViaHF {
		t = g.tmpFor(step, dtypes.Float16)
	}
	g.forEachStep(step, func(i, esize int) {
		s, ss := g.srcAt(i), g.srcStride
		d, ds := g.dstAt(i), g.dstStride
		if srcViaHF {
			g.recurse(esize, s, ss, t, 1)
			s, ss = t, 1
		}
		if dstViaHF {
			core(esize, s, ss, t, 1)
			g.recurse(esize, t, 1, d, ds)
			return
		}
		core(esize, s, ss, d, ds)
	})
}

// rawType returns the unsigned type used to copy values of t without conversion.
func rawType(t dtypes.DType) dtypes.DType { return dtypes.UnsignedOfBits(t.Bits()) }

func emitFP8Native(g *gen1D) {
	step := g.step()
	t1 := g.tmpFor(2*step, dtypes.Float16)
	t2 := g.tmpFor(2*step, dtypes.Float16)
	g.fp8Chunks(func(esize int, s isa.RegBufData, ss int, d isa.RegBufData, ds int) {
		st, dt := s.Type(), d.Type()
		rs, rd := rawType(st), rawType(dt)
		if esize == 1 {
			g.mov(isa.Exec(2), t1.Reinterpret(rs).Strided(1), s.Reinterpret(rs).Scalar())
			g.b.Mov(isa.Exec(2), t2.Reinterpret(dt).Strided(1), t1.Reinterpret(st).Strided(1))
			g.mov(isa.Exec(1), d.Reinterpret(rd).Scalar(), t2.Reinterpret(rd).Scalar())
			return
		}
		mod := isa.Exec(esize)
		if ss == 1 && ds == 1 && g.inGRF(s) == 0 && g.inGRF(d) == 0 {
			g.mov(mod, d.Strided(1), s.Strided(1))
			return
		}
		g.mov(mod, t1.Reinterpret(rs).Strided(1), s.Reinterpret(rs).Strided(ss))
		g.mov(mod, t2.Reinterpret(dt).Strided(1), t1.Reinterpret(st).Strided(1))
		g.mov(mod, d.Reinterpret(rd).Strided(ds), t2.Reinterpret(rd).Strided(1))
	})
}

// emitHF8ToX decodes hf8 with integer operations: the exponent and mantissa bits are moved into an hf and
// rebiased with a multiplication, which also handles denormals.
func emitHF8ToX(g *gen1D) {
	step := g.step()
	t1 := g.tmpFor(step, dtypes.Uint16)
	t2 := g.tmpFor(step, dtypes.Uint16)
	b := g.b
	g.fp8Chunks(func(esize int, s isa.RegBufData, ss int, d isa.RegBufData, ds int) {
		mod := isa.Exec(esize)
		sb := s.Reinterpret(dtypes.Uint8).Strided(ss)
		w1, w2 := t1.Strided(1), t2.Strided(1)
		h1, h2 := t1.Reinterpret(dtypes.Float16).Strided(1), t2.Reinterpret(dtypes.Float16).Strided(1)
		g.apply(immOp(b.Shl, isa.ImmUW(8)), mod, w1, sb)
		g.apply(immOp(b.Shl, isa.ImmUW(7)), mod, w2, sb)
		b.And(mod, w2, w2, isa.ImmUW(0x3F80))
		// w1 is +-0 iff all exponent and mantissa bits are set: NaN.
		b.Xor(mod, w1, w1, isa.ImmUW(0x7F00))
		b.Mul(mod, h2, h2, isa.ImmHF(0x5c00))
		b.Csel(mod.WithCond(isa.CondZE, isa.F0_0), h2, isa.ImmHF(0x7C01), h2, h1)
		g.bfnCA(mod, w2, w2, w1, isa.ImmUW(0x8000))
		g.mov(mod, d.Reinterpret(dtypes.Uint16).Strided(ds), w2)
	})
}

// emitXToHF8 encodes hf8 from hf: the value is rebiased with multiplications (the first one overflows
// out of range values to Inf), and the mantissa is rounded to nearest even with integer operations.
//
// Results below 2^-6 are hf8 denormals. The rebiased hf would be an hf denormal, rounded twice, so they
// are instead rounded once to a multiple of 2^-9 by adding 2, whose ulp is 2^-9.
func emitXToHF8(g *gen1D) {
	step := g.step()
	t := g.tmpFor(step, dtypes.Uint16)
	tk := g.tmpFor(step, dtypes.Float16)
	tb := g.tmpFor(2*step, dtypes.Uint8)
	b := g.b
	g.fp8Chunks(func(esize int, s isa.RegBufData, ss int, d isa.RegBufData, ds int) {
		mod := isa.Exec(esize)
		w := t.Strided(1)
		h := t.Reinterpret(dtypes.Float16).Strided(1)
		k := tk.Strided(1)
		null := isa.NullReg(dtypes.Uint16)
		g.mov(mod, w, s.Reinterpret(dtypes.Uint16).Strided(ss))
		b.And(mod.WithCond(isa.CondNZ, isa.F0_1), null, w, isa.ImmUW(0x8000))
		b.And(mod, w, w, isa.ImmUW(0x7FFF))
		b.Add(mod.WithCond(isa.CondL, isa.F1_1), isa.NullReg(dtypes.Float16), h, isa.ImmHF(0xA400))
		b.Add(mod, k, h, isa.ImmHF(0x4000))
		b.Add(mod, k, k, isa.ImmHF(0xC000))
		b.Mul(mod, k, k, isa.ImmHF(0x6000))
		b.Mul(mod, h, h, isa.ImmHF(0x5800))
		b.Mul(mod, h, h, isa.ImmHF(0x0200))
		b.And(mod.WithCond(isa.CondZE, isa.F0_0), null, w.Neg(), isa.ImmUW(0x7C00))
		b.Add(mod.WithSat(), w, w, isa.ImmW(-0x40))
		b.And(mod.WithCond(isa.CondNZ, isa.F1_0), null, w, isa.ImmUW(0xFF))
		b.Shr(mod, w, w, isa.ImmUW(7))
		b.Add(mod.WithPred(isa.F1_0), w, w, isa.ImmUW(1))
		b.Min(mod, w, w, isa.ImmUW(0x7F))
		b.Mov(mod.WithPred(isa.F1_1), w, k)
		b.Mov(mod.WithPred(isa.F0_0), w, isa.ImmUW(0x7F))
		b.Or(mod.WithPred(isa.F0_1), w, w, isa.ImmUW(0x80))
		b.Mov(mod, tb.Strided(2), w)
		g.mov(mod, d.Reinterpret(dtypes.Uint8).Strided(ds), tb.Strided(2))
	})
}

// emitBF8 handles bf8 without hardware support: bf8 is the high byte of an hf.
func emitBF8(g *gen1D) {
	b := g.b
	shl8 := immOp(b.Shl, isa.ImmUW(8))
	if g.srcType == dtypes.BF8 {
		if g.dstType == dtypes.Float16 {
			g.forEachStep(g.step(), func(i, esize int) {
				g.apply(shl8, isa.Exec(esize), g.dstAt(i).Reinterpret(dtypes.Uint16).Strided(g.dstStride),
					g.srcAt(i).Reinterpret(dtypes.Uint8).Strided(g.srcStride))
			})
			return
		}
		step := g.step()
		t := g.tmpFor(step, dtypes.Uint16)
		g.forEachStep(step, func(i, esize int) {
			g.apply(shl8, isa.Exec(esize), t.Strided(1), g.srcAt(i).Reinterpret(dtypes.Uint8).Strided(g.srcStride))
			g.recurse(esize, t.Reinterpret(dtypes.Float16), 1, g.dstAt(i), g.dstStride)
		})
		return
	}

	step := g.step()
	t := g.tmpFor(step, dtypes.Uint16)
	m := g.tmpFor(step, dtypes.Uint16)
	packed := g.tmpFor(step, dtypes.Uint16)
	g.fp8Chunks(func(esize int, s isa.RegBufData, ss int, d isa.RegBufData, ds int) {
		mod := isa.Exec(esize)
		src, w, mw := packed.Strided(1), t.Strided(1), m.Strided(1)
		g.mov(mod, src, s.Reinterpret(dtypes.Uint16).Strided(ss))
		// Round to nearest even: (s + 0x7F + lsb) >> 8.
		b.Shr(mod, w, src, isa.ImmUW(8))
		b.And(mod, w, w, isa.ImmUW(1))
		b.Add(mod, w, w, src)
		b.Add(mod, w, w, isa.ImmUW(0x7F))
		b.Shr(mod, w, w, isa.ImmUW(8))
		// NaNs keep their sign and payload high bits, and are made quiet.
		b.And(mod, mw, src, isa.ImmUW(0x7FFF))
		b.Add(mod.WithCond(isa.CondG, isa.F0_0), isa.NullReg(dtypes.Int32), mw, isa.ImmD(-0x7C00))
		b.Shr(mod.WithPred(isa.F0_0), w, src, isa.ImmUW(8))
		b.Or(mod.WithPred(isa.F0_0), w, w, isa.ImmUW(2))
		g.mov(mod, d.Reinterpret(dtypes.Uint8).Strided(ds), w)
	})
}
