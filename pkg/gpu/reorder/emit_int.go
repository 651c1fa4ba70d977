// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
)

// satMod returns the modifier for esize channels, saturating when the source integer range doesn't fit
// the destination type.
func (g *gen1D) satMod(esize int) isa.Mod {
	mod := isa.Exec(esize)
	if g.srcType.IsInt() && g.dstType.IsInt() && !containsRange(g.dstType, g.srcType) {
		mod = mod.WithSat()
	}
	return mod
}

func matchDwordByte(k convKey) bool {
	toByte := isDword(k.srcType) && isByte(k.dstType) && k.srcStride == 1 &&
		(k.dstStride == 1 || k.dstStride == 4 || k.dstStride == 8)
	fromByte := isByte(k.srcType) && isDword(k.dstType) && k.dstStride == 1
	return toByte || fromByte
}

// emitDwordByte converts between dwords (or f) and bytes through a temporary with a 4 bytes stride, which
// places each byte in the position of its dword.
func emitDwordByte(g *gen1D) {
	step := g.step()
	grf := g.grf()
	n := xmath.DivUp(64+4*step, grf) + 1
	if isByte(g.dstType) {
		t1 := g.tmp(n, g.dstType)
		t2 := g.tmp(n, g.dstType)
		g.forEachStep(step, func(i, esize int) {
			s, d := g.srcAt(i), g.dstAt(i)
			if esize == 1 {
				g.mov(isa.Exec(2).WithSat(), t1.Strided(4), s.Scalar())
				g.mov(isa.Exec(1), d.Scalar(), t1.Scalar())
				return
			}
			sat := isa.Exec(esize).WithSat()
			if g.dstStride != 1 {
				g.mov(sat, d.Strided(g.dstStride), s.Strided(1))
				return
			}
			dAlign := 4 * (g.inGRF(d) % 16)
			off := dAlign
			if g.srcType == dtypes.Float32 {
				off = g.inGRF(s)
			}
			t := t1.Format(off, g.dstType)
			g.mov(sat, t.Strided(4), s.Strided(1))
			if off != dAlign {
				tt := t2.Format(dAlign, g.dstType)
				g.mov(isa.Exec(esize), tt.Strided(4), t.Strided(4))
				t = tt
			}
			g.mov(isa.Exec(esize), d.Strided(1), t.Strided(4))
		})
		return
	}

	t := g.tmp(n, g.srcType)
	g.forEachStep(step, func(i, esize int) {
		s, d := g.srcAt(i), g.dstAt(i)
		if esize == 1 {
			w := t.Reinterpret(dtypes.SignedOfBits(16))
			if g.srcType.IsUnsigned() {
				w = t.Reinterpret(dtypes.UnsignedOfBits(16))
			}
			g.mov(isa.Exec(1), w.Scalar(), s.Scalar())
			g.mov(g.satMod(1), d.Scalar(), w.Scalar())
			return
		}
		off := 0
		if g.dstType == dtypes.Float32 {
			off = g.inGRF(d)
		}
		tt := t.Format(off, g.srcType)
		g.mov(isa.Exec(esize), tt.Strided(4), s.Strided(g.srcStride))
		g.mov(g.satMod(esize), d.Strided(1), tt.Strided(4))
	})
}

func matchWordCompaction(k convKey) bool {
	return k.srcType.Bits() == 16 && k.dstType.Bits() == 16 && k.srcStride == 2 && k.dstStride == 1 && k.width > 1
}

// emitWordCompaction packs words read with a stride of 2.
func emitWordCompaction(g *gen1D) {
	step := g.step()
	grf := g.grf()
	t := g.tmp(1+xmath.DivUp(4*step, grf), g.srcType)
	g.forEachStep(step, func(i, esize int) {
		s, d := g.srcAt(i), g.dstAt(i)
		sr := s.Strided(2)
		if g.info.Gen >= hw.XeHPC && esize > 1 {
			dWords := g.inGRF(d) / 2 % (grf / 4)
			if g.inGRF(s) != 4*dWords {
				tt := t.Format(2*dWords, g.srcType)
				g.mov(isa.Exec(esize), tt.Strided(2), sr)
				sr = tt.Strided(2)
			}
		}
		g.mov(g.satMod(esize), d.Strided(1), sr)
	})
}

// emitByteMove copies bytes, saturating between b and ub. Packed byte destinations must be word aligned,
// otherwise the values go through a temporary with a 4 bytes stride.
func emitByteMove(g *gen1D) {
	const tmpStride = 4
	sat := g.srcType != g.dstType
	step := g.step()
	grf := g.grf()
	tmp := g.tmp(1+xmath.DivUp(step*tmpStride, grf), g.dstType)
	ss, ds := g.srcStride, g.dstStride
	g.forEachStepN(step, func(i, esize int) int {
		s, d := g.srcAt(i), g.dstAt(i)
		mod := isa.Exec(esize)
		if sat {
			mod = mod.WithSat()
		}
		sOff, dOff := g.inGRF(s), g.inGRF(d)
		rawMov := ds == 1 || esize == 1
		aligned := true
		switch {
		case (ss == 1 || esize == 1) && rawMov:
			aligned = dOff%2 == 0
		case ds > 0 && ds <= 2 && ss >= 2*ds:
			rel := ss / ds
			aligned = dOff%(grf/rel) == sOff/rel
		}

		src := s.Strided(ss)
		if !aligned || (sat && rawMov) {
			scalar := sat && esize == 1
			if scalar {
				// Single byte conversions are broadcast to two channels.
				mod.ExecSize = 2
				src = s.Scalar()
			}
			rel := max(1, tmpStride/max(ds, 1))
			tOff := rel * (dOff % (grf / rel))
			allowed := 2*grf - tOff
			if (mod.ExecSize-1)*tmpStride+1 > allowed {
				esize = xmath.RndDownPow2((allowed-1)/tmpStride + 1)
				mod.ExecSize = esize
			}
			t := tmp.Format(tOff, g.dstType)
			g.mov(mod, t.Strided(tmpStride), src)
			mod = isa.Exec(esize)
			src = t.Strided(tmpStride)
		}
		g.mov(mod, d.Strided(ds), src)
		return esize
	})
}

func emitWordToByte(g *gen1D) {
	g.forEachStep(g.step(), func(i, esize int) {
		g.mov(isa.Exec(esize).WithSat(), g.dstAt(i).Strided(g.dstStride), g.srcAt(i).Strided(g.srcStride))
	})
}

func emitIntMove(g *gen1D) {
	g.forEachStep(g.step(), func(i, esize int) {
		g.mov(g.satMod(esize), g.dstAt(i).Strided(g.dstStride), g.srcAt(i).Strided(g.srcStride))
	})
}
