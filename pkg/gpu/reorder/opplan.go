// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
)

// UnaryOp emits one single-source instruction, e.g. isa.Builder.Mov, or a closure binding an immediate
// second source.
type UnaryOp func(mod isa.Mod, dst, src isa.RegData)

// OpPlan emits single-source instructions of any execution size, splitting them so that every emitted
// instruction is legal: no operand spans more than 2 registers, and no row of the source region crosses
// a register boundary.
//
// Sources with an inferred region (Width == 0) are given an explicit one: HS == 0 broadcasts, any other
// stride gives contiguous rows. Channel offsets are advanced on each split, so predicates and conditional
// modifiers keep addressing the same flag bits.
type OpPlan struct {
	GRFBytes int
}

// Apply emits op(mod, dst, src), split as needed.
func (p OpPlan) Apply(op UnaryOp, mod isa.Mod, dst, src isa.RegData) {
	dst = p.normalize(dst)
	if dst.HS == 0 {
		dst.HS = 1
	}
	src = p.normalize(src)
	if src.Width == 0 {
		src = setContiguous(src, min(mod.ExecSize, isa.MaxRegionWidth), src.HS)
	}

	total := mod.ExecSize
	esize := min(p.maxExecSize(dst, total, true), p.maxExecSize(src, total, false))
	if esize < src.Width {
		src = setContiguous(src, esize, src.HS)
	}
	chunk := mod
	for ii := 0; ii < total; ii += chunk.ExecSize {
		chunk.ExecSize = xmath.RndDownPow2(min(esize, total-ii))
		chunk.ChanOff = mod.ChanOff + ii
		if chunk.ExecSize < src.Width {
			src = setContiguous(src, chunk.ExecSize, src.HS)
		}
		p.fixup(op, chunk, dst, src)
		dst = p.shift(dst, chunk.ExecSize*dst.HS)
		src = p.shift(src, advance(src, chunk.ExecSize))
	}
}

// normalize moves whole registers of the offset into Base.
func (p OpPlan) normalize(r isa.RegData) isa.RegData {
	if r.Null {
		return r
	}
	perGRF := p.GRFBytes * 8 / r.Type.Bits()
	r.Base += r.Offset / perGRF
	r.Offset %= perGRF
	return r
}

func (p OpPlan) shift(r isa.RegData, elems int) isa.RegData {
	if r.Null {
		return r
	}
	r.Offset += elems
	return p.normalize(r)
}

// advance returns how many elements the first channel moves after n channels of the region.
func advance(r isa.RegData, n int) int {
	if r.Width <= 0 {
		return n * r.HS
	}
	return (n/r.Width)*r.VS + (n%r.Width)*r.HS
}

// setContiguous sets the region to rows of width elements, hs apart, with no gap between rows.
func setContiguous(r isa.RegData, width, hs int) isa.RegData {
	if width > 1 && hs > 0 {
		return r.WithRegion(width*hs, width, hs)
	}
	return r.WithRegion(hs, 1, 0)
}

// maxExecSize returns the largest power of 2 execution size (up to limit) for which the operand stays
// within 2 registers.
func (p OpPlan) maxExecSize(r isa.RegData, limit int, isDst bool) int {
	if r.Null {
		return limit
	}
	bits := r.Type.Bits()
	esize := xmath.RndDownPow2(limit)
	for ; esize > 1; esize /= 2 {
		var last int
		if isDst {
			last = r.Offset + (esize-1)*r.HS
		} else {
			last = r.Offset + advance(r, esize-1)
		}
		if (last+1)*bits <= 2*p.GRFBytes*8 {
			break
		}
	}
	return max(esize, 1)
}

// fixup emits op, splitting source regions whose rows cross a register boundary.
func (p OpPlan) fixup(op UnaryOp, mod isa.Mod, dst, src isa.RegData) {
	esize := mod.ExecSize
	if esize == 1 {
		op(mod, dst, src)
		return
	}
	width, hs, vs := src.Width, src.HS, src.VS
	if width > esize {
		width = esize
		src = setContiguous(src, width, hs)
		vs = src.VS
	}
	perGRF := p.GRFBytes * 8 / src.Type.Bits()
	crosses := false
	begin := src.Offset
	for range esize / width {
		regOff := begin % perGRF
		if regOff+(width-1)*hs+1 > perGRF {
			crosses = true
			break
		}
		begin += vs
	}
	if !crosses {
		op(mod, dst, src)
		return
	}

	if hs > 0 && vs == width*hs {
		// Contiguous rows: pick a width that makes a row end exactly at the register boundary.
		toBoundary := (perGRF-src.Offset-1)/hs + 1
		tw := xmath.RndDownPow2(min(toBoundary, width))
		for tw > 1 && toBoundary%tw != 0 {
			tw /= 2
		}
		op(mod, dst, setContiguous(src, tw, hs))
		return
	}

	// Row by row.
	row := mod
	row.ExecSize = width
	src = setContiguous(src, width, hs)
	for r := range esize / width {
		row.ChanOff = mod.ChanOff + r*width
		p.fixup(op, row, dst, src)
		dst = p.shift(dst, width*dst.HS)
		src = p.shift(src, vs)
	}
}
