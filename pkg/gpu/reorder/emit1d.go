// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
	"k8s.io/klog/v2"
)

// convKey is what selects the conversion strategy.
type convKey struct {
	info                        *hw.Info
	srcType, dstType            dtypes.DType
	width, srcStride, dstStride int
}

// strategy is one entry of the ordered conversion table: the first entry that matches is used.
type strategy struct {
	name  string
	match func(k convKey) bool
	emit  func(g *gen1D)
}

// strategies is filled in init, since the emitters call back into Emit1D.
var strategies []strategy

func init() {
	strategies = []strategy{
		{"f4-to-hf", func(k convKey) bool { return k.srcType.IsFP4() && k.dstType == dtypes.Float16 }, emitF4ToHF},
		{"hf-to-f4", func(k convKey) bool { return k.srcType == dtypes.Float16 && k.dstType.IsFP4() }, emitHFToF4},
		{"f4-to-f", func(k convKey) bool { return k.srcType.IsFP4() && isF32OrBF16(k.dstType) }, emitF4ToF},
		{"f-to-f4", func(k convKey) bool { return isF32OrBF16(k.srcType) && k.dstType.IsFP4() }, emitFToF4},
		{"f4-via-float", func(k convKey) bool { return k.srcType.IsFP4() || k.dstType.IsFP4() }, emitF4ViaFloat},
		{"int4", func(k convKey) bool { return isInt4(k.srcType) || isInt4(k.dstType) }, emitInt4},
		{"bf-to-f", func(k convKey) bool { return k.srcType == dtypes.BFloat16 && k.dstType == dtypes.Float32 }, emitBFToF},
		{"int-via-f", matchIntViaF32, emitViaF32},
		{"half-via-f", matchHalfViaF32, emitViaF32},
		{"b-to-hf", matchByteToHF, emitByteToHF},
		{"fp8-cross", func(k convKey) bool { return isFP8Cross(k.srcType, k.dstType) }, emitViaF16},
		{"fp8-native", matchFP8Native, emitFP8Native},
		{"hf8-to-x", func(k convKey) bool { return k.srcType == dtypes.HF8 }, emitHF8ToX},
		{"x-to-hf8", func(k convKey) bool { return k.dstType == dtypes.HF8 }, emitXToHF8},
		{"bf8-emulated", func(k convKey) bool { return k.srcType == dtypes.BF8 || k.dstType == dtypes.BF8 }, emitBF8},
		{"hf-to-b", matchHFToByte, emitHFToByte},
		{"f-to-df", func(k convKey) bool { return k.srcType == dtypes.Float32 && k.dstType == dtypes.Float64 }, emitF32ToF64},
		{"df-to-f", func(k convKey) bool { return k.srcType == dtypes.Float64 && k.dstType == dtypes.Float32 }, emitF64ToF32},
		{"f-to-hf", func(k convKey) bool { return k.srcType == dtypes.Float32 && k.dstType == dtypes.Float16 }, emitF32ToF16},
		{"hf-to-f", func(k convKey) bool { return k.srcType == dtypes.Float16 && k.dstType == dtypes.Float32 }, emitF16ToF32},
		{"dword-byte", matchDwordByte, emitDwordByte},
		{"word-compaction", matchWordCompaction, emitWordCompaction},
		{"float-move", func(k convKey) bool { return isXF(k.srcType) || isXF(k.dstType) }, emitFloatMove},
		{"byte-move", func(k convKey) bool { return isByte(k.srcType) && isByte(k.dstType) }, emitByteMove},
		{"word-to-byte", func(k convKey) bool { return isWordInt(k.srcType) && isByte(k.dstType) }, emitWordToByte},
		{"int-move", func(k convKey) bool { return k.srcType.IsInt() && k.dstType.IsInt() }, emitIntMove},
	}
}

func isXF(t dtypes.DType) bool {
	return t == dtypes.BFloat16 || t == dtypes.Float16 || t == dtypes.Float32 || t == dtypes.Float64
}

func isF32OrBF16(t dtypes.DType) bool { return t == dtypes.Float32 || t == dtypes.BFloat16 }

func isInt4(t dtypes.DType) bool { return t == dtypes.Int4 || t == dtypes.Uint4 }

func isByte(t dtypes.DType) bool { return t == dtypes.Int8 || t == dtypes.Uint8 }

func isWordInt(t dtypes.DType) bool { return t == dtypes.Int16 || t == dtypes.Uint16 }

func isDword(t dtypes.DType) bool { return t == dtypes.Int32 || t == dtypes.Uint32 || t == dtypes.Float32 }

func isFP8Cross(a, b dtypes.DType) bool {
	return (a == dtypes.BF8 && b == dtypes.HF8) || (a == dtypes.HF8 && b == dtypes.BF8)
}

// containsRange returns whether every value of the integer type src is representable in dst.
func containsRange(dst, src dtypes.DType) bool {
	if src == dtypes.Uint64 && dst != dtypes.Uint64 {
		return false
	}
	dLo, dHi := dst.IntRange()
	sLo, sHi := src.IntRange()
	return dLo <= sLo && sHi <= dHi
}

// normalized folds the conversions that are plain copies: tf32 is stored as f, and same type floats are
// copied as unsigned integers (df only with unit strides, as two dwords each).
func (k convKey) normalized() convKey {
	if k.srcType == dtypes.TF32 {
		k.srcType = dtypes.Float32
	}
	if k.dstType == dtypes.TF32 {
		k.dstType = dtypes.Float32
	}
	if k.srcType == k.dstType && k.srcType.IsFloat() {
		factor := 1
		if k.srcType == dtypes.Float64 {
			factor = 2
		}
		if factor == 1 || (k.srcStride == 1 && k.dstStride == 1) {
			t := dtypes.UnsignedOfBits(k.srcType.Bits() / factor)
			k.srcType, k.dstType = t, t
			k.width *= factor
		}
	}
	return k
}

// step returns the largest execution size to use. aligned tells whether both operands start at a
// 64 bytes boundary.
func (k convKey) step(aligned bool) int {
	step := 16
	if k.width < 16 {
		step = 8
	}
	legacy := k.info.Gen < hw.XeHPC
	srcBits, dstBits := k.srcType.Bits(), k.dstType.Bits()
	if legacy && k.srcType == dtypes.Float32 && (k.dstType == dtypes.BFloat16 || k.dstType == dtypes.Float16) {
		step = 8
	}
	if legacy && !aligned {
		step = 8
	}
	if k.srcType == dtypes.Float64 || k.dstType == dtypes.Float64 {
		step = 8
	}
	switch {
	case k.srcStride > 4 || k.dstStride > 4:
		step = 1
	case (srcBits == 16 && k.srcStride >= 4) || (dstBits == 16 && k.dstStride >= 4):
		step = 1
	case !xmath.IsPow2(max(k.srcStride, 1)) || !xmath.IsPow2(max(k.dstStride, 1)):
		step = 1
	case srcBits == 64 && dstBits == 64 && k.srcType.IsInt() && k.srcStride != k.dstStride:
		step = 1
	case (srcBits == 64 && k.srcStride > 2) || (dstBits == 64 && k.dstStride > 2):
		step = 1
	}
	return step
}

func (k convKey) matchBatched() bool {
	large, small := k.srcType, k.dstType
	if large.Bits() < small.Bits() {
		large, small = small, large
	}
	return (large == dtypes.Float32 || large == dtypes.Int32 || large == dtypes.Uint32) && isByte(small) &&
		k.srcStride == 1 && k.dstStride == 1 && k.width >= 8
}

func selectStrategy(k convKey) *strategy {
	if k.srcType.Bits() == 0 || k.dstType.Bits() == 0 {
		return nil
	}
	for ii := range strategies {
		if strategies[ii].match(k) {
			return &strategies[ii]
		}
	}
	return nil
}

// Strategy returns the name of the conversion strategy Emit1D uses for the given types and strides, or ""
// if the conversion is not supported. Operands are assumed to be aligned to 64 bytes.
func Strategy(info *hw.Info, srcType, dstType dtypes.DType, width, srcStride, dstStride int) string {
	k := convKey{info: info, srcType: srcType, dstType: dstType, width: width, srcStride: srcStride, dstStride: dstStride}
	if DefaultConfig().Batched && k.matchBatched() {
		return "batched"
	}
	if s := selectStrategy(k.normalized()); s != nil {
		return s.name
	}
	return ""
}

// gen1D holds the state of one Emit1D call.
type gen1D struct {
	convKey
	cfg      *Config
	b        isa.Builder
	scope    *regalloc.Scope
	plan     OpPlan
	src, dst isa.RegBufData
}

// Emit1D emits the conversion of width elements of src, srcStride elements apart, into dst, dstStride
// elements apart. The types are the types of the views.
//
// Temporaries are allocated from the allocator of scope, and released before returning. Conversions with
// no known instruction sequence panic.
func Emit1D(host isa.Host, scope *regalloc.Scope, width int, src isa.RegBufData, srcStride int,
	dst isa.RegBufData, dstStride int) {
	emit1D(host, scope, DefaultConfig(), width, src, srcStride, dst, dstStride)
}

func emit1D(host isa.Host, scope *regalloc.Scope, cfg *Config, width int, src isa.RegBufData, srcStride int,
	dst isa.RegBufData, dstStride int) {
	if width <= 0 {
		return
	}
	lex := regalloc.NewScope(scope.Allocator())
	defer lex.Release()
	info := host.Info()
	g := &gen1D{
		convKey: convKey{info: info, srcType: src.Type(), dstType: dst.Type(), width: width,
			srcStride: srcStride, dstStride: dstStride},
		cfg:   cfg,
		b:     isa.NewBuilder(host),
		scope: lex,
		plan:  OpPlan{GRFBytes: info.GRFBytes},
		src:   src,
		dst:   dst,
	}
	if cfg.Batched && g.matchBatched() && g.tryBatched() {
		return
	}
	g.convKey = g.normalized()
	g.src = g.src.Reinterpret(g.srcType)
	g.dst = g.dst.Reinterpret(g.dstType)
	s := selectStrategy(g.convKey)
	if s == nil {
		exceptions.Panicf("reorder: unsupported conversion %s(%d) -> %s(%d) of %d elements",
			src.Type(), srcStride, dst.Type(), dstStride, width)
	}
	if klog.V(3).Enabled() {
		klog.Infof("reorder 1D %s: %s(%d) -> %s(%d) x %d", s.name, g.srcType, srcStride, g.dstType, dstStride, g.width)
	}
	s.emit(g)
}

// recurse emits a nested conversion, with its own temporaries.
func (g *gen1D) recurse(width int, src isa.RegBufData, srcStride int, dst isa.RegBufData, dstStride int) {
	emit1D(g.b.Host, g.scope, g.cfg, width, src, srcStride, dst, dstStride)
}

func (g *gen1D) grf() int { return g.info.GRFBytes }

// inGRF returns the byte offset of the view within its register.
func (g *gen1D) inGRF(b isa.RegBufData) int { return b.ByteOffset() % g.grf() }

func (g *gen1D) srcAt(i int) isa.RegBufData { return g.src.Format(i*g.srcStride, g.srcType) }

func (g *gen1D) dstAt(i int) isa.RegBufData { return g.dst.Format(i*g.dstStride, g.dstType) }

func (g *gen1D) step() int {
	grf := g.grf()
	aligned := (g.src.Range().Base*grf+g.src.ByteOffset())%64 == 0 &&
		(g.dst.Range().Base*grf+g.dst.ByteOffset())%64 == 0
	return g.convKey.step(aligned)
}

// tmp allocates n registers for the duration of the Emit1D call.
func (g *gen1D) tmp(n int, dtype dtypes.DType) isa.RegBufData {
	return g.scope.AllocRegBufData(n, dtype)
}

// tmpFor allocates enough registers for elems elements of dtype.
func (g *gen1D) tmpFor(elems int, dtype dtypes.DType) isa.RegBufData {
	return g.tmp(xmath.DivUp(max(elems*dtype.Bits()/8, 1), g.grf()), dtype)
}

// forEachStep calls fn for consecutive chunks of the width: esize is the step, shrunk to a power of 2 at
// the tail.
func (g *gen1D) forEachStep(step int, fn func(i, esize int)) {
	g.forEachStepN(step, func(i, esize int) int {
		fn(i, esize)
		return esize
	})
}

// forEachStepN is like forEachStep, but fn returns how many elements it consumed, and that becomes the
// new step.
func (g *gen1D) forEachStepN(step int, fn func(i, esize int) int) {
	for i := 0; i < g.width; {
		step = xmath.RndDownPow2(min(step, g.width-i))
		n := fn(i, step)
		i += n
		step = n
	}
}

// mov is a split, 64 bits aware, move.
func (g *gen1D) mov(mod isa.Mod, dst, src isa.RegData) {
	g.plan.Apply(g.emov, mod, dst, src)
}

func (g *gen1D) emov(mod isa.Mod, dst, src isa.RegData) { g.b.EMov(mod, dst, src) }

func (g *gen1D) apply(op UnaryOp, mod isa.Mod, dst, src isa.RegData) {
	g.plan.Apply(op, mod, dst, src)
}

// immOp binds the second source of a two sources instruction to an immediate.
func immOp(emit func(mod isa.Mod, dst isa.RegData, src0, src1 isa.Operand), imm isa.Immediate) UnaryOp {
	return func(mod isa.Mod, dst, src isa.RegData) { emit(mod, dst, src, imm) }
}

// bfnCA emits dst = (src0 & ~mask) | (src1 & mask). Without bfn it clobbers src0 and src1.
func (g *gen1D) bfnCA(mod isa.Mod, dst, src0, src1 isa.RegData, mask isa.Immediate) {
	if g.info.HasBFN() {
		g.b.Bfn(mod, 0xCA, dst, src0, src1, mask)
		return
	}
	notMask := isa.Immediate{Type: mask.Type, Bits: ^mask.Bits & (1<<mask.Type.Bits() - 1)}
	g.b.And(mod, src1, src1, mask)
	g.b.And(mod, src0, src0, notMask)
	g.b.Or(mod, dst, src0, src1)
}

// tryBatched converts between dwords (or floats) and bytes in blocks of 128 elements: a first pass moves
// the values to a temporary with a 4 bytes stride, a second one packs them.
func (g *gen1D) tryBatched() bool {
	const batch = 128
	grf := g.grf()
	small, dstSmall := g.dstType, true
	if isByte(g.srcType) {
		small, dstSmall = g.srcType, false
	}
	dstOff := 0
	if g.dstType.IsFloat() {
		dstOff = g.inGRF(g.dst) / 4
	}
	t := g.scope.TryAllocRegBufData(xmath.DivUp((batch+dstOff)*4, grf), small)
	if t.IsEmpty() {
		return false
	}
	if klog.V(3).Enabled() {
		klog.Infof("reorder 1D batched: %s -> %s x %d", g.srcType, g.dstType, g.width)
	}
	for beg := 0; beg < g.width; beg += batch {
		end := min(beg+batch, g.width)
		for ii := beg; ii < end; {
			esize := xmath.RndDownPow2(min(8, end-ii))
			mod := isa.Exec(esize)
			if dstSmall {
				mod = mod.WithSat()
			}
			g.mov(mod, t.Format((dstOff+ii-beg)*4, small).Strided(4), g.srcAt(ii).Strided(1))
			ii += esize
		}
		for ii := beg; ii < end; {
			esize := xmath.RndDownPow2(min(8, end-ii))
			mod := isa.Exec(esize)
			if !dstSmall {
				mod = g.satMod(esize)
			}
			g.mov(mod, g.dstAt(ii).Strided(1), t.Format((dstOff+ii-beg)*4, small).Strided(4))
			ii += esize
		}
	}
	return true
}

// via converts through a temporary of type mid, one step at a time.
func (g *gen1D) via(mid dtypes.DType) {
	step := g.step()
	t := g.tmpFor(step, mid)
	g.forEachStep(step, func(i, esize int) {
		g.recurse(esize, g.srcAt(i), g.srcStride, t, 1)
		g.recurse(esize, t, 1, g.dstAt(i), g.dstStride)
	})
}

func emitViaF32(g *gen1D) { g.via(dtypes.Float32) }

func emitViaF16(g *gen1D) { g.via(dtypes.Float16) }
