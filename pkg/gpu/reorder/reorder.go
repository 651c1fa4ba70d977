// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reorder generates the instructions that move (and convert) data between two register layouts.
//
// There are three levels:
//
//   - Emit1D converts a run of elements with fixed strides, choosing one of a table of conversion
//     strategies by source type, destination type and strides (see Strategy).
//   - Plan2D finds the cheapest sequence of 2D tile moves between two dense layouts of the same type,
//     a shortest path over the graph of intermediate blocked layouts.
//   - Reorder drives both: it tries the 2D plan on the largest common tile, and otherwise splits the
//     tensor into the largest tiles over which both layouts have a fixed stride, and emits one 1D reorder
//     for each.
//
// Instructions are emitted to an isa.Host, usually an isa.Program, and temporaries are allocated from a
// regalloc.Scope. Bugs in the usage, like unsupported conversions or running out of registers, panic with
// exceptions.Panicf.
package reorder

import (
	"slices"

	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/layouts"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
	"k8s.io/klog/v2"
)

// Config holds the knobs of the generator. It is read-only once passed to New.
type Config struct {
	// MaxTileBlocks is the maximum number of blocks of the layouts considered by the 2D planner.
	MaxTileBlocks int

	// HighCostThreshold is the number of instructions over which a 2D plan is reported with a warning.
	HighCostThreshold int

	// Batched enables the fast path for dwords (or f) to and from bytes.
	Batched bool
}

// DefaultConfig returns a new Config with the default values.
func DefaultConfig() *Config {
	return &Config{
		MaxTileBlocks:     4,
		HighCostThreshold: 256,
		Batched:           true,
	}
}

// Option configures a Reorder.
type Option func(r *Reorder)

// WithConfig sets the generator configuration. The default is DefaultConfig().
func WithConfig(cfg *Config) Option {
	return func(r *Reorder) {
		r.cfg = cfg
	}
}

// Reorder moves a tensor from the src layout to the dst layout.
type Reorder struct {
	info     *hw.Info
	cfg      *Config
	src, dst layouts.Layout
}

// New creates a Reorder between src and dst, which must describe tensors of the same dimensions.
//
// Layouts that can be moved as a wider unsigned type (up to 4 bytes) are reinterpreted as such: e.g. two
// dense f16 layouts with an even innermost block are moved as dwords.
func New(info *hw.Info, src, dst layouts.Layout, opts ...Option) *Reorder {
	r := &Reorder{info: info, cfg: DefaultConfig(), src: src, dst: dst}
	for _, opt := range opts {
		opt(r)
	}
	if ns, nd, _, ok := layouts.TryReinterpretToWiderType(src, dst, nil, 4); ok {
		r.src, r.dst = ns, nd
	}
	return r
}

// Src returns the source layout, possibly reinterpreted to a wider type.
func (r *Reorder) Src() layouts.Layout { return r.src }

// Dst returns the destination layout, possibly reinterpreted to a wider type.
func (r *Reorder) Dst() layouts.Layout { return r.dst }

// Emit emits the reorder from srcRD to dstRD. Both register buffers are reinterpreted to the types of the
// layouts, and the layouts offsets are relative to them.
func (r *Reorder) Emit(host isa.Host, scope *regalloc.Scope, srcRD, dstRD isa.RegBufData) {
	srcRD = srcRD.Reinterpret(r.src.DType())
	dstRD = dstRD.Reinterpret(r.dst.DType())
	if r.tryEmit2D(host, scope, srcRD, dstRD) {
		return
	}

	tile, srcStride, dstStride := layouts.MaxFixedStrideTile(r.src, r.dst)
	if klog.V(2).Enabled() {
		klog.Infof("reorder: 1D %s -> %s, tile %s, strides %d -> %d", r.src, r.dst, tile, srcStride, dstStride)
	}
	width := int(tile.Elems())
	r.dst.ForEachTile(tile, func(start []int64) {
		tileScope := regalloc.NewScope(scope.Allocator())
		defer tileScope.Release()
		s := srcRD.Format(int(r.src.OffsetOf(start)), r.src.DType())
		d := dstRD.Format(int(r.dst.OffsetOf(start)), r.dst.DType())
		emit1D(host, tileScope, r.cfg, width, s, int(srcStride), d, int(dstStride))
	})
}

// tryEmit2D emits the reorder with 2D plans over the largest common tile that works. It returns false if
// none did.
func (r *Reorder) tryEmit2D(host isa.Host, scope *regalloc.Scope, srcRD, dstRD isa.RegBufData) bool {
	dtype := r.src.DType()
	if dtype != r.dst.DType() || dtype.Bits() >= 64 || dtype.Bits() < 8 {
		return false
	}
	if !r.src.IsDense() || !r.dst.IsDense() {
		return false
	}
	grf := r.info.GRFBytes
	for _, tile := range r.find2DDenseTiles() {
		if len(tile) < 2 {
			continue
		}
		if tile.Elems() < 4 {
			break
		}
		srcT := r.src.Map(tile).WithOffset(0)
		dstT := r.dst.Map(tile).WithOffset(0)
		if !dstT.IsDense() {
			continue
		}

		// The plan temporary must fit in the free registers.
		probe := scope.TryAllocRange(xmath.DivUp(int(dstT.Size()), grf))
		if probe.IsInvalid() {
			continue
		}
		scope.SafeRelease(probe)

		plan := NewPlan2D(r.info, r.cfg, tile, srcT, dstT)
		if slices.ContainsFunc(plan.Path(), func(s Step) bool { return s.Tile.Elems() < 2 }) {
			continue
		}
		if klog.V(2).Enabled() {
			klog.Infof("reorder: 2D %s -> %s, tile %s, cost %d", r.src, r.dst, tile, plan.Cost())
		}
		r.src.ForEachTile(tile, func(start []int64) {
			tileScope := regalloc.NewScope(scope.Allocator())
			defer tileScope.Release()
			s := srcRD.Format(int(r.src.OffsetOf(start)), dtype)
			d := dstRD.Format(int(r.dst.OffsetOf(start)), dtype)
			plan.Emit(host, tileScope, s, d)
		})
		return true
	}
	return false
}

// find2DDenseTiles returns the candidate tiles for 2D plans, largest first: tiles of both layouts built
// from the innermost blocks that are dense, with at most 2 non-trivial dimensions and Config.MaxTileBlocks
// blocks, and power of 2 sizes.
func (r *Reorder) find2DDenseTiles() []layouts.Tile {
	denseBlocks := func(l layouts.Layout) []layouts.Block {
		var res []layouts.Block
		stride := int64(1)
		dims := make(map[int]bool)
		for _, b := range l.Blocks() {
			if b.Stride != stride || len(res) >= r.cfg.MaxTileBlocks {
				break
			}
			if !dims[b.Dim] && len(dims) == 2 {
				break
			}
			dims[b.Dim] = true
			res = append(res, b)
			stride *= b.Size
		}
		return res
	}
	ndims := r.src.NDims()
	srcTiles := layouts.InnerTiles(denseBlocks(r.src), ndims)
	dstTiles := layouts.InnerTiles(denseBlocks(r.dst), ndims)
	var tiles []layouts.Tile
	for _, t := range srcTiles {
		if !t.AllPow2() {
			continue
		}
		if slices.ContainsFunc(dstTiles, t.Equal) && !slices.ContainsFunc(tiles, t.Equal) {
			tiles = append(tiles, t)
		}
	}
	slices.SortStableFunc(tiles, func(a, b layouts.Tile) int {
		return int(b.Elems() - a.Elems())
	})
	return tiles
}
