// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/core/layouts"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
	"k8s.io/klog/v2"
)

const infCost = math.MaxInt

// Step is one stage of a 2D reorder: the registers are reinterpreted as Type and moved to Layout, one Tile
// per 1D reorder.
type Step struct {
	Layout layouts.Layout
	Tile   layouts.Tile
	Type   dtypes.DType
}

// String implements fmt.Stringer.
func (s Step) String() string {
	return fmt.Sprintf("%s via %s tiles of %s", s.Layout, s.Type.ShortName(), s.Tile)
}

// Plan2D is the cheapest sequence of 2D tile moves between two dense 2D layouts of the same type.
//
// The candidate intermediate layouts are all the blocked layouts of the tile, with up to
// Config.MaxTileBlocks blocks. Two layouts are connected if some (a x b) sub-tile can be moved between them
// with legal regions, and the cost of a move is the number of instructions it takes: elems/(a*b).
// The planner runs Dijkstra over this graph.
type Plan2D struct {
	info     *hw.Info
	cfg      *Config
	tile     layouts.Tile
	src, dst layouts.Layout
	path     []Step
	cost     int
}

// edge2D is a move of (a x b) sub-tiles.
type edge2D struct {
	a, b int64
}

func (e edge2D) tile() layouts.Tile { return layouts.Tile{e.a, e.b} }

// vertex2D is one candidate layout. typeMasks[e] has bit j set if the layout can be moved through edge e
// reinterpreted as an unsigned type of 2^j bytes.
type vertex2D struct {
	layout    layouts.Layout
	typeMasks []uint32
	neighbors []int
}

// NewPlan2D plans the reorder of a tile between src and dst, which must have the same type. Dimensions of
// size 1 of the tile are dropped: it must have at most 2 non-trivial dimensions.
func NewPlan2D(info *hw.Info, cfg *Config, tile layouts.Tile, src, dst layouts.Layout) *Plan2D {
	if src.DType() != dst.DType() {
		exceptions.Panicf("reorder.NewPlan2D: types differ, %s and %s", src.DType(), dst.DType())
	}
	aIdx, bIdx := tileTo2DDims(tile)
	p := &Plan2D{
		info: info,
		cfg:  cfg,
		tile: tile,
		src:  src.CollapseTo2D(aIdx, bIdx),
		dst:  dst.CollapseTo2D(aIdx, bIdx),
	}
	p.findMinCostPath(tile[aIdx], tile[bIdx])
	return p
}

// tileTo2DDims returns the two dimensions of the tile to plan over: the non-trivial ones, completed with
// the first trivial ones, in increasing order.
func tileTo2DDims(tile layouts.Tile) (aIdx, bIdx int) {
	if len(tile) < 2 {
		exceptions.Panicf("reorder: tile %s has less than 2 dimensions", tile)
	}
	if tile.NonTrivialDims() > 2 {
		exceptions.Panicf("reorder: tile %s has more than 2 non-trivial dimensions", tile)
	}
	aIdx, bIdx = -1, -1
	pick := func(ii int) {
		switch {
		case aIdx == -1:
			aIdx = ii
		case bIdx == -1:
			bIdx = ii
		}
	}
	for ii, d := range tile {
		if d != 1 {
			pick(ii)
		}
	}
	for ii, d := range tile {
		if d == 1 {
			pick(ii)
		}
	}
	if aIdx > bIdx {
		aIdx, bIdx = bIdx, aIdx
	}
	return
}

// Tile returns the tile the plan moves.
func (p *Plan2D) Tile() layouts.Tile { return p.tile }

// Path returns the steps of the plan, the last one producing the destination layout.
func (p *Plan2D) Path() []Step { return p.path }

// Cost returns the estimated number of instructions of the plan.
func (p *Plan2D) Cost() int { return p.cost }

// HighCost returns whether the plan cost is over Config.HighCostThreshold.
func (p *Plan2D) HighCost() bool { return p.cost > p.cfg.HighCostThreshold }

// String implements fmt.Stringer.
func (p *Plan2D) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan2D(%s -> %s, tile %s, cost %d):", p.src, p.dst, p.tile, p.cost)
	for _, step := range p.path {
		fmt.Fprintf(&sb, "\n  %s", step)
	}
	return sb.String()
}

// canMove checks that the layout restricted to tile and reinterpreted as dtype is a legal region: at most
// one block, a power of 2 stride up to 4 (less than 4 for types of up to 2 bytes), spanning at most
// 2 registers.
func (p *Plan2D) canMove(l layouts.Layout, tile layouts.Tile, dtype dtypes.DType) bool {
	ab, ok := l.Map(tile).TryReinterpret(dtype)
	if !ok {
		return false
	}
	blocks := ab.Blocks()
	if len(blocks) == 0 {
		return true
	}
	if len(blocks) > 1 {
		return false
	}
	last := blocks[0]
	switch {
	case last.Stride > 4:
		return false
	case last.Stride == 4 && dtype.Size() <= 2:
		return false
	case !xmath.IsPow2(last.Stride):
		return false
	}
	return last.Stride*last.Size*int64(dtype.Size()) <= int64(2*p.info.GRFBytes)
}

func (p *Plan2D) newVertex(l layouts.Layout, edges []edge2D) vertex2D {
	v := vertex2D{layout: l, typeMasks: make([]uint32, len(edges))}
	typeSize := l.DType().Size()
	for ii, e := range edges {
		maxSize := typeSize
		if _, _, n, ok := layouts.TryReinterpretToWiderType(l, l, e.tile(), 8); ok {
			maxSize = n
		}
		for j := xmath.ILog2(typeSize); j <= xmath.ILog2(maxSize); j++ {
			if p.canMove(l, e.tile(), dtypes.UnsignedOfBits(8<<j)) {
				v.typeMasks[ii] |= 1 << j
			}
		}
	}
	return v
}

// edgeCost returns the cost of moving from u to v through edge e, and the narrowest type that can do it.
// Wider types are only used when both layouts have the same innermost dimension.
func edgeCost(u, v *vertex2D, e edge2D, ei int) (int, dtypes.DType) {
	mask := u.typeMasks[ei] & v.typeMasks[ei]
	if mask == 0 {
		return infCost, dtypes.InvalidDType
	}
	cost := int(u.layout.Elems() / (e.a * e.b))
	minLog := xmath.ILog2(u.layout.DType().Size())
	for j := minLog; j <= 3; j++ {
		if mask&(1<<j) == 0 {
			continue
		}
		if j > minLog {
			ub, vb := u.layout.Blocks(), v.layout.Blocks()
			if len(ub) == 0 || len(vb) == 0 || ub[0].Dim != vb[0].Dim {
				continue
			}
		}
		return cost, dtypes.UnsignedOfBits(8 << j)
	}
	return infCost, dtypes.InvalidDType
}

// bestEdge returns the cheapest edge from u to v; ties go to the first edge.
func bestEdge(u, v *vertex2D, edges []edge2D) (cost int, edge edge2D, dtype dtypes.DType) {
	cost = infCost
	for ei, e := range edges {
		if c, t := edgeCost(u, v, e, ei); c < cost {
			cost, edge, dtype = c, e, t
		}
	}
	return
}

func (p *Plan2D) findMinCostPath(tileA, tileB int64) {
	var edges []edge2D
	for a := int64(1); a <= tileA; a *= 2 {
		for b := int64(1); b <= tileB; b *= 2 {
			if p.src.Dim(0)%a != 0 || p.src.Dim(1)%b != 0 {
				continue
			}
			edges = append(edges, edge2D{a, b})
		}
	}

	var vertices []vertex2D
	byEdge := make([][]int, len(edges))
	for _, l := range allLayouts2D(p.src.DType(), tileA, tileB, p.cfg.MaxTileBlocks) {
		vertices = append(vertices, p.newVertex(l, edges))
		vi := len(vertices) - 1
		for ei, mask := range vertices[vi].typeMasks {
			if mask != 0 {
				byEdge[ei] = append(byEdge[ei], vi)
			}
		}
	}
	for vi := range vertices {
		v := &vertices[vi]
		seen := make(map[int]bool)
		for ei, mask := range v.typeMasks {
			if mask == 0 {
				continue
			}
			for _, ui := range byEdge[ei] {
				if ui != vi && !seen[ui] && mask&vertices[ui].typeMasks[ei] != 0 {
					seen[ui] = true
					v.neighbors = append(v.neighbors, ui)
				}
			}
		}
	}

	srcIdx, dstIdx := -1, -1
	for vi := range vertices {
		if srcIdx == -1 && vertices[vi].layout.IsStrictlyEqual(p.src, false) {
			srcIdx = vi
		}
		if dstIdx == -1 && vertices[vi].layout.IsStrictlyEqual(p.dst, false) {
			dstIdx = vi
		}
	}
	if srcIdx == -1 || dstIdx == -1 {
		exceptions.Panicf("reorder.NewPlan2D: %s or %s is not a candidate layout of tile %dx%d", p.src, p.dst,
			tileA, tileB)
	}

	if srcIdx == dstIdx {
		v := &vertices[srcIdx]
		cost, e, dtype := bestEdge(v, v, edges)
		p.path = []Step{{Layout: v.layout, Tile: e.tile(), Type: dtype}}
		p.cost = cost
		return
	}

	n := len(vertices)
	cost := make([]int, n)
	prev := make([]int, n)
	steps := make([]Step, n)
	done := make([]bool, n)
	for ii := range cost {
		cost[ii] = infCost
	}
	cost[srcIdx] = 0
	for range n {
		minIdx := -1
		for vi := range n {
			if !done[vi] && cost[vi] < infCost && (minIdx == -1 || cost[vi] < cost[minIdx]) {
				minIdx = vi
			}
		}
		if minIdx == -1 {
			break
		}
		done[minIdx] = true
		u := &vertices[minIdx]
		for _, vi := range u.neighbors {
			c, e, dtype := bestEdge(u, &vertices[vi], edges)
			if c == infCost {
				continue
			}
			if newCost := cost[minIdx] + c; newCost < cost[vi] {
				cost[vi] = newCost
				prev[vi] = minIdx
				steps[vi] = Step{Layout: vertices[vi].layout, Tile: e.tile(), Type: dtype}
			}
		}
	}
	if cost[dstIdx] == infCost {
		exceptions.Panicf("reorder.NewPlan2D: no path from %s to %s", p.src, p.dst)
	}
	p.cost = cost[dstIdx]
	if p.HighCost() {
		klog.Warningf("reorder: high cost 2D reorder (%d instructions) from %s to %s", p.cost, p.src, p.dst)
	}
	for vi := dstIdx; vi != srcIdx; vi = prev[vi] {
		p.path = append(p.path, steps[vi])
	}
	for ii, jj := 0, len(p.path)-1; ii < jj; ii, jj = ii+1, jj-1 {
		p.path[ii], p.path[jj] = p.path[jj], p.path[ii]
	}
}

// allLayouts2D returns every dense blocked layout of an (a x b) tensor with up to maxBlocks blocks: sequences
// of blocks whose sizes divide the remaining extents, never repeating the dimension of the previous block.
func allLayouts2D(dtype dtypes.DType, a, b int64, maxBlocks int) []layouts.Layout {
	var res []layouts.Layout
	var blocks []layouts.Block
	var gen func(a, b, stride int64)
	gen = func(a, b, stride int64) {
		if a == 1 && b == 1 {
			res = append(res, layouts.New(dtype, 2, 0, blocks))
			return
		}
		if len(blocks) == maxBlocks {
			return
		}
		lastDim := -1
		if len(blocks) > 0 {
			lastDim = blocks[len(blocks)-1].Dim
		}
		rem := [2]int64{a, b}
		for dim := range 2 {
			if dim == lastDim {
				continue
			}
			for size := int64(2); size <= rem[dim]; size++ {
				if rem[dim]%size != 0 {
					continue
				}
				blocks = append(blocks, layouts.Block{Dim: dim, Size: size, Stride: stride})
				next := rem
				next[dim] /= size
				gen(next[0], next[1], stride*size)
				blocks = blocks[:len(blocks)-1]
			}
		}
	}
	gen(a, b, 1)
	return res
}

// Emit emits the plan, moving the tile at srcRD to dstRD. Plans of more than one step go through a
// temporary, ordered so that the last step writes to dstRD.
func (p *Plan2D) Emit(host isa.Host, scope *regalloc.Scope, srcRD, dstRD isa.RegBufData) {
	origType := p.src.DType()
	var tmp isa.RegBufData
	if len(p.path) > 1 {
		tmp = scope.AllocRegBufData(int(xmath.DivUp(p.dst.Size(), int64(p.info.GRFBytes))), origType)
	}
	if klog.V(2).Enabled() {
		klog.Infof("reorder: %s", p)
	}
	prevLayout, prevRD := p.src, srcRD
	for ii, step := range p.path {
		x := prevLayout.Map(step.Tile).Reinterpret(step.Type)
		y := step.Layout.Map(step.Tile).Reinterpret(step.Type)
		nextRD := tmp
		if (len(p.path)-ii)%2 == 1 {
			nextRD = dstRD
		}
		if x.NumBlocks() > 1 || y.NumBlocks() > 1 {
			exceptions.Panicf("reorder: 2D step %s is not a single region", step)
		}
		xStride, yStride := 1, 1
		if x.NumBlocks() == 1 {
			xStride = int(x.Blocks()[0].Stride)
		}
		if y.NumBlocks() == 1 {
			yStride = int(y.Blocks()[0].Stride)
		}
		origBits, bits := int64(origType.Bits()), int64(step.Type.Bits())
		width := int(step.Tile.Elems() * origBits / bits)
		step.Layout.ForEachTile(step.Tile, func(start []int64) {
			prevOff := prevLayout.OffsetOf(start) * origBits / bits
			nextOff := step.Layout.OffsetOf(start) * origBits / bits
			emit1D(host, scope, p.cfg, width, prevRD.Format(int(prevOff), step.Type), xStride,
				nextRD.Format(int(nextOff), step.Type), yStride)
		})
		prevLayout, prevRD = step.Layout, nextRD
	}
}
