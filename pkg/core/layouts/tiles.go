// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layouts

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
)

// Tile is the shape of a sub-tensor: one size per dimension.
type Tile []int64

// Elems returns the number of elements in the tile.
func (t Tile) Elems() int64 {
	elems := int64(1)
	for _, d := range t {
		elems *= d
	}
	return elems
}

// Equal returns whether both tiles have the same rank and sizes.
func (t Tile) Equal(other Tile) bool {
	return slices.Equal(t, other)
}

// AllPow2 returns whether every dimension of the tile is a power of 2.
func (t Tile) AllPow2() bool {
	for _, d := range t {
		if !xmath.IsPow2(d) {
			return false
		}
	}
	return true
}

// NonTrivialDims returns the number of dimensions with size > 1.
func (t Tile) NonTrivialDims() int {
	count := 0
	for _, d := range t {
		if d > 1 {
			count++
		}
	}
	return count
}

// String implements fmt.Stringer. E.g.: "8x4".
func (t Tile) String() string {
	parts := make([]string, len(t))
	for ii, d := range t {
		parts[ii] = fmt.Sprintf("%d", d)
	}
	return strings.Join(parts, "x")
}

// InnerTiles returns the tiles formed by prefixes of blocks (innermost first), in increasing number of elements.
//
// Each block contributes one tile per divisor (> 1) of its size: for blocks [4 of dim 1, 2 of dim 0] and
// ndims=2 it returns 1x2, 1x4, 2x4.
func InnerTiles(blocks []Block, ndims int) []Tile {
	var tiles []Tile
	cur := make(Tile, ndims)
	for ii := range cur {
		cur[ii] = 1
	}
	for _, b := range blocks {
		for f := int64(2); f <= b.Size; f++ {
			if b.Size%f != 0 {
				continue
			}
			tile := slices.Clone(cur)
			tile[b.Dim] *= f
			tiles = append(tiles, tile)
		}
		cur[b.Dim] *= b.Size
	}
	return tiles
}

// AlignLayouts splits the blocks of a and b such that for every dimension both layouts have the same sequence
// of block sizes. The returned layouts are not normalized (the split blocks are not merged back).
//
// It returns false if the layouts don't have the same dimensions, or if their block boundaries are not
// compatible (e.g. blocks of 4 and 6 for a dimension of 12).
func AlignLayouts(a, b Layout) (Layout, Layout, bool) {
	if a.ndims != b.ndims || !a.Dims().Equal(b.Dims()) {
		return a, b, false
	}
	bounds := make([][]int64, a.ndims)
	for dim := range a.ndims {
		merged := append(boundaries(a, dim), boundaries(b, dim)...)
		slices.Sort(merged)
		merged = slices.Compact(merged)
		for ii := 1; ii < len(merged); ii++ {
			if merged[ii]%merged[ii-1] != 0 {
				return a, b, false
			}
		}
		bounds[dim] = merged
	}
	return splitBlocks(a, bounds), splitBlocks(b, bounds), true
}

// boundaries returns the cumulative sizes of the blocks of dim, innermost first.
func boundaries(l Layout, dim int) []int64 {
	var res []int64
	cur := int64(1)
	for _, b := range l.blocks {
		if b.Dim == dim {
			cur *= b.Size
			res = append(res, cur)
		}
	}
	return res
}

func splitBlocks(l Layout, bounds [][]int64) Layout {
	cur := make([]int64, l.ndims)
	for ii := range cur {
		cur[ii] = 1
	}
	var blocks []Block
	for _, b := range l.blocks {
		start, end := cur[b.Dim], cur[b.Dim]*b.Size
		stride := b.Stride
		prev := start
		for _, bound := range bounds[b.Dim] {
			if bound <= start || bound > end {
				continue
			}
			size := bound / prev
			blocks = append(blocks, Block{Dim: b.Dim, Size: size, Stride: stride})
			stride *= size
			prev = bound
		}
		cur[b.Dim] = end
	}
	return Layout{dtype: l.dtype, ndims: l.ndims, offset: l.offset, blocks: blocks}
}

// TryReinterpretToWiderType finds the widest unsigned type (up to maxBytes) that both a and b can be
// reinterpreted to, and returns the reinterpreted layouts and the new type size in bytes.
//
// Both layouts must have the same dtype and their innermost blocks must be of the same dimension with stride 1.
// If tile is not nil, the innermost dimension of the tile must also be divisible by the widening.
// It returns ok=false (and the original layouts) if no wider type is possible.
func TryReinterpretToWiderType(a, b Layout, tile Tile, maxBytes int) (na, nb Layout, newBytes int, ok bool) {
	if a.dtype != b.dtype || len(a.blocks) == 0 || len(b.blocks) == 0 {
		return a, b, 0, false
	}
	a0, b0 := a.blocks[0], b.blocks[0]
	if a0.Dim != b0.Dim || a0.Stride != 1 || b0.Stride != 1 {
		return a, b, 0, false
	}
	oldBits := int64(a.dtype.Bits())
	newBits := xmath.Gcd(a0.Size*oldBits, b0.Size*oldBits)
	newBits = xmath.Gcd(newBits, int64(maxBytes)*8)
	if tile != nil {
		newBits = xmath.Gcd(newBits, tile[a0.Dim]*oldBits)
	}
	for ; newBits > oldBits && newBits >= 8; newBits /= 2 {
		if !xmath.IsPow2(newBits) {
			continue
		}
		dtype := dtypes.UnsignedOfBits(int(newBits))
		wa, okA := a.TryReinterpret(dtype)
		wb, okB := b.TryReinterpret(dtype)
		if okA && okB {
			return wa, wb, int(newBits / 8), true
		}
	}
	return a, b, 0, false
}

// MaxFixedStrideTile returns the largest innermost tile over which both src and dst advance with a single
// fixed stride each (the stride of their innermost block), along with these strides.
//
// The tile always divides the tensor, so it can be used with ForEachTile.
func MaxFixedStrideTile(src, dst Layout) (tile Tile, srcStride, dstStride int64) {
	a, b, ok := AlignLayouts(src, dst)
	if !ok {
		a, b = src, dst
	}
	tile = make(Tile, a.ndims)
	for ii := range tile {
		tile[ii] = 1
	}
	srcStride, dstStride = 1, 1
	if len(a.blocks) > 0 {
		srcStride = a.blocks[0].Stride
	}
	if len(b.blocks) > 0 {
		dstStride = b.blocks[0].Stride
	}
	if !ok {
		return
	}
	srcCur, dstCur := srcStride, dstStride
	for ii := 0; ii < min(len(a.blocks), len(b.blocks)); ii++ {
		ab, bb := a.blocks[ii], b.blocks[ii]
		if ab.Dim != bb.Dim || ab.Size != bb.Size {
			break
		}
		if srcCur != ab.Stride || dstCur != bb.Stride {
			break
		}
		srcCur = ab.Size * ab.Stride
		dstCur = bb.Size * bb.Stride
		tile[ab.Dim] *= ab.Size
	}
	return
}
