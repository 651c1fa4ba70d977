// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layouts models how the elements of a small N-dimensional tensor are laid out in registers.
//
// A Layout is a list of blocks, ordered from the innermost (fastest varying) to the outermost. Each block
// covers Size consecutive indices of one dimension, and consecutive indices are Stride elements apart.
// A dimension may be split in several blocks (e.g. "blocked" formats, where a dimension of 32 is stored as
// 2 blocks of 16 with another dimension in between).
//
// Layouts are values: every transformation returns a new Layout and never changes the receiver.
package layouts

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
)

// Block is one level of the layout: Size consecutive indices of dimension Dim, Stride elements apart.
type Block struct {
	Dim    int
	Size   int64
	Stride int64
}

// String implements fmt.Stringer.
func (b Block) String() string {
	return fmt.Sprintf("%d:%dx%d", b.Dim, b.Size, b.Stride)
}

// Layout of a tensor in registers. See package documentation.
//
// The zero value is not valid, use New or MakeDense.
type Layout struct {
	dtype  dtypes.DType
	ndims  int
	offset int64
	blocks []Block
}

// New creates a Layout with the given blocks (innermost first) and offset (in elements of dtype).
//
// The blocks are normalized: blocks of size 1 are dropped, and adjacent blocks of the same dimension that
// are contiguous are merged.
func New(dtype dtypes.DType, ndims int, offset int64, blocks []Block) Layout {
	for _, b := range blocks {
		if b.Dim < 0 || b.Dim >= ndims {
			exceptions.Panicf("layouts.New: block %s refers to a dimension out of range for ndims=%d", b, ndims)
		}
		if b.Size <= 0 || b.Stride < 0 {
			exceptions.Panicf("layouts.New: invalid block %s", b)
		}
	}
	return Layout{dtype: dtype, ndims: ndims, offset: offset, blocks: normalize(blocks)}
}

func normalize(blocks []Block) []Block {
	res := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Size == 1 {
			continue
		}
		if n := len(res); n > 0 {
			last := &res[n-1]
			if last.Dim == b.Dim && last.Stride*last.Size == b.Stride {
				last.Size *= b.Size
				continue
			}
		}
		res = append(res, b)
	}
	return res
}

// MakeDense returns the row-major dense layout for the given dimensions: the last dimension is the innermost.
func MakeDense(dtype dtypes.DType, dims ...int64) Layout {
	blocks := make([]Block, 0, len(dims))
	stride := int64(1)
	for dim := len(dims) - 1; dim >= 0; dim-- {
		blocks = append(blocks, Block{Dim: dim, Size: dims[dim], Stride: stride})
		stride *= dims[dim]
	}
	return New(dtype, len(dims), 0, blocks)
}

// DType of the elements.
func (l Layout) DType() dtypes.DType { return l.dtype }

// NDims returns the number of dimensions of the tensor.
func (l Layout) NDims() int { return l.ndims }

// Offset of the first element, in units of DType.
func (l Layout) Offset() int64 { return l.offset }

// Blocks returns a copy of the blocks, innermost first.
func (l Layout) Blocks() []Block { return slices.Clone(l.blocks) }

// NumBlocks returns the number of blocks.
func (l Layout) NumBlocks() int { return len(l.blocks) }

// Dim returns the size of the tensor along dimension dim.
func (l Layout) Dim(dim int) int64 {
	size := int64(1)
	for _, b := range l.blocks {
		if b.Dim == dim {
			size *= b.Size
		}
	}
	return size
}

// Dims returns the size of every dimension of the tensor.
func (l Layout) Dims() Tile {
	dims := make(Tile, l.ndims)
	for ii := range dims {
		dims[ii] = 1
	}
	for _, b := range l.blocks {
		dims[b.Dim] *= b.Size
	}
	return dims
}

// Elems returns the number of elements of the tensor.
func (l Layout) Elems() int64 {
	elems := int64(1)
	for _, b := range l.blocks {
		elems *= b.Size
	}
	return elems
}

// Size returns the number of bytes spanned by the layout, from the start of the buffer (so including the offset)
// to the last element.
func (l Layout) Size() int64 {
	maxOff := l.offset
	for _, b := range l.blocks {
		maxOff += (b.Size - 1) * b.Stride
	}
	return xmath.DivUp((maxOff+1)*int64(l.dtype.Bits()), 8)
}

// IsDense returns whether the elements are contiguous, with no gaps and the innermost stride equal to 1.
// The offset is ignored.
func (l Layout) IsDense() bool {
	stride := int64(1)
	for _, b := range l.blocks {
		if b.Stride != stride {
			return false
		}
		stride *= b.Size
	}
	return true
}

// Retype returns the same layout with a different dtype, without changing any of the strides.
func (l Layout) Retype(dtype dtypes.DType) Layout {
	l.blocks = slices.Clone(l.blocks)
	l.dtype = dtype
	return l
}

// WithOffset returns the same layout with a new offset (in elements).
func (l Layout) WithOffset(offset int64) Layout {
	l.blocks = slices.Clone(l.blocks)
	l.offset = offset
	return l
}

// Map returns the layout of the sub-tensor of shape tile located at the origin.
//
// It panics if the tile cannot be described by the blocks, e.g. a tile of 3 over a block of 4.
func (l Layout) Map(tile Tile) Layout {
	if len(tile) != l.ndims {
		exceptions.Panicf("Layout.Map(%v): tile rank doesn't match layout rank %d", tile, l.ndims)
	}
	rem := slices.Clone(tile)
	blocks := make([]Block, 0, len(l.blocks))
	for _, b := range l.blocks {
		r := rem[b.Dim]
		switch {
		case r == 1:
			continue
		case r >= b.Size:
			if r%b.Size != 0 {
				exceptions.Panicf("Layout.Map(%v): tile is not compatible with %s", tile, l)
			}
			blocks = append(blocks, b)
			rem[b.Dim] = r / b.Size
		default:
			if b.Size%r != 0 {
				exceptions.Panicf("Layout.Map(%v): tile is not compatible with %s", tile, l)
			}
			blocks = append(blocks, Block{Dim: b.Dim, Size: r, Stride: b.Stride})
			rem[b.Dim] = 1
		}
	}
	for dim, r := range rem {
		if r != 1 {
			exceptions.Panicf("Layout.Map(%v): tile larger than the tensor in dimension %d for %s", tile, dim, l)
		}
	}
	return New(l.dtype, l.ndims, l.offset, blocks)
}

// TryReinterpret returns the layout viewed as elements of dtype, where dtype may have a different bit width.
//
// Going to a wider type requires the innermost block to have stride 1 and a size divisible by the ratio of
// the widths, and every other stride and the offset to be divisible by it. Going to a narrower type always
// succeeds: each element becomes several contiguous narrow elements of the innermost dimension.
func (l Layout) TryReinterpret(dtype dtypes.DType) (Layout, bool) {
	oldBits, newBits := l.dtype.Bits(), dtype.Bits()
	switch {
	case oldBits == newBits:
		return l.Retype(dtype), true

	case newBits > oldBits:
		if newBits%oldBits != 0 || len(l.blocks) == 0 {
			return Layout{}, false
		}
		f := int64(newBits / oldBits)
		blocks := slices.Clone(l.blocks)
		if blocks[0].Stride != 1 || blocks[0].Size%f != 0 || l.offset%f != 0 {
			return Layout{}, false
		}
		blocks[0].Size /= f
		for ii := 1; ii < len(blocks); ii++ {
			if blocks[ii].Stride%f != 0 {
				return Layout{}, false
			}
			blocks[ii].Stride /= f
		}
		return New(dtype, l.ndims, l.offset/f, blocks), true

	default:
		if oldBits%newBits != 0 {
			return Layout{}, false
		}
		f := int64(oldBits / newBits)
		blocks := slices.Clone(l.blocks)
		for ii := range blocks {
			blocks[ii].Stride *= f
		}
		if len(blocks) > 0 && blocks[0].Stride == f {
			blocks[0].Size *= f
			blocks[0].Stride = 1
		} else {
			innerDim := l.ndims - 1
			if len(blocks) > 0 {
				innerDim = blocks[0].Dim
			}
			blocks = append([]Block{{Dim: innerDim, Size: f, Stride: 1}}, blocks...)
		}
		return New(dtype, l.ndims, l.offset*f, blocks), true
	}
}

// Reinterpret is like TryReinterpret, but panics if the layout can't be reinterpreted.
func (l Layout) Reinterpret(dtype dtypes.DType) Layout {
	res, ok := l.TryReinterpret(dtype)
	if !ok {
		exceptions.Panicf("Layout.Reinterpret(%s): not possible for %s", dtype, l)
	}
	return res
}

// OffsetOf returns the offset (in elements, including the layout offset) of the element at the given coordinates.
func (l Layout) OffsetOf(coord []int64) int64 {
	if len(coord) != l.ndims {
		exceptions.Panicf("Layout.OffsetOf(%v): rank doesn't match layout rank %d", coord, l.ndims)
	}
	rem := slices.Clone(coord)
	off := l.offset
	for _, b := range l.blocks {
		off += (rem[b.Dim] % b.Size) * b.Stride
		rem[b.Dim] /= b.Size
	}
	return off
}

// ForEachTile calls fn with the starting coordinates of each tile that covers the tensor, in row-major order
// (the last dimension varies fastest).
//
// The coordinates slice is reused between calls: fn must copy it if it needs to keep it.
func (l Layout) ForEachTile(tile Tile, fn func(start []int64)) {
	dims := l.Dims()
	if len(tile) != len(dims) {
		exceptions.Panicf("Layout.ForEachTile(%v): rank doesn't match layout rank %d", tile, l.ndims)
	}
	counts := make([]int64, len(dims))
	for ii := range dims {
		if tile[ii] <= 0 || dims[ii]%tile[ii] != 0 {
			exceptions.Panicf("Layout.ForEachTile(%v): tile doesn't divide dimensions %v", tile, dims)
		}
		counts[ii] = dims[ii] / tile[ii]
	}
	idx := make([]int64, len(dims))
	start := make([]int64, len(dims))
	for {
		for ii := range idx {
			start[ii] = idx[ii] * tile[ii]
		}
		fn(start)
		ii := len(idx) - 1
		for ; ii >= 0; ii-- {
			idx[ii]++
			if idx[ii] < counts[ii] {
				break
			}
			idx[ii] = 0
		}
		if ii < 0 {
			return
		}
	}
}

// IsStrictlyEqual returns whether both layouts have the same dtype, rank and blocks. The offset is only
// compared if compareOffset is true.
func (l Layout) IsStrictlyEqual(other Layout, compareOffset bool) bool {
	if l.dtype != other.dtype || l.ndims != other.ndims {
		return false
	}
	if compareOffset && l.offset != other.offset {
		return false
	}
	return slices.Equal(l.blocks, other.blocks)
}

// CollapseTo2D returns the 2D layout with dimension aDim as dimension 0 and bDim as dimension 1.
// All other dimensions must be of size 1.
func (l Layout) CollapseTo2D(aDim, bDim int) Layout {
	blocks := make([]Block, 0, len(l.blocks))
	for _, b := range l.blocks {
		switch b.Dim {
		case aDim:
			b.Dim = 0
		case bDim:
			b.Dim = 1
		default:
			exceptions.Panicf("Layout.CollapseTo2D(%d, %d): dimension %d is not of size 1 in %s", aDim, bDim, b.Dim, l)
		}
		blocks = append(blocks, b)
	}
	return New(l.dtype, 2, l.offset, blocks)
}

// String implements fmt.Stringer. E.g.: "f:2D+0[1:8x1,0:4x8]".
func (l Layout) String() string {
	parts := make([]string, len(l.blocks))
	for ii, b := range l.blocks {
		parts[ii] = b.String()
	}
	return fmt.Sprintf("%s:%dD+%d[%s]", l.dtype.ShortName(), l.ndims, l.offset, strings.Join(parts, ","))
}
