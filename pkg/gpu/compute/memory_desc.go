// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compute

import (
	"cmp"
	"slices"
)

// MemoryDesc is a blocked memory descriptor: each dimension has an outer stride, and some dimensions may
// additionally be split in inner blocks, stored innermost.
//
// E.g. the "nChw16c" format of a 4D tensor has InnerBlocks=[16] and InnerIdxs=[1].
type MemoryDesc struct {
	// Strides of the outer part of each dimension, in elements.
	Strides []int64

	// InnerBlocks are the sizes of the inner blocks, outermost first, and InnerIdxs the dimension of each.
	InnerBlocks []int64
	InnerIdxs   []int
}

// NDims returns the number of dimensions of the tensor.
func (md *MemoryDesc) NDims() int {
	return len(md.Strides)
}

// NestingLevels returns, for each dimension, its nesting level: NDims()-1 for the dimension with the smallest
// stride (the innermost), down to 0 for the outermost one.
//
// A dimension with an inner block is ordered by the stride of its innermost block.
func (md *MemoryDesc) NestingLevels() []int {
	ndims := md.NDims()
	type dimStride struct {
		dim    int
		stride int64
	}
	sorted := make([]dimStride, ndims)
	for dim := range ndims {
		sorted[dim] = dimStride{dim, md.Strides[dim]}
		for jj, idx := range md.InnerIdxs {
			if idx != dim {
				continue
			}
			stride := int64(1)
			for kk := len(md.InnerBlocks) - 1; kk > jj; kk-- {
				stride *= md.InnerBlocks[kk]
			}
			sorted[dim].stride = stride
			break
		}
	}
	slices.SortStableFunc(sorted, func(a, b dimStride) int {
		return cmp.Compare(a.stride, b.stride)
	})
	levels := make([]int, ndims)
	for ii, ds := range sorted {
		levels[ds.dim] = ndims - ii - 1
	}
	return levels
}
