// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compute

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
)

// MaxRangeDims is the maximum number of axes of a work size: GPUs dispatch at most 3D ranges.
const MaxRangeDims = 3

// Range is a work size with up to 3 axes. A nil (or empty) Range means "not set".
type Range []int64

// One returns a Range with ndims axes set to 1.
func One(ndims int) Range {
	checkRangeDims(ndims)
	r := make(Range, ndims)
	for ii := range r {
		r[ii] = 1
	}
	return r
}

// Empty returns a Range with ndims axes set to 0.
func Empty(ndims int) Range {
	checkRangeDims(ndims)
	return make(Range, ndims)
}

func checkRangeDims(ndims int) {
	if ndims < 0 || ndims > MaxRangeDims {
		exceptions.Panicf("compute.Range supports at most %d axes, got %d", MaxRangeDims, ndims)
	}
}

// NDims returns the number of axes.
func (r Range) NDims() int { return len(r) }

// IsSet returns whether the range has at least one axis.
func (r Range) IsSet() bool { return len(r) > 0 }

// NElems returns the product of all axes, or 0 if the range is not set.
func (r Range) NElems() int64 {
	if len(r) == 0 {
		return 0
	}
	n := int64(1)
	for _, v := range r {
		n *= v
	}
	return n
}

// Clone returns a copy of the range.
func (r Range) Clone() Range {
	if r == nil {
		return nil
	}
	return append(Range(nil), r...)
}

// String implements fmt.Stringer. E.g.: "[16, 1, 1]".
func (r Range) String() string {
	if len(r) == 0 {
		return "[]"
	}
	parts := make([]string, len(r))
	for ii, v := range r {
		parts[ii] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// NDRange is a global work size and the matching local work size (work-group size).
//
// Once produced by Dispatch.Generate, Global[i] is a multiple of Local[i] on every axis (uniform work-groups).
type NDRange struct {
	Global, Local Range
}

// NDims returns the number of axes of the global range.
func (r NDRange) NDims() int { return len(r.Global) }

// String implements fmt.Stringer.
func (r NDRange) String() string {
	return fmt.Sprintf("gws=%s lws=%s", r.Global, r.Local)
}
