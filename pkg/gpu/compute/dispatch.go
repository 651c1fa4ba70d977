// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compute maps the logical N-dimensional iteration space of a kernel onto the global and local work
// sizes of a GPU dispatch.
//
// The client defines one named dimension per logical loop (see Dispatch.DefineDim and friends), optionally
// vectorizes one of them across a sub-group, and calls Dispatch.Generate. The result is a 3-axis NDRange
// plus, for each dimension, the axis it is packed into, its stride within the axis and its block size. Kernels
// recover their logical indices through the macros emitted by Dispatch.DefKernelMacros.
package compute

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrUnimplemented is returned (wrapped) when the device doesn't support the requested configuration,
	// e.g. a sub-group size. Callers usually fall back to another kernel variant.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrInvalidArguments is returned (wrapped) for inconsistent requests, e.g. duplicate dimension names.
	ErrInvalidArguments = errors.New("invalid arguments")
)

const (
	// MinNestingLevel is the nesting level of dimensions defined without one: they are packed last.
	MinNestingLevel = -1

	// MaxDims is the maximum number of dimensions of a Dispatch.
	MaxDims = 12

	// DefaultAttrSuffix is the default suffix of the work-group attribute macros.
	DefaultAttrSuffix = "DEFAULT"
)

// DeviceInfo is what the dispatcher needs to know about the device. It is implemented by *hw.Info.
type DeviceInfo interface {
	HWThreads() int
	MayUseSubGroup(size int) bool
	Generation() hw.Gen
}

var _ DeviceInfo = (*hw.Info)(nil)

// Dim describes one logical dimension of the iteration space.
type Dim struct {
	Name string
	Size int64

	// Block is the number of consecutive indices handled by one work item. 0 means "flexible": it is chosen
	// by Generate.
	Block int64

	// NestingLevel orders the dimensions: higher levels are packed first (in the fastest varying axis).
	NestingLevel int

	// VectorSize is the sub-group width if the dimension is vectorized, 1 otherwise.
	VectorSize int

	// GWSIndex is the axis of the global work size the dimension is packed into, -1 before Generate.
	GWSIndex int
}

// Dispatch computes the work sizes for a kernel. See package documentation.
//
// It is not safe for concurrent use.
type Dispatch struct {
	dev             DeviceInfo
	mdNestingLevels []int
	dims            []Dim
	ndRange         NDRange
	generated       bool
	attrSuffix      string
}

// New creates a Dispatch for the device. The optional memory descriptor md (it can be nil) is used by
// DefineDimWithMDHint to derive nesting levels from the physical order of the tensor dimensions.
func New(dev DeviceInfo, md *MemoryDesc) *Dispatch {
	d := &Dispatch{dev: dev, attrSuffix: DefaultAttrSuffix}
	if md != nil {
		d.mdNestingLevels = md.NestingLevels()
	}
	return d
}

// DefineDim defines a dimension with block 1 and the minimum nesting level.
func (d *Dispatch) DefineDim(name string, size int64) error {
	return d.DefineDimWithNestingLevel(name, MinNestingLevel, size, 1)
}

// DefineDimWithBlock defines a dimension with the given block (0 for flexible) and the minimum nesting level.
func (d *Dispatch) DefineDimWithBlock(name string, size, block int64) error {
	return d.DefineDimWithNestingLevel(name, MinNestingLevel, size, block)
}

// DefineDimWithNestingLevel defines a dimension. Names must be unique.
func (d *Dispatch) DefineDimWithNestingLevel(name string, nestingLevel int, size, block int64) error {
	if d.generated {
		exceptions.Panicf("Dispatch.DefineDim(%q) called after Generate", name)
	}
	if slices.ContainsFunc(d.dims, func(dim Dim) bool { return dim.Name == name }) {
		return errors.Wrapf(ErrInvalidArguments, "dimension name %q is not unique", name)
	}
	if len(d.dims) >= MaxDims {
		return errors.Wrapf(ErrInvalidArguments, "too many dimensions, at most %d are supported", MaxDims)
	}
	if size < 0 || block < 0 {
		return errors.Wrapf(ErrInvalidArguments, "dimension %q has invalid size=%d or block=%d", name, size, block)
	}
	d.dims = append(d.dims, Dim{
		Name:         name,
		Size:         size,
		Block:        block,
		NestingLevel: nestingLevel,
		VectorSize:   1,
		GWSIndex:     -1,
	})
	return nil
}

// DefineDimWithMDHint defines a dimension whose nesting level is derived from dimension mdIdx of the memory
// descriptor given to New. Without a memory descriptor the minimum nesting level is used.
func (d *Dispatch) DefineDimWithMDHint(name string, mdIdx int, size, block int64) error {
	level := MinNestingLevel
	if len(d.mdNestingLevels) > 0 {
		if mdIdx < 0 || mdIdx >= len(d.mdNestingLevels) {
			return errors.Wrapf(ErrInvalidArguments, "dimension %q: memory descriptor index %d out of range [0, %d)",
				name, mdIdx, len(d.mdNestingLevels))
		}
		level = d.mdNestingLevels[mdIdx]
	}
	return d.DefineDimWithNestingLevel(name, level, size, block)
}

// VectorizeDim marks the dimension as vectorized across a sub-group of vectorSize work items.
//
// It returns ErrUnimplemented if the device doesn't support the sub-group size, and ErrInvalidArguments if
// the dimension doesn't exist or its size is not divisible by vectorSize*block.
func (d *Dispatch) VectorizeDim(name string, vectorSize int) error {
	if !d.dev.MayUseSubGroup(vectorSize) {
		return errors.Wrapf(ErrUnimplemented, "sub-group size %d not supported by the device", vectorSize)
	}
	if vectorSize <= 1 {
		return errors.Wrapf(ErrInvalidArguments, "vector size must be > 1, got %d", vectorSize)
	}
	for ii := range d.dims {
		dim := &d.dims[ii]
		if dim.Name != name {
			continue
		}
		if dim.Size%(int64(vectorSize)*max(dim.Block, 1)) != 0 {
			return errors.Wrapf(ErrInvalidArguments, "dimension %q of size %d not divisible by vector size %d x block %d",
				name, dim.Size, vectorSize, max(dim.Block, 1))
		}
		dim.VectorSize = vectorSize
		return nil
	}
	return errors.Wrapf(ErrInvalidArguments, "dimension %q not defined", name)
}

// findVectorizedDim returns the index of the vectorized dimension or -1.
func (d *Dispatch) findVectorizedDim() int {
	idx := -1
	for ii, dim := range d.dims {
		if dim.VectorSize > 1 {
			if idx != -1 {
				exceptions.Panicf("Dispatch: more than one vectorized dimension (%q and %q)", d.dims[idx].Name, dim.Name)
			}
			idx = ii
		}
	}
	return idx
}

// Generate orders the dimensions, packs them into the 3 global axes, chooses the flexible blocks and, if
// generateLWS is true, the local work size.
func (d *Dispatch) Generate(generateLWS bool) {
	// Stable: dimensions with the same nesting level keep their definition order.
	slices.SortStableFunc(d.dims, func(a, b Dim) int {
		return b.NestingLevel - a.NestingLevel
	})

	// Push dimensions of size 1 toward the end.
	n := len(d.dims)
	for ii := n - 2; ii >= 0; ii-- {
		if d.dims[ii].Size != 1 {
			continue
		}
		for jj := ii; jj < n-1; jj++ {
			if d.dims[jj+1].Size == 1 {
				break
			}
			d.dims[jj], d.dims[jj+1] = d.dims[jj+1], d.dims[jj]
		}
	}

	vecIdx := d.findVectorizedDim()
	for ii := range d.dims {
		if vecIdx == -1 {
			// Up to 4 dimensions in axis 0, for a bigger choice of work-group sizes.
			d.dims[ii].GWSIndex = min(2, max(0, ii-3))
		} else {
			d.dims[ii].GWSIndex = min(2, ii)
		}
	}

	gws := One(MaxRangeDims)
	for ii := n - 1; ii >= 0; ii-- {
		dim := &d.dims[ii]
		gws[dim.GWSIndex] *= xmath.DivUp(dim.Size, max(dim.Block, 1))
	}
	gwsSize := gws.NElems()
	hwThreads := int64(d.dev.HWThreads())

	// Flexible blocks: block as much as possible while keeping at least hwThreads work items. The limit is
	// computed once, for all flexible dimensions.
	maxBlock := max(1, gwsSize/hwThreads)
	for ii := range d.dims {
		dim := &d.dims[ii]
		if dim.Block != 0 {
			continue
		}
		var block int64
		if dim.VectorSize > 1 {
			// Keeps Size divisible by VectorSize*Block, as VectorizeDim requires.
			block = xmath.MaxDiv(dim.Size/int64(dim.VectorSize), maxBlock)
		} else {
			block = xmath.MaxDiv(dim.Size, maxBlock)
		}
		gws[dim.GWSIndex] /= block
		gwsSize /= block
		dim.Block = block
	}

	var lws Range
	if generateLWS {
		vecAxis := NoVecAxis
		if vecIdx != -1 {
			vecAxis = d.dims[vecIdx].GWSIndex
			lws = d.vectorizedLWS(vecIdx, gws)
		}
		if lws == nil && gwsSize < hwThreads {
			lws = One(MaxRangeDims)
		}
		if lws == nil {
			lws = GetOptimalLWS(gws, vecAxis, d.dev.Generation())
		} else {
			// Each axis, in units of work-groups, must fit in 32 bits.
			for ii := range gws {
				if gws[ii] > lws[ii]*maxUint32 {
					lws[ii] *= xmath.DivUp(gws[ii], maxUint32)
					gws[ii] = xmath.RndUp(gws[ii], lws[ii])
				}
			}
		}
	}

	d.ndRange = NDRange{Global: gws, Local: lws}
	d.generated = true
	if klog.V(1).Enabled() {
		klog.Infof("Dispatch generated %s:\n%s", d.ndRange, d)
	}
}

// vectorizedLWS sizes the work-group along the axis of the vectorized dimension, and moves the vectorized
// dimension to the front of its axis group.
func (d *Dispatch) vectorizedLWS(vecIdx int, gws Range) Range {
	lws := One(MaxRangeDims)
	vecDim := d.dims[vecIdx]
	axis := vecDim.GWSIndex
	vecSize := int64(vecDim.VectorSize)
	nBlocks := vecDim.Size / vecDim.Block
	lws[axis] = xmath.MaxDiv(gws[axis]/vecSize, MaxWorkGroupSize/vecSize) * vecSize
	lws[axis] = xmath.MaxDiv(nBlocks/vecSize, lws[axis]/vecSize) * vecSize

	groupBegin := len(d.dims) - 1
	for ii, dim := range d.dims {
		if dim.GWSIndex == axis {
			groupBegin = min(groupBegin, ii)
		}
	}
	if vecIdx != groupBegin {
		copy(d.dims[groupBegin+1:vecIdx+1], d.dims[groupBegin:vecIdx])
		d.dims[groupBegin] = vecDim
	}
	return lws
}

// GenerateOverride sets the global and local ranges directly, bypassing Generate. The second, third and
// fourth dimensions (if defined) are assigned to axes 2, 1 and 0 respectively.
func (d *Dispatch) GenerateOverride(global, local Range) {
	for ii, axis := range []int{2, 1, 0} {
		if ii+1 < len(d.dims) {
			d.dims[ii+1].GWSIndex = axis
		}
	}
	d.ndRange = NDRange{Global: global.Clone(), Local: local.Clone()}
	d.generated = true
}

// SetLWS replaces the local range. It must be called after Generate.
func (d *Dispatch) SetLWS(local Range) {
	if !d.generated {
		exceptions.Panicf("Dispatch.SetLWS called before Generate")
	}
	d.ndRange.Local = local.Clone()
}

// SetKernelAttrSuffix sets the suffix of the sub-group and work-group size macros, to distinguish several
// kernels compiled together. Default is DefaultAttrSuffix.
func (d *Dispatch) SetKernelAttrSuffix(suffix string) {
	d.attrSuffix = suffix
}

// NDRange returns a copy of the generated global and local ranges.
func (d *Dispatch) NDRange() NDRange {
	return NDRange{Global: d.ndRange.Global.Clone(), Local: d.ndRange.Local.Clone()}
}

// Dims returns a copy of the dimensions, in their current (after Generate, packed) order.
func (d *Dispatch) Dims() []Dim {
	return slices.Clone(d.dims)
}

// GWSStride returns the stride of dimension idx within its global axis: the number of blocks of the
// dimensions packed before it in the same axis.
func (d *Dispatch) GWSStride(idx int) int64 {
	stride := int64(1)
	for ii := range idx {
		if d.dims[ii].GWSIndex == d.dims[idx].GWSIndex {
			stride *= xmath.DivUp(d.dims[ii].Size, max(d.dims[ii].Block, 1))
		}
	}
	return stride
}

// DefKernelMacros defines in ctx the macros kernels use to recover the logical indices of each dimension.
//
// A unique prefix "GWS<n>" (n in 0..3) is chosen, so up to 4 dispatches can share one kernel context.
// It must be called after Generate (or GenerateOverride).
func (d *Dispatch) DefKernelMacros(ctx KernelContext) {
	if !d.generated {
		exceptions.Panicf("Dispatch.DefKernelMacros called before Generate")
	}
	prefix := ""
	for ii := range 4 {
		if !ctx.HasMacro(fmt.Sprintf("GWS%d_DEF", ii)) {
			prefix = fmt.Sprintf("GWS%d", ii)
			break
		}
	}
	if prefix == "" {
		exceptions.Panicf("Dispatch.DefKernelMacros: no free GWS prefix left, at most 4 dispatches per kernel")
	}
	ctx.DefineInt(prefix+"_DEF", 1)

	for ii, dim := range d.dims {
		ctx.AddOption(fmt.Sprintf("-DGWS_GET_%s=%s_GET_ID%d", dim.Name, prefix, ii))
		ctx.AddOption(fmt.Sprintf("-DGWS_GET_%s_BLOCK=%s_GET_BLOCK%d", dim.Name, prefix, ii))
		stride := d.GWSStride(ii)
		ctx.DefineInt(fmt.Sprintf("%s_IDX%d", prefix, ii), int64(dim.GWSIndex))
		ctx.DefineInt(fmt.Sprintf("%s_STRIDE%d", prefix, ii), stride)

		isOutermost := ii == len(d.dims)-1 || d.dims[ii+1].GWSIndex != dim.GWSIndex
		var op string
		switch {
		case dim.Size <= 1 || stride == 0:
			op = "GWS_OP_ZERO"
		case isOutermost:
			op = "GWS_OP_FIRST"
		default:
			op = "GWS_OP_MOD"
		}
		ctx.AddOption(fmt.Sprintf("-D%s_OP%d=%s", prefix, ii, op))
		ctx.DefineInt(fmt.Sprintf("%s_DIM%d", prefix, ii), dim.Size)
		ctx.DefineInt(fmt.Sprintf("%s_VEC_SIZE%d", prefix, ii), int64(dim.VectorSize))
		ctx.DefineInt(fmt.Sprintf("%s_BLOCK%d", prefix, ii), dim.Block)
	}

	vecIdx := d.findVectorizedDim()
	withSG := int64(0)
	if vecIdx != -1 {
		withSG = 1
	}
	ctx.DefineInt("GWS_WITH_SG_"+d.attrSuffix, withSG)
	if vecIdx != -1 {
		ctx.DefineInt("GWS_SGS_"+d.attrSuffix, int64(d.dims[vecIdx].VectorSize))
	}
	if d.ndRange.Local.IsSet() {
		for ii := range d.ndRange.Global {
			ctx.DefineInt(fmt.Sprintf("GWS_LWS%d_%s", ii, d.attrSuffix), d.ndRange.Local[ii])
		}
	}

	// Overflow guards for work items beyond the logical iteration space (padding from rounding up).
	gwsActual := One(MaxRangeDims)
	for _, dim := range d.dims {
		if dim.GWSIndex >= 0 {
			gwsActual[dim.GWSIndex] *= xmath.DivUp(dim.Size, max(dim.Block, 1))
		}
	}
	gws := d.ndRange.Global
	for ii := range MaxRangeDims {
		if ii < gws.NDims() && gws[ii] > gwsActual[ii] {
			suffix := "u"
			if gwsActual[ii] > maxUint32 {
				suffix = "ul"
			}
			ctx.AddOption(fmt.Sprintf("-DGWS%d_OVERFLOW=\"(get_global_id(%d) >= %d%s)\"", ii, ii, gwsActual[ii], suffix))
		} else {
			ctx.AddOption(fmt.Sprintf("-DGWS%d_OVERFLOW=false", ii))
		}
	}
}

// String returns one line per dimension, in the current order.
func (d *Dispatch) String() string {
	var sb strings.Builder
	for ii, dim := range d.dims {
		_, _ = fmt.Fprintf(&sb, "    dim #%d name: %10s size: %6d block: %4d nesting_level: %4d vsize: %4d gws_idx: %d\n",
			ii, dim.Name, dim.Size, dim.Block, dim.NestingLevel, dim.VectorSize, dim.GWSIndex)
	}
	return sb.String()
}
