// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compute

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevice(t *testing.T, config string) *hw.Info {
	dev, err := hw.NewWithConfig(config)
	require.NoError(t, err)
	return dev
}

func dimNames(dims []Dim) []string {
	names := make([]string, len(dims))
	for ii, dim := range dims {
		names[ii] = dim.Name
	}
	return names
}

func TestFlexibleBlocks(t *testing.T) {
	dev := newDevice(t, "xehpc:eus=14,threads=8")
	require.Equal(t, 112, dev.HWThreads())
	d := New(dev, nil)
	require.NoError(t, d.DefineDimWithBlock("oc", 64, 0))
	require.NoError(t, d.DefineDimWithBlock("mb", 16, 0))
	d.Generate(true)

	r := d.NDRange()
	assert.Equal(t, Range{16, 1, 1}, r.Global)
	assert.Equal(t, Range{1, 1, 1}, r.Local)
	dims := d.Dims()
	require.Len(t, dims, 2)
	assert.Equal(t, int64(8), dims[0].Block)
	assert.Equal(t, int64(8), dims[1].Block)
	assert.Equal(t, int64(1024), r.Global.NElems()*dims[0].Block*dims[1].Block)
	assert.Equal(t, int64(1), d.GWSStride(0))
	assert.Equal(t, int64(8), d.GWSStride(1))
}

func TestKernelMacros(t *testing.T) {
	dev := newDevice(t, "xehpc:eus=14,threads=8")
	d := New(dev, nil)
	require.NoError(t, d.DefineDimWithBlock("oc", 64, 0))
	require.NoError(t, d.DefineDimWithBlock("mb", 16, 0))
	require.Panics(t, func() { d.DefKernelMacros(NewKernelCtx()) })
	d.Generate(true)

	ctx := NewKernelCtx()
	d.DefKernelMacros(ctx)
	checkInt := func(name string, want int64) {
		v, found := ctx.Int(name)
		require.Truef(t, found, "macro %s not defined", name)
		assert.Equalf(t, want, v, "macro %s", name)
	}
	checkOption := func(name, want string) {
		v, found := ctx.Option(name)
		require.Truef(t, found, "option %s not defined", name)
		assert.Equalf(t, want, v, "option %s", name)
	}
	checkInt("GWS0_DEF", 1)
	checkInt("GWS0_IDX0", 0)
	checkInt("GWS0_IDX1", 0)
	checkInt("GWS0_STRIDE0", 1)
	checkInt("GWS0_STRIDE1", 8)
	checkInt("GWS0_DIM0", 64)
	checkInt("GWS0_BLOCK1", 8)
	checkInt("GWS0_VEC_SIZE0", 1)
	checkInt("GWS_WITH_SG_DEFAULT", 0)
	checkInt("GWS_LWS0_DEFAULT", 1)
	checkInt("GWS_LWS2_DEFAULT", 1)
	checkOption("GWS_GET_oc", "GWS0_GET_ID0")
	checkOption("GWS_GET_mb_BLOCK", "GWS0_GET_BLOCK1")
	checkOption("GWS0_OP0", "GWS_OP_MOD")
	checkOption("GWS0_OP1", "GWS_OP_FIRST")
	checkOption("GWS0_OVERFLOW", "false")
	checkOption("GWS2_OVERFLOW", "false")
	_, found := ctx.Int("GWS_SGS_DEFAULT")
	assert.False(t, found)

	// A second dispatch in the same context uses the next prefix.
	d.SetKernelAttrSuffix("SECOND")
	d.DefKernelMacros(ctx)
	checkInt("GWS1_DEF", 1)
	checkInt("GWS_WITH_SG_SECOND", 0)
	assert.Contains(t, ctx.CompilerOptions(), "-DGWS1_STRIDE1=8")
}

func TestVectorizedDim(t *testing.T) {
	dev := newDevice(t, "xehpg")
	d := New(dev, nil)
	require.NoError(t, d.DefineDim("n", 32))
	require.NoError(t, d.DefineDimWithNestingLevel("c", 1, 64, 1))
	require.NoError(t, d.VectorizeDim("c", 16))
	d.Generate(true)

	dims := d.Dims()
	assert.Equal(t, []string{"c", "n"}, dimNames(dims))
	assert.Equal(t, 0, dims[0].GWSIndex)
	assert.Equal(t, 1, dims[1].GWSIndex)
	r := d.NDRange()
	assert.Equal(t, Range{64, 32, 1}, r.Global)
	assert.Equal(t, Range{64, 1, 1}, r.Local)

	ctx := NewKernelCtx()
	d.DefKernelMacros(ctx)
	v, _ := ctx.Int("GWS_WITH_SG_DEFAULT")
	assert.Equal(t, int64(1), v)
	v, _ = ctx.Int("GWS_SGS_DEFAULT")
	assert.Equal(t, int64(16), v)
	v, _ = ctx.Int("GWS_LWS0_DEFAULT")
	assert.Equal(t, int64(64), v)
	opt, _ := ctx.Option("GWS0_OP0")
	assert.Equal(t, "GWS_OP_FIRST", opt)
}

func TestVectorizedFlexibleBlock(t *testing.T) {
	// 32*14 work items on 112 threads allow blocks of up to 4, but a block of 4 would leave 8 work items
	// on the vectorized axis, less than a sub-group.
	dev := newDevice(t, "xehpc:eus=14,threads=8")
	d := New(dev, nil)
	require.NoError(t, d.DefineDimWithBlock("n", 14, 1))
	require.NoError(t, d.DefineDimWithNestingLevel("c", 1, 32, 0))
	require.NoError(t, d.VectorizeDim("c", 16))
	d.Generate(true)

	dims := d.Dims()
	require.Equal(t, []string{"c", "n"}, dimNames(dims))
	assert.Equal(t, int64(2), dims[0].Block)
	r := d.NDRange()
	assert.Equal(t, int64(16), r.Global[0])
	assert.Zero(t, r.Global[0]%r.Local[0])
	assert.Zero(t, dims[0].Size%(int64(dims[0].VectorSize)*dims[0].Block))
}

func TestVectorizeDimErrors(t *testing.T) {
	d := New(newDevice(t, "xehpc"), nil)
	require.NoError(t, d.DefineDim("c", 24))
	require.NoError(t, d.DefineDimWithBlock("w", 64, 2))

	err := d.VectorizeDim("c", 8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnimplemented))

	err = d.VectorizeDim("c", 16)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArguments))

	err = d.VectorizeDim("missing", 16)
	assert.True(t, errors.Is(err, ErrInvalidArguments))

	// The block counts: 64 % (16*2) == 0 but 48 % (32*2) != 0.
	require.NoError(t, d.VectorizeDim("w", 16))
	d2 := New(newDevice(t, "xehpc"), nil)
	require.NoError(t, d2.DefineDimWithBlock("w", 48, 2))
	assert.True(t, errors.Is(d2.VectorizeDim("w", 32), ErrInvalidArguments))

	err = d.DefineDim("c", 8)
	assert.True(t, errors.Is(err, ErrInvalidArguments))
}

func TestDimOrdering(t *testing.T) {
	d := New(newDevice(t, "xelp"), nil)
	for _, def := range []struct {
		name string
		size int64
	}{{"a", 1}, {"b", 8}, {"c", 1}, {"d", 4}} {
		require.NoError(t, d.DefineDim(def.name, def.size))
	}
	d.Generate(false)
	assert.Equal(t, []string{"b", "d", "a", "c"}, dimNames(d.Dims()))
	assert.Nil(t, d.NDRange().Local)

	// Without vectorization the first 4 dimensions share axis 0.
	d = New(newDevice(t, "xelp"), nil)
	for ii := range 6 {
		require.NoError(t, d.DefineDim(fmt.Sprintf("d%d", ii), 2))
	}
	d.Generate(true)
	var axes []int
	for _, dim := range d.Dims() {
		axes = append(axes, dim.GWSIndex)
	}
	assert.Equal(t, []int{0, 0, 0, 0, 1, 2}, axes)
	assert.Equal(t, Range{16, 2, 2}, d.NDRange().Global)
}

func TestMDHint(t *testing.T) {
	// nChw16c: the inner block of channels is the fastest varying.
	md := &MemoryDesc{
		Strides:     []int64{64 * 4 * 4, 16 * 4 * 4, 4 * 16, 16},
		InnerBlocks: []int64{16},
		InnerIdxs:   []int{1},
	}
	assert.Equal(t, []int{0, 3, 1, 2}, md.NestingLevels())

	d := New(newDevice(t, "xehpg"), md)
	for ii, name := range []string{"mb", "c", "h", "w"} {
		require.NoError(t, d.DefineDimWithMDHint(name, ii, 4, 1))
	}
	assert.True(t, errors.Is(d.DefineDimWithMDHint("x", 4, 1, 1), ErrInvalidArguments))
	d.Generate(true)
	assert.Equal(t, []string{"c", "w", "h", "mb"}, dimNames(d.Dims()))
}

func TestGetOptimalLWS(t *testing.T) {
	testCases := []struct {
		name         string
		gws, wantGWS Range
		vecAxis      int
		gen          hw.Gen
		wantLWS      Range
	}{
		{"pow2", Range{1024, 1, 1}, Range{1024, 1, 1}, NoVecAxis, hw.XeHPG, Range{256, 1, 1}},
		{"multi-axis", Range{1000, 3, 1}, Range{1000, 3, 1}, NoVecAxis, hw.XeHPG, Range{8, 3, 1}},
		{"prime", Range{257, 1, 1}, Range{257, 1, 1}, NoVecAxis, hw.XeHPG, Range{1, 1, 1}},
		{"vector-axis", Range{96, 4, 1}, Range{96, 4, 1}, 0, hw.XeHPC, Range{32, 4, 1}},
		{"vector-axis-legacy", Range{96, 4, 1}, Range{96, 4, 1}, 0, hw.XeLP, Range{96, 2, 1}},
		// 2^32+1 = 641 x 6700417: no candidate divides it, but it needs work-groups of at least 2.
		{"32bits-limit", Range{maxUint32 + 2, 1, 1}, Range{maxUint32 + 3, 1, 1}, NoVecAxis, hw.XeHPG, Range{2, 1, 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gws := tc.gws.Clone()
			lws := GetOptimalLWS(gws, tc.vecAxis, tc.gen)
			assert.Equal(t, tc.wantLWS, lws)
			assert.Equal(t, tc.wantGWS, gws)
		})
	}
}

func TestOverflowGuard(t *testing.T) {
	d := New(newDevice(t, "xehpg"), nil)
	require.NoError(t, d.DefineDim("x", maxUint32+2))
	d.Generate(true)
	r := d.NDRange()
	assert.Equal(t, Range{maxUint32 + 3, 1, 1}, r.Global)
	ctx := NewKernelCtx()
	d.DefKernelMacros(ctx)
	opt, found := ctx.Option("GWS0_OVERFLOW")
	require.True(t, found)
	assert.Equal(t, "\"(get_global_id(0) >= 4294967297ul)\"", opt)
	opt, _ = ctx.Option("GWS1_OVERFLOW")
	assert.Equal(t, "false", opt)
}

func TestUniformWorkGroups(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	sizes := []int64{1, 2, 3, 5, 7, 8, 12, 16, 17, 31, 32, 64, 96, 100, 127, 256, 1000, 4096}
	for _, config := range []string{"gen9", "xelp", "xehpg", "xehpc", "xe2:eus=2,threads=1"} {
		dev := newDevice(t, config)
		for iter := range 200 {
			d := New(dev, nil)
			ndims := 1 + rng.IntN(5)
			vecDim := -1
			if rng.IntN(3) == 0 {
				vecDim = rng.IntN(ndims)
			}
			for ii := range ndims {
				size := sizes[rng.IntN(len(sizes))]
				block := int64(rng.IntN(3)) // 0 (flexible), 1 or 2.
				if ii == vecDim {
					size = 16 * max(block, 1) * (1 + int64(rng.IntN(8)))
				}
				require.NoError(t, d.DefineDimWithNestingLevel(fmt.Sprintf("d%d", ii), rng.IntN(3), size, block))
				if ii == vecDim {
					require.NoError(t, d.VectorizeDim(fmt.Sprintf("d%d", ii), 16))
				}
			}
			d.Generate(true)
			r := d.NDRange()
			require.Equal(t, 3, r.Global.NDims())
			require.Equal(t, 3, r.Local.NDims())
			covered := int64(1)
			for _, dim := range d.Dims() {
				covered *= dim.Size
			}
			blocks := int64(1)
			for _, dim := range d.Dims() {
				require.Greater(t, dim.Block, int64(0))
				blocks *= dim.Block
			}
			for axis := range 3 {
				require.Zerof(t, r.Global[axis]%r.Local[axis], "%s iter %d: %s\n%s", config, iter, r, d)
			}
			require.GreaterOrEqualf(t, r.Global.NElems()*blocks, covered, "%s iter %d: %s\n%s", config, iter, r, d)
		}
	}
}

func TestOverrideAndSetLWS(t *testing.T) {
	d := New(newDevice(t, "xelp"), nil)
	require.Panics(t, func() { d.SetLWS(Range{1, 1, 1}) })
	for _, name := range []string{"a", "b", "c", "e"} {
		require.NoError(t, d.DefineDim(name, 8))
	}
	d.GenerateOverride(Range{8, 8, 64}, Range{8, 1, 1})
	dims := d.Dims()
	assert.Equal(t, []int{-1, 2, 1, 0}, []int{dims[0].GWSIndex, dims[1].GWSIndex, dims[2].GWSIndex, dims[3].GWSIndex})
	d.SetLWS(Range{4, 2, 1})
	assert.Equal(t, NDRange{Global: Range{8, 8, 64}, Local: Range{4, 2, 1}}, d.NDRange())
	d.DefKernelMacros(NewKernelCtx())
}
