// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/core/layouts"
	"github.com/gomlx/gpujit/pkg/gpu/emulator"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bench generates into a program, and runs it on an emulated machine of the same device.
type bench struct {
	t     *testing.T
	info  *hw.Info
	m     *emulator.Machine
	prog  *isa.Program
	alloc *regalloc.Allocator
	scope *regalloc.Scope
}

func newBench(t *testing.T, config string) *bench {
	info, err := hw.NewWithConfig(config)
	require.NoError(t, err)
	alloc := regalloc.NewAllocator(info)
	return &bench{t: t, info: info, m: emulator.New(info), prog: isa.NewProgram(info), alloc: alloc,
		scope: regalloc.NewScope(alloc)}
}

// buffer allocates registers for elems elements of dtype.
func (b *bench) buffer(elems int, dtype dtypes.DType) isa.RegBufData {
	bytes := xmath.DivUp(elems*dtype.Bits(), 8)
	return b.scope.AllocRegBufData(xmath.DivUp(max(bytes, 1), b.info.GRFBytes), dtype)
}

// layoutBuffer allocates registers for the layout.
func (b *bench) layoutBuffer(l layouts.Layout) isa.RegBufData {
	return b.scope.AllocRegBufData(xmath.DivUp(int(l.Size()), b.info.GRFBytes), l.DType())
}

// convert1D emits and runs the 1D conversion of the values (raw bits of srcType), and returns the raw
// bits of the results.
func (b *bench) convert1D(srcType dtypes.DType, srcStride int, dstType dtypes.DType, dstStride int,
	values []uint64) []uint64 {
	n := len(values)
	src := b.buffer(n*srcStride, srcType)
	dst := b.buffer(n*dstStride, dstType)
	inUse := b.alloc.InUse()
	for ii, v := range values {
		b.m.SetElem(src, ii*srcStride, v)
	}
	Emit1D(b.prog, b.scope, n, src, srcStride, dst, dstStride)
	require.Equal(b.t, inUse, b.alloc.InUse(), "temporaries were not released")
	b.m.Run(b.prog)
	res := make([]uint64, n)
	for ii := range res {
		res[ii] = b.m.Elem(dst, ii*dstStride)
	}
	return res
}

// toBits converts the float64 values to the raw bits of dtype, rounding (and clamping integers).
func toBits(dtype dtypes.DType, values []float64) []uint64 {
	res := make([]uint64, len(values))
	for ii, x := range values {
		res[ii] = emulator.Convert(dtypes.Float64, dtype, math.Float64bits(x))
	}
	return res
}

// repeat cycles values up to n elements.
func repeat(values []float64, n int) []float64 {
	res := make([]float64, n)
	for ii := range res {
		res[ii] = values[ii%len(values)]
	}
	return res
}

// equalValues compares raw bits of dtype: floats by value (all NaNs are equal, and so are +0 and -0),
// integers by bits.
func equalValues(dtype dtypes.DType, a, b uint64) bool {
	if !dtype.IsFloat() {
		return a == b
	}
	x := emulatorFloat(dtype, a)
	y := emulatorFloat(dtype, b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.IsNaN(x) && math.IsNaN(y)
	}
	return x == y
}

func emulatorFloat(dtype dtypes.DType, bits uint64) float64 {
	return math.Float64frombits(emulator.Convert(dtype, dtypes.Float64, bits))
}

// convCase is a 1D conversion checked against the single mov reference.
type convCase struct {
	config   string
	src, dst dtypes.DType
	width    int
	values   []float64
}

func (c convCase) name() string {
	return fmt.Sprintf("%s/%s->%s", c.config, c.src.ShortName(), c.dst.ShortName())
}

func runConvCases(t *testing.T, cases []convCase) {
	for _, c := range cases {
		t.Run(c.name(), func(t *testing.T) {
			width := c.width
			if width == 0 {
				width = 16
			}
			b := newBench(t, c.config)
			in := toBits(c.src, repeat(c.values, width))
			got := b.convert1D(c.src, 1, c.dst, 1, in)
			for ii, v := range in {
				want := emulator.Convert(c.src, c.dst, v)
				assert.Truef(t, equalValues(c.dst, want, got[ii]),
					"element %d: %s 0x%x -> want 0x%x (%g), got 0x%x (%g)", ii, c.src, v,
					want, emulatorFloat(c.dst, want), got[ii], emulatorFloat(c.dst, got[ii]))
			}
		})
	}
}

func TestEmit1DIdentity(t *testing.T) {
	for _, config := range []string{"xelp", "xehpc"} {
		for _, dtype := range []dtypes.DType{dtypes.Int8, dtypes.Uint8, dtypes.Int16, dtypes.Float16,
			dtypes.BFloat16, dtypes.Int32, dtypes.Float32, dtypes.Float64} {
			t.Run(fmt.Sprintf("%s/%s", config, dtype.ShortName()), func(t *testing.T) {
				b := newBench(t, config)
				width := 24
				in := make([]uint64, width)
				mask := uint64(math.MaxUint64) >> (64 - dtype.Bits())
				for ii := range in {
					in[ii] = (uint64(ii)*0x9E3779B97F4A7C15 + 0x3C) & mask
				}
				got := b.convert1D(dtype, 1, dtype, 1, in)
				// Same type copies move the raw bits, NaN payloads included.
				assert.Equal(t, in, got)
			})
		}
	}
}

func TestEmit1DSaturation(t *testing.T) {
	ints := []float64{0, 1, -1, 7, -8, 100, -100, 127, -128, 128, 255, 256, 1000, -40000, 70000, 2e9, -2e9}
	runConvCases(t, []convCase{
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Int8, values: ints},
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Uint8, values: ints},
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Int8, width: 4, values: ints},
		{config: "xelp", src: dtypes.Int16, dst: dtypes.Uint8, values: ints},
		{config: "xelp", src: dtypes.Int16, dst: dtypes.Int8, values: ints},
		{config: "xelp", src: dtypes.Uint8, dst: dtypes.Int8, values: ints},
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Int16, values: ints},
		{config: "xelp", src: dtypes.Uint32, dst: dtypes.Int32, values: []float64{0, 1, 3e9, 4294967295}},
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Uint32, values: ints},
		{config: "xelp", src: dtypes.Int8, dst: dtypes.Uint16, values: ints},
		{config: "xehpc", src: dtypes.Int64, dst: dtypes.Int32, values: []float64{0, -1, 5e9, -5e9, 12345}},
	})
}

func TestEmit1DFloat(t *testing.T) {
	floats := []float64{0, 1, -1, 0.5, 1.00390625, 1.01171875, -3.3, 1e30, math.Inf(1), math.Inf(-1),
		math.NaN(), 65504, 1e-3}
	ints := []float64{0, 1, -1, 100, -100, 127.5, 1e20, -1e20, 3.75, -2.5}
	runConvCases(t, []convCase{
		{config: "xelp", src: dtypes.Float32, dst: dtypes.BFloat16, values: floats},
		{config: "xehpg", src: dtypes.Float32, dst: dtypes.BFloat16, values: floats},
		{config: "xelp", src: dtypes.BFloat16, dst: dtypes.Float32, values: floats},
		{config: "xelp", src: dtypes.Float32, dst: dtypes.Float16, values: floats},
		{config: "xehpc", src: dtypes.Float32, dst: dtypes.Float16, values: floats},
		{config: "xelp", src: dtypes.Float16, dst: dtypes.Float32, values: floats},
		{config: "xehpc", src: dtypes.Float16, dst: dtypes.Float32, values: floats},
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Float32, values: ints},
		{config: "xelp", src: dtypes.Float32, dst: dtypes.Int32, values: ints},
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Float16, values: ints},
		{config: "xelp", src: dtypes.Int8, dst: dtypes.Float16, values: ints},
		{config: "xelp", src: dtypes.Float16, dst: dtypes.Int8, values: ints},
		{config: "xelp", src: dtypes.Float16, dst: dtypes.Uint8, values: ints},
		{config: "xehpc", src: dtypes.Float32, dst: dtypes.Float64, values: floats},
		{config: "xehpc", src: dtypes.Float64, dst: dtypes.Float32, values: floats},
		{config: "xelp", src: dtypes.Float16, dst: dtypes.BFloat16, values: floats},
	})
}

func TestEmit1DBF16NaN(t *testing.T) {
	f32NaNs := []uint64{0x7fc00000, 0x7fffa000, 0x7fffffff, 0x7f800001, 0x7f808000, 0xffffffff, 0xff800001,
		0x7f800000, 0xff800000, 0x3f800000}
	hfNaNs := []uint64{0x7e00, 0x7dfc, 0x7ffd, 0x7fff, 0x7c01, 0xfdff, 0x7c00, 0x3c00}
	isBF16NaN := func(bits uint64) bool { return bits&0x7f80 == 0x7f80 && bits&0x7f != 0 }
	for _, config := range []string{"gen9", "xelp", "xehpg"} {
		for _, tc := range []struct {
			src    dtypes.DType
			values []uint64
		}{
			{dtypes.Float32, f32NaNs},
			{dtypes.Float16, hfNaNs},
		} {
			t.Run(fmt.Sprintf("%s/%s", config, tc.src.ShortName()), func(t *testing.T) {
				b := newBench(t, config)
				in := make([]uint64, 16)
				for ii := range in {
					in[ii] = tc.values[ii%len(tc.values)]
				}
				got := b.convert1D(tc.src, 1, dtypes.BFloat16, 1, in)
				for ii, v := range in {
					want := emulator.Convert(tc.src, dtypes.BFloat16, v)
					require.Equalf(t, isBF16NaN(want), isBF16NaN(got[ii]), "element %d: 0x%x -> 0x%x", ii, v, got[ii])
					if isBF16NaN(want) {
						if b.info.NativeBF16() {
							continue
						}
						signBit := uint64(1) << (tc.src.Bits() - 1)
						assert.Equalf(t, v&signBit != 0, got[ii]&0x8000 != 0, "sign of 0x%x -> 0x%x", v, got[ii])
						if tc.src == dtypes.Float32 {
							assert.Equalf(t, v>>16|0x40, got[ii], "quiet NaN of 0x%x", v)
						}
					} else {
						assert.Equalf(t, want, got[ii], "element %d: 0x%x", ii, v)
					}
				}
			})
		}
	}
}

func TestEmit1DFP8(t *testing.T) {
	bf8 := []float64{0, 1, -1, 0.5, 1.5, 3, 57344, -math.Ldexp(1, -16), math.Inf(1), math.NaN()}
	hf8 := []float64{0, 1, -1, 0.5, 1.125, 448, math.Ldexp(1, -9), -math.Ldexp(1, -6), 240}
	runConvCases(t, []convCase{
		{config: "xelp", src: dtypes.Float16, dst: dtypes.BF8, values: bf8},
		{config: "xelp", src: dtypes.BF8, dst: dtypes.Float16, values: bf8},
		{config: "xehpc", src: dtypes.Float16, dst: dtypes.BF8, values: bf8},
		{config: "xehpc", src: dtypes.BF8, dst: dtypes.Float16, values: bf8},
		{config: "xelp", src: dtypes.Float32, dst: dtypes.BF8, values: bf8},
		{config: "xelp", src: dtypes.BF8, dst: dtypes.Float32, values: bf8},
		{config: "xelp", src: dtypes.Float16, dst: dtypes.HF8, values: hf8},
		{config: "xelp", src: dtypes.HF8, dst: dtypes.Float16, values: hf8},
		{config: "xelp", src: dtypes.HF8, dst: dtypes.Float32, values: hf8},
		{config: "xelp", src: dtypes.Float32, dst: dtypes.HF8, values: hf8},
		{config: "xelp", src: dtypes.BF8, dst: dtypes.HF8, values: []float64{0, 1, -1, 0.5, 1.5, 3, 256}},
	})
}

func TestEmit1DFP4(t *testing.T) {
	exact := []float64{0, 0.5, 1, 1.5, 2, 3, 4, 6}
	// Ties round to even, and values over the range clamp to 6.
	rounded := []float64{2.5, 5, 0.25, 0.75, 10, -0.5, -1, -6}
	var cases []convCase
	for _, values := range [][]float64{exact, rounded} {
		cases = append(cases,
			convCase{config: "xelp", src: dtypes.Float16, dst: dtypes.F4E2M1, width: 8, values: values},
			convCase{config: "xelp", src: dtypes.F4E2M1, dst: dtypes.Float16, width: 8, values: values},
			convCase{config: "xelp", src: dtypes.Float32, dst: dtypes.F4E2M1, width: 8, values: values},
			convCase{config: "xelp", src: dtypes.F4E2M1, dst: dtypes.Float32, width: 8, values: values})
	}
	// E3M0 has no mantissa: ties go to the even exponent.
	e3m0Exact := []float64{0, 0.25, 0.5, 1, 2, 4, 8, 16}
	e3m0Ties := []float64{0.375, 0.75, 1.5, 3, 6, 12, -1.5, -24}
	for _, values := range [][]float64{e3m0Exact, e3m0Ties} {
		cases = append(cases,
			convCase{config: "xelp", src: dtypes.Float16, dst: dtypes.F4E3M0, width: 8, values: values},
			convCase{config: "xelp", src: dtypes.Float32, dst: dtypes.F4E3M0, width: 8, values: values})
	}
	cases = append(cases,
		convCase{config: "xelp", src: dtypes.F4E3M0, dst: dtypes.Float16, width: 8, values: e3m0Exact},
		convCase{config: "xelp", src: dtypes.F4E3M0, dst: dtypes.Float32, width: 8, values: e3m0Exact})
	runConvCases(t, cases)
}

func TestEmit1DInt4(t *testing.T) {
	values := []float64{0, 1, -1, 7, -8, 100, -100, 15}
	runConvCases(t, []convCase{
		{config: "xelp", src: dtypes.Int4, dst: dtypes.Int32, width: 8, values: values},
		{config: "xelp", src: dtypes.Int32, dst: dtypes.Int4, width: 8, values: values},
		{config: "xelp", src: dtypes.Uint4, dst: dtypes.Uint8, width: 8, values: values},
		{config: "xelp", src: dtypes.Uint8, dst: dtypes.Uint4, width: 8, values: values},
	})
}

// sweep converts the bit patterns with a single program of sweepWidth elements, run once per chunk, and
// checks every result against emulator.Convert. It returns the number of mismatches, after logging the
// first few.
func sweep(t *testing.T, config string, src, dst dtypes.DType, patterns []uint64) int {
	t.Helper()
	const sweepWidth = 32
	b := newBench(t, config)
	srcBuf := b.buffer(sweepWidth, src)
	dstBuf := b.buffer(sweepWidth, dst)
	Emit1D(b.prog, b.scope, sweepWidth, srcBuf, 1, dstBuf, 1)
	var mismatches int
	for start := 0; start < len(patterns); start += sweepWidth {
		for ii := range sweepWidth {
			b.m.SetElem(srcBuf, ii, patterns[(start+ii)%len(patterns)])
		}
		b.m.Run(b.prog)
		for ii := range min(sweepWidth, len(patterns)-start) {
			v := patterns[start+ii]
			want := emulator.Convert(src, dst, v)
			got := b.m.Elem(dstBuf, ii)
			if equalValues(dst, want, got) {
				continue
			}
			if mismatches < 4 {
				t.Logf("0x%x -> want 0x%x, got 0x%x", v, want, got)
			}
			mismatches++
		}
	}
	return mismatches
}

// TestEmit1DSweep checks conversions that round once over every code of the small types, and over edge and
// random bit patterns (NaN payloads included) of the wide ones.
func TestEmit1DSweep(t *testing.T) {
	const samples, seed = 4096, 17
	for _, tc := range []struct {
		config   string
		src, dst dtypes.DType
	}{
		{"gen9", dtypes.Float32, dtypes.BFloat16},
		{"xelp", dtypes.Float32, dtypes.BFloat16},
		{"xehpg", dtypes.Float32, dtypes.BFloat16},
		{"gen9", dtypes.Float16, dtypes.BFloat16},
		{"xelp", dtypes.Float16, dtypes.BFloat16},
		{"xelp", dtypes.Float16, dtypes.HF8},
		{"xelp", dtypes.HF8, dtypes.Float16},
		{"xelp", dtypes.BF8, dtypes.Float16},
		{"xelp", dtypes.Float16, dtypes.BF8},
		{"xelp", dtypes.F4E2M1, dtypes.Float16},
		{"xelp", dtypes.F4E3M0, dtypes.Float16},
		{"xelp", dtypes.Float16, dtypes.Float32},
		{"xelp", dtypes.BFloat16, dtypes.Float32},
		{"xelp", dtypes.Float32, dtypes.Float16},
		{"xelp", dtypes.Uint64, dtypes.Uint64},
	} {
		t.Run(fmt.Sprintf("%s/%s->%s", tc.config, tc.src.ShortName(), tc.dst.ShortName()), func(t *testing.T) {
			patterns := emulator.BitPatterns(tc.src, samples, seed)
			assert.Zero(t, sweep(t, tc.config, tc.src, tc.dst, patterns))
		})
	}
}

func TestEmit1DStrided(t *testing.T) {
	b := newBench(t, "xelp")
	in := toBits(dtypes.Float32, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	got := b.convert1D(dtypes.Float32, 2, dtypes.Float32, 1, in)
	assert.Equal(t, in, got)

	b = newBench(t, "xelp")
	in = toBits(dtypes.Int32, []float64{1, -2, 300, -400, 5, 6, 7, 8})
	got = b.convert1D(dtypes.Int32, 1, dtypes.Int16, 2, in)
	for ii, v := range in {
		assert.Equal(t, emulator.Convert(dtypes.Int32, dtypes.Int16, v), got[ii])
	}
}

func TestEmit1DUnsupported(t *testing.T) {
	b := newBench(t, "xelp")
	src := b.buffer(8, dtypes.Float32)
	dst := b.buffer(8, dtypes.Float32)
	require.Panics(t, func() {
		Emit1D(b.prog, b.scope, 8, src, 1, dst.Reinterpret(dtypes.InvalidDType), 1)
	})
	assert.Equal(t, "", Strategy(b.info, dtypes.InvalidDType, dtypes.Float32, 8, 1, 1))

	// Zero width emits nothing.
	Emit1D(b.prog, b.scope, 0, src, 1, dst, 1)
	assert.Equal(t, 0, b.prog.Len())
}

func TestStrategy(t *testing.T) {
	xelp, err := hw.NewWithConfig("xelp")
	require.NoError(t, err)
	xehpg, err := hw.NewWithConfig("xehpg")
	require.NoError(t, err)
	for _, c := range []struct {
		info     *hw.Info
		src, dst dtypes.DType
		width    int
		want     string
	}{
		{xelp, dtypes.Float32, dtypes.BFloat16, 16, "float-move"},
		{xehpg, dtypes.Float32, dtypes.BFloat16, 16, "float-move"},
		{xelp, dtypes.Float32, dtypes.Int8, 16, "batched"},
		{xelp, dtypes.Float32, dtypes.Int8, 4, "dword-byte"},
		{xelp, dtypes.Float32, dtypes.Float16, 16, "f-to-hf"},
		{xelp, dtypes.BFloat16, dtypes.Float32, 16, "bf-to-f"},
		{xelp, dtypes.Int32, dtypes.Float16, 16, "int-via-f"},
		{xelp, dtypes.BF8, dtypes.HF8, 16, "fp8-cross"},
		{xelp, dtypes.Float16, dtypes.F4E2M1, 16, "hf-to-f4"},
		{xelp, dtypes.Int4, dtypes.Int32, 16, "int4"},
		{xelp, dtypes.Float16, dtypes.Float16, 16, "int-move"},
		{xelp, dtypes.Int16, dtypes.Int8, 16, "word-to-byte"},
	} {
		assert.Equalf(t, c.want, Strategy(c.info, c.src, c.dst, c.width, 1, 1), "%s %s->%s x %d",
			c.info.Gen, c.src, c.dst, c.width)
	}
}

// fillLayout writes a distinct value at every coordinate of the 2D layout.
func fillLayout(m *emulator.Machine, buf isa.RegBufData, l layouts.Layout) {
	for i := range l.Dim(0) {
		for j := range l.Dim(1) {
			m.SetElem(buf, int(l.OffsetOf([]int64{i, j})), uint64(i*l.Dim(1)+j+1))
		}
	}
}

// checkLayout checks the values written by fillLayout.
func checkLayout(t *testing.T, m *emulator.Machine, buf isa.RegBufData, l layouts.Layout) {
	for i := range l.Dim(0) {
		for j := range l.Dim(1) {
			want := uint64(i*l.Dim(1) + j + 1)
			require.Equalf(t, want, m.Elem(buf, int(l.OffsetOf([]int64{i, j}))), "element (%d, %d)", i, j)
		}
	}
}

func TestReorder(t *testing.T) {
	t.Run("transpose", func(t *testing.T) {
		for _, config := range []string{"xelp", "xehpc"} {
			b := newBench(t, config)
			src := layouts.MakeDense(dtypes.Float32, 4, 8)
			dst := layouts.New(dtypes.Float32, 2, 0, []layouts.Block{{Dim: 0, Size: 4, Stride: 1}, {Dim: 1, Size: 8, Stride: 4}})
			srcRD, dstRD := b.layoutBuffer(src), b.layoutBuffer(dst)
			fillLayout(b.m, srcRD, src)
			New(b.info, src, dst).Emit(b.prog, b.scope, srcRD, dstRD)
			b.m.Run(b.prog)
			checkLayout(t, b.m, dstRD, dst)
		}
	})

	t.Run("round-trip", func(t *testing.T) {
		b := newBench(t, "xelp")
		a := layouts.MakeDense(dtypes.Int8, 4, 16)
		c := layouts.New(dtypes.Int8, 2, 0, []layouts.Block{{Dim: 0, Size: 4, Stride: 1}, {Dim: 1, Size: 16, Stride: 4}})
		aRD, cRD, backRD := b.layoutBuffer(a), b.layoutBuffer(c), b.layoutBuffer(a)
		fillLayout(b.m, aRD, a)
		New(b.info, a, c).Emit(b.prog, b.scope, aRD, cRD)
		New(b.info, c, a).Emit(b.prog, b.scope, cRD, backRD)
		b.m.Run(b.prog)
		checkLayout(t, b.m, cRD, c)
		checkLayout(t, b.m, backRD, a)
	})

	t.Run("widening", func(t *testing.T) {
		b := newBench(t, "xelp")
		l := layouts.MakeDense(dtypes.Float16, 4, 8)
		r := New(b.info, l, l)
		assert.Equal(t, dtypes.Uint32, r.Src().DType())
		assert.Equal(t, dtypes.Uint32, r.Dst().DType())
		srcRD, dstRD := b.layoutBuffer(l), b.layoutBuffer(l)
		fillLayout(b.m, srcRD, l)
		r.Emit(b.prog, b.scope, srcRD, dstRD)
		b.m.Run(b.prog)
		checkLayout(t, b.m, dstRD, l)
	})

	t.Run("conversion", func(t *testing.T) {
		b := newBench(t, "xelp")
		src := layouts.MakeDense(dtypes.Int32, 4, 8)
		dst := layouts.New(dtypes.Float32, 2, 0, []layouts.Block{{Dim: 0, Size: 4, Stride: 1}, {Dim: 1, Size: 8, Stride: 4}})
		srcRD, dstRD := b.layoutBuffer(src), b.layoutBuffer(dst)
		fillLayout(b.m, srcRD, src)
		New(b.info, src, dst).Emit(b.prog, b.scope, srcRD, dstRD)
		b.m.Run(b.prog)
		for i := range int64(4) {
			for j := range int64(8) {
				assert.Equal(t, float64(i*8+j+1), b.m.Float(dstRD, int(dst.OffsetOf([]int64{i, j}))))
			}
		}
	})
}

func TestBatch(t *testing.T) {
	info, err := hw.NewWithConfig("xelp")
	require.NoError(t, err)
	small := layouts.MakeDense(dtypes.Float32, 4, 8)
	smallT := layouts.New(dtypes.Float32, 2, 0, []layouts.Block{{Dim: 0, Size: 4, Stride: 1}, {Dim: 1, Size: 8, Stride: 4}})
	// 16KB does not fit in the 4KB of registers.
	big := layouts.MakeDense(dtypes.Float32, 64, 64)
	jobs := []Job{
		{Name: "transpose", Src: small, Dst: smallT},
		{Name: "big", Src: big, Dst: big},
		{Name: "copy", Src: small, Dst: small},
	}
	for _, parallelism := range []int{0, 2} {
		results := NewBatch(info, nil).SetMaxParallelism(parallelism).Generate(jobs)
		require.Len(t, results, len(jobs))
		for ii, r := range results {
			assert.Equal(t, results[0].Session, r.Session)
			assert.Equal(t, jobs[ii].Name, r.Job.Name)
		}
		require.NoError(t, results[0].Err)
		assert.Greater(t, results[0].Program.Len(), 0)
		assert.GreaterOrEqual(t, results[0].PeakGRFs, 8)
		require.Error(t, results[1].Err)
		assert.Contains(t, results[1].Err.Error(), `reorder job "big"`)
		require.NoError(t, results[2].Err)

		// The generated program runs from the reported registers.
		r := results[0]
		m := emulator.New(info)
		srcRD := isa.NewRegBufData(isa.GRFRange{Base: r.SrcGRF, Len: 4}, dtypes.Float32)
		dstRD := isa.NewRegBufData(isa.GRFRange{Base: r.DstGRF, Len: 4}, dtypes.Float32)
		fillLayout(m, srcRD, small)
		m.Run(r.Program)
		checkLayout(t, m, dstRD, smallT)
	}
}
