// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package emulator

import (
	"math"
	"testing"

	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func newMachine(t *testing.T, config string) (*Machine, isa.Builder) {
	info, err := hw.NewWithConfig(config)
	require.NoError(t, err)
	m := New(info)
	return m, isa.NewBuilder(m)
}

func grf(base, n int, dtype dtypes.DType) isa.RegBufData {
	return isa.NewRegBufData(isa.GRFRange{Base: base, Len: n}, dtype)
}

func TestMovConversions(t *testing.T) {
	m, b := newMachine(t, "xelp")
	src := grf(2, 1, dtypes.Float32)
	dst := grf(4, 1, dtypes.Float16)
	inputs := []float64{1.5, -2, 65504, 1e6, 0.1, math.Inf(-1), 3e-8, 0}
	for ii, x := range inputs {
		m.SetFloat(src, ii, x)
	}
	b.Mov(isa.Exec(8), dst.Strided(1), src.Strided(1))
	for ii, x := range inputs {
		want := float64(float16.Fromfloat32(float32(x)).Float32())
		assert.Equal(t, want, m.Float(dst, ii), "element %d (%g)", ii, x)
	}
	assert.Equal(t, 1, m.Executed)

	// Float to integer truncates and clamps.
	ints := grf(6, 1, dtypes.Int32)
	for ii, x := range []float64{3.7, -3.7, math.NaN(), 1e20, -1e20, 0.5, -0.5, 2147483520} {
		m.SetFloat(src, ii, x)
	}
	b.Mov(isa.Exec(8), ints.Strided(1), src.Strided(1))
	var got []int32
	for ii := range 8 {
		got = append(got, int32(m.Elem(ints, ii)))
	}
	assert.Equal(t, []int32{3, -3, 0, math.MaxInt32, math.MinInt32, 0, 0, 2147483520}, got)
}

func TestSaturation(t *testing.T) {
	m, b := newMachine(t, "xelp")
	words := grf(2, 1, dtypes.Int16)
	for ii, v := range []int16{-5, 300, 255, 7} {
		m.SetElem(words, ii, uint64(uint16(v)))
	}
	bytesSat := grf(3, 1, dtypes.Uint8)
	bytesWrap := grf(4, 1, dtypes.Uint8)
	b.Mov(isa.Exec(4).WithSat(), bytesSat.Strided(1), words.Strided(1))
	b.Mov(isa.Exec(4), bytesWrap.Strided(1), words.Strided(1))
	for ii, want := range []uint64{0, 255, 255, 7} {
		assert.Equal(t, want, m.Elem(bytesSat, ii))
	}
	for ii, want := range []uint64{251, 44, 255, 7} {
		assert.Equal(t, want, m.Elem(bytesWrap, ii))
	}

	// Saturation of floats clamps to [0, 1].
	floats := grf(5, 1, dtypes.Float32)
	for ii, x := range []float64{-1, 0.25, 7, math.NaN()} {
		m.SetFloat(floats, ii, x)
	}
	b.Mov(isa.Exec(4).WithSat(), floats.Strided(1), floats.Strided(1))
	for ii, want := range []float64{0, 0.25, 1, 0} {
		assert.Equal(t, want, m.Float(floats, ii))
	}
}

func TestFlagsAndPredication(t *testing.T) {
	m, b := newMachine(t, "xelp")
	src := grf(2, 1, dtypes.Uint32)
	dst := grf(3, 1, dtypes.Uint32)
	for ii := range 8 {
		m.SetElem(src, ii, uint64(ii))
	}
	b.And(isa.Exec(8).WithCond(isa.CondNZ, isa.F0_0), isa.NullReg(dtypes.Uint32), src.Strided(1), isa.ImmUD(1))
	assert.Equal(t, uint64(0xAA), m.Flags())
	b.Mov(isa.Exec(8).WithPred(isa.F0_0), dst.Strided(1), isa.ImmUD(0xFF))
	for ii := range 8 {
		want := uint64(0)
		if ii%2 == 1 {
			want = 0xFF
		}
		assert.Equal(t, want, m.Elem(dst, ii), "element %d", ii)
	}

	// Channel offsets select the flag bits, and flags of disabled channels are kept.
	m.SetFlags(0)
	b.Add(isa.Exec(4).WithChanOff(4).WithCond(isa.CondG, isa.F1_0), isa.NullReg(dtypes.Int32),
		src.Reinterpret(dtypes.Int32).Strided(1), isa.ImmD(-1))
	assert.Equal(t, uint64(0b1100)<<(16*int(isa.F1_0)+4), m.Flags())
}

func TestOverlappingOperands(t *testing.T) {
	m, b := newMachine(t, "xelp")
	buf := grf(2, 1, dtypes.Uint16)
	for ii := range 9 {
		m.SetElem(buf, ii, uint64(ii+1))
	}
	// Shift the first 8 elements down by one: all sources are read before writing.
	b.Mov(isa.Exec(8), buf.Strided(1), buf.Subregister(1).Strided(1))
	for ii := range 8 {
		assert.Equal(t, uint64(ii+2), m.Elem(buf, ii))
	}
}

func TestLogicOps(t *testing.T) {
	m, b := newMachine(t, "xehpc")
	buf := grf(2, 1, dtypes.Uint16)
	m.SetElem(buf, 0, 0x00FF)
	m.SetElem(buf, 1, 0xFF00)
	m.SetElem(buf, 2, 0x0F0F)
	m.SetElem(buf, 3, 0x8000)
	out := grf(3, 1, dtypes.Uint16)

	b.Bfn(isa.Exec(1), 0xCA, out.Scalar(), buf.Scalar(), buf.Subregister(1).Scalar(), buf.Subregister(2).Scalar())
	assert.Equal(t, uint64(0x0FF0), m.Elem(out, 0))

	b.Asr(isa.Exec(1), out.Subregister(1).Reinterpret(dtypes.Int16).Scalar(),
		buf.Subregister(3).Reinterpret(dtypes.Int16).Scalar(), isa.ImmUW(4))
	assert.Equal(t, uint64(0xF800), m.Elem(out, 1))
	b.Shr(isa.Exec(1), out.Subregister(2).Scalar(), buf.Subregister(3).Reinterpret(dtypes.Int16).Scalar(), isa.ImmUW(4))
	assert.Equal(t, uint64(0x0800), m.Elem(out, 2))
	b.Shl(isa.Exec(1), out.Subregister(3).Scalar(), buf.Subregister(2).Scalar(), isa.ImmUW(8))
	assert.Equal(t, uint64(0x0F00), m.Elem(out, 3))

	// Negation of logic sources is a bitwise not.
	b.And(isa.Exec(1), out.Subregister(4).Scalar(), buf.Subregister(2).Scalar().Neg(), isa.ImmUW(0xFFFF))
	assert.Equal(t, uint64(0xF0F0), m.Elem(out, 4))
}

func TestCselAndMinMax(t *testing.T) {
	m, b := newMachine(t, "xehpc")
	cond := grf(2, 1, dtypes.Float16)
	for ii, x := range []float64{0, 1, math.NaN(), -0.5} {
		m.SetFloat(cond, ii, x)
	}
	out := grf(3, 1, dtypes.Float16)
	b.Csel(isa.Exec(4).WithCond(isa.CondZE, isa.F0_0), out.Strided(1), isa.ImmHF(0x3C00), isa.ImmHF(0x4000),
		cond.Strided(1))
	for ii, want := range []float64{1, 2, 2, 2} {
		assert.Equal(t, want, m.Float(out, ii))
	}
	assert.Equal(t, uint64(0), m.Flags(), "csel doesn't write flags")

	b.Min(isa.Exec(4), out.Strided(1), cond.Strided(1), isa.ImmHF(0x3800))
	for ii, want := range []float64{0, 0.5, 0.5, -0.5} {
		assert.Equal(t, want, m.Float(out, ii))
	}
	b.Max(isa.Exec(4), out.Strided(1), cond.Strided(1).Abs(), isa.ImmHF(0x3800))
	for ii, want := range []float64{0.5, 1, 0.5, 0.5} {
		assert.Equal(t, want, m.Float(out, ii))
	}
}

func TestElemAccess(t *testing.T) {
	m, _ := newMachine(t, "xelp")
	nibbles := grf(1, 1, dtypes.Uint4)
	m.SetElem(nibbles, 0, 0x3)
	m.SetElem(nibbles, 1, 0xA)
	m.SetElem(nibbles, 3, 0xF)
	assert.Equal(t, []byte{0xA3, 0xF0}, m.Read(32, 2))
	assert.Equal(t, uint64(0xA), m.Elem(nibbles, 1))

	m.Write(64, []byte{0x00, 0x3C})
	assert.Equal(t, 1.0, m.Float(grf(2, 1, dtypes.Float16), 0))
	require.Panics(t, func() { m.Read(m.Info().NumGRFs*32-1, 2) })
}

func TestInvalidInstruction(t *testing.T) {
	_, b := newMachine(t, "xelp")
	require.Panics(t, func() {
		b.Mov(isa.Exec(16), grf(2, 1, dtypes.Float32).Strided(1), grf(4, 2, dtypes.Float32).Subregister(4).Strided(1))
	})
}

func TestConvert(t *testing.T) {
	testCases := []struct {
		name     string
		src, dst dtypes.DType
		in, want uint64
	}{
		{"d->b clamps high", dtypes.Int32, dtypes.Int8, 1000, 0x7F},
		{"d->ub clamps negative", dtypes.Int32, dtypes.Uint8, uint64(uint32(0xFFFFFFFF)), 0},
		{"w->uw clamps negative", dtypes.Int16, dtypes.Uint16, 0x8000, 0},
		{"ub->b clamps", dtypes.Uint8, dtypes.Int8, 0xC8, 0x7F},
		{"b->d sign extends", dtypes.Int8, dtypes.Int32, 0xFE, 0xFFFFFFFE},
		{"f->hf", dtypes.Float32, dtypes.Float16, uint64(math.Float32bits(1.5)), 0x3E00},
		{"f->bf rounds to even", dtypes.Float32, dtypes.BFloat16, 0x3F808000, 0x3F80},
		{"f->ub is not clamped to [0,1]", dtypes.Float32, dtypes.Uint8, uint64(math.Float32bits(7.9)), 7},
		{"d->f is not clamped to [0,1]", dtypes.Int32, dtypes.Float32, 3, uint64(math.Float32bits(3))},
		{"hf->f", dtypes.Float16, dtypes.Float32, 0xC000, uint64(math.Float32bits(-2))},
		{"source bits are masked", dtypes.Uint8, dtypes.Uint16, 0xFF01, 1},
		{"uq->uq keeps the upper half", dtypes.Uint64, dtypes.Uint64, 1<<63 + 5, 1<<63 + 5},
		{"uq->uq max", dtypes.Uint64, dtypes.Uint64, math.MaxUint64, math.MaxUint64},
		{"uq->q clamps", dtypes.Uint64, dtypes.Int64, 1<<63 + 5, math.MaxInt64},
		{"q->uq clamps negative", dtypes.Int64, dtypes.Uint64, math.MaxUint64, 0},
		{"df->uq above 2^63", dtypes.Float64, dtypes.Uint64, math.Float64bits(0x1p63 + 0x1p12), 1<<63 + 1<<12},
		{"df->uq clamps", dtypes.Float64, dtypes.Uint64, math.Float64bits(1e30), math.MaxUint64},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Convert(tc.src, tc.dst, tc.in))
		})
	}
}

func TestBitPatterns(t *testing.T) {
	hf := BitPatterns(dtypes.Float16, 100, 1)
	require.Len(t, hf, 1<<16)
	assert.Equal(t, uint64(0x7c01), hf[0x7c01])
	assert.Len(t, BitPatterns(dtypes.F4E3M0, 100, 1), 16)

	f := BitPatterns(dtypes.Float32, 100, 1)
	assert.Contains(t, f, uint64(0x7fffa000))
	assert.Contains(t, f, uint64(0xff800001))
	var nans int
	for _, v := range f {
		require.LessOrEqual(t, v, uint64(math.MaxUint32))
		if math.IsNaN(float64(math.Float32frombits(uint32(v)))) {
			nans++
		}
	}
	assert.Greater(t, nans, 5)
	assert.Equal(t, f, BitPatterns(dtypes.Float32, 100, 1), "same seed, same patterns")
	assert.NotEqual(t, f, BitPatterns(dtypes.Float32, 100, 2))
}
