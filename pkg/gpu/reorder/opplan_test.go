// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"testing"

	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func movOp(b isa.Builder) UnaryOp {
	return func(mod isa.Mod, dst, src isa.RegData) { b.Mov(mod, dst, src) }
}

func TestOpPlan(t *testing.T) {
	t.Run("split", func(t *testing.T) {
		b := newBench(t, "xelp")
		src := b.buffer(32, dtypes.Float32)
		dst := b.buffer(32, dtypes.Float32)
		plan := OpPlan{GRFBytes: b.info.GRFBytes}
		plan.Apply(movOp(isa.NewBuilder(b.prog)), isa.Exec(32), dst.Strided(1), src.Strided(1))
		require.Equal(t, 2, b.prog.Len())
		for ii, inst := range b.prog.Insts {
			assert.Equal(t, 16, inst.Mod.ExecSize)
			assert.Equal(t, 16*ii, inst.Mod.ChanOff)
			region := inst.Src[0].(isa.RegData)
			assert.Equal(t, []int{8, 8, 1}, []int{region.VS, region.Width, region.HS})
		}
		for ii := range 32 {
			b.m.SetFloat(src, ii, float64(ii))
		}
		b.m.Run(b.prog)
		for ii := range 32 {
			assert.Equal(t, float64(ii), b.m.Float(dst, ii))
		}
	})

	t.Run("misaligned", func(t *testing.T) {
		b := newBench(t, "xelp")
		buf := b.buffer(32, dtypes.Float32)
		dst := b.buffer(16, dtypes.Float32)
		src := buf.Format(3, dtypes.Float32)
		plan := OpPlan{GRFBytes: b.info.GRFBytes}
		plan.Apply(movOp(isa.NewBuilder(b.prog)), isa.Exec(16), dst.Strided(1), src.Strided(1))
		for ii := range 16 {
			b.m.SetFloat(src, ii, float64(ii)+0.5)
		}
		b.m.Run(b.prog)
		for ii := range 16 {
			assert.Equal(t, float64(ii)+0.5, b.m.Float(dst, ii))
		}
	})

	t.Run("broadcast", func(t *testing.T) {
		b := newBench(t, "xehpc")
		src := b.buffer(1, dtypes.Int32)
		dst := b.buffer(32, dtypes.Int32)
		plan := OpPlan{GRFBytes: b.info.GRFBytes}
		plan.Apply(movOp(isa.NewBuilder(b.prog)), isa.Exec(32), dst.Strided(1), src.Strided(0))
		b.m.SetElem(src, 0, 42)
		b.m.Run(b.prog)
		for ii := range 32 {
			assert.Equal(t, uint64(42), b.m.Elem(dst, ii))
		}
	})
}
