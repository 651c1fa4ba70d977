// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reorder

import (
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"github.com/gomlx/gpujit/pkg/gpu/regalloc"
)

// AlignSrcDstOffset returns src, or a copy of it in a temporary, positioned within its register the same
// way dst is, as the float pipe requires for instructions of esize channels. Broadcast sources
// (srcStride == 0) are returned as is.
//
// The temporary is allocated from scope, and lives until the scope is released.
func AlignSrcDstOffset(host isa.Host, scope *regalloc.Scope, esize int, dst isa.RegBufData, dstStride int,
	src isa.RegBufData, srcStride int) isa.RegBufData {
	return alignSrcDstOffset(host, scope, DefaultConfig(), esize, dst, dstStride, src, srcStride)
}

func alignSrcDstOffset(host isa.Host, scope *regalloc.Scope, cfg *Config, esize int, dst isa.RegBufData,
	dstStride int, src isa.RegBufData, srcStride int) isa.RegBufData {
	if srcStride == 0 {
		return src
	}
	grf := host.Info().GRFBytes
	st, dt := src.Type(), dst.Type()
	xf := isXF(st) || isXF(dt)
	bfToF := st == dtypes.BFloat16 && dt == dtypes.Float32
	sSize, dSize := max(st.Size(), 1), max(dt.Size(), 1)
	sByte, dByte := src.ByteOffset()%grf, dst.ByteOffset()%grf
	sOff, dOff := sByte/sSize, dByte/dSize

	if (xf || bfToF) && sOff%(grf/max(srcStride, 1)) == dOff%(grf/max(dstStride, 1)) {
		return src
	}
	if !xf && sByte == dByte {
		return src
	}

	newOff := dOff * dSize / sSize
	if xf {
		newOff = dOff * sSize / dSize
	}
	size := max(sSize*esize*srcStride, sSize)
	aligned := scope.AllocRegBufData(xmath.DivUp(size+newOff*sSize, grf), st).Format(newOff, st)
	emit1D(host, scope, cfg, esize, src, srcStride, aligned, srcStride)
	return aligned
}
