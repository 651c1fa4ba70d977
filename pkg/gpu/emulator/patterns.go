// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package emulator

import (
	"math/rand/v2"

	"github.com/gomlx/gpujit/pkg/core/dtypes"
)

// ExhaustiveBits is the largest type size, in bits, for which BitPatterns enumerates every encoding.
const ExhaustiveBits = 16

// BitPatterns returns raw bit patterns of dtype to feed conversions with.
//
// Types of up to ExhaustiveBits bits get every encoding, in order. Wider types get their edge encodings
// (zeros, extremes and, for floats, infinities and NaNs with low and high payloads), followed by samples
// random patterns drawn from a generator seeded with seed.
func BitPatterns(dtype dtypes.DType, samples int, seed uint64) []uint64 {
	bits := dtype.Bits()
	if bits <= ExhaustiveBits {
		res := make([]uint64, 1<<bits)
		for ii := range res {
			res[ii] = uint64(ii)
		}
		return res
	}
	m := mask(bits)
	sign := uint64(1) << (bits - 1)
	res := []uint64{0, 1, m, sign, sign - 1, sign + 1}
	switch dtype {
	case dtypes.Float32, dtypes.TF32:
		res = append(res, 0x7f800000, 0xff800000, 0x7f800001, 0x7f808000, 0x7fbfffff, 0x7fc00000, 0x7fffa000,
			0x7fffffff, 0xff800001, 0xffc00001, 0x007fffff, 0x00800000, 0x3f7fffff, 0x3f808000, 0x477fe000)
	case dtypes.Float64:
		res = append(res, 0x7ff0000000000000, 0xfff0000000000000, 0x7ff0000000000001, 0x7ff8000000000000,
			0x7fffffffffffffff, 0xfff0000000000001, 0x000fffffffffffff, 0x3ff0000010000000, 0x3ff0000010000001)
	}
	rng := rand.New(rand.NewPCG(seed, uint64(dtype)))
	for range samples {
		res = append(res, rng.Uint64()&m)
	}
	return res
}
