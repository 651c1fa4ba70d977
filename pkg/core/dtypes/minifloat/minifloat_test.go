// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package minifloat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, f := range []Format{E5M2, E4M3, E2M1, E3M0} {
		t.Run(f.Name, func(t *testing.T) {
			for v := 0; v < 1<<f.Bits(); v++ {
				code := uint8(v)
				if f.IsNaN(code) {
					require.True(t, math.IsNaN(f.Decode(code)))
					continue
				}
				require.Equalf(t, code, f.Encode(f.Decode(code), false), "code 0x%02x decodes to %g", code, f.Decode(code))
			}
		})
	}
}

func TestEncode(t *testing.T) {
	testCases := []struct {
		name     string
		f        Format
		x        float64
		saturate bool
		want     uint8
	}{
		{"e5m2-one", E5M2, 1, false, 0x3C},
		{"e5m2-max", E5M2, 57344, false, 0x7B},
		{"e5m2-overflow", E5M2, 1e6, false, 0x7C},
		{"e5m2-overflow-sat", E5M2, -1e6, true, 0xFB},
		{"e5m2-nan", E5M2, math.NaN(), false, 0x7E},
		{"e4m3-one", E4M3, 1, false, 0x38},
		{"e4m3-464-rounds-down", E4M3, 464, false, 0x7E},
		{"e4m3-470-overflow", E4M3, 470, false, 0x7F},
		{"e4m3-470-sat", E4M3, 470, true, 0x7E},
		{"e4m3-neg-inf", E4M3, math.Inf(-1), false, 0xFF},
		{"e2m1-six", E2M1, 6, false, 0x7},
		{"e2m1-tie-even", E2M1, 5, false, 0x6},
		{"e2m1-denormal-tie", E2M1, 0.25, false, 0x0},
		{"e2m1-denormal-up", E2M1, 0.75, false, 0x2},
		{"e2m1-saturate", E2M1, -7, false, 0xF},
		{"e2m1-nan", E2M1, math.NaN(), false, 0x7},
		{"e3m0-max", E3M0, 16, false, 0x7},
		{"e3m0-min-normal", E3M0, 0.25, false, 0x1},
		{"e3m0-underflow", E3M0, 0.125, false, 0x0},
		{"e3m0-tie-0.375", E3M0, 0.375, false, 0x2},
		{"e3m0-tie-0.75", E3M0, 0.75, false, 0x2},
		{"e3m0-tie-1.5", E3M0, 1.5, false, 0x4},
		{"e3m0-tie-3", E3M0, 3, false, 0x4},
		{"e3m0-tie-6", E3M0, -6, false, 0xE},
		{"e3m0-tie-12", E3M0, 12, false, 0x6},
		{"e3m0-above-tie", E3M0, 0.76, false, 0x3},
		{"neg-zero", E4M3, math.Copysign(0, -1), false, 0x80},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.f.Encode(tc.x, tc.saturate)
			assert.Equalf(t, tc.want, got, "got 0x%02x", got)
		})
	}
}

func TestFloat16Helpers(t *testing.T) {
	assert.Equal(t, uint8(0x3C), E5M2FromFloat16(0x3C00))
	assert.Equal(t, uint8(0x3C), E5M2FromFloat16(0x3C80)) // Tie, even.
	assert.Equal(t, uint8(0x3E), E5M2FromFloat16(0x3D80)) // Tie, odd rounds up.
	assert.Equal(t, uint8(0x7E), E5M2FromFloat16(0x7E01))
	assert.Equal(t, uint16(0xBC00), E5M2ToFloat16(0xBC))
	assert.Equal(t, uint16(0x3C00), E4M3ToFloat16(0x38))
	assert.Equal(t, uint8(0x38), E4M3FromFloat16(0x3C00, false))
	assert.Equal(t, uint8(0x6), E2M1FromFloat32(5))
	assert.Equal(t, uint8(0x7), E3M0FromFloat32(100))
	assert.Equal(t, 448.0, E4M3.Decode(E4M3.MaxFinite()))
}
