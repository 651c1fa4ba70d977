// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xmath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRounding(t *testing.T) {
	require.Equal(t, 3, DivUp(7, 3))
	require.Equal(t, 9, RndUp(7, 3))
	require.Equal(t, 6, RndDown(7, 3))
	require.Equal(t, 8, RndDownPow2(13))
	require.Equal(t, 16, RndUpPow2(13))
	require.Equal(t, 16, RndUpPow2(16))
	require.Equal(t, 1, RndUpPow2(0))
	require.Equal(t, 3, ILog2(uint32(8)))
	require.True(t, IsPow2(64))
	require.False(t, IsPow2(6))
	require.False(t, IsPow2(0))
}

func TestMaxDiv(t *testing.T) {
	require.Equal(t, 8, MaxDiv(64, 9))
	require.Equal(t, 16, MaxDiv(16, 20))
	require.Equal(t, 1, MaxDiv(17, 9))
	require.Equal(t, 1, MaxDiv(12, 0))
	require.Equal(t, uint64(6), MaxDiv(uint64(12), uint64(7)))
	require.Equal(t, 4, Gcd(12, 8))
}
