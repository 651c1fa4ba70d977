// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithConfig(t *testing.T) {
	info, err := NewWithConfig("xelp")
	require.NoError(t, err)
	assert.Equal(t, XeLP, info.Gen)
	assert.Equal(t, 96*7, info.HWThreads())
	assert.False(t, info.NativeBF16())
	assert.False(t, info.HasBFN())

	info, err = NewWithConfig("XeHPC:eus=14,threads=8,sg=16,systolic=false")
	require.NoError(t, err)
	assert.Equal(t, XeHPC, info.Gen)
	assert.Equal(t, 112, info.HWThreads())
	assert.True(t, info.MayUseSubGroup(16))
	assert.False(t, info.MayUseSubGroup(32))
	assert.False(t, info.NativeBF16())
	assert.True(t, info.NativeBF8())
	assert.False(t, info.NativeHF8())
	assert.Equal(t, 64, info.GRFSize())

	// Defaults must not be modified by the options.
	assert.True(t, Capabilities[XeHPC].Systolic)
	assert.Equal(t, []int{16, 32}, Capabilities[XeHPC].SubGroupSizes)

	for _, config := range []string{"gen12", "xelp:eus", "xelp:eus=-1", "xelp:grf=48", "xelp:color=red", "xe2:sg=a"} {
		_, err = NewWithConfig(config)
		assert.Errorf(t, err, "config %q should fail", config)
	}
}

func TestNew(t *testing.T) {
	t.Setenv(ConfigEnvVar, "xe3:regs=256")
	info, err := New()
	require.NoError(t, err)
	assert.Equal(t, Xe3, info.Gen)
	assert.Equal(t, 256, info.NumGRFs)
	assert.True(t, info.NativeHF8())
}

func TestGenOrder(t *testing.T) {
	assert.Less(t, Gen9, XeLP)
	assert.Less(t, XeHPG, XeHPC)
	assert.Equal(t, "xehpg", XeHPG.String())
	gen, err := ParseGen("Xe2")
	require.NoError(t, err)
	assert.Equal(t, Xe2, gen)
	info, err := NewWithConfig("xe2:sg=16|32")
	require.NoError(t, err)
	assert.Contains(t, info.String(), "sg=16|32")
}
