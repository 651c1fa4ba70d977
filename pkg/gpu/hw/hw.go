// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hw models the GPU generations and the device properties the code generators depend on:
// register file geometry, hardware thread count, supported sub-group sizes and which conversions
// have native instructions.
//
// Devices are created from a configuration string, see NewWithConfig.
package hw

import (
	"fmt"
	"slices"
	"strings"
)

// Gen is the GPU hardware generation. Generations are ordered, so comparisons like `gen >= XeHPC` are meaningful.
type Gen int

const (
	GenInvalid Gen = iota
	Gen9
	Gen11
	XeLP
	XeHP
	XeHPG
	XeHPC
	Xe2
	Xe3
)

var genNames = []string{"invalid", "gen9", "gen11", "xelp", "xehp", "xehpg", "xehpc", "xe2", "xe3"}

// String implements fmt.Stringer.
func (g Gen) String() string {
	if g < 0 || int(g) >= len(genNames) {
		return fmt.Sprintf("Gen(%d)", int(g))
	}
	return genNames[g]
}

// Info describes one device.
//
// It is a plain struct: callers may tweak fields after creation (e.g. in tests), but it should be treated
// as read-only once handed to a generator.
type Info struct {
	Gen Gen

	// EUCount is the number of execution units, ThreadsPerEU the number of hardware threads per EU.
	EUCount, ThreadsPerEU int

	// GRFBytes is the size of one general register, NumGRFs the number of registers per thread.
	GRFBytes, NumGRFs int

	// Systolic indicates whether the device has systolic arrays (DPAS). Devices with systolic support also
	// convert float32 to bfloat16 natively.
	Systolic bool

	// SubGroupSizes lists the supported SIMD widths.
	SubGroupSizes []int
}

// HWThreads returns the total number of hardware threads of the device.
func (info *Info) HWThreads() int {
	return info.EUCount * info.ThreadsPerEU
}

// MayUseSubGroup returns whether a sub-group (SIMD width) of the given size is supported.
func (info *Info) MayUseSubGroup(size int) bool {
	return slices.Contains(info.SubGroupSizes, size)
}

// GRFSize returns the number of bytes in one general register.
func (info *Info) GRFSize() int {
	return info.GRFBytes
}

// Generation returns the hardware generation.
func (info *Info) Generation() Gen {
	return info.Gen
}

// NativeBF16 returns whether float32 to bfloat16 conversion is a native move.
func (info *Info) NativeBF16() bool {
	return info.Systolic
}

// NativeBF8 returns whether half <-> bf8 (E5M2) conversions are native moves.
func (info *Info) NativeBF8() bool {
	return info.Gen >= XeHPC
}

// NativeHF8 returns whether half <-> hf8 (E4M3) conversions are native moves.
func (info *Info) NativeHF8() bool {
	return info.Gen >= Xe3
}

// HasBFN returns whether the 3-source boolean function instruction (bfn) is available.
func (info *Info) HasBFN() bool {
	return info.Gen >= XeHPG
}

// HasInt64 returns whether 64 bits integer moves are native.
func (info *Info) HasInt64() bool {
	return info.Gen != XeLP && info.Gen != XeHPG
}

// String implements fmt.Stringer.
func (info *Info) String() string {
	sgs := make([]string, len(info.SubGroupSizes))
	for ii, sg := range info.SubGroupSizes {
		sgs[ii] = fmt.Sprintf("%d", sg)
	}
	return fmt.Sprintf("%s:eus=%d,threads=%d,grf=%d,regs=%d,systolic=%v,sg=%s",
		info.Gen, info.EUCount, info.ThreadsPerEU, info.GRFBytes, info.NumGRFs, info.Systolic,
		strings.Join(sgs, "|"))
}

// Clone returns a deep copy of the Info.
func (info *Info) Clone() *Info {
	newInfo := *info
	newInfo.SubGroupSizes = slices.Clone(info.SubGroupSizes)
	return &newInfo
}
