// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package regalloc hands out ranges of general registers to code generators.
//
// An Allocator tracks which registers of the device are in use. A Scope groups the allocations of a
// generator and releases them all at once, usually with `defer scope.Release()`, so every exit path
// (including panics) gives the registers back.
package regalloc

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
)

// Allocator is a first-fit allocator of consecutive registers. It is not safe for concurrent use.
type Allocator struct {
	info        *hw.Info
	inUse       []bool
	count, peak int
}

// NewAllocator returns an allocator with all the registers of the device free.
func NewAllocator(info *hw.Info) *Allocator {
	return &Allocator{info: info, inUse: make([]bool, info.NumGRFs)}
}

// Info returns the device of the allocator.
func (a *Allocator) Info() *hw.Info { return a.info }

// Claim marks the range as used, e.g. the registers holding a kernel's inputs. It panics if any of them is
// already in use.
func (a *Allocator) Claim(r isa.GRFRange) {
	a.checkRange(r)
	for ii := r.Base; ii < r.Base+r.Len; ii++ {
		if a.inUse[ii] {
			exceptions.Panicf("regalloc: claiming r%d which is already in use", ii)
		}
	}
	for ii := r.Base; ii < r.Base+r.Len; ii++ {
		a.inUse[ii] = true
	}
	a.grow(r.Len)
}

func (a *Allocator) grow(n int) {
	a.count += n
	a.peak = max(a.peak, a.count)
}

func (a *Allocator) checkRange(r isa.GRFRange) {
	if r.IsInvalid() || r.Base < 0 || r.Base+r.Len > len(a.inUse) {
		exceptions.Panicf("regalloc: range %s out of the %d registers of the device", r, len(a.inUse))
	}
}

// TryAllocRange returns the first free range of n registers, or an invalid range (see isa.GRFRange.IsInvalid)
// if there is none.
func (a *Allocator) TryAllocRange(n int) isa.GRFRange {
	if n <= 0 {
		exceptions.Panicf("regalloc: allocating %d registers", n)
	}
	run := 0
	for ii, used := range a.inUse {
		if used {
			run = 0
			continue
		}
		run++
		if run == n {
			r := isa.GRFRange{Base: ii - n + 1, Len: n}
			for jj := r.Base; jj <= ii; jj++ {
				a.inUse[jj] = true
			}
			a.grow(n)
			return r
		}
	}
	return isa.GRFRange{}
}

// AllocRange is like TryAllocRange, but it panics if the registers are exhausted.
func (a *Allocator) AllocRange(n int) isa.GRFRange {
	r := a.TryAllocRange(n)
	if r.IsInvalid() {
		exceptions.Panicf("regalloc: out of registers allocating %d (%d of %d in use)", n, a.InUse(), len(a.inUse))
	}
	return r
}

// Release frees the range. Releasing an invalid range is a no-op.
func (a *Allocator) Release(r isa.GRFRange) {
	if r.IsInvalid() {
		return
	}
	a.checkRange(r)
	for ii := r.Base; ii < r.Base+r.Len; ii++ {
		if !a.inUse[ii] {
			exceptions.Panicf("regalloc: releasing r%d which is not in use", ii)
		}
		a.inUse[ii] = false
	}
	a.count -= r.Len
}

// InUse returns the number of registers in use.
func (a *Allocator) InUse() int { return a.count }

// Peak returns the largest number of registers in use at any time.
func (a *Allocator) Peak() int { return a.peak }

// Scope tracks the ranges allocated through it, to release them together.
type Scope struct {
	alloc  *Allocator
	ranges []isa.GRFRange
}

// NewScope returns an empty scope over the allocator.
func NewScope(alloc *Allocator) *Scope {
	return &Scope{alloc: alloc}
}

// Allocator returns the underlying allocator, e.g. to create nested scopes.
func (s *Scope) Allocator() *Allocator { return s.alloc }

// Info returns the device.
func (s *Scope) Info() *hw.Info { return s.alloc.info }

// TryAllocRange allocates n registers, returning an invalid range if there are not enough free.
func (s *Scope) TryAllocRange(n int) isa.GRFRange {
	r := s.alloc.TryAllocRange(n)
	if !r.IsInvalid() {
		s.ranges = append(s.ranges, r)
	}
	return r
}

// AllocRange allocates n registers, it panics if there are not enough free.
func (s *Scope) AllocRange(n int) isa.GRFRange {
	r := s.alloc.AllocRange(n)
	s.ranges = append(s.ranges, r)
	return r
}

// AllocRegBufData allocates n registers and returns a view of them typed as dtype.
func (s *Scope) AllocRegBufData(n int, dtype dtypes.DType) isa.RegBufData {
	return isa.NewRegBufData(s.AllocRange(n), dtype)
}

// TryAllocRegBufData is like AllocRegBufData, but returns an empty view if the registers are exhausted.
func (s *Scope) TryAllocRegBufData(n int, dtype dtypes.DType) isa.RegBufData {
	return isa.NewRegBufData(s.TryAllocRange(n), dtype)
}

// SafeRelease releases a range allocated through the scope before the scope ends. Invalid ranges and ranges
// not owned by the scope are ignored.
func (s *Scope) SafeRelease(r isa.GRFRange) {
	if r.IsInvalid() {
		return
	}
	for ii, owned := range s.ranges {
		if owned == r {
			s.alloc.Release(r)
			s.ranges = append(s.ranges[:ii], s.ranges[ii+1:]...)
			return
		}
	}
}

// Release frees all the ranges still owned by the scope. It can be called multiple times.
func (s *Scope) Release() {
	for _, r := range s.ranges {
		s.alloc.Release(r)
	}
	s.ranges = nil
}
