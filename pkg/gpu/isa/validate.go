// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"github.com/gomlx/gpujit/internal/xmath"
	"github.com/pkg/errors"
)

// Validate checks that the instruction can be encoded:
//
//   - The execution size is a power of 2, at most 32.
//   - No operand is of a 4 bits type (they must be accessed through wider views).
//   - Each register operand spans at most 2 registers.
//   - Each row of a source region stays within one register.
//   - Horizontal strides are 0, 1, 2 or 4 (destinations: 1, 2 or 4), and widths are powers of 2 up to 16.
func Validate(inst Instruction, grfBytes int) error {
	esize := inst.Mod.ExecSize
	if !xmath.IsPow2(esize) || esize > 32 {
		return errors.Errorf("invalid execution size %d in %q", esize, inst.Format(grfBytes))
	}
	if len(inst.Src) != inst.Op.NumSources() {
		return errors.Errorf("%s takes %d sources, got %d", inst.Op, inst.Op.NumSources(), len(inst.Src))
	}
	if err := validateOperand(inst.Dst, esize, grfBytes, true); err != nil {
		return errors.WithMessagef(err, "destination of %q", inst.Format(grfBytes))
	}
	for ii, src := range inst.Src {
		if src.DType().IsSubByte() {
			return errors.Errorf("source %d of %q: 4 bits types can't be used directly", ii, inst.Format(grfBytes))
		}
		rd, ok := src.(RegData)
		if !ok {
			continue
		}
		if err := validateOperand(rd, esize, grfBytes, false); err != nil {
			return errors.WithMessagef(err, "source %d of %q", ii, inst.Format(grfBytes))
		}
	}
	return nil
}

func validateOperand(rd RegData, esize, grfBytes int, isDst bool) error {
	if rd.Type.IsSubByte() {
		return errors.New("4 bits types can't be used directly")
	}
	if rd.Type.Bits() == 0 {
		return errors.Errorf("invalid type %s", rd.Type)
	}
	if rd.Null {
		return nil
	}
	if rd.BitOffset()%8 != 0 || rd.Offset < 0 {
		return errors.Errorf("invalid element offset %d", rd.Offset)
	}
	vs, width, hs := rd.Region(esize, grfBytes, isDst)
	if isDst {
		if hs != 1 && hs != 2 && hs != 4 {
			return errors.Errorf("invalid destination stride %d", hs)
		}
	} else {
		if hs != 0 && hs != 1 && hs != 2 && hs != 4 {
			return errors.Errorf("invalid horizontal stride %d", hs)
		}
		if !xmath.IsPow2(width) || width > MaxRegionWidth || esize%width != 0 {
			return errors.Errorf("invalid region width %d for execution size %d", width, esize)
		}
		if vs < 0 {
			return errors.Errorf("invalid vertical stride %d", vs)
		}
	}

	bytes := rd.Type.Bits() / 8
	grfBits := grfBytes * 8
	first, last := -1, -1
	for ch := range esize {
		bit := rd.ChannelBit(ch, esize, grfBytes, isDst)
		reg := bit / grfBits
		lastReg := (bit + bytes*8 - 1) / grfBits
		if first == -1 || reg < first {
			first = reg
		}
		last = max(last, lastReg)
		if reg != lastReg {
			return errors.Errorf("element %d crosses a register boundary", ch)
		}
		if !isDst && ch%width != 0 {
			rowStart := rd.ChannelBit(ch-ch%width, esize, grfBytes, isDst) / grfBits
			if rowStart != reg {
				return errors.Errorf("row %d of region <%d;%d,%d> crosses a register boundary", ch/width, vs, width, hs)
			}
		}
	}
	if last-first > 1 {
		return errors.Errorf("operand spans %d registers, at most 2 are allowed", last-first+1)
	}
	return nil
}
