// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package isa models the register operands and instructions emitted by the code generators.
//
// Generators emit through a Host, usually a *Program that records the instructions. A Builder offers
// typed emitters on top of any Host. Every emitted instruction is checked with Validate: emitting an
// instruction that can't be encoded is a bug in the generator and panics.
package isa

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/pkg/core/dtypes"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
)

// Host receives the emitted instructions.
type Host interface {
	Emit(inst Instruction)
	Info() *hw.Info
}

// Program records emitted instructions. It implements Host.
type Program struct {
	info  *hw.Info
	Insts []Instruction
}

var _ Host = (*Program)(nil)

// NewProgram returns an empty program for the device.
func NewProgram(info *hw.Info) *Program {
	return &Program{info: info}
}

// Info implements Host.
func (p *Program) Info() *hw.Info { return p.info }

// Emit implements Host. It panics if the instruction is not valid for the device.
func (p *Program) Emit(inst Instruction) {
	if err := Validate(inst, p.info.GRFBytes); err != nil {
		exceptions.Panicf("invalid instruction emitted for %s: %+v", p.info.Gen, err)
	}
	p.Insts = append(p.Insts, inst)
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Insts) }

// String returns one instruction per line.
func (p *Program) String() string {
	var sb strings.Builder
	for _, inst := range p.Insts {
		sb.WriteString(inst.Format(p.info.GRFBytes))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Builder offers typed emitters over a Host.
type Builder struct {
	Host
}

// NewBuilder returns a Builder emitting to host.
func NewBuilder(host Host) Builder {
	return Builder{Host: host}
}

// GRFBytes returns the register size of the device.
func (b Builder) GRFBytes() int { return b.Info().GRFBytes }

func (b Builder) emit(op Op, mod Mod, dst RegData, srcs ...Operand) {
	b.Emit(Instruction{Op: op, Mod: mod, Dst: dst, Src: srcs})
}

// Mov emits dst = src, converting types.
func (b Builder) Mov(mod Mod, dst RegData, src Operand) { b.emit(OpMov, mod, dst, src) }

// Add emits dst = src0 + src1.
func (b Builder) Add(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpAdd, mod, dst, src0, src1) }

// Mul emits dst = src0 * src1.
func (b Builder) Mul(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpMul, mod, dst, src0, src1) }

// And emits dst = src0 & src1.
func (b Builder) And(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpAnd, mod, dst, src0, src1) }

// Or emits dst = src0 | src1.
func (b Builder) Or(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpOr, mod, dst, src0, src1) }

// Xor emits dst = src0 ^ src1.
func (b Builder) Xor(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpXor, mod, dst, src0, src1) }

// Shl emits dst = src0 << src1.
func (b Builder) Shl(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpShl, mod, dst, src0, src1) }

// Shr emits the logical shift dst = src0 >> src1.
func (b Builder) Shr(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpShr, mod, dst, src0, src1) }

// Asr emits the arithmetic shift dst = src0 >> src1.
func (b Builder) Asr(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpAsr, mod, dst, src0, src1) }

// Min emits dst = min(src0, src1).
func (b Builder) Min(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpMin, mod, dst, src0, src1) }

// Max emits dst = max(src0, src1).
func (b Builder) Max(mod Mod, dst RegData, src0, src1 Operand) { b.emit(OpMax, mod, dst, src0, src1) }

// Csel emits dst = (src2 satisfies the condition of mod) ? src0 : src1. The condition is the conditional
// modifier, and it doesn't write any flag.
func (b Builder) Csel(mod Mod, dst RegData, src0, src1, src2 Operand) {
	b.emit(OpCsel, mod, dst, src0, src1, src2)
}

// Bfn emits the 3 sources boolean function ctrl, see Instruction.Ctrl.
func (b Builder) Bfn(mod Mod, ctrl uint8, dst RegData, src0, src1, src2 Operand) {
	b.Emit(Instruction{Op: OpBfn, Mod: mod, Dst: dst, Src: []Operand{src0, src1, src2}, Ctrl: ctrl})
}

// EMov is Mov, but 64 bits copies on devices without native 64 bits integer moves are split in two 32 bits
// moves, of the low and high halves.
func (b Builder) EMov(mod Mod, dst RegData, src Operand) {
	if b.Info().HasInt64() || dst.Type.Bits() != 64 || src.DType().Bits() != 64 || dst.Type != src.DType() {
		b.Mov(mod, dst, src)
		return
	}
	for half := range 2 {
		dstHalf := dst.Reinterpret(half, dtypes.Uint32).Strided(2 * max(dst.HS, 1))
		var srcHalf Operand
		switch s := src.(type) {
		case RegData:
			if s.Width > 0 {
				srcHalf = s.Reinterpret(half, dtypes.Uint32).WithRegion(2*s.VS, s.Width, 2*s.HS)
			} else {
				srcHalf = s.Reinterpret(half, dtypes.Uint32).Strided(2 * s.HS)
			}
		case Immediate:
			srcHalf = ImmUD(uint32(s.Bits >> (32 * half)))
		}
		b.Mov(mod, dstHalf, srcHalf)
	}
}
