// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"fmt"
	"strings"
)

// Op is an instruction opcode.
type Op int

const (
	OpInvalid Op = iota
	OpMov
	OpAdd
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpAsr
	OpMin
	OpMax
	OpCsel
	OpBfn
)

var opNames = []string{"invalid", "mov", "add", "mul", "and", "or", "xor", "shl", "shr", "asr", "min", "max", "csel", "bfn"}

// String implements fmt.Stringer.
func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opNames[op]
}

// NumSources returns the number of source operands of the opcode.
func (op Op) NumSources() int {
	switch op {
	case OpMov:
		return 1
	case OpCsel, OpBfn:
		return 3
	default:
		return 2
	}
}

// IsLogic returns whether the opcode operates on the raw bits of integer operands.
func (op Op) IsLogic() bool {
	switch op {
	case OpAnd, OpOr, OpXor, OpShl, OpShr, OpAsr, OpBfn:
		return true
	}
	return false
}

// Flag is a flag sub-register. Each holds one bit per channel, 16 channels each; a 32 channels
// instruction uses the flag and the next one.
type Flag int

const (
	F0_0 Flag = iota
	F0_1
	F1_0
	F1_1
)

// NumFlags is the number of flag sub-registers.
const NumFlags = 4

// String implements fmt.Stringer.
func (f Flag) String() string {
	return fmt.Sprintf("f%d.%d", int(f)/2, int(f)%2)
}

// CondMod is a conditional modifier: it sets the flag of each channel according to the result.
type CondMod int

const (
	CondNone CondMod = iota
	CondZE
	CondNZ
	CondG
	CondGE
	CondL
	CondLE
)

var condNames = []string{"", "ze", "nz", "g", "ge", "l", "le"}

// String implements fmt.Stringer.
func (c CondMod) String() string {
	if c < 0 || int(c) >= len(condNames) {
		return fmt.Sprintf("CondMod(%d)", int(c))
	}
	return condNames[c]
}

// Mod holds the instruction modifiers.
type Mod struct {
	ExecSize int
	ChanOff  int
	Saturate bool

	Cond     CondMod
	CondFlag Flag

	HasPred bool
	Pred    Flag
}

// Exec returns the modifiers for execution size n.
func Exec(n int) Mod {
	return Mod{ExecSize: n}
}

// WithExecSize returns the modifiers with another execution size.
func (m Mod) WithExecSize(n int) Mod {
	m.ExecSize = n
	return m
}

// WithChanOff returns the modifiers with a channel offset: the predicate and conditional flag bits used
// start at off.
func (m Mod) WithChanOff(off int) Mod {
	m.ChanOff = off
	return m
}

// WithSat returns the modifiers with saturation.
func (m Mod) WithSat() Mod {
	m.Saturate = true
	return m
}

// WithCond returns the modifiers with a conditional modifier writing flag f.
func (m Mod) WithCond(c CondMod, f Flag) Mod {
	m.Cond = c
	m.CondFlag = f
	return m
}

// WithPred returns the modifiers predicated by flag f: only channels with their flag bit set are written.
func (m Mod) WithPred(f Flag) Mod {
	m.HasPred = true
	m.Pred = f
	return m
}

// Instruction is one emitted instruction.
type Instruction struct {
	Op  Op
	Mod Mod
	Dst RegData
	Src []Operand

	// Ctrl is the boolean function of bfn: bit (s2<<2 | s1<<1 | s0) of Ctrl is the result for the
	// source bits s0, s1 and s2.
	Ctrl uint8
}

// String implements fmt.Stringer, for 32 bytes registers.
func (inst Instruction) String() string {
	return inst.Format(32)
}

// Format returns the assembly-like representation of the instruction.
func (inst Instruction) Format(grfBytes int) string {
	var sb strings.Builder
	if inst.Mod.HasPred {
		_, _ = fmt.Fprintf(&sb, "(%s) ", inst.Mod.Pred)
	}
	sb.WriteString(inst.Op.String())
	if inst.Op == OpBfn {
		_, _ = fmt.Fprintf(&sb, ".0x%02x", inst.Ctrl)
	}
	if inst.Mod.Saturate {
		sb.WriteString(".sat")
	}
	if inst.Mod.Cond != CondNone {
		_, _ = fmt.Fprintf(&sb, ".%s.%s", inst.Mod.Cond, inst.Mod.CondFlag)
	}
	_, _ = fmt.Fprintf(&sb, " (%d|M%d) %s", inst.Mod.ExecSize, inst.Mod.ChanOff, inst.Dst.Format(grfBytes))
	for _, src := range inst.Src {
		sb.WriteString(" ")
		if rd, ok := src.(RegData); ok {
			sb.WriteString(rd.Format(grfBytes))
		} else {
			sb.WriteString(src.String())
		}
	}
	return sb.String()
}
