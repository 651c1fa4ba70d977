// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package emulator implements a register file interpreter for the instructions of package isa.
//
// It is used to check generated code: tests load values into the registers, run the emitted program and
// compare the results with reference conversions. It models the register regions, type conversions,
// source and conditional modifiers, predication and saturation; it doesn't model timing or any
// instruction restriction beyond isa.Validate.
//
// A Machine is also an isa.Host: instructions emitted to it are executed immediately.
package emulator

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gpujit/pkg/gpu/hw"
	"github.com/gomlx/gpujit/pkg/gpu/isa"
	"k8s.io/klog/v2"
)

// Machine holds the register file and the flag registers of one hardware thread.
type Machine struct {
	info  *hw.Info
	grf   []byte
	flags uint64

	// Executed counts the instructions executed so far.
	Executed int
}

var _ isa.Host = (*Machine)(nil)

// New returns a machine with all registers and flags zeroed.
func New(info *hw.Info) *Machine {
	return &Machine{
		info: info,
		grf:  make([]byte, info.NumGRFs*info.GRFBytes),
	}
}

// Info implements isa.Host.
func (m *Machine) Info() *hw.Info { return m.info }

// Emit implements isa.Host: the instruction is executed immediately.
func (m *Machine) Emit(inst isa.Instruction) { m.Exec(inst) }

// Run executes all the instructions of the program, in order.
func (m *Machine) Run(prog *isa.Program) {
	for _, inst := range prog.Insts {
		m.Exec(inst)
	}
}

// Fill sets every byte of the register file to pattern. Useful to detect reads of unset registers.
func (m *Machine) Fill(pattern byte) {
	for ii := range m.grf {
		m.grf[ii] = pattern
	}
}

// Flags returns the flag registers: flag f channel c is bit f*16+c.
func (m *Machine) Flags() uint64 { return m.flags }

// SetFlags sets the flag registers, see Flags.
func (m *Machine) SetFlags(flags uint64) { m.flags = flags }

// Write copies data into the register file starting at the absolute byte address byteOff.
func (m *Machine) Write(byteOff int, data []byte) {
	if byteOff < 0 || byteOff+len(data) > len(m.grf) {
		exceptions.Panicf("emulator: writing %d bytes at %d, out of the register file", len(data), byteOff)
	}
	copy(m.grf[byteOff:], data)
}

// Read returns a copy of n bytes of the register file starting at the absolute byte address byteOff.
func (m *Machine) Read(byteOff, n int) []byte {
	if byteOff < 0 || byteOff+n > len(m.grf) {
		exceptions.Panicf("emulator: reading %d bytes at %d, out of the register file", n, byteOff)
	}
	return append([]byte(nil), m.grf[byteOff:byteOff+n]...)
}

// elemBit returns the absolute bit address of element i of the buffer view.
func (m *Machine) elemBit(buf isa.RegBufData, i int) int {
	if buf.IsEmpty() {
		exceptions.Panicf("emulator: access to an empty buffer")
	}
	return buf.Range().Base*m.info.GRFBytes*8 + buf.BitOffset() + i*buf.Type().Bits()
}

// SetElem sets the raw bits of element i (in units of the view type) of the buffer view.
func (m *Machine) SetElem(buf isa.RegBufData, i int, bits uint64) {
	m.writeBits(m.elemBit(buf, i), buf.Type().Bits(), bits)
}

// Elem returns the raw bits of element i of the buffer view.
func (m *Machine) Elem(buf isa.RegBufData, i int) uint64 {
	return m.readBits(m.elemBit(buf, i), buf.Type().Bits())
}

// SetFloat converts x to the type of the view (rounding to nearest even) and stores it as element i.
func (m *Machine) SetFloat(buf isa.RegBufData, i int, x float64) {
	m.SetElem(buf, i, encode(buf.Type(), value{float: true, f: x}, false))
}

// Float returns element i of the view converted to float64.
func (m *Machine) Float(buf isa.RegBufData, i int) float64 {
	return load(buf.Type(), m.Elem(buf, i)).asFloat()
}

func (m *Machine) readBits(bitAddr, nbits int) uint64 {
	if bitAddr < 0 || (bitAddr+nbits+7)/8 > len(m.grf) {
		exceptions.Panicf("emulator: bit address %d out of the register file", bitAddr)
	}
	if nbits < 8 {
		b := m.grf[bitAddr/8]
		return uint64(b>>(bitAddr%8)) & (1<<nbits - 1)
	}
	if bitAddr%8 != 0 {
		exceptions.Panicf("emulator: unaligned access of %d bits at bit %d", nbits, bitAddr)
	}
	var res uint64
	base := bitAddr / 8
	for ii := nbits/8 - 1; ii >= 0; ii-- {
		res = res<<8 | uint64(m.grf[base+ii])
	}
	return res
}

func (m *Machine) writeBits(bitAddr, nbits int, bits uint64) {
	if bitAddr < 0 || (bitAddr+nbits+7)/8 > len(m.grf) {
		exceptions.Panicf("emulator: bit address %d out of the register file", bitAddr)
	}
	if nbits < 8 {
		shift := bitAddr % 8
		mask := byte(1<<nbits-1) << shift
		b := &m.grf[bitAddr/8]
		*b = *b&^mask | byte(bits<<shift)&mask
		return
	}
	if bitAddr%8 != 0 {
		exceptions.Panicf("emulator: unaligned access of %d bits at bit %d", nbits, bitAddr)
	}
	base := bitAddr / 8
	for ii := range nbits / 8 {
		m.grf[base+ii] = byte(bits >> (8 * ii))
	}
}

func flagBit(f isa.Flag, ch int) uint64 {
	return 1 << (int(f)*16 + ch)
}

// Exec executes one instruction. It panics if the instruction doesn't validate.
//
// All sources are read before any destination element is written, so sources and destination may overlap.
func (m *Machine) Exec(inst isa.Instruction) {
	grfBytes := m.info.GRFBytes
	if err := isa.Validate(inst, grfBytes); err != nil {
		exceptions.Panicf("emulator: %+v", err)
	}
	if klog.V(3).Enabled() {
		klog.Infof("exec: %s", inst.Format(grfBytes))
	}
	m.Executed++
	esize := inst.Mod.ExecSize
	logic := inst.Op.IsLogic()
	srcs := make([]value, len(inst.Src))
	results := make([]uint64, esize)
	enabled := make([]bool, esize)
	conds := make([]bool, esize)
	for ch := range esize {
		enabled[ch] = !inst.Mod.HasPred || m.flags&flagBit(inst.Mod.Pred, inst.Mod.ChanOff+ch) != 0
		if !enabled[ch] {
			continue
		}
		for ii, src := range inst.Src {
			srcs[ii] = m.readOperand(src, ch, esize, logic)
		}
		res := compute(inst, srcs)
		bits := encode(inst.Dst.Type, res, inst.Mod.Saturate)
		results[ch] = bits
		if inst.Mod.Cond != isa.CondNone && inst.Op != isa.OpCsel {
			conds[ch] = testCond(inst.Mod.Cond, load(inst.Dst.Type, bits))
		}
	}

	for ch := range esize {
		if !enabled[ch] {
			continue
		}
		if !inst.Dst.Null {
			m.writeBits(inst.Dst.ChannelBit(ch, esize, grfBytes, true), inst.Dst.Type.Bits(), results[ch])
		}
		if inst.Mod.Cond != isa.CondNone && inst.Op != isa.OpCsel {
			bit := flagBit(inst.Mod.CondFlag, inst.Mod.ChanOff+ch)
			if conds[ch] {
				m.flags |= bit
			} else {
				m.flags &^= bit
			}
		}
	}
}

func (m *Machine) readOperand(op isa.Operand, ch, esize int, logic bool) value {
	switch src := op.(type) {
	case isa.Immediate:
		return load(src.Type, src.Bits)
	case isa.RegData:
		bit := src.ChannelBit(ch, esize, m.info.GRFBytes, false)
		v := load(src.Type, m.readBits(bit, src.Type.Bits()))
		return applyModifiers(v, src.AbsMod, src.NegMod, logic)
	}
	exceptions.Panicf("emulator: unknown operand %T", op)
	return value{}
}
