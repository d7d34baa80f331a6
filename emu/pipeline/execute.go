/*
   Execute stage: the ALU, bit-field, shift, system-register, and
   system-control instructions, plus writeback of whatever
   memory-access already computed for loads/branches. Spec.md §4.7.

   Copyright (c) 2026, VCPU-32 Project Contributors

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   THE AUTHORS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/
package pipeline

import (
	Dv "github.com/hff-git/vcpu32/emu/device"
	"github.com/hff-git/vcpu32/emu/opcodemap"
)

// Status-word bit assignments. Only these three bits are architected;
// the rest of the word is reserved for a future condition-code
// extension.
const (
	stCarryBit    = 1 << 0
	stOverflowBit = 1 << 1
	stPrivBit     = 1 << 31
)

// processExecute implements spec.md §4.7. It consumes m.MA (what
// memory-access produced) and commits register-file writes directly;
// there is no further stage bundle downstream.
func (m *Machine) processExecute() trapRequest {
	if m.MA.IsBubble() {
		m.EX.InjectBubble()
		return trapRequest{}
	}

	word := m.MA.Instr.Get()
	op := opcodemap.Opcode(word)
	seg := m.MA.Psw0.Get()
	ia := m.MA.Psw1.Get()

	m.EX.Psw0.Load(seg)
	m.EX.Psw1.Load(ia)
	m.EX.Instr.Load(word)
	m.EX.Bubble.Load(0)

	switch opcodemap.Format(op) {
	case opcodemap.FmtMem:
		return m.exWriteback()
	case opcodemap.FmtBranch:
		return m.exWriteback()
	case opcodemap.FmtImm22:
		return m.exFmtImm22(op, word)
	case opcodemap.FmtSys:
		return m.exFmtSys(op, word, seg, ia)
	default:
		return m.exFmtReg3(op, word, seg, ia)
	}
}

// exWriteback commits the result memory-access already computed for a
// load, LDO, LDPA, PRB, or link branch. noTarget means nothing to
// write (a store, or a branch with no link bit).
func (m *Machine) exWriteback() trapRequest {
	target := m.MA.ValST.Get()
	if target != noTarget {
		m.Regs.Write(Dv.General, int(target), m.MA.ValS.Get())
	}
	m.EXCounters.InstrExecuted++
	return trapRequest{}
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func applyLogicalOpt(opt uint8, v uint32) uint32 {
	if opt&0x1 != 0 {
		return ^v
	}
	return v
}

func evalCmr(cond uint8, a, b int32) bool {
	switch cond {
	case opcodemap.CmrEQ:
		return a == b
	case opcodemap.CmrLT:
		return a < b
	case opcodemap.CmrGT:
		return a > b
	case opcodemap.CmrEV:
		return a%2 == 0
	case opcodemap.CmrNE:
		return a != b
	case opcodemap.CmrLE:
		return a <= b
	case opcodemap.CmrGE:
		return a >= b
	case opcodemap.CmrOD:
		return a%2 != 0
	default:
		return false
	}
}

// extractField/depositField implement EXTR/DEP: position comes from
// the 5-bit PosLen field, length from the 6-bit CondOpt2 field (that
// field otherwise carries a branch/compare condition, unused by these
// two opcodes).
func extractField(v uint32, pos, length uint8) uint32 {
	if length == 0 || length > 32 {
		length = 32
	}
	shifted := v >> (pos & 0x1f)
	if length >= 32 {
		return shifted
	}
	mask := uint32(1)<<length - 1
	return shifted & mask
}

func depositField(base, v uint32, pos, length uint8) uint32 {
	if length == 0 || length > 32 {
		length = 32
	}
	mask := uint32(0xffffffff)
	if length < 32 {
		mask = uint32(1)<<length - 1
	}
	shift := pos & 0x1f
	cleared := base &^ (mask << shift)
	return cleared | ((v & mask) << shift)
}

// doubleShiftRight treats (hi,lo) as a 64-bit value and returns the
// low 32 bits of it shifted right by shift (0-31).
func doubleShiftRight(hi, lo uint32, shift uint8) uint32 {
	wide := (uint64(hi)<<32 | uint64(lo)) >> (shift & 0x1f)
	return uint32(wide)
}

func (m *Machine) getCarry() bool {
	return m.Regs.Status()&stCarryBit != 0
}

func (m *Machine) setFlags(carry, overflow bool) {
	v := m.Regs.Status() &^ uint32(stCarryBit|stOverflowBit)
	if carry {
		v |= stCarryBit
	}
	if overflow {
		v |= stOverflowBit
	}
	m.Regs.LoadStatus(v)
}

// exArith implements ADD/ADC/SUB/SBC. Opt bit 0 requests an overflow
// trap instead of a silent wraparound. The opcode, not an option bit,
// selects carry/borrow chaining from the status word's carry (ADC/SBC).
func (m *Machine) exArith(op uint8, f opcodemap.Reg3Fields, a, b, seg, ia uint32) trapRequest {
	var carryIn uint64
	if (op == opcodemap.OpADC || op == opcodemap.OpSBC) && m.getCarry() {
		carryIn = 1
	}

	var wide uint64
	var carryOut bool
	switch op {
	case opcodemap.OpADD, opcodemap.OpADC:
		wide = uint64(a) + uint64(b) + carryIn
		carryOut = wide > 0xffffffff
	default: // SUB, SBC
		wide = uint64(a) - uint64(b) - carryIn
		carryOut = uint64(a) < uint64(b)+carryIn
	}
	result := uint32(wide)

	sa, sb, sr := int32(a), int32(b), int32(result)
	var overflow bool
	switch op {
	case opcodemap.OpADD, opcodemap.OpADC:
		overflow = (sa >= 0) == (sb >= 0) && (sr >= 0) != (sa >= 0)
	default:
		overflow = (sa >= 0) != (sb >= 0) && (sr >= 0) != (sa >= 0)
	}
	m.setFlags(carryOut, overflow)

	if f.Opt&0x1 != 0 && overflow {
		return trapRequest{id: Overflow, stage: stageEX, seg: seg, ia: ia}
	}
	m.Regs.Write(Dv.General, int(f.T), result)
	return trapRequest{}
}

func (m *Machine) execMr(f opcodemap.Reg3Fields) {
	toSpecial := f.Opt&0x1 == 0
	class := Dv.Segment
	if f.Opt&0x2 != 0 {
		class = Dv.Control
	}
	if toSpecial {
		m.Regs.Write(class, int(f.B), m.Regs.Read(Dv.General, int(f.A)))
		return
	}
	m.Regs.Write(Dv.General, int(f.T), m.Regs.Read(class, int(f.B)))
}

func (m *Machine) execMst(newbits, mask uint32) {
	cur := m.Regs.Status()
	updated := (cur &^ mask) | (newbits & mask)
	m.Regs.LoadStatus(updated)
	if mask&stPrivBit != 0 {
		m.Regs.SetPrivileged(updated&stPrivBit != 0)
	}
}

func (m *Machine) exFmtReg3(op uint8, word uint32, seg, ia uint32) trapRequest {
	f := opcodemap.DecodeReg3(word)
	a := m.MA.ValA.Get()
	b := m.MA.ValB.Get()

	switch op {
	case opcodemap.OpADD, opcodemap.OpADC, opcodemap.OpSUB, opcodemap.OpSBC:
		if trap := m.exArith(op, f, a, b, seg, ia); trap.id != NoTrap {
			return trap
		}
	case opcodemap.OpAND:
		m.Regs.Write(Dv.General, int(f.T), applyLogicalOpt(f.Opt, a&b))
	case opcodemap.OpOR:
		m.Regs.Write(Dv.General, int(f.T), applyLogicalOpt(f.Opt, a|b))
	case opcodemap.OpXOR:
		m.Regs.Write(Dv.General, int(f.T), applyLogicalOpt(f.Opt, a^b))
	case opcodemap.OpCMP:
		m.Regs.Write(Dv.General, int(f.T), boolToWord(evalCond(f.CondOpt2&0x3, int32(a), int32(b))))
	case opcodemap.OpCMPU:
		m.Regs.Write(Dv.General, int(f.T), boolToWord(evalCondU(f.CondOpt2&0x3, a, b)))
	case opcodemap.OpCMR:
		if evalCmr(f.CondOpt2&0x7, int32(a), int32(b)) {
			m.Regs.Write(Dv.General, int(f.T), a)
		}
	case opcodemap.OpEXTR:
		m.Regs.Write(Dv.General, int(f.T), extractField(a, f.PosLen, f.CondOpt2))
	case opcodemap.OpDEP:
		m.Regs.Write(Dv.General, int(f.T), depositField(b, a, f.PosLen, f.CondOpt2))
	case opcodemap.OpDSR:
		m.Regs.Write(Dv.General, int(f.T), doubleShiftRight(a, b, f.PosLen))
	case opcodemap.OpSHLA:
		m.Regs.Write(Dv.General, int(f.T), a<<(f.PosLen&0x1f)+b)
	case opcodemap.OpLSID:
		m.Regs.Write(Dv.General, int(f.T), seg)
	case opcodemap.OpMR:
		m.execMr(f)
	case opcodemap.OpMST:
		m.execMst(a, b)
	}

	m.EXCounters.InstrExecuted++
	return trapRequest{}
}

func (m *Machine) exFmtImm22(op uint8, word uint32) trapRequest {
	f := opcodemap.DecodeImm22(word)
	imm := f.Imm << 10
	switch op {
	case opcodemap.OpLDIL:
		m.Regs.Write(Dv.General, int(f.T), imm)
	case opcodemap.OpADDIL:
		m.Regs.Write(Dv.General, int(f.T), m.Regs.Read(Dv.General, 1)+imm)
	}
	m.EXCounters.InstrExecuted++
	return trapRequest{}
}

func (m *Machine) exFmtSys(op uint8, word uint32, seg, ia uint32) trapRequest {
	f := opcodemap.DecodeSys(word)
	switch op {
	case opcodemap.OpBRK:
		if f.Code4 == 0 && f.Code16 == 0 {
			m.EXCounters.InstrExecuted++
			return trapRequest{}
		}
		return trapRequest{id: Break, stage: stageEX, seg: seg, ia: ia, info: uint32(f.Code4)<<16 | uint32(f.Code16)}
	case opcodemap.OpDIAG:
		m.EXCounters.InstrExecuted++
		return trapRequest{}
	case opcodemap.OpRFI:
		rseg := m.Regs.Read(Dv.Control, CrSavedSeg)
		rofs := m.Regs.Read(Dv.Control, CrSavedOfs)
		rstat := m.Regs.Read(Dv.Control, CrSavedStat)
		m.Regs.LoadStatus(rstat)
		m.Regs.SetIA(rseg, rofs)
		m.Regs.SetPrivileged(rstat&stPrivBit != 0)
		m.EnableTraps()
		m.EXCounters.InstrExecuted++
		return trapRequest{}
	}
	return trapRequest{}
}
