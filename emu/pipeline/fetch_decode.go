package pipeline

import (
	Dv "github.com/hff-git/vcpu32/emu/device"
	"github.com/hff-git/vcpu32/emu/memory"
	"github.com/hff-git/vcpu32/emu/opcodemap"
	"github.com/hff-git/vcpu32/emu/regfile"
	"github.com/hff-git/vcpu32/emu/tlb"
)

// privilegedOpcode reports whether an opcode may execute only in
// kernel mode (spec.md §4.5 step 5, §4.7's list of privileged ops).
func privilegedOpcode(op uint8) bool {
	switch op {
	case opcodemap.OpRFI, opcodemap.OpITLB, opcodemap.OpPTLB, opcodemap.OpPCA,
		opcodemap.OpLDPA, opcodemap.OpMR, opcodemap.OpDIAG:
		return true
	default:
		return false
	}
}

// targetReg returns the register this instruction will write, used by
// the hazard check below. -1 means "writes nothing."
func targetReg(word uint32) int {
	op := opcodemap.Opcode(word)
	switch opcodemap.Format(op) {
	case opcodemap.FmtReg3:
		return int(opcodemap.DecodeReg3(word).T)
	case opcodemap.FmtMem:
		f := opcodemap.DecodeMem(word)
		if op == opcodemap.OpLD || op == opcodemap.OpLDA || op == opcodemap.OpLDR || op == opcodemap.OpLDPA || op == opcodemap.OpPRB || op == opcodemap.OpLDO {
			return int(f.T)
		}
		return -1
	case opcodemap.FmtBranch:
		if opcodemap.DecodeBranch(word).Link {
			return int(opcodemap.DecodeBranch(word).T)
		}
		return -1
	case opcodemap.FmtImm22:
		return int(opcodemap.DecodeImm22(word).T)
	default:
		return -1
	}
}

// processFetchDecode implements spec.md §4.5. Called after
// processMemoryAccess within the same Process() pass, so a branch MA
// resolves this cycle has already redirected Regs' IA by the time FD
// reads it below: FD's own fresh fetch from the corrected target
// replaces what would otherwise need an explicit squash.
func (m *Machine) processFetchDecode() trapRequest {
	if m.maAccessBusy {
		// MA is retrying a multi-cycle access against the instruction
		// already latched ahead of it; hold this stage's output steady
		// rather than overwrite what MA is still working from.
		return trapRequest{}
	}

	seg := m.Regs.IASeg()
	ofs := m.Regs.IAOfs()

	entry, ok := m.ITLB.Instr().Lookup(seg, ofs)
	if !ok {
		m.FDCounters.TrapsRaised++
		return trapRequest{id: InstrTLBMiss, stage: stageFD, seg: seg, ia: ofs}
	}
	priv := 0
	if m.Regs.Privileged() {
		priv = 1
	}
	if int(tlb.PrivL1(entry.AInfo)) > priv {
		m.FDCounters.TrapsRaised++
		return trapRequest{id: InstrProtection, stage: stageFD, seg: seg, ia: ofs}
	}

	phys := tlb.PhysPage(entry.PInfo)<<12 | (ofs & 0xfff)
	req := memory.Request{Ofs: phys, Len: 4, Priority: 1}
	word, done := m.ICache.ReadWord(req)
	if !done {
		m.fdFetchBusy = true
		latchBit(&m.FD.Stalled, true)
		m.FD.InjectBubble()
		return trapRequest{}
	}
	m.fdFetchBusy = false

	op := opcodemap.Opcode(word)
	if privilegedOpcode(op) && !m.Regs.Privileged() {
		m.FDCounters.TrapsRaised++
		return trapRequest{id: PrivilegeViolation, stage: stageFD, seg: seg, ia: ofs}
	}

	// Hazard check against the instructions currently resident in MA
	// (this machine's m.FD bundle, not yet consumed) and in EX (m.MA):
	// no forwarding is implemented, so any overlap stalls fetch until
	// the writer retires.
	a, b, x := decodeOperandRegs(word)
	if hazard(m.FD, a) || hazard(m.FD, b) || hazard(m.FD, x) ||
		hazard(m.MA, a) || hazard(m.MA, b) || hazard(m.MA, x) {
		latchBit(&m.FD.Stalled, true)
		m.FD.InjectBubble()
		return trapRequest{}
	}

	m.FD.Psw0.Load(seg)
	m.FD.Psw1.Load(ofs)
	m.FD.Instr.Load(word)
	m.FD.ValA.Load(regOrZero(m.Regs, a))
	m.FD.ValB.Load(regOrZero(m.Regs, b))
	m.FD.ValX.Load(regOrZero(m.Regs, x))
	m.FD.Bubble.Load(0)
	latchBit(&m.FD.Stalled, false)

	m.Regs.SetIA(seg, ofs+4)
	m.FDCounters.InstrFetched++
	switch op {
	case opcodemap.OpLD:
		m.FDCounters.InstrLoad++
	case opcodemap.OpST:
		m.FDCounters.InstrStor++
	}
	return trapRequest{}
}

// decodeOperandRegs returns the general-register ids this instruction
// reads, or -1 where the format has no such operand.
func decodeOperandRegs(word uint32) (a, b, x int) {
	a, b, x = -1, -1, -1
	op := opcodemap.Opcode(word)
	switch opcodemap.Format(op) {
	case opcodemap.FmtReg3:
		f := opcodemap.DecodeReg3(word)
		a, b = int(f.A), int(f.B)
	case opcodemap.FmtMem:
		f := opcodemap.DecodeMem(word)
		b, x = int(f.B), int(f.X)
		if op == opcodemap.OpST || op == opcodemap.OpSTA || op == opcodemap.OpSTC {
			// Store family reads T as the value to write, not a
			// target: ValA carries it through to memory-access.
			a = int(f.T)
		}
	case opcodemap.FmtBranch:
		f := opcodemap.DecodeBranch(word)
		a, b = int(f.A), int(f.B)
	}
	return
}

func regOrZero(regs *regfile.File, idx int) uint32 {
	if idx < 0 {
		return 0
	}
	return regs.Read(Dv.General, idx)
}

// hazard reports a read-after-write dependency against an in-flight
// instruction in a later stage bundle. This implementation does not
// forward; any overlap stalls FD until the writer retires.
func hazard(stage *Bundle, reg int) bool {
	if reg < 0 || stage.IsBubble() {
		return false
	}
	w := targetReg(stage.Instr.Get())
	return w == reg
}

