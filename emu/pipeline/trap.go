/*
   Trap identification and the trap controller (spec.md §4.8).

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

// TrapID enumerates the fault/interrupt conditions a stage can raise
// (spec.md §4.8).
type TrapID int

const (
	NoTrap TrapID = iota
	InstrTLBMiss
	DataTLBMiss
	InstrProtection
	DataProtection
	PrivilegeViolation
	Overflow
	Unaligned
	PageType
	Break
	ExternalInterrupt
	MachineCheck
)

func (t TrapID) String() string {
	switch t {
	case NoTrap:
		return "none"
	case InstrTLBMiss:
		return "instr-tlb-miss"
	case DataTLBMiss:
		return "data-tlb-miss"
	case InstrProtection:
		return "instr-protection"
	case DataProtection:
		return "data-protection"
	case PrivilegeViolation:
		return "privilege-violation"
	case Overflow:
		return "overflow"
	case Unaligned:
		return "unaligned-access"
	case PageType:
		return "page-type"
	case Break:
		return "break"
	case ExternalInterrupt:
		return "external-interrupt"
	case MachineCheck:
		return "machine-check"
	default:
		return "unknown-trap"
	}
}

// stageOrder gives EX > MA > FD priority among traps raised in the
// same cycle (spec.md §4.8).
type stageOrder int

const (
	stageFD stageOrder = iota
	stageMA
	stageEX
)

// trapRequest is one stage's raised trap for the current cycle. info
// carries trap-specific detail (BRK's packed code4/code16) into
// CrTrapCause; zero for every trap that needs no extra detail.
type trapRequest struct {
	id    TrapID
	stage stageOrder
	ia    uint32 // faulting instruction's IA-offset, for PSW save
	seg   uint32
	info  uint32
}

// arbitrateTraps picks the highest-priority trap among those raised
// this cycle: EX beats MA beats FD. Returns ok=false if none raised.
func arbitrateTraps(reqs []trapRequest) (trapRequest, bool) {
	best := trapRequest{}
	found := false
	for _, r := range reqs {
		if r.id == NoTrap {
			continue
		}
		if !found || r.stage > best.stage {
			best = r
			found = true
		}
	}
	return best, found
}

// trapVectorBase is the physical offset of the trap-vector table;
// each trap id gets a fixed-size slot so the redirect is a simple
// multiply-add, matching the teacher's own fixed low-memory PSW-new
// vector convention in emu/cpu.go's interrupt handling.
const trapVectorBase = 0x100
const trapVectorSlotSize = 0x20

func trapVector(id TrapID) uint32 {
	return trapVectorBase + uint32(id)*trapVectorSlotSize
}
