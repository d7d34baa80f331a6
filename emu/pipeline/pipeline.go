/*
   The three-stage pipeline (fetch-decode, memory-access, execute) and
   the machine that wires it to the register file, TLBs, and memory
   hierarchy. Spec.md §4.5-§4.8.

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
	"github.com/hff-git/vcpu32/emu/latch"
	"github.com/hff-git/vcpu32/emu/memory"
	"github.com/hff-git/vcpu32/emu/opcodemap"
	"github.com/hff-git/vcpu32/emu/regfile"
	"github.com/hff-git/vcpu32/emu/tlb"
)

// Control register assignments used by the trap controller to save and
// restore program state across a trap (spec.md §4.8: "IA of the
// faulting instruction saved to a control-reg pair"). Chosen the way
// the teacher reserves low control registers for PSW-old/PSW-new in
// emu/cpu.go's interrupt handling.
const (
	CrSavedSeg   = 0
	CrSavedOfs   = 1
	CrSavedStat  = 2
	CrTrapCause  = 3
)

// Counters are the per-stage observable counters of spec.md §4.5/§4.7.
type Counters struct {
	InstrFetched     uint64
	InstrLoad        uint64
	InstrStor        uint64
	InstrExecuted    uint64
	BranchesTaken    uint64
	BranchesNotTaken uint64
	TrapsRaised      uint64
}

// Machine is the whole cycle-accurate core: register file, TLBs,
// memory hierarchy, and the three pipeline stage bundles.
type Machine struct {
	Regs *regfile.File

	ITLB *tlb.Unit
	DTLB *tlb.Unit

	ICache *memory.Layer
	DCache *memory.Layer
	L2     *memory.Layer // nil: no L2, L1s go straight to Phys
	Phys   *memory.Layer
	Pdc    *memory.Layer
	Io     *memory.Layer

	FD *Bundle
	MA *Bundle
	EX *Bundle

	FDCounters Counters
	MACounters Counters
	EXCounters Counters

	trapsEnabled bool
	trapPending  *trapRequest

	// per-stage in-flight memory requests, needed because cache/TLB
	// operations take more than one cycle and must be retried with an
	// identical request until they report done.
	fdFetchBusy bool
	maAccessBusy bool
}

// NewMachine wires a fully-configured machine. Any of L2/Pdc/Io may be
// nil: L2 absence is a legal configuration (spec.md §3.2/§4.4.2
// resolution), and a minimal test machine may omit ROM/IO space.
func NewMachine(regs *regfile.File, itlb, dtlb *tlb.Unit, icache, dcache, l2, phys, pdc, io *memory.Layer) *Machine {
	return &Machine{
		Regs: regs, ITLB: itlb, DTLB: dtlb,
		ICache: icache, DCache: dcache, L2: l2, Phys: phys, Pdc: pdc, Io: io,
		FD: NewBundle(), MA: NewBundle(), EX: NewBundle(),
		trapsEnabled: true,
	}
}

// Reset clears every latch in the machine (spec.md §4.1).
func (m *Machine) Reset() {
	m.Regs.Reset()
	m.FD.Reset()
	m.MA.Reset()
	m.EX.Reset()
	m.FDCounters = Counters{}
	m.MACounters = Counters{}
	m.EXCounters = Counters{}
	m.trapsEnabled = true
	m.trapPending = nil
	m.fdFetchBusy = false
	m.maAccessBusy = false
}

// lowerOf picks the layer an L1 miss fills from: L2 if present, else
// physical memory directly.
func (m *Machine) lowerOf(l1 *memory.Layer) *memory.Layer {
	if l1 == m.ICache || l1 == m.DCache {
		if m.L2 != nil {
			return m.L2
		}
		return m.Phys
	}
	return m.Phys
}

// resolvePhysLayer picks which leaf layer (Phys/Pdc/Io) a physical
// address belongs to. Nothing in this package calls it: L1 and L2
// fills go to the layer lowerOf or Process names, never to Pdc or Io.
func (m *Machine) resolvePhysLayer(adr uint32) *memory.Layer {
	if m.Pdc != nil && m.Pdc.Contains(adr) {
		return m.Pdc
	}
	if m.Io != nil && m.Io.Contains(adr) {
		return m.Io
	}
	return m.Phys
}

// Tick advances every latch in the machine by one clock: register
// file, pipeline bundles, TLBs, and memory layers. Call before
// Process, per the two-phase discipline of spec.md §4.1.
func (m *Machine) Tick() {
	m.Regs.Tick()
	m.FD.Tick()
	m.MA.Tick()
	m.EX.Tick()
	m.ITLB.Tick()
	if m.DTLB != m.ITLB {
		m.DTLB.Tick()
	}
	for _, l := range m.layers() {
		l.Tick()
	}
}

func (m *Machine) layers() []*memory.Layer {
	var ls []*memory.Layer
	for _, l := range []*memory.Layer{m.ICache, m.DCache, m.L2, m.Phys, m.Pdc, m.Io} {
		if l != nil {
			ls = append(ls, l)
		}
	}
	return ls
}

// Process computes next-cycle values for every stage and every memory
// layer, writing only to in sides (spec.md §4.1). Stages process in
// program order (EX, then MA, then FD) so that a trap raised this
// cycle is known before earlier stages decide whether to advance.
func (m *Machine) Process() {
	m.ITLB.Process()
	if m.DTLB != m.ITLB {
		m.DTLB.Process()
	}
	m.ICache.Process(m.lowerOf(m.ICache))
	m.DCache.Process(m.lowerOf(m.DCache))
	if m.L2 != nil {
		m.L2.Process(m.Phys)
	}
	m.Phys.Process(nil)
	if m.Pdc != nil {
		m.Pdc.Process(nil)
	}
	if m.Io != nil {
		m.Io.Process(nil)
	}

	var traps []trapRequest

	exTrap := m.processExecute()
	if exTrap.id != NoTrap {
		traps = append(traps, exTrap)
	}
	maTrap := m.processMemoryAccess()
	if maTrap.id != NoTrap {
		traps = append(traps, maTrap)
	}
	fdTrap := m.processFetchDecode()
	if fdTrap.id != NoTrap {
		traps = append(traps, fdTrap)
	}

	if winner, ok := arbitrateTraps(traps); ok && m.trapsEnabled {
		m.handleTrap(winner)
	}
}

// handleTrap implements spec.md §4.8: freeze state, flush MA/FD,
// redirect fetch, force kernel privilege, disable further traps.
func (m *Machine) handleTrap(t trapRequest) {
	savedStat := m.Regs.Status() &^ stPrivBit
	if m.Regs.Privileged() {
		savedStat |= stPrivBit
	}
	m.Regs.WriteImmediate(Dv.Control, CrSavedSeg, t.seg)
	m.Regs.WriteImmediate(Dv.Control, CrSavedOfs, t.ia)
	m.Regs.WriteImmediate(Dv.Control, CrSavedStat, savedStat)
	cause := uint32(t.id)
	if t.info != 0 {
		cause = t.info
	}
	m.Regs.WriteImmediate(Dv.Control, CrTrapCause, cause)

	m.MA.InjectBubble()
	m.FD.InjectBubble()

	m.Regs.SetPrivileged(true)
	m.Regs.SetIA(0, trapVector(t.id))
	m.trapsEnabled = false

	switch t.stage {
	case stageEX:
		m.EXCounters.TrapsRaised++
	case stageMA:
		m.MACounters.TrapsRaised++
	case stageFD:
		m.FDCounters.TrapsRaised++
	}
}

// EnableTraps is called by RFI to re-arm trap delivery after a handler
// has restored program state.
func (m *Machine) EnableTraps() {
	m.trapsEnabled = true
}

// ClockStep repeats tick-then-process n times (spec.md §4.1).
func (m *Machine) ClockStep(n int) {
	for i := 0; i < n; i++ {
		m.Tick()
		m.Process()
	}
}

// InstrStep repeats clock steps until n instructions have retired,
// counted by the execute stage (spec.md §4.1). 0 is a no-op.
func (m *Machine) InstrStep(n int) {
	target := m.EXCounters.InstrExecuted + uint64(n)
	for m.EXCounters.InstrExecuted < target {
		m.ClockStep(1)
	}
}

// latchBit is a tiny helper for the 0/1 bool latches (Stalled, Bubble).
func latchBit(r *latch.Register, v bool) {
	if v {
		r.Load(1)
	} else {
		r.Load(0)
	}
}

// decodedOpcode extracts the opcode from a raw instruction word, the
// one piece every stage needs regardless of format.
func decodedOpcode(word uint32) uint8 {
	return opcodemap.Opcode(word)
}
