/*
   Driver: a synchronous console/debugger façade over a pipeline.Machine,
   exposing register peek/poke, stepping, breakpoints, TLB/cache
   management, and memory-dump persistence (spec.md §6.1-§6.3). Unlike
   the goroutine/channel front end a packet-switched host would need,
   every operation here runs to completion on the caller's goroutine:
   there is no event loop to feed.

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
package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	asm "github.com/hff-git/vcpu32/emu/assemble"
	Dv "github.com/hff-git/vcpu32/emu/device"
	dis "github.com/hff-git/vcpu32/emu/disassemble"
	"github.com/hff-git/vcpu32/emu/memory"
	"github.com/hff-git/vcpu32/emu/pipeline"
	"github.com/hff-git/vcpu32/emu/regfile"
	"github.com/hff-git/vcpu32/emu/tlb"
	"github.com/hff-git/vcpu32/util/debug"
)

// ResetScope selects what a Reset call clears (spec.md §6.1).
type ResetScope int

const (
	ResetCPU ResetScope = iota
	ResetMemory
	ResetStats
	ResetAll
)

// consolePriority is the arbitration priority given to debugger-issued
// direct memory accesses. These never contend with pipeline traffic
// (they drive a layer in isolation, outside Machine.Process), so the
// value only matters if a caller inspects the Request it built.
const consolePriority = 1 << 30

type breakpoint struct {
	seg, ofs uint32
}

// Driver wraps a *pipeline.Machine with the operations a console or
// debugger needs, none of which the Machine itself exposes: scoped
// reset, breakpoints, TLB/cache management by selector, absolute
// memory access that bypasses the normal fetch/load path, and
// persistence. Breakpoints and the trace flag are debugger state, not
// machine state: they survive every Reset scope.
type Driver struct {
	M *pipeline.Machine

	breakpoints []breakpoint

	trace    bool
	traceOut io.Writer
}

// NewDriver wraps an already-wired machine.
func NewDriver(m *pipeline.Machine) *Driver {
	return &Driver{M: m, traceOut: os.Stdout}
}

// SetTrace turns the symbolic single-step trace on or off. When on,
// every instruction that retires through EX during ClockStep/InstrStep
// is disassembled and written to w (spec.md's supplemented
// "symbolic single-step trace" feature, replacing the teacher's
// commented-out fetch trace with a real, switchable one).
func (d *Driver) SetTrace(on bool, w io.Writer) {
	d.trace = on
	if w != nil {
		d.traceOut = w
	}
}

// Reset clears the requested scope. TLBs are treated as CPU state
// (they hold in-flight translations, not guest data) and are purged
// under ResetCPU/ResetAll; layer contents are cleared under
// ResetMemory/ResetAll; every counter (pipeline stage counters, cache
// stats, TLB stats) is zeroed under ResetStats/ResetAll.
func (d *Driver) Reset(scope ResetScope) {
	debug.Debugf(debug.Core, "reset scope=%d", scope)
	switch scope {
	case ResetCPU:
		d.resetCPU()
	case ResetMemory:
		d.resetMemory()
	case ResetStats:
		d.resetStats()
	case ResetAll:
		d.resetCPU()
		d.resetMemory()
		d.resetStats()
	}
}

func (d *Driver) resetCPU() {
	d.M.Regs.Reset()
	d.M.FD.Reset()
	d.M.MA.Reset()
	d.M.EX.Reset()
	d.M.EnableTraps()
	for _, t := range d.tlbTables() {
		t.PurgeAll()
	}
}

func (d *Driver) resetMemory() {
	for _, l := range d.layers() {
		l.Reset()
	}
}

func (d *Driver) resetStats() {
	d.M.FDCounters = pipeline.Counters{}
	d.M.MACounters = pipeline.Counters{}
	d.M.EXCounters = pipeline.Counters{}
	for _, l := range d.layers() {
		l.ResetStats()
	}
	for _, t := range d.tlbTables() {
		t.ResetStats()
	}
}

// layers returns every distinct memory layer in the machine, skipping
// the ones a minimal configuration leaves nil.
func (d *Driver) layers() []*memory.Layer {
	seen := map[*memory.Layer]bool{}
	var out []*memory.Layer
	add := func(l *memory.Layer) {
		if l != nil && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	add(d.M.ICache)
	add(d.M.DCache)
	add(d.M.L2)
	add(d.M.Phys)
	add(d.M.Pdc)
	add(d.M.Io)
	return out
}

// tlbTables returns every distinct physical TLB table backing ITLB
// and DTLB, deduplicated so a unified configuration (where both units,
// or both ports of a unit, alias the same table) is only purged once.
func (d *Driver) tlbTables() []*tlb.Table {
	seen := map[*tlb.Table]bool{}
	var out []*tlb.Table
	add := func(t *tlb.Table) {
		if t != nil && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	add(d.M.ITLB.Instr())
	add(d.M.ITLB.Data())
	add(d.M.DTLB.Instr())
	add(d.M.DTLB.Data())
	return out
}

// tick1 advances the machine one clock and, if tracing is on, prints
// the instruction that just retired through EX.
func (d *Driver) tick1() {
	d.M.Tick()
	d.M.Process()
	debug.Debugf(debug.Pipeline, "tick fetched=%d executed=%d", d.M.FDCounters.InstrFetched, d.M.EXCounters.InstrExecuted)
	if d.trace && !d.M.EX.IsBubble() {
		seg := d.M.EX.Psw0.Get()
		ofs := d.M.EX.Psw1.Get()
		word := d.M.EX.Instr.Get()
		fmt.Fprintf(d.traceOut, "%04x:%08x  %s\n", seg, ofs, dis.Disassemble(word))
	}
}

// ClockStep advances the machine n clocks (spec.md §6.1).
func (d *Driver) ClockStep(n int) {
	for i := 0; i < n; i++ {
		d.tick1()
	}
}

// InstrStep advances the machine until n instructions have retired
// through EX, or a breakpoint's (segment, offset) is reached, halting
// early in the latter case. Returns how many instructions actually
// retired and whether a breakpoint caused an early stop.
func (d *Driver) InstrStep(n int) (executed int, stoppedAtBreakpoint bool) {
	for executed < n {
		target := d.M.EXCounters.InstrExecuted + 1
		for d.M.EXCounters.InstrExecuted < target {
			d.tick1()
		}
		executed++
		if d.atBreakpoint() {
			stoppedAtBreakpoint = true
			return
		}
	}
	return
}

func (d *Driver) atBreakpoint() bool {
	// The instruction that just retired: EX loaded its address into the
	// in side of its bundle during this cycle's Process.
	seg, ofs := d.M.EX.Psw0.Peek(), d.M.EX.Psw1.Peek()
	for _, bp := range d.breakpoints {
		if bp.seg == seg && bp.ofs == ofs {
			return true
		}
	}
	return false
}

// SetBreakpoint/ClearBreakpoint/ListBreakpoints manage the breakpoint
// set, keyed on the (segment, offset) pair the instruction-TLB
// actually translates against, not a bare linear offset (a
// supplemented feature grounded in the original driver's breakpoint
// list; see SPEC_FULL.md).
func (d *Driver) SetBreakpoint(seg, ofs uint32) {
	if d.atBreakpointAdr(seg, ofs) {
		return
	}
	d.breakpoints = append(d.breakpoints, breakpoint{seg, ofs})
}

func (d *Driver) atBreakpointAdr(seg, ofs uint32) bool {
	for _, bp := range d.breakpoints {
		if bp.seg == seg && bp.ofs == ofs {
			return true
		}
	}
	return false
}

func (d *Driver) ClearBreakpoint(seg, ofs uint32) {
	for i, bp := range d.breakpoints {
		if bp.seg == seg && bp.ofs == ofs {
			d.breakpoints = append(d.breakpoints[:i], d.breakpoints[i+1:]...)
			return
		}
	}
}

func (d *Driver) ListBreakpoints() [][2]uint32 {
	out := make([][2]uint32, len(d.breakpoints))
	for i, bp := range d.breakpoints {
		out[i] = [2]uint32{bp.seg, bp.ofs}
	}
	return out
}

// classSize reports the legal index range for a register class, or
// ok=false for an unrecognized class.
func classSize(class int) (int, bool) {
	switch class {
	case Dv.General:
		return regfile.NumGeneral, true
	case Dv.Segment:
		return regfile.NumSegment, true
	case Dv.Control:
		return regfile.NumControl, true
	case Dv.ProgramStatus:
		return 3, true // 0=IASeg, 1=IAOfs, 2=Status
	}
	return 0, false
}

// GetReg reads one register by class/index (spec.md §6.1). Unlike
// regfile.File.Read, an out-of-range request is reported as an error
// rather than a panic: the driver sits behind a console/debugger
// interface where a bad index is operator error, not an
// implementation bug.
func (d *Driver) GetReg(class, index int) (uint32, error) {
	size, ok := classSize(class)
	if !ok {
		return 0, fmt.Errorf("core: unknown register class %d", class)
	}
	if index < 0 || index >= size {
		return 0, fmt.Errorf("core: register index %d out of range for class %d", index, class)
	}
	if class == Dv.ProgramStatus {
		switch index {
		case 0:
			return d.M.Regs.IASeg(), nil
		case 1:
			return d.M.Regs.IAOfs(), nil
		default:
			return d.M.Regs.Status(), nil
		}
	}
	return d.M.Regs.Read(class, index), nil
}

// SetReg writes one register by class/index, taking effect
// immediately (console semantics: a debugger poke must be visible to
// the very next GetReg, not wait a tick), bypassing the architectural
// privilege check that guards an in-program control-register write.
func (d *Driver) SetReg(class, index int, value uint32) error {
	size, ok := classSize(class)
	if !ok {
		return fmt.Errorf("core: unknown register class %d", class)
	}
	if index < 0 || index >= size {
		return fmt.Errorf("core: register index %d out of range for class %d", index, class)
	}
	if class == Dv.ProgramStatus {
		switch index {
		case 0:
			d.M.Regs.SetIA(value, d.M.Regs.IAOfs())
		case 1:
			d.M.Regs.SetIA(d.M.Regs.IASeg(), value)
		default:
			d.M.Regs.SetStatus(value)
		}
		return nil
	}
	d.M.Regs.WriteImmediate(class, index, value)
	return nil
}

// AssembleLine delegates to the one-line assembler (spec.md §6.1,
// §4.9).
func (d *Driver) AssembleLine(line string) (uint32, error) {
	word, err := asm.Assemble(line)
	if err != nil {
		debug.Debugf(debug.Assemble, "assemble %q: %v", line, err)
	}
	return word, err
}

// DisassembleWord delegates to the disassembler. radix is accepted for
// interface symmetry with assembleLine/disassembleWord's spec.md
// signature; the disassembler's numeric fields always render decimal
// today; a hex-rendering mode is a documented open item, not wired
// through here (see DESIGN.md).
func (d *Driver) DisassembleWord(word uint32, radix int) string {
	return dis.Disassemble(word)
}

// tlbTable resolves a Dv.InstrTLB/DataTLB/UnifiedTLB selector to the
// physical table it names.
func (d *Driver) tlbTable(which int) (*tlb.Table, error) {
	switch which {
	case Dv.InstrTLB:
		return d.M.ITLB.Instr(), nil
	case Dv.DataTLB:
		return d.M.DTLB.Data(), nil
	case Dv.UnifiedTLB:
		if d.M.ITLB != d.M.DTLB {
			return nil, fmt.Errorf("core: machine has no unified TLB")
		}
		return d.M.ITLB.Instr(), nil
	}
	return nil, fmt.Errorf("core: unknown TLB selector %d", which)
}

// InsertTlb inserts a translation directly (spec.md §6.1
// insertTlb(which,seg,ofs,acc,adr)), using the combined immediate-commit
// Table.InsertData rather than the two-phase InsertAdr/InsertProt
// pair: a console poke must be visible right away, the way setReg is.
// acc is the access-rights half (AInfo), adr the physical/page-info
// half (PInfo), matching the OpITLB instruction's own T/X register
// roles.
func (d *Driver) InsertTlb(which int, seg, ofs, acc, adr uint32) error {
	t, err := d.tlbTable(which)
	if err != nil {
		return err
	}
	t.InsertData(seg, ofs, adr, acc)
	debug.Debugf(debug.TLB, "insertTlb which=%d seg=%d ofs=%#x acc=%#x adr=%#x", which, seg, ofs, acc, adr)
	return nil
}

// PurgeTlb invalidates one entry (spec.md §6.1 purgeTlb(which,seg,ofs)).
func (d *Driver) PurgeTlb(which int, seg, ofs uint32) error {
	t, err := d.tlbTable(which)
	if err != nil {
		return err
	}
	t.Purge(seg, ofs)
	debug.Debugf(debug.TLB, "purgeTlb which=%d seg=%d ofs=%#x", which, seg, ofs)
	return nil
}

// HashAdr exposes the table's hash function for a given selector
// (spec.md §6.1 hashAdr(which,seg,ofs)), reproducing tlb.HashAdr's
// result using that table's own entry count.
func (d *Driver) HashAdr(which int, seg, ofs uint32) (uint16, error) {
	t, err := d.tlbTable(which)
	if err != nil {
		return 0, err
	}
	return uint16(tlb.HashAdr(seg, ofs, t.NumEntries())), nil
}

// cacheLayer resolves a Dv.InstrCache/DataCache/UnifiedCache selector
// to the layer it names.
func (d *Driver) cacheLayer(which int) (*memory.Layer, error) {
	switch which {
	case Dv.InstrCache:
		return d.M.ICache, nil
	case Dv.DataCache:
		return d.M.DCache, nil
	case Dv.UnifiedCache:
		if d.M.ICache != d.M.DCache {
			return nil, fmt.Errorf("core: machine has no unified cache")
		}
		return d.M.ICache, nil
	}
	return nil, fmt.Errorf("core: unknown cache selector %d", which)
}

// cacheTlbTable picks the TLB table that translates addresses for a
// given cache selector, mirroring OpPCA's own choice of m.DTLB.Data()
// for the data side.
func (d *Driver) cacheTlbTable(which int) (*tlb.Table, error) {
	switch which {
	case Dv.InstrCache:
		return d.M.ITLB.Instr(), nil
	case Dv.DataCache, Dv.UnifiedCache:
		return d.M.DTLB.Data(), nil
	}
	return nil, fmt.Errorf("core: unknown cache selector %d", which)
}

func (d *Driver) lowerOf(l *memory.Layer) *memory.Layer {
	if l == d.M.ICache || l == d.M.DCache {
		if d.M.L2 != nil {
			return d.M.L2
		}
		return d.M.Phys
	}
	return d.M.Phys
}

// FlushCache writes back the block containing the translated
// (seg,ofs) if dirty, the virtual-address counterpart to PurgeCache's
// direct index/set addressing (spec.md §6.1 flushCache(which,seg,ofs),
// grounded on OpPCA's own translate-then-purge sequence in
// emu/pipeline/memory_access.go).
func (d *Driver) FlushCache(which int, seg, ofs uint32) error {
	layer, err := d.cacheLayer(which)
	if err != nil {
		return err
	}
	table, err := d.cacheTlbTable(which)
	if err != nil {
		return err
	}
	entry, ok := table.Lookup(seg, ofs)
	if !ok {
		return fmt.Errorf("core: flushCache: no TLB translation for (%d,%#x)", seg, ofs)
	}
	phys := tlb.PhysPage(entry.PInfo)<<12 | (ofs & 0xfff)
	lower := d.lowerOf(layer)
	req := memory.Request{Ofs: phys, Priority: consolePriority}
	for !layer.FlushBlock(req, lower) {
		layer.Process(lower)
		layer.Tick()
		if lower != nil {
			lower.Process(nil)
			lower.Tick()
		}
	}
	debug.Debugf(debug.Memory, "flushCache which=%d seg=%d ofs=%#x phys=%#x", which, seg, ofs, phys)
	return nil
}

// PurgeCache invalidates one cache line addressed directly by
// (index, set), with no TLB translation (spec.md §6.1
// purgeCache(which,index,set)): the debug-only counterpart to
// FlushCache's virtual-address form.
func (d *Driver) PurgeCache(which int, index, set int) error {
	layer, err := d.cacheLayer(which)
	if err != nil {
		return err
	}
	layer.PurgeSet(index, set)
	debug.Debugf(debug.Memory, "purgeCache which=%d index=%d set=%d", which, index, set)
	return nil
}

// resolvePhysLayer picks which leaf layer (Pdc/Io/Phys) an absolute
// physical address belongs to, the same resolution pipeline.Machine
// performs internally for uncacheable accesses.
func (d *Driver) resolvePhysLayer(adr uint32) *memory.Layer {
	if d.M.Pdc != nil && d.M.Pdc.Contains(adr) {
		return d.M.Pdc
	}
	if d.M.Io != nil && d.M.Io.Contains(adr) {
		return d.M.Io
	}
	return d.M.Phys
}

func driveReadWord(l *memory.Layer, req memory.Request) uint32 {
	for {
		v, done := l.ReadWord(req)
		if done {
			return v
		}
		l.Process(nil)
		l.Tick()
	}
}

func driveWriteWord(l *memory.Layer, req memory.Request) {
	for {
		if l.WriteWord(req) {
			return
		}
		l.Process(nil)
		l.Tick()
	}
}

// ReadAbsMem reads length bytes starting at a physical address,
// bypassing the cache hierarchy and TLB translation entirely (spec.md
// §6.1 readAbsMem(ofs,len)): a console inspecting memory addresses it
// directly, the way PDC firmware does.
func (d *Driver) ReadAbsMem(ofs uint32, length int) []byte {
	layer := d.resolvePhysLayer(ofs)
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = byte(driveReadWord(layer, memory.Request{Ofs: ofs + uint32(i), Len: 1, Priority: consolePriority}))
	}
	return out
}

// WriteAbsMem is ReadAbsMem's write counterpart (spec.md §6.1
// writeAbsMem(ofs,bytes)).
func (d *Driver) WriteAbsMem(ofs uint32, data []byte) {
	layer := d.resolvePhysLayer(ofs)
	for i, b := range data {
		driveWriteWord(layer, memory.Request{Ofs: ofs + uint32(i), Len: 1, Value: uint32(b), Priority: consolePriority})
	}
}

func (d *Driver) readAbsWord(ofs uint32) uint32 {
	layer := d.resolvePhysLayer(ofs)
	return driveReadWord(layer, memory.Request{Ofs: ofs, Len: 4, Priority: consolePriority})
}

func (d *Driver) writeAbsWord(ofs, value uint32) {
	layer := d.resolvePhysLayer(ofs)
	driveWriteWord(layer, memory.Request{Ofs: ofs, Len: 4, Value: value, Priority: consolePriority})
}

// SaveMemToFile dumps [ofs, ofs+length) of physical memory to path in
// the persistent memory-dump format of spec.md §6.3: one
// "MA <hex addr> <8 hex words>" line per 32-byte-aligned group that
// contains at least one non-zero word, all-zero groups omitted.
func (d *Driver) SaveMemToFile(path string, ofs, length uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	start := ofs &^ 31
	end := ofs + length
	for group := start; group < end; group += 32 {
		var words [8]uint32
		nonZero := false
		for i := 0; i < 8; i++ {
			words[i] = d.readAbsWord(group + uint32(i)*4)
			if words[i] != 0 {
				nonZero = true
			}
		}
		if !nonZero {
			continue
		}
		fmt.Fprintf(w, "MA %08X", group)
		for _, v := range words {
			fmt.Fprintf(w, " %08X", v)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// LoadMemFromFile replays a dump written by SaveMemToFile, restoring
// every word each "MA" line names.
func (d *Driver) LoadMemFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "MA" {
			return fmt.Errorf("core: malformed memory-dump line %q", line)
		}
		adr, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil {
			return fmt.Errorf("core: malformed address in %q: %w", line, err)
		}
		for i, tok := range fields[2:] {
			v, err := strconv.ParseUint(tok, 16, 32)
			if err != nil {
				return fmt.Errorf("core: malformed word in %q: %w", line, err)
			}
			d.writeAbsWord(uint32(adr)+uint32(i)*4, uint32(v))
		}
	}
	return scanner.Err()
}
