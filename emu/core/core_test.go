package core

import (
	"os"
	"testing"

	Dv "github.com/hff-git/vcpu32/emu/device"
	"github.com/hff-git/vcpu32/emu/memory"
	"github.com/hff-git/vcpu32/emu/opcodemap"
	"github.com/hff-git/vcpu32/emu/pipeline"
	"github.com/hff-git/vcpu32/emu/regfile"
	"github.com/hff-git/vcpu32/emu/tlb"
)

// testMachine builds a minimal but complete machine: 64K flat physical
// memory, no L2, a unified fully-associative TLB identity-mapping
// every page of segment 0, and small one-way L1s with a one-cycle
// miss latency, the same shape emu/pipeline's own tests use.
func testMachine() *pipeline.Machine {
	regs := regfile.New()
	regs.Reset()

	table := tlb.NewTable(tlb.FullyAssociative, 16, 0)
	unit := tlb.NewUnified(table)
	for page := uint32(0); page < 16; page++ {
		table.InsertData(0, page<<12, (page<<12)|1, 0)
	}

	phys := memory.NewLayer(memory.PhysMem, memory.Config{
		StartAdr: 0, EndAdr: 0xffff, Latency: 1, Priority: 1,
	})
	icache := memory.NewLayer(memory.L1Instr, memory.Config{
		BlockEntries: 4, BlockSize: 16, BlockSets: 1,
		StartAdr: 0, EndAdr: 0xffff, Latency: 1, Priority: 2,
	})
	dcache := memory.NewLayer(memory.L1Data, memory.Config{
		BlockEntries: 4, BlockSize: 16, BlockSets: 1,
		StartAdr: 0, EndAdr: 0xffff, Latency: 1, Priority: 2,
	})

	m := pipeline.NewMachine(regs, unit, unit, icache, dcache, nil, phys, nil, nil)
	m.Reset()
	return m
}

func storeWord(m *pipeline.Machine, ofs, word uint32) {
	req := memory.Request{Ofs: ofs, Len: 4, Value: word, Priority: 9}
	for {
		if m.Phys.WriteWord(req) {
			return
		}
		m.Phys.Tick()
		m.Phys.Process(nil)
	}
}

func TestGetSetRegGeneral(t *testing.T) {
	d := NewDriver(testMachine())
	if err := d.SetReg(Dv.General, 3, 0xdead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := d.GetReg(Dv.General, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0xdead {
		t.Fatalf("got %#x, want 0xdead", got)
	}
}

func TestGetSetRegOutOfRange(t *testing.T) {
	d := NewDriver(testMachine())
	if _, err := d.GetReg(Dv.General, 99); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
	if err := d.SetReg(Dv.Control, -1, 0); err == nil {
		t.Fatalf("expected error for negative index")
	}
}

func TestSetRegProgramStatusTakesEffectImmediately(t *testing.T) {
	d := NewDriver(testMachine())
	if err := d.SetReg(Dv.ProgramStatus, 0, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.SetReg(Dv.ProgramStatus, 1, 0x100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seg, _ := d.GetReg(Dv.ProgramStatus, 0)
	ofs, _ := d.GetReg(Dv.ProgramStatus, 1)
	if seg != 2 || ofs != 0x100 {
		t.Fatalf("got seg=%#x ofs=%#x, want seg=2 ofs=0x100", seg, ofs)
	}
}

func TestClockStepAdvances(t *testing.T) {
	m := testMachine()
	storeWord(m, 0, opcodemap.EncodeSys(opcodemap.SysFields{Opcode: opcodemap.OpBRK}))
	d := NewDriver(m)
	d.ClockStep(20)
	if m.FDCounters.InstrFetched == 0 {
		t.Fatalf("expected at least one fetch after 20 clocks")
	}
}

func TestInstrStepStopsAtBreakpoint(t *testing.T) {
	m := testMachine()
	nop := opcodemap.EncodeSys(opcodemap.SysFields{Opcode: opcodemap.OpBRK})
	for ofs := uint32(0); ofs < 32; ofs += 4 {
		storeWord(m, ofs, nop)
	}
	d := NewDriver(m)
	d.SetBreakpoint(0, 8)
	executed, stopped := d.InstrStep(10)
	if !stopped {
		t.Fatalf("expected breakpoint to stop instrStep")
	}
	if executed == 0 || executed >= 10 {
		t.Fatalf("expected a partial step count, got %d", executed)
	}
}

func TestListAndClearBreakpoints(t *testing.T) {
	d := NewDriver(testMachine())
	d.SetBreakpoint(0, 4)
	d.SetBreakpoint(1, 8)
	if got := len(d.ListBreakpoints()); got != 2 {
		t.Fatalf("got %d breakpoints, want 2", got)
	}
	d.ClearBreakpoint(0, 4)
	if got := len(d.ListBreakpoints()); got != 1 {
		t.Fatalf("got %d breakpoints after clear, want 1", got)
	}
}

func TestAssembleAndDisassembleDelegate(t *testing.T) {
	d := NewDriver(testMachine())
	word, err := d.AssembleLine("ADD r3, r1, r2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := d.DisassembleWord(word, 16)
	if text != "ADD r3,r1,r2" {
		t.Fatalf("got %q", text)
	}
}

func TestInsertAndPurgeTlb(t *testing.T) {
	d := NewDriver(testMachine())
	if err := d.InsertTlb(Dv.UnifiedTLB, 5, 0x3000, 0, (0x7<<12)|1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, err := d.HashAdr(Dv.UnifiedTLB, 5, 0x3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = h
	if err := d.PurgeTlb(Dv.UnifiedTLB, 5, 0x3000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPurgeCacheByIndexSet(t *testing.T) {
	d := NewDriver(testMachine())
	if err := d.PurgeCache(Dv.DataCache, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReadWriteAbsMem(t *testing.T) {
	d := NewDriver(testMachine())
	d.WriteAbsMem(0x40, []byte{0x11, 0x22, 0x33, 0x44})
	got := d.ReadAbsMem(0x40, 4)
	want := []byte{0x11, 0x22, 0x33, 0x44}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestMemoryDumpRoundTrip(t *testing.T) {
	d := NewDriver(testMachine())
	data := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	d.WriteAbsMem(0, data)

	path := "core_test_dump.tmp"
	defer os.Remove(path)

	if err := d.SaveMemToFile(path, 0, 0x1000); err != nil {
		t.Fatalf("save: %v", err)
	}

	d2 := NewDriver(testMachine())
	if err := d2.LoadMemFromFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := d2.ReadAbsMem(0, 8)
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], data[i])
		}
	}
	// every other address remains zero
	rest := d2.ReadAbsMem(32, 16)
	for i, b := range rest {
		if b != 0 {
			t.Fatalf("offset %d: got %#x, want 0", 32+i, b)
		}
	}
}

func TestResetStatsZeroesCountersNotRegisters(t *testing.T) {
	m := testMachine()
	d := NewDriver(m)
	if err := d.SetReg(Dv.General, 1, 0x77); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.EXCounters.InstrExecuted = 5
	d.Reset(ResetStats)
	if m.EXCounters.InstrExecuted != 0 {
		t.Fatalf("expected counters cleared")
	}
	got, _ := d.GetReg(Dv.General, 1)
	if got != 0x77 {
		t.Fatalf("expected register untouched by stats reset, got %#x", got)
	}
}

func TestResetMemoryClearsContentsNotRegisters(t *testing.T) {
	m := testMachine()
	d := NewDriver(m)
	d.WriteAbsMem(0, []byte{1, 2, 3, 4})
	if err := d.SetReg(Dv.General, 2, 0x99); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.Reset(ResetMemory)
	got := d.ReadAbsMem(0, 4)
	for _, b := range got {
		if b != 0 {
			t.Fatalf("expected memory cleared, got %v", got)
		}
	}
	reg, _ := d.GetReg(Dv.General, 2)
	if reg != 0x99 {
		t.Fatalf("expected register untouched by memory reset, got %#x", reg)
	}
}
