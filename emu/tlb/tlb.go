/*
   Address translation buffer: virtual (segment,offset) to physical
   page translation with access rights and protection ids.

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
package tlb

import "github.com/hff-git/vcpu32/emu/latch"

// Entry is the four-word packed TLB entry of spec.md §3.3. pInfo and
// aInfo are kept packed (not decoded into separate bool/int fields) so
// a raw entry round-trips through insertData/insertAdr/insertProt the
// way the real hardware register would.
type Entry struct {
	VpnHigh uint32
	VpnLow  uint32
	PInfo   uint32
	AInfo   uint32
	valid   bool
}

// pInfo field layout (bit 0 is LSB).
const (
	pInfoValidBit       = 0
	pInfoDirtyBit       = 1
	pInfoUncacheableBit = 2
	pInfoTrapPageBit    = 3
	pInfoTrapDataBit    = 4
	pInfoPageTypeShift  = 5
	pInfoPageTypeMask   = 0x3
	pInfoPhysPageShift  = 12
)

// aInfo field layout.
const (
	aInfoProtIdShift = 0
	aInfoProtIdMask  = 0xffff
	aInfoL1Shift     = 16
	aInfoL2Shift     = 18
	aInfoPrivMask    = 0x3
	aInfoSegIdShift  = 20
)

func Valid(pInfo uint32) bool       { return pInfo&(1<<pInfoValidBit) != 0 }
func Dirty(pInfo uint32) bool       { return pInfo&(1<<pInfoDirtyBit) != 0 }
func Uncacheable(pInfo uint32) bool { return pInfo&(1<<pInfoUncacheableBit) != 0 }
func TrapPage(pInfo uint32) bool    { return pInfo&(1<<pInfoTrapPageBit) != 0 }
func TrapDataPage(pInfo uint32) bool {
	return pInfo&(1<<pInfoTrapDataBit) != 0
}
func PageType(pInfo uint32) uint32 { return (pInfo >> pInfoPageTypeShift) & pInfoPageTypeMask }
func PhysPage(pInfo uint32) uint32 { return pInfo >> pInfoPhysPageShift }

func ProtId(aInfo uint32) uint32 { return aInfo & aInfoProtIdMask }
func PrivL1(aInfo uint32) uint32 { return (aInfo >> aInfoL1Shift) & aInfoPrivMask }
func PrivL2(aInfo uint32) uint32 { return (aInfo >> aInfoL2Shift) & aInfoPrivMask }
func SegId(aInfo uint32) uint32  { return aInfo >> aInfoSegIdShift }

// Kind selects split vs dual-ported-unified TLB configurations
// (spec.md §4.3).
type Kind int

const (
	Split Kind = iota
	DualPortedUnified
)

// Index selects the addressing discipline within one physical table:
// direct-mapped (hash index) or fully associative (linear scan).
type Index int

const (
	DirectMapped Index = iota
	FullyAssociative
)

// State is the per-table insert state machine (spec.md §4.3).
type State int

const (
	Idle State = iota
	Working
)

// Stats accumulates the counters spec.md §4.3 requires.
type Stats struct {
	Inserts   uint64
	Deletes   uint64
	Accesses  uint64
	Misses    uint64
	WaitCycles uint64
}

// Table is one physical TLB array: either the instruction or data side
// of a Split configuration, or the single array of a
// DualPortedUnified one. InsertLatency is the number of Tick/Process
// cycles insertAdr/insertProt spend in Working before the entry
// becomes valid.
type Table struct {
	index         Index
	entries       []Entry
	insertLatency int

	state  latch.Register // 0=Idle, 1=Working, used for Tick()-discipline symmetry with other components
	wait   int
	pend   Entry
	pendOK bool

	stats Stats
}

// NewTable builds a table with the given number of entries (rounded up
// to a power of two for DirectMapped tables by the caller via
// config) and per-insert latency in clocks.
func NewTable(index Index, numEntries int, insertLatency int) *Table {
	return &Table{
		index:         index,
		entries:       make([]Entry, numEntries),
		insertLatency: insertLatency,
		state:         latch.New(false),
	}
}

// HashAdr is the exposed hash function of spec.md §4.3: combine
// segment id and page-within-segment by XOR-and-rotate into a table
// index. Exposed standalone (not a method) so tests can call it
// without constructing a Table, matching the spec's "exposed to tests
// as hashAdr(seg, ofs)" wording.
func HashAdr(seg, ofs uint32, numEntries int) int {
	page := ofs >> 12
	h := seg ^ page
	h = (h << 5) | (h >> 27)
	if numEntries == 0 {
		return 0
	}
	return int(h) % numEntries
}

func (t *Table) find(seg, ofs uint32) (int, bool) {
	switch t.index {
	case DirectMapped:
		i := HashAdr(seg, ofs, len(t.entries))
		e := &t.entries[i]
		if e.valid && VpnHigh(seg) == e.VpnHigh && vpnLow(ofs) == e.VpnLow {
			return i, true
		}
		return -1, false
	default: // FullyAssociative
		for i := range t.entries {
			e := &t.entries[i]
			if e.valid && VpnHigh(seg) == e.VpnHigh && vpnLow(ofs) == e.VpnLow {
				return i, true
			}
		}
		return -1, false
	}
}

// VpnHigh/vpnLow split a virtual (segment,offset) pair the way
// spec.md §3.3 packs it: VpnHigh carries the segment id, VpnLow the
// page-within-segment (offset with the page-offset bits stripped).
func VpnHigh(seg uint32) uint32 { return seg }
func vpnLow(ofs uint32) uint32  { return ofs >> 12 }

// Lookup performs a one-cycle translation (spec.md §4.3). ok is false
// on a miss; the caller counts that as a TLB-miss trap condition.
func (t *Table) Lookup(seg, ofs uint32) (Entry, bool) {
	t.stats.Accesses++
	i, ok := t.find(seg, ofs)
	if !ok {
		t.stats.Misses++
		return Entry{}, false
	}
	return t.entries[i], true
}

// slotFor picks the entry index a new insert should occupy: the
// matching hash slot for DirectMapped, or the first invalid slot (else
// slot 0, oldest-wins) for FullyAssociative.
func (t *Table) slotFor(seg, ofs uint32) int {
	if t.index == DirectMapped {
		return HashAdr(seg, ofs, len(t.entries))
	}
	for i := range t.entries {
		if !t.entries[i].valid {
			return i
		}
	}
	return 0
}

// InsertAdr begins phase one of the two-phase insert: the
// virtual-address half of a new entry. The entry is not visible to
// Lookup until InsertProt completes and the insert latency elapses.
func (t *Table) InsertAdr(seg, ofs uint32) {
	t.pend = Entry{VpnHigh: VpnHigh(seg), VpnLow: vpnLow(ofs)}
	t.pendOK = false
	t.state.Load(1)
	t.state.Tick()
	// Process commits on the call that finds wait at zero, so starting
	// one below the latency makes that the insertLatency-th call.
	t.wait = t.insertLatency - 1
}

// InsertProt supplies phase two, the physical/access-rights half, and
// starts the Working countdown. Process must be called each cycle
// afterward to advance it; the entry commits (and the state machine
// returns to Idle) once wait reaches zero.
func (t *Table) InsertProt(pInfo, aInfo uint32) {
	t.pend.PInfo = pInfo | (1 << pInfoValidBit)
	t.pend.AInfo = aInfo
	t.pendOK = true
}

// InsertData is the combined insert spec.md §4.3 calls out as "for
// testing": it performs InsertAdr+InsertProt and commits immediately,
// bypassing the Working latency.
func (t *Table) InsertData(seg, ofs, pInfo, aInfo uint32) {
	i := t.slotFor(seg, ofs)
	t.entries[i] = Entry{
		VpnHigh: VpnHigh(seg),
		VpnLow:  vpnLow(ofs),
		PInfo:   pInfo | (1 << pInfoValidBit),
		AInfo:   aInfo,
		valid:   true,
	}
	t.stats.Inserts++
}

// Process advances the insert state machine by one cycle. Call once
// per simulated clock alongside the rest of the machine's process
// phase.
func (t *Table) Process() {
	if t.state.Get() != 1 {
		return
	}
	if t.wait > 0 {
		t.wait--
		t.stats.WaitCycles++
		return
	}
	if t.pendOK {
		i := t.slotFor(t.pend.VpnHigh<<0, t.pend.VpnLow<<12)
		t.entries[i] = t.pend
		t.entries[i].valid = true
		t.stats.Inserts++
	}
	t.pendOK = false
	t.state.Load(0)
}

// Tick advances the latched insert-state register. Part of the global
// tick/process discipline shared with every other component.
func (t *Table) Tick() {
	t.state.Tick()
}

// Working reports whether an insert is in flight.
func (t *Table) Working() bool {
	return t.state.Get() == 1
}

// AbortInsert cancels a partial insert and restores Idle with no
// entry change (spec.md §4.3: "Aborting a partial insert restores
// IDLE with no entry change").
func (t *Table) AbortInsert() {
	t.pendOK = false
	t.wait = 0
	t.state.Load(0)
	t.state.Tick()
}

// Purge invalidates the entry matching (seg, ofs), if present. One
// cycle, per spec.md §4.3.
func (t *Table) Purge(seg, ofs uint32) {
	if i, ok := t.find(seg, ofs); ok {
		t.entries[i] = Entry{}
		t.stats.Deletes++
	}
}

// PurgeAll invalidates every entry, used by reset and by full-TLB
// purge instructions.
func (t *Table) PurgeAll() {
	for i := range t.entries {
		t.entries[i] = Entry{}
	}
}

// Stats returns a snapshot of the accumulated counters.
func (t *Table) Stats() Stats {
	return t.stats
}

// ResetStats zeroes the table's counters without purging its entries
// (spec.md §6.1 reset(stats)).
func (t *Table) ResetStats() {
	t.stats = Stats{}
}

// NumEntries reports the table's entry count, needed by callers (the
// core driver's hashAdr operation) that want to reproduce HashAdr's
// result for a table they don't otherwise index into directly.
func (t *Table) NumEntries() int {
	return len(t.entries)
}

// Unit groups the one or two physical Tables that make up a
// configured TLB (split: instr+data; dual-ported unified: one shared
// table presented through two lookup ports).
type Unit struct {
	kind  Kind
	instr *Table
	data  *Table
}

// NewSplit builds a Split unit with independent instruction and data
// tables.
func NewSplit(instr, data *Table) *Unit {
	return &Unit{kind: Split, instr: instr, data: data}
}

// NewUnified builds a DualPortedUnified unit backed by one table,
// accessible from both the instruction and data lookup ports.
func NewUnified(shared *Table) *Unit {
	return &Unit{kind: DualPortedUnified, instr: shared, data: shared}
}

func (u *Unit) Kind() Kind { return u.kind }

// Instr/Data return the table servicing instruction vs. data lookups.
// For DualPortedUnified they are the same table.
func (u *Unit) Instr() *Table { return u.instr }
func (u *Unit) Data() *Table  { return u.data }

// Process/Tick drive every distinct underlying table exactly once per
// cycle even when Instr() and Data() alias the same table.
func (u *Unit) Process() {
	u.instr.Process()
	if u.data != u.instr {
		u.data.Process()
	}
}

func (u *Unit) Tick() {
	u.instr.Tick()
	if u.data != u.instr {
		u.data.Tick()
	}
}
