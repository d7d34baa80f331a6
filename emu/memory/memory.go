/*
   Layered, latency-accurate memory hierarchy: L1 instruction/data
   caches, an optional L2, physical memory, PDC ROM, and I/O space.

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
package memory

import (
	"errors"

	"github.com/hff-git/vcpu32/emu/device"
	"github.com/hff-git/vcpu32/emu/latch"
)

// Kind selects which of the six layer variants a Layer instance plays.
// All six share one struct and one Process dispatch (tagged-variant
// style) rather than six near-duplicate types, per the rule that a
// block-addressed, latency-accurate store is one concept with a few
// capability differences.
type Kind int

const (
	L1Instr Kind = iota
	L1Data
	L2Unified
	PhysMem
	PdcMem
	IoMem
)

func (k Kind) hasTags() bool {
	return k == L1Instr || k == L1Data || k == L2Unified
}

func (k Kind) readOnly() bool {
	return k == PdcMem
}

// OpState is the per-layer state machine of spec.md §3.6/§4.4.1.
type OpState int

const (
	Idle OpState = iota
	AllocateBlock
	ReadBlockState
	WriteBackBlock
	FlushBlockState
	PurgeBlockState
	ReadWordState
	WriteWordState
)

// MaxBlockSets is the matchTag sentinel meaning "no set matched."
const MaxBlockSets = 1 << 30

// Request describes one pending operation against a layer, addressed
// by the virtual or physical (seg, ofs) pair depending on the caller's
// position in the hierarchy (L1s address virtually; L2/PhysMem/PDC/IO
// address physically). Priority is compared by Arbitrate using the
// numerically-highest-wins, ties-favor-incumbent convention decided in
// SPEC_FULL.md §3.3.
type Request struct {
	Seg      uint32
	Ofs      uint32
	Tag      uint32
	Ptr      []byte
	Len      int
	Priority int
	Value    uint32
}

// Arbitrate picks the winning candidate among requests contending for
// an IDLE lower layer in the same cycle. The first strictly-higher
// priority value seen wins; a later candidate with an equal priority
// never displaces the incumbent. Returns -1 for an empty slice.
func Arbitrate(candidates []Request) int {
	winner := -1
	best := -1
	for i, c := range candidates {
		if winner == -1 || c.Priority > best {
			winner = i
			best = c.Priority
		}
	}
	return winner
}

type blockSet struct {
	valid bool
	dirty bool
	tag   uint32
	data  []byte
}

// Rng is the pluggable victim-selection source (spec.md "random victim
// selection, pluggable for determinism"). math/rand.Rand satisfies
// this via its Intn method.
type Rng interface {
	Intn(n int) int
}

// Stats accumulates the counters spec.md §4.4.1 requires for caches.
// PhysMem/PDC/IO layers populate only Access and WaitCycles.
type Stats struct {
	Access     uint64
	Miss       uint64
	DirtyMiss  uint64
	WaitCycles uint64
}

// Layer is one node of the memory hierarchy (spec.md §3.5/§3.6).
type Layer struct {
	kind Kind

	blockEntries int // number of indexable rows
	blockSize    int // bytes per block, power of two
	blockSets    int // associativity (ways), 1 for non-cache kinds

	startAdr uint32
	endAdr   uint32
	latency  int
	priority int

	rows [][]blockSet // [row][way], only populated when kind.hasTags()
	flat []byte        // backing store for PhysMem/PdcMem

	io []ioRegion // IoMem dispatch table

	state   latch.Register
	wait    int
	pending Request
	victim  int
	rng     Rng

	stats Stats
}

type ioRegion struct {
	start, end uint32
	handler    device.Handler
}

// ErrReadOnly names a write to a read-only layer. No Layer method
// returns it: WriteWord and WriteBlock on a PDC layer report done at
// once and leave the contents unchanged (spec.md §4.4.4 leaves the
// choice open).
var ErrReadOnly = errors.New("memory: write to read-only layer")

// Config carries the per-layer descriptor fields of spec.md §3.5.
type Config struct {
	BlockEntries int
	BlockSize    int
	BlockSets    int
	StartAdr     uint32
	EndAdr       uint32
	Latency      int
	Priority     int
	Rng          Rng
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// NewLayer builds a layer of the given kind. block-size and
// block-sets are rounded up to the next power of two per spec.md
// §3.5's invariant; for non-cache kinds blockSize/blockSets are
// ignored and a flat byte store spanning [StartAdr,EndAdr] is
// allocated instead.
func NewLayer(kind Kind, cfg Config) *Layer {
	l := &Layer{
		kind:     kind,
		startAdr: cfg.StartAdr,
		endAdr:   cfg.EndAdr,
		latency:  cfg.Latency,
		priority: cfg.Priority,
		rng:      cfg.Rng,
		state:    latch.New(false),
	}
	if kind.hasTags() {
		l.blockSize = nextPow2(cfg.BlockSize)
		l.blockSets = nextPow2(cfg.BlockSets)
		l.blockEntries = cfg.BlockEntries
		l.rows = make([][]blockSet, l.blockEntries)
		for i := range l.rows {
			l.rows[i] = make([]blockSet, l.blockSets)
			for w := range l.rows[i] {
				l.rows[i][w].data = make([]byte, l.blockSize)
			}
		}
	} else if kind != IoMem {
		size := int(cfg.EndAdr-cfg.StartAdr) + 1
		l.flat = make([]byte, size)
	}
	if l.rng == nil {
		l.rng = deterministicRng{}
	}
	return l
}

// deterministicRng is the zero-configuration fallback: always evicts
// way 0. Used only when a caller builds a Layer without supplying a
// seeded math/rand.Rand, so unit tests that don't care about victim
// distribution still get reproducible behavior.
type deterministicRng struct{}

func (deterministicRng) Intn(int) int { return 0 }

// AttachIO registers a handler covering [start,end] of an IoMem
// layer's own offset range (offsets relative to the layer's
// StartAdr). Panics if called on a non-IoMem layer, an internal
// wiring error rather than a guest-triggerable condition.
func (l *Layer) AttachIO(start, end uint32, h device.Handler) {
	if l.kind != IoMem {
		panic("memory: AttachIO on non-IoMem layer")
	}
	l.io = append(l.io, ioRegion{start: start, end: end, handler: h})
}

func (l *Layer) ioHandler(offset uint32) device.Handler {
	for _, r := range l.io {
		if offset >= r.start && offset <= r.end {
			return r.handler
		}
	}
	return nil
}

// Contains reports whether a physical offset falls in this layer's
// address range.
func (l *Layer) Contains(adr uint32) bool {
	return adr >= l.startAdr && adr <= l.endAdr
}

func (l *Layer) blockIndex(ofs uint32) int {
	rel := (ofs - l.startAdr) / uint32(l.blockSize)
	if l.blockEntries == 0 {
		return 0
	}
	return int(rel) % l.blockEntries
}

func (l *Layer) blockTag(ofs uint32) uint32 {
	return ofs &^ uint32(l.blockSize-1)
}

// matchTag scans the blockSets ways at the given row for a valid entry
// whose tag equals the block-aligned tag. Returns MaxBlockSets if none
// match.
func (l *Layer) matchTag(row int, tag uint32) int {
	for w, set := range l.rows[row] {
		if set.valid && set.tag == tag {
			return w
		}
	}
	return MaxBlockSets
}

// Idle reports whether the layer can accept a new request this cycle.
func (l *Layer) Idle() bool {
	return l.state.Get() == uint32(Idle)
}

// ReadWord services a CPU/L1-originated word read. For cache layers,
// a tag hit returns immediately with no latency, matching spec.md
// §4.4.1. A miss (or any PhysMem/PdcMem/IoMem access) starts the
// layer's latency-bearing state machine; callers retry with the same
// Request until done is true.
func (l *Layer) ReadWord(req Request) (value uint32, done bool) {
	l.stats.Access++
	if l.kind.hasTags() {
		row := l.blockIndex(req.Ofs)
		tag := l.blockTag(req.Ofs)
		if w := l.matchTag(row, tag); w != MaxBlockSets {
			return l.loadFromSet(&l.rows[row][w], req.Ofs, req.Len), true
		}
		if !l.Idle() {
			return 0, false
		}
		l.stats.Miss++
		l.beginAllocate(req)
		return 0, false
	}
	if l.kind == IoMem {
		h := l.ioHandler(req.Ofs - l.startAdr)
		var v uint32
		if h != nil {
			v, _ = h.ReadIO(req.Ofs-l.startAdr, req.Len)
		}
		if l.Idle() {
			l.beginFlatOp(ReadWordState, req)
			return 0, false
		}
		if l.state.Get() == uint32(ReadWordState) && l.wait == 0 {
			l.state.Load(uint32(Idle))
			return v, true
		}
		return 0, false
	}
	if l.Idle() {
		l.beginFlatOp(ReadWordState, req)
		return 0, false
	}
	if l.state.Get() == uint32(ReadWordState) && l.wait == 0 {
		v := l.loadFlat(req.Ofs, req.Len)
		l.state.Load(uint32(Idle))
		return v, true
	}
	return 0, false
}

func (l *Layer) loadFromSet(set *blockSet, ofs uint32, length int) uint32 {
	off := int(ofs) & (l.blockSize - 1)
	return loadBytes(set.data, off, length)
}

func loadBytes(buf []byte, off, length int) uint32 {
	var v uint32
	for i := 0; i < length; i++ {
		v = v<<8 | uint32(buf[off+i])
	}
	return v
}

func storeBytes(buf []byte, off, length int, value uint32) {
	for i := length - 1; i >= 0; i-- {
		buf[off+i] = byte(value)
		value >>= 8
	}
}

func (l *Layer) loadFlat(ofs uint32, length int) uint32 {
	off := int(ofs - l.startAdr)
	return loadBytes(l.flat, off, length)
}

func (l *Layer) storeFlat(ofs uint32, length int, value uint32) {
	off := int(ofs - l.startAdr)
	storeBytes(l.flat, off, length, value)
}

func (l *Layer) beginFlatOp(op OpState, req Request) {
	l.pending = req
	l.wait = l.latency
	l.state.Load(uint32(op))
}

func (l *Layer) beginAllocate(req Request) {
	l.pending = req
	l.victim = l.pickVictim(l.blockIndex(req.Ofs))
	l.wait = l.latency
	l.state.Load(uint32(AllocateBlock))
}

func (l *Layer) pickVictim(row int) int {
	for w, set := range l.rows[row] {
		if !set.valid {
			return w
		}
	}
	return l.rng.Intn(l.blockSets)
}

// WriteWord services a CPU/L1-originated word write. Cache layers are
// write-back with a dirty bit, per spec.md §4.4.1.
func (l *Layer) WriteWord(req Request) (done bool) {
	l.stats.Access++
	if l.kind.readOnly() {
		return true
	}
	if l.kind.hasTags() {
		row := l.blockIndex(req.Ofs)
		tag := l.blockTag(req.Ofs)
		if w := l.matchTag(row, tag); w != MaxBlockSets {
			set := &l.rows[row][w]
			off := int(req.Ofs) & (l.blockSize - 1)
			storeBytes(set.data, off, req.Len, req.Value)
			set.dirty = true
			return true
		}
		if !l.Idle() {
			return false
		}
		l.stats.Miss++
		l.beginAllocate(req)
		return false
	}
	if l.kind == IoMem {
		h := l.ioHandler(req.Ofs - l.startAdr)
		if h != nil {
			_ = h.WriteIO(req.Ofs-l.startAdr, req.Len, req.Value)
		}
		if l.Idle() {
			l.beginFlatOp(WriteWordState, req)
			return false
		}
		if l.state.Get() == uint32(WriteWordState) && l.wait == 0 {
			l.state.Load(uint32(Idle))
			return true
		}
		return false
	}
	if l.Idle() {
		l.beginFlatOp(WriteWordState, req)
		return false
	}
	if l.state.Get() == uint32(WriteWordState) && l.wait == 0 {
		l.storeFlat(req.Ofs, req.Len, req.Value)
		l.state.Load(uint32(Idle))
		return true
	}
	return false
}

// FlushBlock writes a dirty block back to the lower layer and marks
// it clean; a clean or absent block is a NOP-done. Non-cache layers
// treat flush as a NOP per spec.md §4.4.3/§4.4.4.
func (l *Layer) FlushBlock(req Request, lower *Layer) (done bool) {
	if !l.kind.hasTags() {
		return true
	}
	row := l.blockIndex(req.Ofs)
	tag := l.blockTag(req.Ofs)
	w := l.matchTag(row, tag)
	if w == MaxBlockSets || !l.rows[row][w].dirty {
		return true
	}
	if lower == nil {
		l.rows[row][w].dirty = false
		return true
	}
	wb := Request{Ofs: tag, Len: l.blockSize, Ptr: l.rows[row][w].data, Priority: req.Priority}
	if !lower.WriteBlock(wb) {
		return false
	}
	l.rows[row][w].dirty = false
	return true
}

// PurgeBlock invalidates a block on hit; a miss is a NOP-done.
// Non-cache layers treat purge as a NOP.
func (l *Layer) PurgeBlock(req Request) (done bool) {
	if !l.kind.hasTags() {
		return true
	}
	row := l.blockIndex(req.Ofs)
	tag := l.blockTag(req.Ofs)
	w := l.matchTag(row, tag)
	if w != MaxBlockSets {
		l.rows[row][w] = blockSet{data: l.rows[row][w].data}
	}
	return true
}

// PurgeSet invalidates the block at a directly-addressed (row, way)
// cache line, with no tag lookup. This is the diagnostic/debug
// counterpart to PurgeBlock: spec.md's purgeCache driver operation
// names the line by index/set rather than by the virtual address that
// maps to it, the way a hardware cache-flush-by-index instruction
// would. Out-of-range coordinates and non-cache layers are a NOP.
func (l *Layer) PurgeSet(row, way int) {
	if !l.kind.hasTags() {
		return
	}
	if row < 0 || row >= len(l.rows) || way < 0 || way >= len(l.rows[row]) {
		return
	}
	l.rows[row][way] = blockSet{data: l.rows[row][way].data}
}

// ReadBlock transfers one block's worth of bytes into req.Ptr. Used
// both as a cache's own fill path (calling into its lower layer) and
// as the leaf operation PhysMem/PdcMem/IoMem implement directly.
func (l *Layer) ReadBlock(req Request) (done bool) {
	l.stats.Access++
	if l.kind.hasTags() {
		return false // caches service fills via Process, not directly
	}
	if !l.Idle() {
		if l.state.Get() == uint32(ReadBlockState) && l.wait == 0 {
			off := int(req.Ofs - l.startAdr)
			copy(req.Ptr, l.flat[off:off+req.Len])
			l.state.Load(uint32(Idle))
			return true
		}
		return false
	}
	l.beginFlatOp(ReadBlockState, req)
	return false
}

// WriteBlock transfers req.Ptr into the layer. Leaf layers only; cache
// layers use Process's internal write-back path instead.
func (l *Layer) WriteBlock(req Request) (done bool) {
	l.stats.Access++
	if l.kind.readOnly() {
		return true
	}
	if l.kind.hasTags() {
		return false
	}
	if !l.Idle() {
		if l.state.Get() == uint32(WriteBackBlock) && l.wait == 0 {
			off := int(req.Ofs - l.startAdr)
			copy(l.flat[off:off+req.Len], req.Ptr)
			l.state.Load(uint32(Idle))
			return true
		}
		return false
	}
	l.beginFlatOp(WriteBackBlock, req)
	return false
}

// Process advances the state machine by one cycle, driving block fills
// and write-backs against the given lower layer (nil for leaf layers).
// Latency counts down; on reaching zero the current state's work
// commits and the machine either transitions (ALLOCATE_BLOCK chain) or
// returns to IDLE.
func (l *Layer) Process(lower *Layer) {
	st := OpState(l.state.Get())
	if st == Idle {
		return
	}
	if l.wait > 0 {
		l.wait--
		l.stats.WaitCycles++
		return
	}
	if !l.kind.hasTags() {
		// Leaf layers (PhysMem/PdcMem/IoMem) and a cache's own
		// direct word/block self-service just count down latency
		// here; ReadWord/WriteWord/ReadBlock/WriteBlock themselves
		// check wait==0 on the next call and commit the operation.
		return
	}
	switch st {
	case AllocateBlock:
		row := l.blockIndex(l.pending.Ofs)
		set := &l.rows[row][l.victim]
		if set.valid && set.dirty {
			l.stats.DirtyMiss++
			wb := Request{Ofs: set.tag, Len: l.blockSize, Ptr: set.data, Priority: l.pending.Priority}
			if lower != nil && !lower.WriteBlock(wb) {
				l.wait = 1
				return
			}
			set.dirty = false
		}
		l.state.Load(uint32(ReadBlockState))
		l.wait = 0
	case ReadBlockState:
		row := l.blockIndex(l.pending.Ofs)
		set := &l.rows[row][l.victim]
		tag := l.blockTag(l.pending.Ofs)
		if lower != nil {
			rb := Request{Ofs: tag, Len: l.blockSize, Ptr: set.data, Priority: l.pending.Priority}
			if !lower.ReadBlock(rb) {
				l.wait = 1
				return
			}
		}
		set.valid = true
		set.dirty = false
		set.tag = tag
		l.state.Load(uint32(Idle))
	default:
		l.state.Load(uint32(Idle))
	}
}

// Tick advances the latched state register. Call once per cycle for
// every layer in the hierarchy, alongside every other latch in the
// system.
func (l *Layer) Tick() {
	l.state.Tick()
}

// Stats returns a snapshot of this layer's counters.
func (l *Layer) Stats() Stats {
	return l.stats
}

// Kind reports which variant this layer plays.
func (l *Layer) Kind() Kind {
	return l.kind
}

// Priority returns the layer's arbitration weight (spec.md §3.5).
func (l *Layer) Priority() int {
	return l.priority
}

// Reset clears the layer's contents: every block invalidated for a
// cache kind, every byte zeroed for a flat store. IoMem has no state
// of its own to clear. Used by the core driver's scoped reset
// (spec.md §6.1 reset(memory)).
func (l *Layer) Reset() {
	for row := range l.rows {
		for w := range l.rows[row] {
			l.rows[row][w] = blockSet{data: l.rows[row][w].data}
		}
	}
	for i := range l.flat {
		l.flat[i] = 0
	}
	l.state.Reset()
	l.wait = 0
	l.pending = Request{}
	l.victim = 0
}

// ResetStats zeroes the layer's counters without touching its
// contents (spec.md §6.1 reset(stats)).
func (l *Layer) ResetStats() {
	l.stats = Stats{}
}

// LoadImage copies data into a flat (non-cache) layer's backing store
// starting at its first address, bypassing the read-only gate that
// guards ordinary WriteWord/WriteBlock calls. This is how a PDC ROM
// image is installed at configuration time (spec.md §6.4): the
// read-only property governs the CPU's view of the layer, not how the
// layer gets built in the first place. Data longer than the layer is
// truncated; shorter data leaves the remainder zero.
func (l *Layer) LoadImage(data []byte) {
	if l.kind == IoMem {
		return
	}
	copy(l.flat, data)
}
