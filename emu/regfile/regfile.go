/*
   Architectural register file: 16 general, 8 segment, 32 control
   registers, plus the program-state pair. Spec.md §3.2, §4.2.

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
package regfile

import (
	"errors"
	"fmt"

	Dv "github.com/hff-git/vcpu32/emu/device"
	"github.com/hff-git/vcpu32/emu/latch"
)

const (
	NumGeneral = 16
	NumSegment = 8
	NumControl = 32
)

// ErrPrivilege is returned by Write when user mode attempts to modify
// a privileged (control) register. It is not a Go panic: the calling
// pipeline stage turns it into a privilege-violation trap (spec.md §7).
var ErrPrivilege = errors.New("privilege violation")

// File is the whole architectural register file, including the
// program-state pair (IA-segment, IA-offset, status word). Every slot
// is a latch.Register so reads/writes follow the same tick/process
// discipline as pipeline bundles (Design Notes, "Latched register
// discipline").
type File struct {
	general [NumGeneral]latch.Register
	segment [NumSegment]latch.Register
	control [NumControl]latch.Register

	iaSeg  latch.Register
	iaOfs  latch.Register
	status latch.Register

	// privileged mirrors the current privilege bit of the status word,
	// cached here so Write's privilege check doesn't need to decode it
	// on every call. The trap controller and RFI/MST handlers keep it
	// in sync via SetPrivileged.
	privileged bool
}

// New builds a register file with all slots reset.
func New() *File {
	f := &File{}
	for i := range f.general {
		f.general[i] = latch.New(false)
	}
	for i := range f.segment {
		f.segment[i] = latch.New(false)
	}
	for i := range f.control {
		f.control[i] = latch.New(true)
	}
	f.iaSeg = latch.New(false)
	f.iaOfs = latch.New(false)
	f.status = latch.New(false)
	return f
}

// Reset zeroes every register and drops back to kernel privilege, the
// state a fresh CPU construction starts in (spec.md §3.1 lifecycle).
func (f *File) Reset() {
	for i := range f.general {
		f.general[i].Reset()
	}
	for i := range f.segment {
		f.segment[i].Reset()
	}
	for i := range f.control {
		f.control[i].Reset()
	}
	f.iaSeg.Reset()
	f.iaOfs.Reset()
	f.status.Reset()
	f.privileged = true
}

// Tick advances every register in the file by one clock.
func (f *File) Tick() {
	for i := range f.general {
		f.general[i].Tick()
	}
	for i := range f.segment {
		f.segment[i].Tick()
	}
	for i := range f.control {
		f.control[i].Tick()
	}
	f.iaSeg.Tick()
	f.iaOfs.Tick()
	f.status.Tick()
}

// SetPrivileged updates the cached privilege bit. Called by the trap
// controller on entry (forces kernel mode) and by RFI/MST on return.
func (f *File) SetPrivileged(p bool) {
	f.privileged = p
}

// Privileged reports whether the CPU is currently in kernel mode.
func (f *File) Privileged() bool {
	return f.privileged
}

// Read returns the out-side value of the named register. An
// out-of-range index is an implementation error (spec.md §4.2: "Reads
// never fail other than by out-of-range index (fatal implementation
// error, not a trap)") and panics rather than returning an error.
func (f *File) Read(class, index int) uint32 {
	r := f.reg(class, index)
	return r.Get()
}

// Write loads the in-side value of the named register, after checking
// privilege for control registers (spec.md §4.2). A write to a
// privileged register in user mode is refused and leaves the register
// unmodified; the caller raises a privilege-violation trap.
func (f *File) Write(class, index int, value uint32) error {
	r := f.reg(class, index)
	if r.Privileged() && !f.privileged {
		return ErrPrivilege
	}
	r.Load(value)
	return nil
}

// WriteImmediate loads and immediately ticks a single register,
// bypassing the privilege check. Used only by Reset-adjacent setup
// code (loading initial control-register defaults at construction)
// and by the trap controller when it saves/restores state that must
// be visible within the same cycle.
func (f *File) WriteImmediate(class, index int, value uint32) {
	r := f.reg(class, index)
	r.Load(value)
	r.Tick()
}

func (f *File) reg(class, index int) *latch.Register {
	switch class {
	case Dv.General:
		if index < 0 || index >= NumGeneral {
			panic(fmt.Sprintf("regfile: general register index %d out of range", index))
		}
		return &f.general[index]
	case Dv.Segment:
		if index < 0 || index >= NumSegment {
			panic(fmt.Sprintf("regfile: segment register index %d out of range", index))
		}
		return &f.segment[index]
	case Dv.Control:
		if index < 0 || index >= NumControl {
			panic(fmt.Sprintf("regfile: control register index %d out of range", index))
		}
		return &f.control[index]
	default:
		panic(fmt.Sprintf("regfile: unknown register class %d", class))
	}
}

// IASeg/IAOfs/Status give the pipeline direct access to the
// program-state pair described in spec.md §3.2, without routing
// through the general Read/Write path (they are not addressed by
// register class/index from instructions; only RFI and the trap
// controller touch them directly).
func (f *File) IASeg() uint32      { return f.iaSeg.Get() }
func (f *File) IAOfs() uint32      { return f.iaOfs.Get() }
func (f *File) Status() uint32     { return f.status.Get() }
func (f *File) LoadIASeg(v uint32) { f.iaSeg.Load(v) }
func (f *File) LoadIAOfs(v uint32) { f.iaOfs.Load(v) }
func (f *File) LoadStatus(v uint32) { f.status.Load(v) }

// SetIA is the immediate (non-latched) form used by reset and by the
// trap controller's redirect, which must take effect within the same
// cycle it is issued rather than waiting a tick.
func (f *File) SetIA(seg, ofs uint32) {
	f.iaSeg.Load(seg)
	f.iaSeg.Tick()
	f.iaOfs.Load(ofs)
	f.iaOfs.Tick()
}

// SetStatus is SetIA's counterpart for the status word: an immediate
// console-style poke, used by the core driver's setReg so a debugger
// can force status bits between clock steps rather than waiting a
// tick to see the write take effect.
func (f *File) SetStatus(v uint32) {
	f.status.Load(v)
	f.status.Tick()
}

// GetClass returns every register in a class, for bulk dump/debug use
// (spec.md §2 "expose read/write and bulk get/set by class").
func (f *File) GetClass(class int) []uint32 {
	switch class {
	case Dv.General:
		out := make([]uint32, NumGeneral)
		for i := range out {
			out[i] = f.general[i].Get()
		}
		return out
	case Dv.Segment:
		out := make([]uint32, NumSegment)
		for i := range out {
			out[i] = f.segment[i].Get()
		}
		return out
	case Dv.Control:
		out := make([]uint32, NumControl)
		for i := range out {
			out[i] = f.control[i].Get()
		}
		return out
	default:
		panic(fmt.Sprintf("regfile: unknown register class %d", class))
	}
}

// SetClass bulk-loads every register in a class and ticks it
// immediately (construction-time/testing convenience; bypasses the
// privilege check deliberately, like WriteImmediate).
func (f *File) SetClass(class int, values []uint32) {
	switch class {
	case Dv.General:
		for i := 0; i < NumGeneral && i < len(values); i++ {
			f.general[i].Load(values[i])
			f.general[i].Tick()
		}
	case Dv.Segment:
		for i := 0; i < NumSegment && i < len(values); i++ {
			f.segment[i].Load(values[i])
			f.segment[i].Tick()
		}
	case Dv.Control:
		for i := 0; i < NumControl && i < len(values); i++ {
			f.control[i].Load(values[i])
			f.control[i].Tick()
		}
	default:
		panic(fmt.Sprintf("regfile: unknown register class %d", class))
	}
}
