/*
vcpu32 Memory-mapped I/O device interface

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
package device

// Handler is implemented by anything mapped into the I/O memory layer's
// address range. Reads and writes are side-effecting and dispatched by
// word offset from the layer's start address.
type Handler interface {
	ReadIO(offset uint32, width int) (uint32, error) // width in {1,2,4} bytes
	WriteIO(offset uint32, width int, value uint32) error
	Name() string
}

// NoDev marks the absence of a device/handler at a given offset.
const NoDev uint16 = 0xffff

// Register class selectors, shared by regfile, the pipeline, and the
// core driver's getReg/setReg interface (spec.md §6.1).
const (
	General = 1 + iota
	Segment
	Control
	ProgramStatus
)

// TLB selectors, shared by emu/tlb and emu/core.
const (
	InstrTLB = 1 + iota
	DataTLB
	UnifiedTLB
)

// Cache selectors, shared by emu/memory and emu/core.
const (
	InstrCache = 1 + iota
	DataCache
	UnifiedCache
)
