/*
   Bit-field packing for the five frozen instruction formats
   (SPEC_FULL.md §3.2). MSB=0 numbering in the comments below follows
   the architecture's own convention; the Go code uses ordinary
   LSB-numbered shifts, which is just the mirror image of the same
   layout (opcode occupies the top 6 bits of the 32-bit word either
   way).

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
package opcodemap

// Opcode extracts the 6-bit opcode from the top of the word.
func Opcode(word uint32) uint8 {
	return uint8(word >> 26)
}

func signExtend(v uint32, bits int) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// Reg3Fields is the decoded form of the Reg3 format:
// opcode(6)|opt(3)|T(4)|A(4)|B(4)|posLen(5)|condOpt2(6).
type Reg3Fields struct {
	Opcode   uint8
	Opt      uint8 // 3 bits
	T        uint8 // 4 bits, target register
	A        uint8 // 4 bits, source register
	B        uint8 // 4 bits, source register
	PosLen   uint8 // 5 bits, EXTR/DEP position, DSR/SHLA shift amount
	CondOpt2 uint8 // 6 bits, condition code, secondary options, or EXTR/DEP length
}

func DecodeReg3(word uint32) Reg3Fields {
	return Reg3Fields{
		Opcode:   Opcode(word),
		Opt:      uint8((word >> 23) & 0x7),
		T:        uint8((word >> 19) & 0xf),
		A:        uint8((word >> 15) & 0xf),
		B:        uint8((word >> 11) & 0xf),
		PosLen:   uint8((word >> 6) & 0x1f),
		CondOpt2: uint8(word & 0x3f),
	}
}

func EncodeReg3(f Reg3Fields) uint32 {
	return uint32(f.Opcode)<<26 |
		uint32(f.Opt&0x7)<<23 |
		uint32(f.T&0xf)<<19 |
		uint32(f.A&0xf)<<15 |
		uint32(f.B&0xf)<<11 |
		uint32(f.PosLen&0x1f)<<6 |
		uint32(f.CondOpt2&0x3f)
}

// MemFields is the decoded form of the Mem format:
// opcode(6)|mode(2)|M(1)|T(4)|width(2)|B(4)|X(4)|disp(9,signed).
type MemFields struct {
	Opcode uint8
	Mode   uint8
	M      bool
	T      uint8
	Width  uint8
	B      uint8
	X      uint8
	Disp   int32 // sign-extended
}

func DecodeMem(word uint32) MemFields {
	return MemFields{
		Opcode: Opcode(word),
		Mode:   uint8((word >> 24) & 0x3),
		M:      (word>>23)&1 != 0,
		T:      uint8((word >> 19) & 0xf),
		Width:  uint8((word >> 17) & 0x3),
		B:      uint8((word >> 13) & 0xf),
		X:      uint8((word >> 9) & 0xf),
		Disp:   signExtend(word&0x1ff, 9),
	}
}

func EncodeMem(f MemFields) uint32 {
	m := uint32(0)
	if f.M {
		m = 1
	}
	return uint32(f.Opcode)<<26 |
		uint32(f.Mode&0x3)<<24 |
		m<<23 |
		uint32(f.T&0xf)<<19 |
		uint32(f.Width&0x3)<<17 |
		uint32(f.B&0xf)<<13 |
		uint32(f.X&0xf)<<9 |
		(uint32(f.Disp) & 0x1ff)
}

// BranchFields is the decoded form of the Branch format:
// opcode(6)|cond(2)|link(1)|T(4)|A(4)|B(4)|offset(11,signed words).
type BranchFields struct {
	Opcode uint8
	Cond   uint8
	Link   bool
	T      uint8
	A      uint8
	B      uint8
	Offset int32
}

func DecodeBranch(word uint32) BranchFields {
	return BranchFields{
		Opcode: Opcode(word),
		Cond:   uint8((word >> 24) & 0x3),
		Link:   (word>>23)&1 != 0,
		T:      uint8((word >> 19) & 0xf),
		A:      uint8((word >> 15) & 0xf),
		B:      uint8((word >> 11) & 0xf),
		Offset: signExtend(word&0x7ff, 11),
	}
}

func EncodeBranch(f BranchFields) uint32 {
	l := uint32(0)
	if f.Link {
		l = 1
	}
	return uint32(f.Opcode)<<26 |
		uint32(f.Cond&0x3)<<24 |
		l<<23 |
		uint32(f.T&0xf)<<19 |
		uint32(f.A&0xf)<<15 |
		uint32(f.B&0xf)<<11 |
		(uint32(f.Offset) & 0x7ff)
}

// Imm22Fields is the decoded form of the Imm22 format:
// opcode(6)|T(4)|imm(22).
type Imm22Fields struct {
	Opcode uint8
	T      uint8
	Imm    uint32 // 22 bits, unsigned; caller shifts per opcode semantics
}

func DecodeImm22(word uint32) Imm22Fields {
	return Imm22Fields{
		Opcode: Opcode(word),
		T:      uint8((word >> 22) & 0xf),
		Imm:    word & 0x3fffff,
	}
}

func EncodeImm22(f Imm22Fields) uint32 {
	return uint32(f.Opcode)<<26 | uint32(f.T&0xf)<<22 | (f.Imm & 0x3fffff)
}

// SysFields is the decoded form of the Sys format:
// opcode(6)|code4(4)|code16(16)|reserved(6).
type SysFields struct {
	Opcode uint8
	Code4  uint8
	Code16 uint16
}

func DecodeSys(word uint32) SysFields {
	return SysFields{
		Opcode: Opcode(word),
		Code4:  uint8((word >> 22) & 0xf),
		Code16: uint16((word >> 6) & 0xffff),
	}
}

func EncodeSys(f SysFields) uint32 {
	return uint32(f.Opcode)<<26 | uint32(f.Code4&0xf)<<22 | uint32(f.Code16)<<6
}
