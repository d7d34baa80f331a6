/*
   CPU opcodes and instruction-format table for assembly and disassembly

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

// Opcode definitions. Values are the 6-bit field at bits 0..5 of the
// instruction word (MSB=0 numbering). See SPEC_FULL.md §3 for how these
// were derived from the frozen encoding table.
const (
	OpBRK   = 0
	OpLDIL  = 1
	OpADDIL = 2
	OpLDO   = 3
	OpLSID  = 4
	OpEXTR  = 5
	OpDEP   = 6
	OpDSR   = 7
	OpSHLA  = 8
	OpCMR   = 9
	OpMR    = 10
	OpMST   = 11

	OpADD = 16
	OpADC = 17
	OpSUB = 18
	OpSBC = 19
	OpAND = 20
	OpOR  = 21
	OpXOR = 22
	OpCMP = 23
	OpCMPU = 24

	OpB    = 32
	OpGATE = 33
	OpBR   = 34
	OpBV   = 35
	OpBE   = 36
	OpBVE  = 37
	OpCBR  = 38
	OpCBRU = 39

	OpLD  = 48
	OpST  = 49
	OpLDA = 50
	OpSTA = 51
	OpLDR = 52
	OpSTC = 53

	OpLDPA = 57
	OpPRB  = 58
	OpITLB = 59
	OpPTLB = 60
	OpPCA  = 61
	OpDIAG = 62
	OpRFI  = 63
)

// Instruction formats. Every opcode belongs to exactly one.
const (
	FmtReg3 = 1 + iota
	FmtMem
	FmtBranch
	FmtImm22
	FmtSys
)

// Format looks up which of the five bit layouts an opcode uses.
func Format(opcode uint8) int {
	switch opcode {
	case OpLDIL, OpADDIL:
		return FmtImm22
	case OpB, OpGATE, OpBR, OpBV, OpBE, OpBVE, OpCBR, OpCBRU:
		return FmtBranch
	case OpLD, OpST, OpLDA, OpSTA, OpLDR, OpSTC, OpLDO, OpLDPA, OpPRB, OpITLB, OpPTLB, OpPCA:
		return FmtMem
	case OpBRK, OpDIAG, OpRFI:
		return FmtSys
	default:
		return FmtReg3
	}
}

// Mnemonic names, keyed by opcode, used by the disassembler. Load/store
// width is not encoded in the mnemonic table: LD/ST carry a width field
// (byte/half/word) that the disassembler appends as a suffix.
var Mnemonic = map[uint8]string{
	OpBRK:   "BRK",
	OpLDIL:  "LDIL",
	OpADDIL: "ADDIL",
	OpLDO:   "LDO",
	OpLSID:  "LSID",
	OpEXTR:  "EXTR",
	OpDEP:   "DEP",
	OpDSR:   "DSR",
	OpSHLA:  "SHLA",
	OpCMR:   "CMR",
	OpMR:    "MR",
	OpMST:   "MST",
	OpADD:   "ADD",
	OpADC:   "ADC",
	OpSUB:   "SUB",
	OpSBC:   "SBC",
	OpAND:   "AND",
	OpOR:    "OR",
	OpXOR:   "XOR",
	OpCMP:   "CMP",
	OpCMPU:  "CMPU",
	OpB:     "B",
	OpGATE:  "GATE",
	OpBR:    "BR",
	OpBV:    "BV",
	OpBE:    "BE",
	OpBVE:   "BVE",
	OpCBR:   "CBR",
	OpCBRU:  "CBRU",
	OpLD:    "LD",
	OpST:    "ST",
	OpLDA:   "LDA",
	OpSTA:   "STA",
	OpLDR:   "LDR",
	OpSTC:   "STC",
	OpLDPA:  "LDPA",
	OpPRB:   "PRB",
	OpITLB:  "ITLB",
	OpPTLB:  "PTLB",
	OpPCA:   "PCA",
	OpDIAG:  "DIAG",
	OpRFI:   "RFI",
}

// Width field values, used by both LD/ST family assembly/disassembly
// and by the memory-access stage.
const (
	WidthByte = 0
	WidthHalf = 1
	WidthWord = 2
)

// Addressing modes for the Mem format.
const (
	ModeOffset = 0 // (B)+disp, logical address
	ModeIndex  = 1 // (X,B), register-indexed
	ModeExt    = 2 // (S,B), extended (segment,general) address
	ModeImm    = 3 // disp only, no base register
)

// Condition codes for CMP/CMPU/CBR/CBRU (2-bit field).
const (
	CondEQ = 0
	CondLT = 1
	CondNE = 2
	CondLE = 3
)

// Condition codes for CMR (4-bit, 8-way field; low 3 bits select the
// test, bit 3 is unused/reserved).
const (
	CmrEQ = 0
	CmrLT = 1
	CmrGT = 2
	CmrEV = 3
	CmrNE = 4
	CmrLE = 5
	CmrGE = 6
	CmrOD = 7
)
