/*
   Disassembler: the inverse of emu/assemble, producing text that
   re-assembles to the same word (spec.md §4.10, §8.1).

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
package disassembler

import (
	"fmt"

	op "github.com/hff-git/vcpu32/emu/opcodemap"
)

func gReg(n uint8) string { return fmt.Sprintf("r%d", n) }
func sReg(n uint8) string { return fmt.Sprintf("s%d", n) }

func condName(c uint8) string {
	switch c {
	case op.CondEQ:
		return "EQ"
	case op.CondLT:
		return "LT"
	case op.CondNE:
		return "NE"
	case op.CondLE:
		return "LE"
	}
	return "??"
}

func cmrName(c uint8) string {
	switch c {
	case op.CmrEQ:
		return "EQ"
	case op.CmrLT:
		return "LT"
	case op.CmrGT:
		return "GT"
	case op.CmrEV:
		return "EV"
	case op.CmrNE:
		return "NE"
	case op.CmrLE:
		return "LE"
	case op.CmrGE:
		return "GE"
	case op.CmrOD:
		return "OD"
	}
	return "??"
}

func widthSuffix(w uint8) string {
	switch w {
	case op.WidthByte:
		return ".B"
	case op.WidthHalf:
		return ".H"
	default:
		return ""
	}
}

func addrText(f op.MemFields) string {
	switch f.Mode {
	case op.ModeIndex:
		return fmt.Sprintf("(%s,%s)", gReg(f.X), gReg(f.B))
	case op.ModeExt:
		if f.Disp != 0 {
			return fmt.Sprintf("%d(%s,%s)", f.Disp, sReg(f.X), gReg(f.B))
		}
		return fmt.Sprintf("(%s,%s)", sReg(f.X), gReg(f.B))
	case op.ModeImm:
		return fmt.Sprintf("%d", f.Disp)
	default: // ModeOffset
		return fmt.Sprintf("%d(%s)", f.Disp, gReg(f.B))
	}
}

// Disassemble decodes a 32-bit instruction word into its mnemonic
// text, or a raw-hex fallback for an opcode that isn't one of the
// five frozen formats' assigned values.
func Disassemble(word uint32) string {
	opcode := op.Opcode(word)
	name, ok := op.Mnemonic[opcode]
	if !ok {
		return undefined(word)
	}

	switch op.Format(opcode) {
	case op.FmtSys:
		return disSys(opcode, name, word)
	case op.FmtImm22:
		return disImm22(name, word)
	case op.FmtReg3:
		return disReg3(opcode, name, word)
	case op.FmtBranch:
		return disBranch(opcode, name, word)
	case op.FmtMem:
		return disMem(opcode, name, word)
	default:
		return undefined(word)
	}
}

func disSys(opcode uint8, name string, word uint32) string {
	f := op.DecodeSys(word)
	if opcode == op.OpRFI {
		return name
	}
	if f.Code4 == 0 && f.Code16 == 0 {
		if opcode == op.OpBRK {
			return "NOP"
		}
	}
	return fmt.Sprintf("%s %d,%d", name, f.Code4, f.Code16)
}

func disImm22(name string, word uint32) string {
	f := op.DecodeImm22(word)
	return fmt.Sprintf("%s %s,%d", name, gReg(f.T), f.Imm)
}

func disReg3(opcode uint8, name string, word uint32) string {
	f := op.DecodeReg3(word)
	switch opcode {
	case op.OpLSID:
		return fmt.Sprintf("%s %s", name, gReg(f.T))
	case op.OpEXTR:
		opts := ""
		if f.Opt&0x1 != 0 {
			opts += "S"
		}
		if f.Opt&0x2 != 0 {
			opts += "A"
		}
		return fmt.Sprintf("%s%s %s,%s,%d,%d", name, optSuffix(opts), gReg(f.T), gReg(f.A), f.PosLen, f.CondOpt2)
	case op.OpDEP:
		opts := ""
		if f.Opt&0x1 != 0 {
			opts += "Z"
		}
		if f.Opt&0x2 != 0 {
			opts += "A"
		}
		if f.Opt&0x4 != 0 {
			opts += "I"
		}
		return fmt.Sprintf("%s%s %s,%s,%s,%d,%d", name, optSuffix(opts), gReg(f.T), gReg(f.A), gReg(f.B), f.PosLen, f.CondOpt2)
	case op.OpDSR:
		opts := ""
		if f.Opt&0x1 != 0 {
			opts += "A"
		}
		return fmt.Sprintf("%s%s %s,%s,%s,%d", name, optSuffix(opts), gReg(f.T), gReg(f.A), gReg(f.B), f.PosLen)
	case op.OpSHLA:
		opts := ""
		if f.Opt&0x1 != 0 {
			opts += "L"
		}
		if f.Opt&0x2 != 0 {
			opts += "O"
		}
		if f.Opt&0x4 != 0 {
			opts += "I"
		}
		return fmt.Sprintf("%s%s %s,%s,%s,%d", name, optSuffix(opts), gReg(f.T), gReg(f.A), gReg(f.B), f.PosLen)
	case op.OpCMR:
		return fmt.Sprintf("%s.%s %s,%s,%s", name, cmrName(f.CondOpt2), gReg(f.T), gReg(f.A), gReg(f.B))
	case op.OpMR:
		toGeneral := f.Opt&0x1 != 0
		special := sReg
		if f.Opt&0x2 != 0 {
			special = func(n uint8) string { return fmt.Sprintf("c%d", n) }
		}
		opts := ""
		if toGeneral {
			opts = "D"
		}
		if f.Opt&0x2 != 0 {
			opts += "M"
		}
		if toGeneral {
			return fmt.Sprintf("%s%s %s,%s", name, optSuffix(opts), gReg(f.T), special(f.B))
		}
		return fmt.Sprintf("%s%s %s,%s", name, optSuffix(opts), special(f.B), gReg(f.A))
	case op.OpMST:
		return fmt.Sprintf("%s %s,%s", name, gReg(f.A), gReg(f.B))
	case op.OpCMP, op.OpCMPU:
		return fmt.Sprintf("%s.%s %s,%s,%s", name, condName(f.CondOpt2), gReg(f.T), gReg(f.A), gReg(f.B))
	case op.OpADD, op.OpADC, op.OpSUB, op.OpSBC:
		opts := ""
		if f.Opt&0x1 != 0 {
			opts = "O"
		}
		return fmt.Sprintf("%s%s %s,%s,%s", name, optSuffix(opts), gReg(f.T), gReg(f.A), gReg(f.B))
	case op.OpAND, op.OpOR:
		opts := ""
		if f.Opt&0x1 != 0 {
			opts = "C"
		}
		return fmt.Sprintf("%s%s %s,%s,%s", name, optSuffix(opts), gReg(f.T), gReg(f.A), gReg(f.B))
	default:
		return fmt.Sprintf("%s %s,%s,%s", name, gReg(f.T), gReg(f.A), gReg(f.B))
	}
}

func optSuffix(opts string) string {
	if opts == "" {
		return ""
	}
	return "." + opts
}

func disBranch(opcode uint8, name string, word uint32) string {
	f := op.DecodeBranch(word)
	link := ""
	if f.Link {
		link = ".L"
	}
	switch opcode {
	case op.OpB, op.OpGATE:
		if f.Link {
			return fmt.Sprintf("%s%s %s,%d", name, link, gReg(f.T), f.Offset)
		}
		return fmt.Sprintf("%s %d", name, f.Offset)
	case op.OpBR:
		if f.Link {
			return fmt.Sprintf("%s%s %s,%s", name, link, gReg(f.T), gReg(f.B))
		}
		return fmt.Sprintf("%s %s", name, gReg(f.B))
	case op.OpBV:
		if f.Link {
			return fmt.Sprintf("%s%s %s,%s,%s", name, link, gReg(f.T), gReg(f.A), gReg(f.B))
		}
		return fmt.Sprintf("%s %s,%s", name, gReg(f.A), gReg(f.B))
	case op.OpBE, op.OpBVE:
		if f.Link {
			return fmt.Sprintf("%s%s %s,%s,%s", name, link, gReg(f.T), sReg(f.A), gReg(f.B))
		}
		return fmt.Sprintf("%s %s,%s", name, sReg(f.A), gReg(f.B))
	case op.OpCBR, op.OpCBRU:
		return fmt.Sprintf("%s.%s %s,%s,%d", name, condName(f.Cond), gReg(f.A), gReg(f.B), f.Offset)
	}
	return undefined(word)
}

func disMem(opcode uint8, name string, word uint32) string {
	f := op.DecodeMem(word)
	switch opcode {
	case op.OpLDO:
		return fmt.Sprintf("%s %s,%d(%s)", name, gReg(f.T), f.Disp, gReg(f.B))
	case op.OpLDPA:
		return fmt.Sprintf("%s %s,%s", name, gReg(f.T), addrText(f))
	case op.OpPRB:
		opts := ""
		if f.M {
			opts = "W"
		}
		return fmt.Sprintf("%s%s %s,%s", name, optSuffix(opts), gReg(f.T), addrText(f))
	case op.OpITLB:
		return fmt.Sprintf("%s %s,%s,%s", name, gReg(f.T), gReg(f.B), gReg(f.X))
	case op.OpPTLB:
		return fmt.Sprintf("%s (%s)", name, gReg(f.B))
	case op.OpPCA:
		opts := ""
		if f.M {
			opts = "F"
		}
		return fmt.Sprintf("%s%s (%s)", name, optSuffix(opts), gReg(f.B))
	case op.OpLD, op.OpLDA, op.OpLDR:
		return fmt.Sprintf("%s%s %s,%s", name, widthSuffix(f.Width), gReg(f.T), addrText(f))
	default: // ST, STA, STC
		return fmt.Sprintf("%s%s %s,%s", name, widthSuffix(f.Width), gReg(f.T), addrText(f))
	}
}

func undefined(word uint32) string {
	return fmt.Sprintf(".WORD 0x%08x", word)
}
