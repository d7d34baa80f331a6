package disassembler

import (
	"testing"

	asm "github.com/hff-git/vcpu32/emu/assemble"
	op "github.com/hff-git/vcpu32/emu/opcodemap"
)

func TestDisassembleReg3Arithmetic(t *testing.T) {
	word := op.EncodeReg3(op.Reg3Fields{Opcode: op.OpADD, T: 3, A: 1, B: 2})
	got := Disassemble(word)
	want := "ADD r3,r1,r2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDisassembleLdil(t *testing.T) {
	word := op.EncodeImm22(op.Imm22Fields{Opcode: op.OpLDIL, T: 1, Imm: 5})
	got := Disassemble(word)
	want := "LDIL r1,5"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDisassembleNopIsBrkZeroZero(t *testing.T) {
	got := Disassemble(0)
	if got != "NOP" {
		t.Fatalf("got %q, want NOP", got)
	}
}

func TestDisassembleUnknownOpcodeFallsBackToRawHex(t *testing.T) {
	// Opcode field values 12..15 have no mnemonic assigned.
	word := uint32(12) << 26
	got := Disassemble(word)
	want := ".WORD 0x30000000"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// roundTrip asserts assemble(disassemble(word)) == word, the
// invariant the one-line assembler and disassembler must satisfy
// together for every instruction word they agree on.
func roundTrip(t *testing.T, word uint32) {
	t.Helper()
	text := Disassemble(word)
	got, err := asm.Assemble(text)
	if err != nil {
		t.Fatalf("re-assembling %q (from %#x): %v", text, word, err)
	}
	if got != word {
		t.Fatalf("round trip mismatch: %#x -> %q -> %#x", word, text, got)
	}
}

func TestRoundTripReg3(t *testing.T) {
	roundTrip(t, op.EncodeReg3(op.Reg3Fields{Opcode: op.OpSUB, Opt: 1, T: 5, A: 2, B: 3}))
	roundTrip(t, op.EncodeReg3(op.Reg3Fields{Opcode: op.OpCMP, T: 1, A: 2, B: 3, CondOpt2: op.CondLT}))
	roundTrip(t, op.EncodeReg3(op.Reg3Fields{Opcode: op.OpEXTR, Opt: 3, T: 1, A: 2, PosLen: 4, CondOpt2: 8}))
}

func TestRoundTripMem(t *testing.T) {
	roundTrip(t, op.EncodeMem(op.MemFields{Opcode: op.OpLD, Mode: op.ModeOffset, T: 3, Width: op.WidthWord, B: 2, Disp: 200}))
	roundTrip(t, op.EncodeMem(op.MemFields{Opcode: op.OpST, Mode: op.ModeIndex, T: 4, Width: op.WidthByte, B: 5, X: 6}))
	roundTrip(t, op.EncodeMem(op.MemFields{Opcode: op.OpLDO, T: 1, B: 2, Disp: -10}))
}

func TestRoundTripBranch(t *testing.T) {
	roundTrip(t, op.EncodeBranch(op.BranchFields{Opcode: op.OpB, Offset: -5}))
	roundTrip(t, op.EncodeBranch(op.BranchFields{Opcode: op.OpCBR, Cond: op.CondEQ, A: 1, B: 2, Offset: 7}))
	roundTrip(t, op.EncodeBranch(op.BranchFields{Opcode: op.OpBV, A: 2, B: 3}))
}

func TestRoundTripSys(t *testing.T) {
	roundTrip(t, op.EncodeSys(op.SysFields{Opcode: op.OpBRK, Code4: 2, Code16: 77}))
	roundTrip(t, op.EncodeSys(op.SysFields{Opcode: op.OpRFI}))
}
