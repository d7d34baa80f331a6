package assembler

import (
	"testing"

	op "github.com/hff-git/vcpu32/emu/opcodemap"
)

func TestAssembleReg3Arithmetic(t *testing.T) {
	word, err := Assemble("ADD r3, r1, r2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeReg3(op.Reg3Fields{Opcode: op.OpADD, T: 3, A: 1, B: 2})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleOverflowTrappingOption(t *testing.T) {
	word, err := Assemble("ADD.O r3, r1, r2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeReg3(op.Reg3Fields{Opcode: op.OpADD, Opt: 1, T: 3, A: 1, B: 2})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleLdilPlainImmediate(t *testing.T) {
	word, err := Assemble("LDIL r1, 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeImm22(op.Imm22Fields{Opcode: op.OpLDIL, T: 1, Imm: 5})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleLdoWithOffsetAddress(t *testing.T) {
	word, err := Assemble("LDO r3, 128(r2)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeMem(op.MemFields{Opcode: op.OpLDO, T: 3, B: 2, Disp: 128})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleLoadIndexedAddress(t *testing.T) {
	word, err := Assemble("LD r4, (r5,r6)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeMem(op.MemFields{Opcode: op.OpLD, Mode: op.ModeIndex, T: 4, Width: op.WidthWord, B: 6, X: 5})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleLoadExtendedAddress(t *testing.T) {
	word, err := Assemble("LD.H r4, 8(s2,r6)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeMem(op.MemFields{Opcode: op.OpLD, Mode: op.ModeExt, T: 4, Width: op.WidthHalf, B: 6, X: 2, Disp: 8})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleStoreByteImmediateAddress(t *testing.T) {
	word, err := Assemble("ST.B r7, 42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeMem(op.MemFields{Opcode: op.OpST, Mode: op.ModeImm, T: 7, Width: op.WidthByte, Disp: 42})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleBranchOffset(t *testing.T) {
	word, err := Assemble("B 10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeBranch(op.BranchFields{Opcode: op.OpB, Offset: 10})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
	_ = want
}

func TestAssembleBranchWithLink(t *testing.T) {
	word, err := Assemble("B.L r2, -4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeBranch(op.BranchFields{Opcode: op.OpB, Link: true, T: 2, Offset: -4})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleConditionalBranch(t *testing.T) {
	word, err := Assemble("CBR.LT r1, r2, 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeBranch(op.BranchFields{Opcode: op.OpCBR, Cond: op.CondLT, A: 1, B: 2, Offset: 3})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleCompareRequiresCondition(t *testing.T) {
	_, err := Assemble("CMP r1, r2, r3")
	if err == nil {
		t.Fatalf("expected error for missing condition option")
	}
	asmErr, ok := err.(*AsmError)
	if !ok {
		t.Fatalf("expected *AsmError, got %T", err)
	}
	if asmErr.ID != ErrInvalidInstrOpt {
		t.Fatalf("got id %v, want ErrInvalidInstrOpt", asmErr.ID)
	}
}

func TestAssembleNopAliasesBrkZeroZero(t *testing.T) {
	word, err := Assemble("NOP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if word != 0 {
		t.Fatalf("NOP must encode as BRK 0,0 (word 0), got %#x", word)
	}
}

func TestAssembleBrkWithCodes(t *testing.T) {
	word, err := Assemble("BRK 3, 100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeSys(op.SysFields{Opcode: op.OpBRK, Code4: 3, Code16: 100})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	_, err := Assemble("FROB r1, r2")
	asmErr, ok := err.(*AsmError)
	if !ok {
		t.Fatalf("expected *AsmError, got %T", err)
	}
	if asmErr.ID != ErrInvalidOpCode {
		t.Fatalf("got id %v, want ErrInvalidOpCode", asmErr.ID)
	}
}

func TestAssembleMissingComma(t *testing.T) {
	_, err := Assemble("ADD r1 r2, r3")
	asmErr, ok := err.(*AsmError)
	if !ok {
		t.Fatalf("expected *AsmError, got %T", err)
	}
	if asmErr.ID != ErrExpectedComma {
		t.Fatalf("got id %v, want ErrExpectedComma", asmErr.ID)
	}
}

func TestAssembleOffsetOutOfRange(t *testing.T) {
	_, err := Assemble("B 5000")
	asmErr, ok := err.(*AsmError)
	if !ok {
		t.Fatalf("expected *AsmError, got %T", err)
	}
	if asmErr.ID != ErrOffsetValRange {
		t.Fatalf("got id %v, want ErrOffsetValRange", asmErr.ID)
	}
}

func TestAssembleExtraTokenAfterOperands(t *testing.T) {
	_, err := Assemble("ADD r1, r2, r3 garbage")
	asmErr, ok := err.(*AsmError)
	if !ok {
		t.Fatalf("expected *AsmError, got %T", err)
	}
	if asmErr.ID != ErrExtraTokenInStr {
		t.Fatalf("got id %v, want ErrExtraTokenInStr", asmErr.ID)
	}
}

func TestAssembleExternalBranchWithSegmentReg(t *testing.T) {
	word, err := Assemble("BE s4, r6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeBranch(op.BranchFields{Opcode: op.OpBE, A: 4, B: 6})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleExtrField(t *testing.T) {
	word, err := Assemble("EXTR.S r1, r2, 4, 8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeReg3(op.Reg3Fields{Opcode: op.OpEXTR, Opt: 1, T: 1, A: 2, PosLen: 4, CondOpt2: 8})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleExprArithmetic(t *testing.T) {
	word, err := Assemble("LDIL r1, 2+3*4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeImm22(op.Imm22Fields{Opcode: op.OpLDIL, T: 1, Imm: 14})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}

func TestAssembleHexLiteral(t *testing.T) {
	word, err := Assemble("LDIL r1, 0xff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := op.EncodeImm22(op.Imm22Fields{Opcode: op.OpLDIL, T: 1, Imm: 0xff})
	if word != want {
		t.Fatalf("got %#x, want %#x", word, want)
	}
}
