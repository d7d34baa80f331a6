/*
   One-line assembler: a recursive-descent LL(1) parser + instruction
   encoder for the frozen instruction set in emu/opcodemap.

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
package assembler

import (
	"fmt"
	"strconv"
	"strings"

	op "github.com/hff-git/vcpu32/emu/opcodemap"
)

// ErrorID is the symbolic error set a caller can switch on, instead of
// matching error text (spec.md §4.9).
type ErrorID int

const (
	ErrExpectedComma ErrorID = 1 + iota
	ErrExpectedLParen
	ErrExpectedRParen
	ErrExpectedGeneralReg
	ErrExpectedSegmentReg
	ErrExpectedNumeric
	ErrExpectedLogicalAdr
	ErrExpectedExtAdr
	ErrExpectedOffsetVal
	ErrInvalidInstrOpt
	ErrInvalidInstrMode
	ErrInstrModeOptCombo
	ErrImmValRange
	ErrOffsetValRange
	ErrPosValRange
	ErrLenValRange
	ErrInstrHasNoOpt
	ErrInvalidOpCode
	ErrInvalidSOpCode
	ErrExtraTokenInStr
	ErrExpectedSR1SR3
	ErrExprTypeMatch
	ErrExprFactor
	ErrUnexpectedEOS
	ErrExpectedInstrVal
	ErrExpectedStr
)

var errorText = map[ErrorID]string{
	ErrExpectedComma:      "expected-comma",
	ErrExpectedLParen:     "expected-lparen",
	ErrExpectedRParen:     "expected-rparen",
	ErrExpectedGeneralReg: "expected-general-reg",
	ErrExpectedSegmentReg: "expected-segment-reg",
	ErrExpectedNumeric:    "expected-numeric",
	ErrExpectedLogicalAdr: "expected-logical-adr",
	ErrExpectedExtAdr:     "expected-ext-adr",
	ErrExpectedOffsetVal:  "expected-an-offset-val",
	ErrInvalidInstrOpt:    "invalid-instr-opt",
	ErrInvalidInstrMode:   "invalid-instr-mode",
	ErrInstrModeOptCombo:  "instr-mode-opt-combo",
	ErrImmValRange:        "imm-val-range",
	ErrOffsetValRange:     "offset-val-range",
	ErrPosValRange:        "pos-val-range",
	ErrLenValRange:        "len-val-range",
	ErrInstrHasNoOpt:      "instr-has-no-opt",
	ErrInvalidOpCode:      "invalid-op-code",
	ErrInvalidSOpCode:     "invalid-s-op-code",
	ErrExtraTokenInStr:    "extra-token-in-str",
	ErrExpectedSR1SR3:     "expected-sr1-sr3",
	ErrExprTypeMatch:      "expr-type-match",
	ErrExprFactor:         "expr-factor",
	ErrUnexpectedEOS:      "unexpected-eos",
	ErrExpectedInstrVal:   "expected-instr-val",
	ErrExpectedStr:        "expected-str",
}

// AsmError reports a syntax or semantic error at a specific character
// of the input line, per spec.md §4.9's "emit the input line, a caret
// at the token character index, and a symbolic error id."
type AsmError struct {
	ID   ErrorID
	Pos  int
	Line string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("%s\n%s^ %s", e.Line, strings.Repeat(" ", e.Pos), errorText[e.ID])
}

// OneLineAsm is the tokenizer state for a single source line. A fresh
// value is constructed per call to Assemble; there is no file-scope
// mutable parser state.
type OneLineAsm struct {
	line string
	pos  int
}

func newAsm(line string) *OneLineAsm {
	return &OneLineAsm{line: line}
}

func (a *OneLineAsm) fail(id ErrorID) *AsmError {
	return &AsmError{ID: id, Pos: a.pos, Line: a.line}
}

func isSpace(c byte) bool  { return c == ' ' || c == '\t' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool  { return (c|0x20) >= 'a' && (c|0x20) <= 'z' }
func isAlnum(c byte) bool  { return isDigit(c) || isAlpha(c) || c == '_' }

func (a *OneLineAsm) skipSpace() {
	for a.pos < len(a.line) && isSpace(a.line[a.pos]) {
		a.pos++
	}
}

func (a *OneLineAsm) peek() byte {
	a.skipSpace()
	if a.pos >= len(a.line) {
		return 0
	}
	return a.line[a.pos]
}

func (a *OneLineAsm) eof() bool {
	return a.peek() == 0
}

// readMnemonic splits "OPCODE.opts" off the front of the line, where
// opts is everything between the first '.' and the next blank.
func (a *OneLineAsm) readMnemonic() (string, string) {
	a.skipSpace()
	start := a.pos
	for a.pos < len(a.line) && !isSpace(a.line[a.pos]) && a.line[a.pos] != '.' {
		a.pos++
	}
	name := strings.ToUpper(a.line[start:a.pos])
	opts := ""
	if a.pos < len(a.line) && a.line[a.pos] == '.' {
		a.pos++
		optStart := a.pos
		for a.pos < len(a.line) && !isSpace(a.line[a.pos]) {
			a.pos++
		}
		opts = strings.ToUpper(a.line[optStart:a.pos])
	}
	return name, opts
}

func (a *OneLineAsm) expectComma() *AsmError {
	if a.peek() != ',' {
		return a.fail(ErrExpectedComma)
	}
	a.pos++
	return nil
}

func (a *OneLineAsm) expectLParen() *AsmError {
	if a.peek() != '(' {
		return a.fail(ErrExpectedLParen)
	}
	a.pos++
	return nil
}

func (a *OneLineAsm) expectRParen() *AsmError {
	if a.peek() != ')' {
		return a.fail(ErrExpectedRParen)
	}
	a.pos++
	return nil
}

// tryPrefixedReg recognizes "<prefix><digits>" (case-insensitive
// prefix) as a register token, e.g. r0..r15, s0..s15, c0..c15. It does
// not consume input on failure.
func (a *OneLineAsm) tryPrefixedReg(prefix byte, max int) (int, bool) {
	save := a.pos
	a.skipSpace()
	if a.pos >= len(a.line) || (a.line[a.pos]|0x20) != prefix {
		a.pos = save
		return 0, false
	}
	p := a.pos + 1
	start := p
	for p < len(a.line) && isDigit(a.line[p]) {
		p++
	}
	if p == start || (p < len(a.line) && isAlnum(a.line[p])) {
		a.pos = save
		return 0, false
	}
	n, _ := strconv.Atoi(a.line[start:p])
	if n >= max {
		a.pos = save
		return 0, false
	}
	a.pos = p
	return n, true
}

func (a *OneLineAsm) parseGReg() (int, *AsmError) {
	if n, ok := a.tryPrefixedReg('r', 16); ok {
		return n, nil
	}
	return 0, a.fail(ErrExpectedGeneralReg)
}

func (a *OneLineAsm) parseSReg() (int, *AsmError) {
	if n, ok := a.tryPrefixedReg('s', 16); ok {
		return n, nil
	}
	return 0, a.fail(ErrExpectedSegmentReg)
}

func (a *OneLineAsm) parseCReg() (int, *AsmError) {
	if n, ok := a.tryPrefixedReg('c', 16); ok {
		return n, nil
	}
	return 0, a.fail(ErrExpectedSegmentReg)
}

// parseNumberLiteral implements the NUMBER production: decimal, 0x hex,
// 0o octal, and the qualified forms L%n (mask 0xFFFFFC00) and R%n
// (mask 0x3FF), the PA-RISC-style left/right literal split LDIL/ADDIL
// rely on to build a 32-bit constant from its high and low halves.
func (a *OneLineAsm) parseNumberLiteral() (uint32, *AsmError) {
	a.skipSpace()
	rest := a.line[a.pos:]
	upper := strings.ToUpper(rest)
	if strings.HasPrefix(upper, "L%") {
		a.pos += 2
		v, err := a.parseNumberLiteral()
		if err != nil {
			return 0, err
		}
		return (v & 0xfffffc00) >> 10, nil
	}
	if strings.HasPrefix(upper, "R%") {
		a.pos += 2
		v, err := a.parseNumberLiteral()
		if err != nil {
			return 0, err
		}
		return v & 0x3ff, nil
	}
	base := 10
	digitsStart := a.pos
	if strings.HasPrefix(upper, "0X") {
		base = 16
		digitsStart = a.pos + 2
	} else if strings.HasPrefix(upper, "0O") {
		base = 8
		digitsStart = a.pos + 2
	}
	p := digitsStart
	for p < len(a.line) && isHexDigitForBase(a.line[p], base) {
		p++
	}
	if p == digitsStart {
		return 0, a.fail(ErrExpectedNumeric)
	}
	v, convErr := strconv.ParseUint(a.line[digitsStart:p], base, 64)
	if convErr != nil {
		return 0, a.fail(ErrExpectedNumeric)
	}
	a.pos = p
	return uint32(v), nil
}

func isHexDigitForBase(c byte, base int) bool {
	switch base {
	case 16:
		return isDigit(c) || (c|0x20) >= 'a' && (c|0x20) <= 'f'
	case 8:
		return c >= '0' && c <= '7'
	default:
		return isDigit(c)
	}
}

// factor implements: NUMBER | GREG | SREG | CREG | "~" factor | "(" expr ")".
// Register tokens evaluate to their register index, the only sensible
// numeric value a register can contribute to an arithmetic expression
// (e.g. selecting a register by computed index is not supported, but
// writing "r3" where a plain register-number operand is expected is).
func (a *OneLineAsm) factor() (int32, *AsmError) {
	c := a.peek()
	switch {
	case c == '~':
		a.pos++
		v, err := a.factor()
		if err != nil {
			return 0, err
		}
		return ^v, nil
	case c == '(':
		a.pos++
		v, err := a.expr()
		if err != nil {
			return 0, err
		}
		if err := a.expectRParen(); err != nil {
			return 0, err
		}
		return v, nil
	case c == 'r' || c == 'R':
		if n, ok := a.tryPrefixedReg('r', 16); ok {
			return int32(n), nil
		}
	case c == 's' || c == 'S':
		if n, ok := a.tryPrefixedReg('s', 16); ok {
			return int32(n), nil
		}
	case c == 'c' || c == 'C':
		if n, ok := a.tryPrefixedReg('c', 16); ok {
			return int32(n), nil
		}
	}
	qualified := (c|0x20 == 'l' || c|0x20 == 'r') && a.pos+1 < len(a.line) && a.line[a.pos+1] == '%'
	if isDigit(c) || qualified {
		v, err := a.parseNumberLiteral()
		if err != nil {
			return 0, err
		}
		return int32(v), nil
	}
	if c == 0 {
		return 0, a.fail(ErrUnexpectedEOS)
	}
	return 0, a.fail(ErrExprFactor)
}

func (a *OneLineAsm) term() (int32, *AsmError) {
	v, err := a.factor()
	if err != nil {
		return 0, err
	}
	for {
		c := a.peek()
		if c != '*' && c != '/' && c != '%' && c != '&' {
			return v, nil
		}
		a.pos++
		v2, err := a.factor()
		if err != nil {
			return 0, err
		}
		switch c {
		case '*':
			v *= v2
		case '/':
			if v2 == 0 {
				return 0, a.fail(ErrExprTypeMatch)
			}
			v /= v2
		case '%':
			if v2 == 0 {
				return 0, a.fail(ErrExprTypeMatch)
			}
			v %= v2
		case '&':
			v &= v2
		}
	}
}

// expr implements: ["+"|"-"] term { ("+"|"-"|"|"|"^") term }.
func (a *OneLineAsm) expr() (int32, *AsmError) {
	neg := false
	if c := a.peek(); c == '+' || c == '-' {
		a.pos++
		neg = c == '-'
	}
	v, err := a.term()
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	for {
		c := a.peek()
		if c != '+' && c != '-' && c != '|' && c != '^' {
			return v, nil
		}
		a.pos++
		v2, err := a.term()
		if err != nil {
			return 0, err
		}
		switch c {
		case '+':
			v += v2
		case '-':
			v -= v2
		case '|':
			v |= v2
		case '^':
			v ^= v2
		}
	}
}

// memOperand is the decoded form of "disp(rB)" / "disp(rX,rB)" /
// "disp(sX,rB)" / "disp", mirroring opcodemap.MemFields' four
// addressing modes directly (spec.md §4.9 factor's address forms,
// implemented as a dedicated routine the way the teacher's own
// getAddr stands apart from its generic number parsing).
type memOperand struct {
	mode uint8
	xOrS uint8
	b    uint8
	disp int32
}

func (a *OneLineAsm) parseMemOperand() (memOperand, *AsmError) {
	var mo memOperand
	if a.peek() != '(' {
		v, err := a.expr()
		if err != nil {
			return mo, err
		}
		mo.disp = v
		if a.peek() != '(' {
			mo.mode = op.ModeImm
			return mo, nil
		}
	}
	if err := a.expectLParen(); err != nil {
		return mo, err
	}
	if s, sok := a.tryPrefixedReg('s', 16); sok {
		if err := a.expectComma(); err != nil {
			return mo, err
		}
		g, gerr := a.parseGReg()
		if gerr != nil {
			return mo, gerr
		}
		if err := a.expectRParen(); err != nil {
			return mo, err
		}
		mo.mode = op.ModeExt
		mo.xOrS = uint8(s)
		mo.b = uint8(g)
		return mo, nil
	}
	g, gerr := a.parseGReg()
	if gerr != nil {
		return mo, a.fail(ErrExpectedLogicalAdr)
	}
	if a.peek() == ',' {
		a.pos++
		g2, gerr2 := a.parseGReg()
		if gerr2 != nil {
			return mo, gerr2
		}
		if err := a.expectRParen(); err != nil {
			return mo, err
		}
		mo.mode = op.ModeIndex
		mo.xOrS = uint8(g)
		mo.b = uint8(g2)
		return mo, nil
	}
	if err := a.expectRParen(); err != nil {
		return mo, err
	}
	mo.mode = op.ModeOffset
	mo.b = uint8(g)
	return mo, nil
}

// widthFromOpts reads a single B/H/W flag out of an option string,
// defaulting to word (the LD/ST family's unsuffixed form).
func widthFromOpts(opts string) (uint8, *AsmError) {
	width := uint8(op.WidthWord)
	for _, c := range opts {
		switch c {
		case 'B':
			width = op.WidthByte
		case 'H':
			width = op.WidthHalf
		case 'W':
			width = op.WidthWord
		case 'M':
			// M bit handled by the caller; not a width flag.
		default:
			return 0, &AsmError{ID: ErrInvalidInstrOpt}
		}
	}
	return width, nil
}

func hasOpt(opts string, c byte) bool {
	return strings.IndexByte(opts, c) >= 0
}

func optsOnlyOf(opts string, allowed string) bool {
	for _, c := range opts {
		if strings.IndexByte(allowed, byte(c)) < 0 {
			return false
		}
	}
	return true
}

func checkRange(a *OneLineAsm, v int32, lo, hi int32, id ErrorID) *AsmError {
	if v < lo || v > hi {
		return a.fail(id)
	}
	return nil
}

// condFromToken maps the two-letter CMP/CMPU/CBR/CBRU condition names
// to opcodemap's 2-bit Cond* constants.
func condFromToken(tok string) (uint8, bool) {
	switch tok {
	case "EQ":
		return op.CondEQ, true
	case "LT":
		return op.CondLT, true
	case "NE":
		return op.CondNE, true
	case "LE":
		return op.CondLE, true
	}
	return 0, false
}

// cmrFromToken maps CMR's eight-way condition names to opcodemap's
// Cmr* constants.
func cmrFromToken(tok string) (uint8, bool) {
	switch tok {
	case "EQ":
		return op.CmrEQ, true
	case "LT":
		return op.CmrLT, true
	case "GT":
		return op.CmrGT, true
	case "EV":
		return op.CmrEV, true
	case "NE":
		return op.CmrNE, true
	case "LE":
		return op.CmrLE, true
	case "GE":
		return op.CmrGE, true
	case "OD":
		return op.CmrOD, true
	}
	return 0, false
}

type asmFunc func(a *OneLineAsm, opts string) (uint32, *AsmError)

var mnemonics map[string]asmFunc

func init() {
	mnemonics = map[string]asmFunc{
		"NOP":   asmNop,
		"BRK":   asmBrk,
		"LDIL":  asmLdil,
		"ADDIL": asmAddil,
		"LDO":   asmLdo,
		"LSID":  asmLsid,
		"EXTR":  asmExtr,
		"DEP":   asmDep,
		"DSR":   asmDsr,
		"SHLA":  asmShla,
		"CMR":   asmCmr,
		"MR":    asmMr,
		"MST":   asmMst,
		"ADD":   asmArith(op.OpADD),
		"ADC":   asmArith(op.OpADC),
		"SUB":   asmArith(op.OpSUB),
		"SBC":   asmArith(op.OpSBC),
		"AND":   asmLogical(op.OpAND, "NC"),
		"OR":    asmLogical(op.OpOR, "NC"),
		"XOR":   asmLogical(op.OpXOR, ""),
		"CMP":   asmCompare(op.OpCMP),
		"CMPU":  asmCompare(op.OpCMPU),
		"B":     asmPcBranch(op.OpB),
		"GATE":  asmPcBranch(op.OpGATE),
		"BR":    asmBr,
		"BV":    asmBv,
		"BE":    asmBe,
		"BVE":   asmBve,
		"CBR":   asmCondBranch(op.OpCBR),
		"CBRU":  asmCondBranch(op.OpCBRU),
		"LD":    asmLoad(op.OpLD),
		"LDA":   asmLoad(op.OpLDA),
		"LDR":   asmLoad(op.OpLDR),
		"ST":    asmStore(op.OpST),
		"STA":   asmStore(op.OpSTA),
		"STC":   asmStore(op.OpSTC),
		"LDPA":  asmLdpa,
		"PRB":   asmPrb,
		"ITLB":  asmItlb,
		"PTLB":  asmPtlb,
		"PCA":   asmPca,
		"DIAG":  asmDiag,
		"RFI":   asmRfi,
	}
}

// Assemble parses one line of source and returns its encoded 32-bit
// instruction word.
func Assemble(line string) (uint32, error) {
	a := newAsm(line)
	name, opts := a.readMnemonic()
	if name == "" {
		return 0, a.fail(ErrExpectedInstrVal)
	}
	fn, ok := mnemonics[name]
	if !ok {
		return 0, a.fail(ErrInvalidOpCode)
	}
	word, err := fn(a, opts)
	if err != nil {
		return 0, err
	}
	if !a.eof() {
		return 0, a.fail(ErrExtraTokenInStr)
	}
	return word, nil
}

func asmNop(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if opts != "" {
		return 0, a.fail(ErrInstrHasNoOpt)
	}
	return op.EncodeSys(op.SysFields{Opcode: op.OpBRK}), nil
}

func asmBrk(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if opts != "" {
		return 0, a.fail(ErrInstrHasNoOpt)
	}
	code4, err := a.expr()
	if err != nil {
		return 0, err
	}
	if err := checkRange(a, code4, 0, 15, ErrImmValRange); err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	code16, err := a.expr()
	if err != nil {
		return 0, err
	}
	if err := checkRange(a, code16, 0, 0xffff, ErrImmValRange); err != nil {
		return 0, err
	}
	return op.EncodeSys(op.SysFields{Opcode: op.OpBRK, Code4: uint8(code4), Code16: uint16(code16)}), nil
}

func asmImm22(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		if opts != "" {
			return 0, a.fail(ErrInstrHasNoOpt)
		}
		t, terr := a.parseGReg()
		if terr != nil {
			return 0, terr
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		v, err := a.expr()
		if err != nil {
			return 0, err
		}
		return op.EncodeImm22(op.Imm22Fields{Opcode: opcode, T: uint8(t), Imm: uint32(v) & 0x3fffff}), nil
	}
}

var asmLdil = asmImm22(op.OpLDIL)
var asmAddil = asmImm22(op.OpADDIL)

func asmLdo(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if opts != "" {
		return 0, a.fail(ErrInstrHasNoOpt)
	}
	t, terr := a.parseGReg()
	if terr != nil {
		return 0, terr
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	mo, err := a.parseMemOperand()
	if err != nil {
		return 0, err
	}
	if err := checkRange(a, mo.disp, -256, 255, ErrOffsetValRange); err != nil {
		return 0, err
	}
	return op.EncodeMem(op.MemFields{Opcode: op.OpLDO, T: uint8(t), B: mo.b, Disp: mo.disp}), nil
}

func asmLsid(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if opts != "" {
		return 0, a.fail(ErrInstrHasNoOpt)
	}
	t, terr := a.parseGReg()
	if terr != nil {
		return 0, terr
	}
	return op.EncodeReg3(op.Reg3Fields{Opcode: op.OpLSID, T: uint8(t)}), nil
}

func reg3Opt(opts string, bit0, bit1 byte) uint8 {
	var v uint8
	if hasOpt(opts, bit0) {
		v |= 0x1
	}
	if bit1 != 0 && hasOpt(opts, bit1) {
		v |= 0x2
	}
	return v
}

func asmExtr(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "SA") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	src, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	pos, perr := a.expr()
	if perr != nil {
		return 0, perr
	}
	if err := checkRange(a, pos, 0, 31, ErrPosValRange); err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	length, lerr := a.expr()
	if lerr != nil {
		return 0, lerr
	}
	if err := checkRange(a, length, 1, 32, ErrLenValRange); err != nil {
		return 0, err
	}
	return op.EncodeReg3(op.Reg3Fields{
		Opcode: op.OpEXTR, Opt: reg3Opt(opts, 'S', 'A'),
		T: uint8(t), A: uint8(src), PosLen: uint8(pos), CondOpt2: uint8(length),
	}), nil
}

func asmDep(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "ZAI") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	src, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	base, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	pos, perr := a.expr()
	if perr != nil {
		return 0, perr
	}
	if err := checkRange(a, pos, 0, 31, ErrPosValRange); err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	length, lerr := a.expr()
	if lerr != nil {
		return 0, lerr
	}
	if err := checkRange(a, length, 1, 32, ErrLenValRange); err != nil {
		return 0, err
	}
	opt := reg3Opt(opts, 'Z', 'A')
	if hasOpt(opts, 'I') {
		opt |= 0x4
	}
	return op.EncodeReg3(op.Reg3Fields{
		Opcode: op.OpDEP, Opt: opt,
		T: uint8(t), A: uint8(src), B: uint8(base), PosLen: uint8(pos), CondOpt2: uint8(length),
	}), nil
}

func asmDsr(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "A") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	hi, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	lo, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	shift, serr := a.expr()
	if serr != nil {
		return 0, serr
	}
	if err := checkRange(a, shift, 0, 31, ErrPosValRange); err != nil {
		return 0, err
	}
	return op.EncodeReg3(op.Reg3Fields{
		Opcode: op.OpDSR, Opt: reg3Opt(opts, 'A', 0),
		T: uint8(t), A: uint8(hi), B: uint8(lo), PosLen: uint8(shift),
	}), nil
}

func asmShla(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "ILO") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	ra, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	rb, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	shift, serr := a.expr()
	if serr != nil {
		return 0, serr
	}
	if err := checkRange(a, shift, 0, 31, ErrPosValRange); err != nil {
		return 0, err
	}
	opt := reg3Opt(opts, 'L', 'O')
	if hasOpt(opts, 'I') {
		opt |= 0x4
	}
	return op.EncodeReg3(op.Reg3Fields{
		Opcode: op.OpSHLA, Opt: opt,
		T: uint8(t), A: uint8(ra), B: uint8(rb), PosLen: uint8(shift),
	}), nil
}

func asmCmr(a *OneLineAsm, opts string) (uint32, *AsmError) {
	cond, ok := cmrFromToken(opts)
	if !ok {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	ra, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	rb, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	return op.EncodeReg3(op.Reg3Fields{Opcode: op.OpCMR, T: uint8(t), A: uint8(ra), B: uint8(rb), CondOpt2: cond}), nil
}

// asmMr parses "MR sN|cN, rA" (general->special, the default) or,
// with the D option, "MR.D rT, sN|cN" (special->general); the M
// option selects the control-register class over the default segment
// class, matching execMr's Opt-bit layout.
func asmMr(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "DM") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	toGeneral := hasOpt(opts, 'D')
	optBits := uint8(0)
	if toGeneral {
		optBits |= 0x1
	}
	if hasOpt(opts, 'M') {
		optBits |= 0x2
	}
	if toGeneral {
		t, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		var b int
		var serr *AsmError
		if hasOpt(opts, 'M') {
			b, serr = a.parseCReg()
		} else {
			b, serr = a.parseSReg()
		}
		if serr != nil {
			return 0, serr
		}
		return op.EncodeReg3(op.Reg3Fields{Opcode: op.OpMR, Opt: optBits, T: uint8(t), B: uint8(b)}), nil
	}
	var b int
	var serr *AsmError
	if hasOpt(opts, 'M') {
		b, serr = a.parseCReg()
	} else {
		b, serr = a.parseSReg()
	}
	if serr != nil {
		return 0, serr
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	ra, aerr := a.parseGReg()
	if aerr != nil {
		return 0, aerr
	}
	return op.EncodeReg3(op.Reg3Fields{Opcode: op.OpMR, Opt: optBits, A: uint8(ra), B: uint8(b)}), nil
}

func asmMst(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "SC") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	ra, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	rb, berr := a.parseGReg()
	if berr != nil {
		return 0, berr
	}
	return op.EncodeReg3(op.Reg3Fields{Opcode: op.OpMST, A: uint8(ra), B: uint8(rb)}), nil
}

// asmArith builds ADD/ADC/SUB/SBC's routine: "OP rT, rA, rB" with L
// (no-trap, the default; accepted but redundant) and O (trap on
// overflow) as mutually exclusive options.
func asmArith(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		if !optsOnlyOf(opts, "LO") {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		if hasOpt(opts, 'L') && hasOpt(opts, 'O') {
			return 0, a.fail(ErrInstrModeOptCombo)
		}
		t, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		ra, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		rb, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		opt := uint8(0)
		if hasOpt(opts, 'O') {
			opt = 0x1
		}
		return op.EncodeReg3(op.Reg3Fields{Opcode: opcode, Opt: opt, T: uint8(t), A: uint8(ra), B: uint8(rb)}), nil
	}
}

// asmLogical builds AND/OR/XOR's routine. allowedOpts names the option
// characters accepted for this opcode. Only "C" (complement the result)
// is encoded and honored by execute.go; AND/OR's "N" is accepted as
// syntax and left un-encoded. An empty string means no option is
// accepted (XOR's N is accepted by the grammar but not by execute.go, so
// the assembler declines it rather than silently producing a word that
// can't do what it claims).
func asmLogical(opcode uint8, allowedOpts string) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		if !optsOnlyOf(opts, allowedOpts) {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		t, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		ra, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		rb, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		opt := uint8(0)
		if hasOpt(opts, 'C') {
			opt = 0x1
		}
		return op.EncodeReg3(op.Reg3Fields{Opcode: opcode, Opt: opt, T: uint8(t), A: uint8(ra), B: uint8(rb)}), nil
	}
}

func asmCompare(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		cond, ok := condFromToken(opts)
		if !ok {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		t, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		ra, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		rb, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		return op.EncodeReg3(op.Reg3Fields{Opcode: opcode, T: uint8(t), A: uint8(ra), B: uint8(rb), CondOpt2: cond}), nil
	}
}

// asmPcBranch builds B/GATE's routine: "OP offset" or, with the L
// option, "OP.L rT, offset".
func asmPcBranch(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		if !optsOnlyOf(opts, "L") {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		link := hasOpt(opts, 'L')
		t := 0
		if link {
			var terr *AsmError
			t, terr = a.parseGReg()
			if terr != nil {
				return 0, terr
			}
			if err := a.expectComma(); err != nil {
				return 0, err
			}
		}
		offs, err := a.expr()
		if err != nil {
			return 0, err
		}
		if err := checkRange(a, offs, -1024, 1023, ErrOffsetValRange); err != nil {
			return 0, err
		}
		return op.EncodeBranch(op.BranchFields{Opcode: opcode, Link: link, T: uint8(t), Offset: offs}), nil
	}
}

func asmBr(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "L") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	link := hasOpt(opts, 'L')
	t := 0
	if link {
		var terr *AsmError
		t, terr = a.parseGReg()
		if terr != nil {
			return 0, terr
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
	}
	rb, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	return op.EncodeBranch(op.BranchFields{Opcode: op.OpBR, Link: link, T: uint8(t), B: uint8(rb)}), nil
}

// asmBv parses "BV rA, rB" (target = (rB)+(rA)*4) or, with L, "BV.L
// rT, rA, rB".
func asmBv(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "L") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	link := hasOpt(opts, 'L')
	t := 0
	if link {
		var terr *AsmError
		t, terr = a.parseGReg()
		if terr != nil {
			return 0, terr
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
	}
	ra, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	rb, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	return op.EncodeBranch(op.BranchFields{Opcode: op.OpBV, Link: link, T: uint8(t), A: uint8(ra), B: uint8(rb)}), nil
}

// asmExtBranch builds BE/BVE's routine: "OP sN, rB" (external branch:
// sN is a segment-register selector field, not a general-register
// operand) or, with L, "OP.L rT, sN, rB". BVE has no index register of
// its own (see the memory-access-stage note on OpBVE) so it shares
// BE's target computation under its own mnemonic.
func asmExtBranch(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		if !optsOnlyOf(opts, "L") {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		link := hasOpt(opts, 'L')
		t := 0
		if link {
			var terr *AsmError
			t, terr = a.parseGReg()
			if terr != nil {
				return 0, terr
			}
			if err := a.expectComma(); err != nil {
				return 0, err
			}
		}
		sa, err := a.parseSReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		rb, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		return op.EncodeBranch(op.BranchFields{Opcode: opcode, Link: link, T: uint8(t), A: uint8(sa), B: uint8(rb)}), nil
	}
}

var asmBe = asmExtBranch(op.OpBE)
var asmBve = asmExtBranch(op.OpBVE)

func asmCondBranch(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		cond, ok := condFromToken(opts)
		if !ok {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		ra, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		rb, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		offs, oerr := a.expr()
		if oerr != nil {
			return 0, oerr
		}
		if err := checkRange(a, offs, -1024, 1023, ErrOffsetValRange); err != nil {
			return 0, err
		}
		return op.EncodeBranch(op.BranchFields{Opcode: opcode, Cond: cond, A: uint8(ra), B: uint8(rb), Offset: offs}), nil
	}
}

func asmLoad(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		width, werr := widthFromOpts(opts)
		if werr != nil {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		t, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		mo, merr := a.parseMemOperand()
		if merr != nil {
			return 0, merr
		}
		return op.EncodeMem(op.MemFields{
			Opcode: opcode, Mode: mo.mode, M: hasOpt(opts, 'M'),
			T: uint8(t), Width: width, B: mo.b, X: mo.xOrS, Disp: mo.disp,
		}), nil
	}
}

func asmStore(opcode uint8) asmFunc {
	return func(a *OneLineAsm, opts string) (uint32, *AsmError) {
		width, werr := widthFromOpts(opts)
		if werr != nil {
			return 0, a.fail(ErrInvalidInstrOpt)
		}
		t, err := a.parseGReg()
		if err != nil {
			return 0, err
		}
		if err := a.expectComma(); err != nil {
			return 0, err
		}
		mo, merr := a.parseMemOperand()
		if merr != nil {
			return 0, merr
		}
		return op.EncodeMem(op.MemFields{
			Opcode: opcode, Mode: mo.mode, M: hasOpt(opts, 'M'),
			T: uint8(t), Width: width, B: mo.b, X: mo.xOrS, Disp: mo.disp,
		}), nil
	}
}

func asmLdpa(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if opts != "" {
		return 0, a.fail(ErrInstrHasNoOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	mo, merr := a.parseMemOperand()
	if merr != nil {
		return 0, merr
	}
	return op.EncodeMem(op.MemFields{Opcode: op.OpLDPA, Mode: mo.mode, T: uint8(t), B: mo.b, X: mo.xOrS, Disp: mo.disp}), nil
}

func asmPrb(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "WI") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	mo, merr := a.parseMemOperand()
	if merr != nil {
		return 0, merr
	}
	return op.EncodeMem(op.MemFields{Opcode: op.OpPRB, Mode: mo.mode, M: hasOpt(opts, 'W'), T: uint8(t), B: mo.b, X: mo.xOrS, Disp: mo.disp}), nil
}

// asmItlb parses "ITLB rT, rB, rX": T carries the access-info value,
// B the virtual offset to insert, X the protection-info value, per
// maFmtMem's OpITLB case.
func asmItlb(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "T") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	t, err := a.parseGReg()
	if err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	rb, berr := a.parseGReg()
	if berr != nil {
		return 0, berr
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	rx, xerr := a.parseGReg()
	if xerr != nil {
		return 0, xerr
	}
	return op.EncodeMem(op.MemFields{Opcode: op.OpITLB, T: uint8(t), B: uint8(rb), X: uint8(rx)}), nil
}

// asmPtlb/asmPca parse "OP (rB)": only the virtual-offset register
// matters to their execute-stage handling.
func asmPtlb(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "TM") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	mo, err := a.parseMemOperand()
	if err != nil {
		return 0, err
	}
	if mo.mode != op.ModeOffset {
		return 0, a.fail(ErrInvalidInstrMode)
	}
	return op.EncodeMem(op.MemFields{Opcode: op.OpPTLB, Mode: mo.mode, B: mo.b}), nil
}

func asmPca(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if !optsOnlyOf(opts, "TMF") {
		return 0, a.fail(ErrInvalidInstrOpt)
	}
	mo, err := a.parseMemOperand()
	if err != nil {
		return 0, err
	}
	if mo.mode != op.ModeOffset {
		return 0, a.fail(ErrInvalidInstrMode)
	}
	return op.EncodeMem(op.MemFields{Opcode: op.OpPCA, Mode: mo.mode, M: hasOpt(opts, 'F'), B: mo.b}), nil
}

func asmDiag(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if opts != "" {
		return 0, a.fail(ErrInstrHasNoOpt)
	}
	if a.eof() {
		return op.EncodeSys(op.SysFields{Opcode: op.OpDIAG}), nil
	}
	code4, err := a.expr()
	if err != nil {
		return 0, err
	}
	if err := checkRange(a, code4, 0, 15, ErrImmValRange); err != nil {
		return 0, err
	}
	if err := a.expectComma(); err != nil {
		return 0, err
	}
	code16, err := a.expr()
	if err != nil {
		return 0, err
	}
	if err := checkRange(a, code16, 0, 0xffff, ErrImmValRange); err != nil {
		return 0, err
	}
	return op.EncodeSys(op.SysFields{Opcode: op.OpDIAG, Code4: uint8(code4), Code16: uint16(code16)}), nil
}

func asmRfi(a *OneLineAsm, opts string) (uint32, *AsmError) {
	if opts != "" {
		return 0, a.fail(ErrInstrHasNoOpt)
	}
	return op.EncodeSys(op.SysFields{Opcode: op.OpRFI}), nil
}
