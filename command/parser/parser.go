/*
   parser: turns one console input line into an operation against a
   core.Driver, the console counterpart of config/system's file-driven
   wiring. Grounded on the teacher's command/parser package: a small
   dispatch table matched by abbreviation, each entry a process
   function taking the remainder of the line.

   Copyright (c) 2026, VCPU-32 Project Contributors
*/
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hff-git/vcpu32/emu/core"
	Dv "github.com/hff-git/vcpu32/emu/device"
	"github.com/hff-git/vcpu32/util/hex"
)

type cmd struct {
	name    string
	min     int
	process func(args []string, d *core.Driver) (bool, error)
}

var cmdList = []cmd{
	{"step", 2, cmdStep},
	{"instr", 2, cmdInstr},
	{"reg", 3, cmdReg},
	{"asm", 3, cmdAsm},
	{"dis", 3, cmdDis},
	{"break", 3, cmdBreak},
	{"tlb", 3, cmdTLB},
	{"cache", 3, cmdCache},
	{"mem", 3, cmdMem},
	{"dump", 2, cmdDump},
	{"reset", 3, cmdReset},
	{"trace", 3, cmdTrace},
	{"quit", 1, cmdQuit},
	{"exit", 1, cmdQuit},
}

// ProcessCommand parses and executes one line. Returns true if the
// caller should stop the REPL.
func ProcessCommand(line string, d *core.Driver) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name := strings.ToLower(fields[0])
	match := matchList(name)
	switch len(match) {
	case 0:
		return false, errors.New("command not found: " + name)
	case 1:
		return match[0].process(fields[1:], d)
	default:
		return false, errors.New("ambiguous command: " + name)
	}
}

func matchList(name string) []cmd {
	var out []cmd
	for _, c := range cmdList {
		if len(name) >= c.min && len(name) <= len(c.name) && strings.HasPrefix(c.name, name) {
			out = append(out, c)
		}
	}
	return out
}

func regClass(s string) (int, error) {
	switch strings.ToLower(s) {
	case "g", "general":
		return Dv.General, nil
	case "s", "segment":
		return Dv.Segment, nil
	case "c", "control":
		return Dv.Control, nil
	case "p", "psw", "status":
		return Dv.ProgramStatus, nil
	}
	return 0, fmt.Errorf("unknown register class %q", s)
}

func tlbWhich(s string) (int, error) {
	switch strings.ToLower(s) {
	case "i", "instr":
		return Dv.InstrTLB, nil
	case "d", "data":
		return Dv.DataTLB, nil
	case "u", "unified":
		return Dv.UnifiedTLB, nil
	}
	return 0, fmt.Errorf("unknown TLB selector %q", s)
}

func cacheWhich(s string) (int, error) {
	switch strings.ToLower(s) {
	case "i", "instr":
		return Dv.InstrCache, nil
	case "d", "data":
		return Dv.DataCache, nil
	case "u", "unified":
		return Dv.UnifiedCache, nil
	}
	return 0, fmt.Errorf("unknown cache selector %q", s)
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	return uint32(v), err
}

func parseDec(s string) (int, error) {
	return strconv.Atoi(s)
}

func cmdStep(args []string, d *core.Driver) (bool, error) {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = parseDec(args[0]); err != nil {
			return false, err
		}
	}
	d.ClockStep(n)
	return false, nil
}

func cmdInstr(args []string, d *core.Driver) (bool, error) {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = parseDec(args[0]); err != nil {
			return false, err
		}
	}
	executed, stopped := d.InstrStep(n)
	if stopped {
		fmt.Printf("stopped at breakpoint after %d instruction(s)\n", executed)
	} else {
		fmt.Printf("executed %d instruction(s)\n", executed)
	}
	return false, nil
}

func cmdReg(args []string, d *core.Driver) (bool, error) {
	if len(args) < 2 {
		return false, errors.New("usage: reg <class> <index> [value]")
	}
	class, err := regClass(args[0])
	if err != nil {
		return false, err
	}
	index, err := parseDec(args[1])
	if err != nil {
		return false, err
	}
	if len(args) >= 3 {
		value, err := parseHex32(args[2])
		if err != nil {
			return false, err
		}
		if err := d.SetReg(class, index, value); err != nil {
			return false, err
		}
		return false, nil
	}
	value, err := d.GetReg(class, index)
	if err != nil {
		return false, err
	}
	var b strings.Builder
	hex.FormatWord(&b, []uint32{value})
	fmt.Println(strings.TrimSpace(b.String()))
	return false, nil
}

func cmdAsm(args []string, d *core.Driver) (bool, error) {
	if len(args) == 0 {
		return false, errors.New("usage: asm <instruction text>")
	}
	word, err := d.AssembleLine(strings.Join(args, " "))
	if err != nil {
		return false, err
	}
	var b strings.Builder
	hex.FormatWord(&b, []uint32{word})
	fmt.Println(strings.TrimSpace(b.String()))
	return false, nil
}

func cmdDis(args []string, d *core.Driver) (bool, error) {
	if len(args) == 0 {
		return false, errors.New("usage: dis <hex word>")
	}
	word, err := parseHex32(args[0])
	if err != nil {
		return false, err
	}
	fmt.Println(d.DisassembleWord(word, 16))
	return false, nil
}

func cmdBreak(args []string, d *core.Driver) (bool, error) {
	if len(args) == 0 {
		return false, errors.New("usage: break list|set <seg> <ofs>|clear <seg> <ofs>")
	}
	switch strings.ToLower(args[0]) {
	case "list":
		for _, bp := range d.ListBreakpoints() {
			fmt.Printf("%04x:%08x\n", bp[0], bp[1])
		}
		return false, nil
	case "set", "clear":
		if len(args) < 3 {
			return false, errors.New("usage: break set|clear <seg> <ofs>")
		}
		seg, err := parseHex32(args[1])
		if err != nil {
			return false, err
		}
		ofs, err := parseHex32(args[2])
		if err != nil {
			return false, err
		}
		if strings.ToLower(args[0]) == "set" {
			d.SetBreakpoint(seg, ofs)
		} else {
			d.ClearBreakpoint(seg, ofs)
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown break subcommand %q", args[0])
}

func cmdTLB(args []string, d *core.Driver) (bool, error) {
	if len(args) < 2 {
		return false, errors.New("usage: tlb insert|purge|hash <which> ...")
	}
	which, err := tlbWhich(args[1])
	if err != nil {
		return false, err
	}
	switch strings.ToLower(args[0]) {
	case "insert":
		if len(args) < 6 {
			return false, errors.New("usage: tlb insert <which> <seg> <ofs> <acc> <adr>")
		}
		seg, err := parseHex32(args[2])
		if err != nil {
			return false, err
		}
		ofs, err := parseHex32(args[3])
		if err != nil {
			return false, err
		}
		acc, err := parseHex32(args[4])
		if err != nil {
			return false, err
		}
		adr, err := parseHex32(args[5])
		if err != nil {
			return false, err
		}
		return false, d.InsertTlb(which, seg, ofs, acc, adr)
	case "purge":
		if len(args) < 4 {
			return false, errors.New("usage: tlb purge <which> <seg> <ofs>")
		}
		seg, err := parseHex32(args[2])
		if err != nil {
			return false, err
		}
		ofs, err := parseHex32(args[3])
		if err != nil {
			return false, err
		}
		return false, d.PurgeTlb(which, seg, ofs)
	case "hash":
		if len(args) < 4 {
			return false, errors.New("usage: tlb hash <which> <seg> <ofs>")
		}
		seg, err := parseHex32(args[2])
		if err != nil {
			return false, err
		}
		ofs, err := parseHex32(args[3])
		if err != nil {
			return false, err
		}
		h, err := d.HashAdr(which, seg, ofs)
		if err != nil {
			return false, err
		}
		fmt.Printf("%#04x\n", h)
		return false, nil
	}
	return false, fmt.Errorf("unknown tlb subcommand %q", args[0])
}

func cmdCache(args []string, d *core.Driver) (bool, error) {
	if len(args) < 2 {
		return false, errors.New("usage: cache flush|purge <which> ...")
	}
	which, err := cacheWhich(args[1])
	if err != nil {
		return false, err
	}
	switch strings.ToLower(args[0]) {
	case "flush":
		if len(args) < 4 {
			return false, errors.New("usage: cache flush <which> <seg> <ofs>")
		}
		seg, err := parseHex32(args[2])
		if err != nil {
			return false, err
		}
		ofs, err := parseHex32(args[3])
		if err != nil {
			return false, err
		}
		return false, d.FlushCache(which, seg, ofs)
	case "purge":
		if len(args) < 4 {
			return false, errors.New("usage: cache purge <which> <index> <set>")
		}
		index, err := parseDec(args[2])
		if err != nil {
			return false, err
		}
		set, err := parseDec(args[3])
		if err != nil {
			return false, err
		}
		return false, d.PurgeCache(which, index, set)
	}
	return false, fmt.Errorf("unknown cache subcommand %q", args[0])
}

func cmdMem(args []string, d *core.Driver) (bool, error) {
	if len(args) < 1 {
		return false, errors.New("usage: mem read <ofs> <len>|write <ofs> <hexbytes...>")
	}
	switch strings.ToLower(args[0]) {
	case "read":
		if len(args) < 3 {
			return false, errors.New("usage: mem read <ofs> <len>")
		}
		ofs, err := parseHex32(args[1])
		if err != nil {
			return false, err
		}
		n, err := parseDec(args[2])
		if err != nil {
			return false, err
		}
		data := d.ReadAbsMem(ofs, n)
		var b strings.Builder
		hex.FormatBytes(&b, true, data)
		fmt.Printf("%08x: %s\n", ofs, strings.TrimSpace(b.String()))
		return false, nil
	case "write":
		if len(args) < 3 {
			return false, errors.New("usage: mem write <ofs> <hexbytes...>")
		}
		ofs, err := parseHex32(args[1])
		if err != nil {
			return false, err
		}
		data := make([]byte, len(args)-2)
		for i, tok := range args[2:] {
			v, err := strconv.ParseUint(tok, 16, 8)
			if err != nil {
				return false, err
			}
			data[i] = byte(v)
		}
		d.WriteAbsMem(ofs, data)
		return false, nil
	}
	return false, fmt.Errorf("unknown mem subcommand %q", args[0])
}

func cmdDump(args []string, d *core.Driver) (bool, error) {
	if len(args) < 2 {
		return false, errors.New("usage: dump save <path> <ofs> <len>|load <path>")
	}
	switch strings.ToLower(args[0]) {
	case "save":
		if len(args) < 4 {
			return false, errors.New("usage: dump save <path> <ofs> <len>")
		}
		ofs, err := parseHex32(args[2])
		if err != nil {
			return false, err
		}
		length, err := parseHex32(args[3])
		if err != nil {
			return false, err
		}
		return false, d.SaveMemToFile(args[1], ofs, length)
	case "load":
		return false, d.LoadMemFromFile(args[1])
	}
	return false, fmt.Errorf("unknown dump subcommand %q", args[0])
}

func cmdReset(args []string, d *core.Driver) (bool, error) {
	scope := core.ResetAll
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "cpu":
			scope = core.ResetCPU
		case "memory":
			scope = core.ResetMemory
		case "stats":
			scope = core.ResetStats
		case "all":
			scope = core.ResetAll
		default:
			return false, fmt.Errorf("unknown reset scope %q", args[0])
		}
	}
	d.Reset(scope)
	return false, nil
}

func cmdTrace(args []string, d *core.Driver) (bool, error) {
	on := len(args) == 0 || strings.ToLower(args[0]) != "off"
	d.SetTrace(on, nil)
	return false, nil
}

func cmdQuit([]string, *core.Driver) (bool, error) {
	return true, nil
}
