/*
   system: translates a parsed configuration file into a wired
   *pipeline.Machine/core.Driver. configparser.LoadConfigFile only
   knows how to tokenize "<model> <address> <options>" lines and
   dispatch them to a registered creation function; this package owns
   what those functions mean for vcpu32: MEMSIZE, PHYSMEM, PDC, IO,
   L1I, L1D, L2, TLB, SPLITTLB/UNIFIEDTLB, DIRECTTLB/ASSOCTLB, DEBUG,
   DEBUGFILE. Build assembles whatever LoadConfigFile collected into a
   running machine.

   Copyright (c) 2026, VCPU-32 Project Contributors
*/
package system

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	config "github.com/hff-git/vcpu32/config/configparser"
	"github.com/hff-git/vcpu32/emu/core"
	"github.com/hff-git/vcpu32/emu/memory"
	"github.com/hff-git/vcpu32/emu/pipeline"
	"github.com/hff-git/vcpu32/emu/regfile"
	"github.com/hff-git/vcpu32/emu/tlb"
	"github.com/hff-git/vcpu32/util/debug"
)

type rangeCfg struct {
	start, end uint32
	latency    int
	set        bool
}

type cacheCfg struct {
	blocks, blockSize, blockSets, latency int
	start, end                            uint32
	set                                   bool
}

type tlbSideCfg struct {
	entries, latency int
	assoc            bool
	assocSet         bool
	set              bool
}

var (
	memSize uint32

	physMem rangeCfg
	pdcMem  rangeCfg
	ioMem   rangeCfg
	pdcPath string

	l1i, l1d, l2 cacheCfg

	itlbCfg, dtlbCfg tlbSideCfg
	unifiedTLB       bool
	defaultAssoc     bool // true = fully-associative default for unconfigured TLB sides
)

func init() {
	config.RegisterOption("MEMSIZE", setMemSize)
	config.RegisterModel("PHYSMEM", config.TypeOptions, setPhysMem)
	config.RegisterModel("PDC", config.TypeOptions, setPdc)
	config.RegisterModel("IO", config.TypeOptions, setIo)
	config.RegisterModel("L1I", config.TypeOptions, setL1I)
	config.RegisterModel("L1D", config.TypeOptions, setL1D)
	config.RegisterModel("L2", config.TypeOptions, setL2)
	config.RegisterModel("TLB", config.TypeOptions, setTLB)
	config.RegisterSwitch("SPLITTLB", func(uint16, string, []config.Option) error { unifiedTLB = false; return nil })
	config.RegisterSwitch("UNIFIEDTLB", func(uint16, string, []config.Option) error { unifiedTLB = true; return nil })
	config.RegisterSwitch("DIRECTTLB", func(uint16, string, []config.Option) error { defaultAssoc = false; return nil })
	config.RegisterSwitch("ASSOCTLB", func(uint16, string, []config.Option) error { defaultAssoc = true; return nil })
	config.RegisterModel("DEBUG", config.TypeOptions, setDebug)
	config.RegisterOption("DEBUGFILE", func(_ uint16, value string, _ []config.Option) error {
		return debug.SetLogFile(value)
	})
}

func optUint(opts []config.Option, name string) (uint64, bool, error) {
	name = strings.ToUpper(name)
	for _, o := range opts {
		if strings.ToUpper(o.Name) != name {
			continue
		}
		v, err := strconv.ParseUint(o.EqualOpt, 16, 64)
		if err != nil {
			return 0, true, fmt.Errorf("option %s: %w", name, err)
		}
		return v, true, nil
	}
	return 0, false, nil
}

func optInt(opts []config.Option, name string) (int, bool, error) {
	v, ok, err := optUint(opts, name)
	return int(v), ok, err
}

func optFlag(opts []config.Option, name string) bool {
	name = strings.ToUpper(name)
	for _, o := range opts {
		if strings.ToUpper(o.Name) == name {
			return true
		}
	}
	return false
}

func optString(opts []config.Option, name string) (string, bool) {
	name = strings.ToUpper(name)
	for _, o := range opts {
		if strings.ToUpper(o.Name) == name {
			return o.EqualOpt, true
		}
	}
	return "", false
}

func setMemSize(_ uint16, value string, _ []config.Option) error {
	v, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return fmt.Errorf("MEMSIZE: %w", err)
	}
	memSize = uint32(v)
	return nil
}

func parseRange(opts []config.Option) (rangeCfg, error) {
	var r rangeCfg
	if v, ok, err := optUint(opts, "start"); err != nil {
		return r, err
	} else if ok {
		r.start = uint32(v)
	}
	if v, ok, err := optUint(opts, "end"); err != nil {
		return r, err
	} else if ok {
		r.end = uint32(v)
	}
	if v, ok, err := optInt(opts, "latency"); err != nil {
		return r, err
	} else if ok {
		r.latency = v
	}
	r.set = true
	return r, nil
}

func setPhysMem(_ uint16, _ string, opts []config.Option) error {
	r, err := parseRange(opts)
	if err != nil {
		return fmt.Errorf("PHYSMEM: %w", err)
	}
	physMem = r
	return nil
}

func setPdc(_ uint16, _ string, opts []config.Option) error {
	r, err := parseRange(opts)
	if err != nil {
		return fmt.Errorf("PDC: %w", err)
	}
	pdcMem = r
	pdcPath, _ = optString(opts, "image")
	return nil
}

func setIo(_ uint16, _ string, opts []config.Option) error {
	r, err := parseRange(opts)
	if err != nil {
		return fmt.Errorf("IO: %w", err)
	}
	ioMem = r
	return nil
}

func parseCache(opts []config.Option) (cacheCfg, error) {
	var c cacheCfg
	if v, ok, err := optInt(opts, "blocks"); err != nil {
		return c, err
	} else if ok {
		c.blocks = v
	}
	if v, ok, err := optInt(opts, "blocksize"); err != nil {
		return c, err
	} else if ok {
		c.blockSize = v
	}
	if v, ok, err := optInt(opts, "sets"); err != nil {
		return c, err
	} else if ok {
		c.blockSets = v
	}
	if v, ok, err := optInt(opts, "latency"); err != nil {
		return c, err
	} else if ok {
		c.latency = v
	}
	if v, ok, err := optUint(opts, "start"); err != nil {
		return c, err
	} else if ok {
		c.start = uint32(v)
	}
	if v, ok, err := optUint(opts, "end"); err != nil {
		return c, err
	} else if ok {
		c.end = uint32(v)
	}
	c.set = true
	return c, nil
}

func setL1I(_ uint16, _ string, opts []config.Option) error {
	c, err := parseCache(opts)
	if err != nil {
		return fmt.Errorf("L1I: %w", err)
	}
	l1i = c
	return nil
}

func setL1D(_ uint16, _ string, opts []config.Option) error {
	c, err := parseCache(opts)
	if err != nil {
		return fmt.Errorf("L1D: %w", err)
	}
	l1d = c
	return nil
}

func setL2(_ uint16, _ string, opts []config.Option) error {
	c, err := parseCache(opts)
	if err != nil {
		return fmt.Errorf("L2: %w", err)
	}
	l2 = c
	return nil
}

func setTLB(_ uint16, side string, opts []config.Option) error {
	var c tlbSideCfg
	if v, ok, err := optInt(opts, "entries"); err != nil {
		return fmt.Errorf("TLB: %w", err)
	} else if ok {
		c.entries = v
	}
	if v, ok, err := optInt(opts, "latency"); err != nil {
		return fmt.Errorf("TLB: %w", err)
	} else if ok {
		c.latency = v
	}
	if assoc, ok := optString(opts, "assoc"); ok {
		c.assocSet = true
		c.assoc = strings.EqualFold(assoc, "full")
	} else if optFlag(opts, "direct") {
		c.assocSet = true
		c.assoc = false
	} else if optFlag(opts, "full") {
		c.assocSet = true
		c.assoc = true
	}
	c.set = true
	switch strings.ToUpper(side) {
	case "INSTR", "I":
		itlbCfg = c
	case "DATA", "D":
		dtlbCfg = c
	case "UNIFIED", "U":
		itlbCfg, dtlbCfg = c, c
		unifiedTLB = true
	default:
		return fmt.Errorf("TLB: unknown side %q, want instr/data/unified", side)
	}
	return nil
}

func setDebug(_ uint16, _ string, opts []config.Option) error {
	for _, opt := range opts {
		if err := debug.Debug(opt.Name); err != nil {
			return err
		}
	}
	return nil
}

func cacheLayer(kind memory.Kind, c cacheCfg, fallback rangeCfg) *memory.Layer {
	blocks, blockSize, blockSets, latency := c.blocks, c.blockSize, c.blockSets, c.latency
	if blocks == 0 {
		blocks = 4
	}
	if blockSize == 0 {
		blockSize = 16
	}
	if blockSets == 0 {
		blockSets = 1
	}
	if latency == 0 {
		latency = 1
	}
	start, end := c.start, c.end
	if start == 0 && end == 0 {
		start, end = fallback.start, fallback.end
	}
	return memory.NewLayer(kind, memory.Config{
		BlockEntries: blocks, BlockSize: blockSize, BlockSets: blockSets,
		StartAdr: start, EndAdr: end, Latency: latency, Priority: 2,
	})
}

func tlbTable(c tlbSideCfg) *tlb.Table {
	entries := c.entries
	if entries == 0 {
		entries = 8
	}
	assoc := defaultAssoc
	if c.assocSet {
		assoc = c.assoc
	}
	idx := tlb.DirectMapped
	if assoc {
		idx = tlb.FullyAssociative
	}
	return tlb.NewTable(idx, entries, c.latency)
}

// Build assembles every config value accumulated by config.LoadConfigFile
// into a wired core.Driver. Unconfigured geometry falls back to a
// small, complete default so a config file can specify only what it
// cares about (spec.md's non-goal of *dynamic* reconfiguration says
// nothing against static, config-time choice of geometry).
func Build() (*core.Driver, error) {
	if !physMem.set {
		if memSize == 0 {
			return nil, fmt.Errorf("system: no PHYSMEM and no MEMSIZE specified")
		}
		physMem = rangeCfg{start: 0, end: memSize - 1, latency: 2, set: true}
	}

	phys := memory.NewLayer(memory.PhysMem, memory.Config{
		StartAdr: physMem.start, EndAdr: physMem.end, Latency: latencyOr(physMem.latency, 2), Priority: 1,
	})

	var pdc *memory.Layer
	if pdcMem.set {
		pdc = memory.NewLayer(memory.PdcMem, memory.Config{
			StartAdr: pdcMem.start, EndAdr: pdcMem.end, Latency: latencyOr(pdcMem.latency, 1), Priority: 1,
		})
		if pdcPath != "" {
			data, err := os.ReadFile(pdcPath)
			if err != nil {
				return nil, fmt.Errorf("system: PDC image: %w", err)
			}
			pdc.LoadImage(data)
		}
	}

	var io *memory.Layer
	if ioMem.set {
		io = memory.NewLayer(memory.IoMem, memory.Config{
			StartAdr: ioMem.start, EndAdr: ioMem.end, Latency: latencyOr(ioMem.latency, 1), Priority: 1,
		})
	}

	fullRange := rangeCfg{start: physMem.start, end: physMem.end}
	icache := cacheLayer(memory.L1Instr, l1i, fullRange)
	dcache := cacheLayer(memory.L1Data, l1d, fullRange)

	var l2Layer *memory.Layer
	if l2.set {
		l2Layer = cacheLayer(memory.L2Unified, l2, fullRange)
	}

	itable := tlbTable(itlbCfg)
	var unit *tlb.Unit
	if unifiedTLB {
		unit = tlb.NewUnified(itable)
	} else {
		dtable := tlbTable(dtlbCfg)
		unit = tlb.NewSplit(itable, dtable)
	}

	regs := regfile.New()
	regs.Reset()

	m := pipeline.NewMachine(regs, unit, unit, icache, dcache, l2Layer, phys, pdc, io)
	m.Reset()

	return core.NewDriver(m), nil
}

func latencyOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
