// Command riscover-replay loads one reproducer YAML file (§6) and replays
// its recorded input through a local Execution Engine, without a
// coordinator connection, for manual triage of a flagged differential
// (SPEC_FULL.md §12). When stdin is an interactive terminal, it waits for
// a key press before running the sequence; otherwise it runs straight
// through. The observed outcome is printed and appended to the document's
// results list, tagged with this host, and saved back to the same path.
//
// Usage: riscover-replay <reproducer.yaml>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/intuitionamiga/riscover-client/internal/archcfg"
	"github.com/intuitionamiga/riscover-client/internal/cliutil"
	"github.com/intuitionamiga/riscover-client/internal/cpuinfo"
	"github.com/intuitionamiga/riscover-client/internal/diag"
	"github.com/intuitionamiga/riscover-client/internal/engine"
	"github.com/intuitionamiga/riscover-client/internal/memmap"
	"github.com/intuitionamiga/riscover-client/internal/regs"
	"github.com/intuitionamiga/riscover-client/internal/reproducer"
)

func main() {
	if len(os.Args) != 2 {
		diag.Fatal(diag.FatalContext{Reason: "usage: riscover-replay <reproducer.yaml>"})
	}
	path := os.Args[1]

	doc, err := reproducer.LoadFile(path)
	if err != nil {
		diag.Fatal(diag.FatalContext{Reason: err.Error()})
	}
	cfg := archcfg.DefaultRegsConfig()
	if err := reproducer.Validate(doc, archcfg.RunningArch, runningFlags(cfg)); err != nil {
		diag.Fatal(diag.FatalContext{Reason: err.Error()})
	}

	eng, err := engine.New(cfg, true)
	if err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("engine init: %v", err), DumpMaps: true})
	}
	defer eng.Close()

	before := regs.New(cfg)
	if err := applyRegs(before, doc.Input.Regs); err != nil {
		diag.Fatal(diag.FatalContext{Reason: err.Error()})
	}

	instrs, err := parseInstrSeq(doc.Input.InstrSeq)
	if err != nil {
		diag.Fatal(diag.FatalContext{Reason: err.Error()})
	}

	mappings, err := attachMappings(eng, doc.Mappings)
	if err != nil {
		diag.Fatal(diag.FatalContext{Reason: err.Error()})
	}
	defer func() {
		for _, m := range mappings {
			_ = eng.DetachMapping(m)
		}
	}()

	waitForStep(len(instrs))

	result, err := eng.Run(instrs, before)
	if err != nil {
		diag.Fatal(diag.FatalContext{Reason: fmt.Sprintf("run: %v", err)})
	}

	printResult(result)

	client, err := cpuinfo.Hostname("")
	if err != nil {
		client = "unknown"
	}
	replayResult := reproducer.FromRun(before, instrs, result, client, archcfg.RunningArch, doc.Flags, doc.GitCommit).Results[0]
	doc.Results = append(doc.Results, replayResult)
	if err := reproducer.SaveFile(path, doc); err != nil {
		diag.Warning("could not save replay result back to %s: %v", path, err)
	}
}

// waitForStep blocks for one key press before running n instructions, but
// only when stdin is an interactive terminal; a piped or redirected stdin
// runs straight through.
func waitForStep(n int) {
	if !cliutil.IsTerminal() {
		return
	}
	diag.Info("press any key to run %d instruction(s)...", n)
	term, err := cliutil.EnterRaw()
	if err != nil {
		diag.Warning("could not enter raw mode, running straight through: %v", err)
		return
	}
	defer term.Restore()
	if _, err := cliutil.ReadKey(); err != nil {
		diag.Warning("read key: %v", err)
	}
}

func printResult(r *engine.Result) {
	if r.Signum == 0 {
		diag.Info("ran to completion")
	} else {
		diag.Info("trapped: signal=%d si_code=%d si_addr=0x%x si_pc=0x%x instr_idx=%d",
			r.Signum, r.SICode, r.SIAddr, r.SIPC, r.InstrIdx)
	}
	if r.Meta.Cycle != 0 || r.Meta.Instret != 0 {
		diag.Info("meta: cycle=%d instret=%d", r.Meta.Cycle, r.Meta.Instret)
	}
	if len(r.MemChanges) > 0 {
		diag.Info("%d memory change(s)%s", len(r.MemChanges), cappedSuffix(r.MemCapped))
		for _, c := range r.MemChanges {
			diag.Info("  0x%x +%d hash=0x%08x", c.Start, c.Length, c.Hash)
		}
	}
}

func cappedSuffix(capped bool) string {
	if capped {
		return " (capped)"
	}
	return ""
}

func parseInstrSeq(hexWords []string) ([]uint32, error) {
	out := make([]uint32, len(hexWords))
	for i, h := range hexWords {
		v, err := strconv.ParseUint(strings.TrimPrefix(h, "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("riscover-replay: instr_seq[%d] %q: %w", i, h, err)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// applyRegs writes the `input.regs` map (ABI name -> hex value) into s,
// ignoring names s's architecture doesn't have (the document may carry
// registers from a family this build doesn't capture).
func applyRegs(s *regs.Snapshot, named map[string]string) error {
	byName := make(map[string]int, len(s.GP))
	for i := range s.GP {
		byName[regs.ABIName(i)] = i
	}
	for name, hexVal := range named {
		v, err := strconv.ParseUint(strings.TrimPrefix(hexVal, "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("riscover-replay: regs[%s] %q: %w", name, hexVal, err)
		}
		if i, ok := byName[name]; ok {
			s.GP[i] = v
			continue
		}
		if name == "sp" {
			archcfg.SetSP(s, v)
		}
	}
	return nil
}

func attachMappings(eng *engine.Engine, docMappings []reproducer.Mapping) ([]*memmap.Mapping, error) {
	pageSize := uintptr(unix.Getpagesize())
	out := make([]*memmap.Mapping, 0, len(docMappings))
	for i, dm := range docMappings {
		size := uintptr(dm.N) * pageSize
		baseline, err := parseBaseline(dm.Val, size)
		if err != nil {
			return out, fmt.Errorf("riscover-replay: mappings[%d]: %w", i, err)
		}
		m, err := eng.AttachMapping(uintptr(dm.Start), size, parseProt(dm.Prot), baseline)
		if err != nil {
			return out, fmt.Errorf("riscover-replay: mappings[%d]: attach: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func parseProt(s string) memmap.Prot {
	var p memmap.Prot
	if strings.Contains(s, "r") {
		p |= memmap.ProtRead
	}
	if strings.Contains(s, "w") {
		p |= memmap.ProtWrite
	}
	if strings.Contains(s, "x") {
		p |= memmap.ProtExec
	}
	return p
}

// parseBaseline decodes a mapping's `val` hex string into exactly size
// bytes of baseline content, zero-padding a short value and rejecting one
// that overflows size.
func parseBaseline(valHex string, size uintptr) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(valHex), "0x")
	if clean == "" {
		return make([]byte, size), nil
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("decode val: %w", err)
	}
	if uintptr(len(raw)) > size {
		return nil, fmt.Errorf("val is %d bytes, exceeds mapping size %d", len(raw), size)
	}
	out := make([]byte, size)
	copy(out, raw)
	return out, nil
}

// runningFlags reports this build's feature-tag vocabulary for
// reproducer.Validate — the same names cmd/riscover-client would need to
// stamp onto a document it captured, kept in one place so loader and
// (future) saver agree.
func runningFlags(cfg regs.Config) []string {
	var flags []string
	if cfg.Floats {
		flags = append(flags, "FLOATS")
	}
	if cfg.Vector {
		flags = append(flags, "VECTOR")
	}
	return flags
}
