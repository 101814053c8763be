package engine

import (
	"fmt"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

// selfTestMappingBase is a fixed address selfTestFindMapping attaches a
// throwaway mapping at, clear of the engine's own internal regions
// (regionBase, see new_arm64.go/new_riscv64.go).
const selfTestMappingBase = 0x0000_4000_0000_0000

// calibrateBaselines runs the two fixed measurement passes §4.5 step 8
// describes: a single clean NOP establishes the trampoline's own fixed
// instruction-retirement overhead (subtracted so a one-instruction
// sequence reports instret==1), and a single illegal instruction
// establishes the cycle overhead of the trapped path (entry glue plus
// signal delivery plus the raw handler, none of which the fuzzed sequence
// itself accounts for).
func (e *Engine) calibrateBaselines() error {
	savedMeta := e.metaOn
	e.metaOn = true
	defer func() { e.metaOn = savedMeta }()

	before := regs.New(e.cfg)

	clean, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		return fmt.Errorf("calibrate clean baseline: %w", err)
	}
	if clean.Meta.Instret > 1 {
		e.cleanInstretBaseline = clean.Meta.Instret - 1
	}

	illegal, err := e.Run([]uint32{illegalWord()}, before)
	if err != nil {
		return fmt.Errorf("calibrate trap baseline: %w", err)
	}
	e.illegalCycleBaseline = illegal.Meta.Cycle

	return nil
}

// SelfTest runs the fixed checks §4.5 requires every client to pass once
// at startup, before any network-driven fuzzing begins. A failure here
// means the runner page, signal broker, or register splice is broken in a
// way that would silently corrupt every subsequent result.
func (e *Engine) SelfTest() error {
	if err := e.selfTestIsolation(); err != nil {
		return fmt.Errorf("register isolation: %w", err)
	}
	if err := e.selfTestTrap(); err != nil {
		return fmt.Errorf("trap capture: %w", err)
	}
	if err := e.selfTestIdempotence(); err != nil {
		return fmt.Errorf("clean-run idempotence: %w", err)
	}
	if err := e.selfTestDisasm(); err != nil {
		return fmt.Errorf("disassembly: %w", err)
	}
	if err := e.selfTestFindMapping(); err != nil {
		return fmt.Errorf("find_mapping: %w", err)
	}
	if err := e.selfTestMetaInstret(); err != nil {
		return fmt.Errorf("meta instret: %w", err)
	}
	return nil
}

// selfTestIsolation checks that one ADD instruction changes exactly its
// destination register and nothing else (scratch aside, which is always
// masked).
func (e *Engine) selfTestIsolation() error {
	before := regs.New(e.cfg)
	before.GP[addSrcA] = 5
	before.GP[addSrcB] = 7

	res, err := e.Run([]uint32{addWord()}, before)
	if err != nil {
		return err
	}
	if res.Signum != 0 {
		return fmt.Errorf("single add trapped unexpectedly (signum %d)", res.Signum)
	}
	diffs := regs.DiffGP(before, res.RegsAfter)
	if len(diffs) != 1 || diffs[0].ABIIndex != gpABIIndex(addDst) {
		return fmt.Errorf("expected exactly one changed register (index %d), got %v", addDst, diffs)
	}
	if res.RegsAfter.GP[addDst] != before.GP[addSrcA]+before.GP[addSrcB] {
		return fmt.Errorf("add result %d, want %d", res.RegsAfter.GP[addDst], before.GP[addSrcA]+before.GP[addSrcB])
	}
	return nil
}

// selfTestTrap checks that [valid, illegal] raises SIGILL with instr_idx
// pointing at the second (illegal) slot.
func (e *Engine) selfTestTrap() error {
	before := regs.New(e.cfg)
	res, err := e.Run([]uint32{nopWord(), illegalWord()}, before)
	if err != nil {
		return err
	}
	if res.Signum == 0 {
		return fmt.Errorf("expected a trap, got a clean return")
	}
	if res.InstrIdx != 2 {
		return fmt.Errorf("expected instr_idx 2, got %d", res.InstrIdx)
	}
	return nil
}

// selfTestIdempotence checks that two identical clean NOP runs from the
// same regs_before produce byte-identical regs_after (§8).
func (e *Engine) selfTestIdempotence() error {
	before := regs.New(e.cfg)
	a, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		return err
	}
	b, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		return err
	}
	if !regs.Equal(a.RegsAfter, b.RegsAfter) {
		return fmt.Errorf("two clean NOP runs from identical state produced different results")
	}
	return nil
}

// selfTestDisasm checks that disassembling the architecture's own NOP
// encoding yields the literal string "nop" (§4.5). mnemonicOf only
// recognizes the fixed, known-at-compile-time words this package itself
// encodes — decoding arbitrary fuzzed instructions is an explicit
// non-goal, not something this self-test (or anything else here) does.
func (e *Engine) selfTestDisasm() error {
	if got := mnemonicOf(nopWord()); got != "nop" {
		return fmt.Errorf(`mnemonicOf(nopWord()) = %q, want "nop"`, got)
	}
	return nil
}

// selfTestFindMapping checks find_mapping's base/interior/exclusive-end
// membership (§4.5): a mapping's start address and an address strictly
// inside it must both be found; the address exactly at start+size (one
// past the last byte the mapping owns) must not.
func (e *Engine) selfTestFindMapping() error {
	size := e.guest.PageSize()
	m, err := e.guest.Create(selfTestMappingBase, size, memmap.ProtRead|memmap.ProtWrite, nil)
	if err != nil {
		return fmt.Errorf("attach probe mapping: %w", err)
	}
	defer e.guest.Release(m)

	if _, ok := e.guest.Find(m.Start); !ok {
		return fmt.Errorf("find_mapping missed the mapping's base address %#x", m.Start)
	}
	if _, ok := e.guest.Find(m.Start + size/2); !ok {
		return fmt.Errorf("find_mapping missed an interior address")
	}
	if _, ok := e.guest.Find(m.Start + size); ok {
		return fmt.Errorf("find_mapping matched the exclusive-end address %#x", m.Start+size)
	}
	return nil
}

// selfTestMetaInstret checks that, under META, a clean single NOP reports
// instret==1 once calibrateBaselines's measured overhead is subtracted
// (§4.5). e.counters is nil on ARM64 — no PMU access this port can request
// without perf_event_open, see counters_arm64.go — so Instret is always 0
// there and this check only runs where it can actually mean something.
func (e *Engine) selfTestMetaInstret() error {
	if !e.metaOn || e.counters == nil {
		return nil
	}
	before := regs.New(e.cfg)
	res, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		return err
	}
	if res.Meta.Instret != 1 {
		return fmt.Errorf("clean NOP instret = %d, want 1", res.Meta.Instret)
	}
	return nil
}
