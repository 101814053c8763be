//go:build riscv64

package engine

import (
	"fmt"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
	"github.com/intuitionamiga/riscover-client/internal/regs"
	"github.com/intuitionamiga/riscover-client/internal/runner"
	"github.com/intuitionamiga/riscover-client/internal/sigbroker"
)

// Fixed, non-overlapping addresses for the engine's own internal mappings;
// see new_arm64.go for the rationale behind the 1 MiB spacing.
const (
	regionBase     = 0x0000_5000_0000_0000
	runnerBase     = regionBase
	trapResultBase = regionBase + 0x10_0000
	handlerBase    = regionBase + 0x20_0000
	fpStatusBase   = regionBase + 0x30_0000
	countersBase   = regionBase + 0x40_0000
)

// New builds a RISC-V64 Execution Engine: the runner page, the raw signal
// handler and its trap-result buffer, the host FP-status helper, and the
// rdcycle/rdinstret counter source, then runs the startup calibration and
// self-tests §4.5 requires.
func New(cfg regs.Config, metaEnabled bool) (*Engine, error) {
	infra := memmap.New()

	page, err := runner.NewRISCV64(infra, runnerBase, runner.MaxSeqLen)
	if err != nil {
		return nil, fmt.Errorf("engine: runner page: %w", err)
	}
	broker := sigbroker.New()
	trapResult, err := sigbroker.NewHandlerPage(infra, broker, trapResultBase, handlerBase)
	if err != nil {
		return nil, fmt.Errorf("engine: handler page: %w", err)
	}
	fp, err := newFPStatus(infra, fpStatusBase)
	if err != nil {
		return nil, fmt.Errorf("engine: fp status blob: %w", err)
	}
	counters, err := newCounterSource(infra, countersBase)
	if err != nil {
		return nil, fmt.Errorf("engine: counter source: %w", err)
	}

	e := &Engine{
		infra:      infra,
		guest:      memmap.New(),
		page:       page,
		broker:     broker,
		trapResult: trapResult,
		fp:         fp,
		counters:   counters,
		cfg:        cfg,
		metaOn:     metaEnabled,
	}
	if err := e.calibrateBaselines(); err != nil {
		return nil, err
	}
	if err := e.SelfTest(); err != nil {
		return nil, fmt.Errorf("engine: self-test: %w", err)
	}
	return e, nil
}

func nopWord() uint32 { return 0x00000013 } // addi x0, x0, 0

// illegalWord is the all-zero word, architecturally reserved as an illegal
// instruction on RISC-V regardless of which extensions are implemented.
func illegalWord() uint32 { return 0x00000000 }

// mnemonicOf recognizes the fixed, known-at-compile-time instruction words
// this package itself encodes, for the §4.5 self-test that disassembling
// NOP yields "nop". This is not a general disassembler (decoding arbitrary
// fuzzed instructions is an explicit non-goal) — only the literal encodings
// defined in this file are recognized.
func mnemonicOf(word uint32) string {
	switch word {
	case nopWord():
		return "nop"
	case illegalWord():
		return "illegal"
	case addWord():
		return "add"
	default:
		return "unknown"
	}
}

// addWord is ADD a0, a1, a2 (x10 = x11 + x12) — used by the
// register-isolation self-test.
func addWord() uint32 { return 0x00C58533 }

// addDst/addSrcA/addSrcB are the GP array indices (array position i stores
// x(i+1)) ADD a0, a1, a2 touches.
const (
	addDst  = 9  // a0 / x10
	addSrcA = 10 // a1 / x11
	addSrcB = 11 // a2 / x12
)

// gpABIIndex maps a GP array index to the ABI index regs.DiffGP reports —
// on RISC-V, array position i stores x(i+1).
func gpABIIndex(arrayIndex int) uint8 { return uint8(arrayIndex + 1) }

// storeAddrReg/storeValReg are the GP array indices (array position i
// stores x(i+1)) the memory-diff end-to-end tests store through — a3/a4,
// clear of scratch (array position 30 / x31) and of addWord's own a0-a2.
const (
	storeAddrReg = 12 // a3 / x13
	storeValReg  = 13 // a4 / x14
)

// storeWord is SD a4, 0(a3) — stores storeValReg into the address held in
// storeAddrReg, giving the memory-diff tests a real architectural write
// instead of poking a guest mapping's shadow view directly.
func storeWord() uint32 {
	rs1 := uint32(storeAddrReg + 1) // x13
	rs2 := uint32(storeValReg + 1)  // x14
	return (rs2 << 20) | (rs1 << 15) | (0b011 << 12) | 0b0100011
}
