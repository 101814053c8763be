//go:build arm64

package engine

import (
	"fmt"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
	"github.com/intuitionamiga/riscover-client/internal/regs"
	"github.com/intuitionamiga/riscover-client/internal/runner"
	"github.com/intuitionamiga/riscover-client/internal/sigbroker"
)

// Fixed, non-overlapping addresses for the engine's own internal mappings.
// Spaced a generous 1 MiB apart even though each component needs at most a
// handful of pages, to leave headroom for a fuzzed sequence landing nearby
// without this process's own plumbing colliding with it.
const (
	regionBase     = 0x0000_5000_0000_0000
	runnerBase     = regionBase
	trapResultBase = regionBase + 0x10_0000
	handlerBase    = regionBase + 0x20_0000
	fpStatusBase   = regionBase + 0x30_0000
)

// New builds an ARM64 Execution Engine: the runner page, the raw signal
// handler and its trap-result buffer, and the host FP-status helper, then
// runs the startup calibration and self-tests §4.5 requires.
func New(cfg regs.Config, metaEnabled bool) (*Engine, error) {
	infra := memmap.New()

	page, err := runner.NewARM64(infra, runnerBase, runner.MaxSeqLen)
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

	e := &Engine{
		infra:      infra,
		guest:      memmap.New(),
		page:       page,
		broker:     broker,
		trapResult: trapResult,
		fp:         fp,
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

func nopWord() uint32 { return 0xD503201F } // NOP

// illegalWord is 0x00000000, UDF #0 — permanently undefined on AArch64,
// guaranteed SIGILL regardless of CPU variant.
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
		return "udf"
	case addWord():
		return "add"
	default:
		return "unknown"
	}
}

// addWord is ADD X0, X1, X2 — used by the register-isolation self-test.
func addWord() uint32 { return 0x8B020020 }

// addDst/addSrcA/addSrcB are the GP array indices ADD X0, X1, X2 touches
// (x0 is the destination; x1, x2 are read-only operands).
const (
	addDst  = 0
	addSrcA = 1
	addSrcB = 2
)

// gpABIIndex maps a GP array index to the ABI index regs.DiffGP reports —
// on ARM64 these are the same number.
func gpABIIndex(arrayIndex int) uint8 { return uint8(arrayIndex) }

// storeAddrReg/storeValReg are the GP array indices (x3, x4) the
// memory-diff end-to-end tests store through — clear of scratch (x9) and
// of addWord's own x0-x2.
const (
	storeAddrReg = 3
	storeValReg  = 4
)

// storeWord is STR X4, [X3] — stores storeValReg into the address held in
// storeAddrReg, giving the memory-diff tests a real architectural write
// instead of poking a guest mapping's shadow view directly.
func storeWord() uint32 {
	return 0xF9000000 | (uint32(storeAddrReg) << 5) | uint32(storeValReg)
}
