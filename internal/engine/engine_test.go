//go:build arm64 || riscv64

package engine

import (
	"testing"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(regs.Config{}, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// New already runs calibrateBaselines and SelfTest; a failure there
// surfaces as an error return, not a panic, so this just exercises the
// constructor directly and checks the self-tests pass standalone too.
func TestNewRunsSelfTestsCleanly(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SelfTest(); err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
}

func TestRunRegisterIsolation(t *testing.T) {
	e := newTestEngine(t)

	before := regs.New(regs.Config{})
	before.GP[addSrcA] = 11
	before.GP[addSrcB] = 31

	res, err := e.Run([]uint32{addWord()}, before)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Signum != 0 {
		t.Fatalf("single add trapped: signum %d", res.Signum)
	}
	diffs := regs.DiffGP(before, res.RegsAfter)
	if len(diffs) != 1 {
		t.Fatalf("expected exactly one changed GP register, got %d: %v", len(diffs), diffs)
	}
	if diffs[0].ABIIndex != gpABIIndex(addDst) {
		t.Fatalf("changed register ABI index = %d, want %d", diffs[0].ABIIndex, gpABIIndex(addDst))
	}
	if got, want := res.RegsAfter.GP[addDst], before.GP[addSrcA]+before.GP[addSrcB]; got != want {
		t.Fatalf("add result = %d, want %d", got, want)
	}
	if res.MemChanges != nil {
		t.Fatalf("expected no memory changes from a register-only sequence, got %v", res.MemChanges)
	}
}

func TestRunTrapCapture(t *testing.T) {
	e := newTestEngine(t)
	before := regs.New(regs.Config{})

	res, err := e.Run([]uint32{nopWord(), illegalWord()}, before)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Signum == 0 {
		t.Fatalf("expected a trap, got a clean return")
	}
	if res.InstrIdx != 2 {
		t.Fatalf("InstrIdx = %d, want 2", res.InstrIdx)
	}
}

func TestRunCleanIdempotence(t *testing.T) {
	e := newTestEngine(t)
	before := regs.New(regs.Config{})

	a, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		t.Fatalf("Run (a): %v", err)
	}
	b, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		t.Fatalf("Run (b): %v", err)
	}
	if !regs.Equal(a.RegsAfter, b.RegsAfter) {
		t.Fatalf("two clean NOP runs from identical state diverged")
	}
}

// TestRunScratchMasked checks that whatever the scratch register held
// before a run, the reported result always carries regs_before's value
// back, per §4.3.
func TestRunScratchMasked(t *testing.T) {
	e := newTestEngine(t)
	before := regs.New(regs.Config{})
	before.SetScratchValue(0xdeadbeef)

	res, err := e.Run([]uint32{addWord()}, before)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RegsAfter.ScratchValue() != before.ScratchValue() {
		t.Fatalf("scratch register leaked: got %#x, want %#x", res.RegsAfter.ScratchValue(), before.ScratchValue())
	}
}

func TestRunFullSeqStopsAtFirstTrap(t *testing.T) {
	e := newTestEngine(t)
	before := regs.New(regs.Config{})

	results, err := e.RunFullSeq([]uint32{nopWord(), nopWord(), illegalWord(), nopWord()}, before)
	if err != nil {
		t.Fatalf("RunFullSeq: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results (stop at the trapping prefix), got %d", len(results))
	}
	for i, r := range results[:2] {
		if r.Signum != 0 {
			t.Fatalf("result[%d] unexpectedly trapped (signum %d)", i, r.Signum)
		}
	}
	if results[2].Signum == 0 {
		t.Fatalf("result[2] expected to trap, got a clean return")
	}
}

func TestAttachDetachMapping(t *testing.T) {
	e := newTestEngine(t)
	pageSize := uintptr(4096)
	baseline := make([]byte, pageSize)
	baseline[0] = 0x42

	m, err := e.AttachMapping(0x0000_6000_0000_0000, pageSize, memmap.ProtRead|memmap.ProtWrite, baseline)
	if err != nil {
		t.Fatalf("AttachMapping: %v", err)
	}
	if len(e.Attached()) != 1 {
		t.Fatalf("expected exactly one attached mapping, got %d", len(e.Attached()))
	}

	before := regs.New(regs.Config{})
	res, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.MemChanges) != 0 {
		t.Fatalf("expected no memory changes against an untouched mapping, got %v", res.MemChanges)
	}

	if err := e.DetachMapping(m); err != nil {
		t.Fatalf("DetachMapping: %v", err)
	}
	if len(e.Attached()) != 0 {
		t.Fatalf("expected no attached mappings after DetachMapping, got %d", len(e.Attached()))
	}
}

// TestMetaInstretCleanNOP checks that a clean single NOP reports
// instret==1 under META once the calibrated baseline is subtracted — only
// meaningful where a counter source exists (RISC-V64; ARM64 always
// reports 0, see counters_arm64.go).
func TestMetaInstretCleanNOP(t *testing.T) {
	e := newTestEngine(t)
	if e.counters == nil {
		t.Skip("no counter source on this architecture")
	}

	before := regs.New(regs.Config{})
	res, err := e.Run([]uint32{nopWord()}, before)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Meta.Instret != 1 {
		t.Fatalf("clean NOP instret = %d, want 1", res.Meta.Instret)
	}
}

// TestRunMemoryDiffSingleStore is §8 scenario 4: a real store instruction
// against one attached mapping must report exactly one mem_change, at the
// address and length the store actually touched.
func TestRunMemoryDiffSingleStore(t *testing.T) {
	e := newTestEngine(t)
	pageSize := e.guest.PageSize()

	m, err := e.AttachMapping(0x0000_6000_0000_0000, pageSize, memmap.ProtRead|memmap.ProtWrite, make([]byte, pageSize))
	if err != nil {
		t.Fatalf("AttachMapping: %v", err)
	}

	before := regs.New(regs.Config{})
	before.GP[storeAddrReg] = uint64(m.Start)
	before.GP[storeValReg] = 0x1122334455667788

	res, err := e.Run([]uint32{storeWord()}, before)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Signum != 0 {
		t.Fatalf("store trapped unexpectedly (signum %d)", res.Signum)
	}
	if len(res.MemChanges) != 1 {
		t.Fatalf("expected exactly one memory change, got %d: %+v", len(res.MemChanges), res.MemChanges)
	}
	if c := res.MemChanges[0]; c.Start != uint64(m.Start) || c.Length != 8 {
		t.Fatalf("unexpected change: %+v", c)
	}
}

// TestRunMemoryDiffMergesAcrossPageBoundary is §8 scenario 5: a single
// store whose bytes straddle two adjacently attached mappings must report
// one merged mem_change spanning both, not two separate ones (the exact
// shape internal/memdiff.Scan's adjacent-mapping merge must get right).
func TestRunMemoryDiffMergesAcrossPageBoundary(t *testing.T) {
	e := newTestEngine(t)
	pageSize := e.guest.PageSize()

	m1, err := e.AttachMapping(0x0000_6000_0000_0000, pageSize, memmap.ProtRead|memmap.ProtWrite, make([]byte, pageSize))
	if err != nil {
		t.Fatalf("AttachMapping m1: %v", err)
	}
	if _, err := e.AttachMapping(m1.Start+pageSize, pageSize, memmap.ProtRead|memmap.ProtWrite, make([]byte, pageSize)); err != nil {
		t.Fatalf("AttachMapping m2: %v", err)
	}

	before := regs.New(regs.Config{})
	storeAddr := uint64(m1.Start) + uint64(pageSize) - 4
	before.GP[storeAddrReg] = storeAddr
	before.GP[storeValReg] = 0x1122334455667788

	res, err := e.Run([]uint32{storeWord()}, before)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Signum != 0 {
		t.Fatalf("cross-page store trapped unexpectedly (signum %d)", res.Signum)
	}
	if len(res.MemChanges) != 1 {
		t.Fatalf("expected the cross-page store to merge into one change, got %d: %+v", len(res.MemChanges), res.MemChanges)
	}
	if c := res.MemChanges[0]; c.Start != storeAddr || c.Length != 8 {
		t.Fatalf("unexpected merged change: %+v", c)
	}
}
