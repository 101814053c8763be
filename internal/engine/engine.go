// Package engine implements the Execution Engine (C5): the component that
// orchestrates one run of an instruction sequence — load state, enter the
// runner page, leave the runner page, capture state, build a Result — plus
// the prefix-running contract of run_full_seq and the self-tests §4.5
// requires at startup.
//
// Grounded on the teacher's coprocessor_manager.go for the overall
// "orchestrate a worker through a fixed state machine, one call at a time"
// shape, and directly on spec.md §4.5's numbered steps, which this file's
// Run method follows in the same order with a comment per step.
package engine

import (
	"fmt"
	"unsafe"

	"github.com/intuitionamiga/riscover-client/internal/memdiff"
	"github.com/intuitionamiga/riscover-client/internal/memmap"
	"github.com/intuitionamiga/riscover-client/internal/prng"
	"github.com/intuitionamiga/riscover-client/internal/regs"
	"github.com/intuitionamiga/riscover-client/internal/runner"
	"github.com/intuitionamiga/riscover-client/internal/sigbroker"

	"golang.org/x/sys/unix"
)

// Meta carries the optional performance-counter sample for one run, with
// the path-specific baseline (measured once at init, §4.5 step 8) already
// subtracted.
type Meta struct {
	Cycle   uint64
	Instret uint64 // meaningful on RISC-V only; always 0 on ARM64 (see DESIGN.md)
}

// Result is one run's outcome (§3's Result fields).
type Result struct {
	Signum     unix.Signal
	SICode     int32
	SIAddr     uint64
	SIPC       uint64
	InstrIdx   int
	RegsAfter  *regs.Snapshot
	Meta       Meta
	MemChanges []memdiff.Change
	MemCapped  bool
}

// trapFields is the architecture-neutral shape decoded from the raw
// signal-handler capture buffer (internal/sigbroker.TrapResult); see
// decode_arm64.go / decode_riscv64.go.
type trapFields struct {
	Signum uint8
	SICode int32
	SIAddr uint64
	PC     uint64
	GP     [31]uint64
	SP     uint64 // meaningful on ARM64; on RISC-V this duplicates GP[1] (x2)
}

// Engine owns every process-global piece the Execution Engine coordinates.
//
// Two Mappers are kept deliberately separate: infra holds the runner page,
// the raw signal handler and its trap-result buffer, and the host
// FP-status/counter blobs — engine plumbing that must never show up as a
// "memory change" in a Result. guest holds only the mappings the batch
// protocol or auto-map attaches on the fuzzed sequence's behalf; Memory
// Diff (§4.6) scans guest alone.
//
// Per §5's "Shared-resource policy", one Engine is used strictly
// single-threadedly by one pinned worker; nothing here is safe for
// concurrent calls to Run.
type Engine struct {
	infra      *memmap.Mapper
	guest      *memmap.Mapper
	page       *runner.Page
	broker     *sigbroker.Broker
	trapResult *sigbroker.TrapResult
	fp         *fpStatus
	counters   *counterSource // nil on ARM64 (no counter source implemented)
	cfg        regs.Config
	metaOn     bool

	cleanInstretBaseline uint64
	illegalCycleBaseline uint64
}

// AttachMapping creates a new guest-scoped Mapping that Run resets to its
// baseline before every call and Memory Diff scans after every call, per
// §4.5 step 5 and §4.6.
func (e *Engine) AttachMapping(start, size uintptr, prot memmap.Prot, baseline []byte) (*memmap.Mapping, error) {
	return e.guest.Create(start, size, prot, baseline)
}

// DetachMapping releases a previously attached guest mapping.
func (e *Engine) DetachMapping(m *memmap.Mapping) error {
	return e.guest.Release(m)
}

// Attached returns every live guest mapping, in insertion order.
func (e *Engine) Attached() []*memmap.Mapping {
	return e.guest.All()
}

// Close releases every mapping this Engine owns, both infra and guest.
func (e *Engine) Close() {
	e.broker.Restore()
	e.page.Release()
	e.fp.Release(e.infra)
	if e.counters != nil {
		e.counters.Release(e.infra)
	}
	for _, m := range e.guest.All() {
		_ = e.guest.Release(m)
	}
}

// Run implements §4.5's run(instrs, mappings, regs_before) -> Result
// contract, including §4.6's memory diff and auto-map retry loop.
func (e *Engine) Run(instrs []uint32, before *regs.Snapshot) (*Result, error) {
	if len(instrs) > runner.MaxSeqLen {
		return nil, fmt.Errorf("engine: sequence length %d exceeds MaxSeqLen %d", len(instrs), runner.MaxSeqLen)
	}

	var (
		result     *Result
		autoMapped []*memmap.Mapping
		changes    []memdiff.Change
		capped     bool
	)
	for try := 0; ; try++ {
		var err error
		result, err = e.runOnce(instrs, before)
		if err != nil {
			e.releaseAutoMapped(autoMapped)
			return nil, err
		}

		changes, capped = memdiff.Scan(e.guest)

		if try >= memdiff.CheckMemMaxTries-1 {
			break
		}
		if result.Signum != unix.SIGSEGV && result.Signum != unix.SIGBUS {
			break
		}
		if !faultAddrIsReasonable(result.SIAddr) {
			break
		}
		if m, already := e.guest.Find(uintptr(result.SIAddr)); already && m != nil {
			break
		}
		m, err := e.autoMap(result.SIAddr)
		if err != nil {
			// Cannot grow mappings further; the fault stands as authoritative.
			break
		}
		autoMapped = append(autoMapped, m)
		// loop: re-run with the newly mapped page in place
	}

	e.releaseAutoMapped(autoMapped)
	result.MemChanges = changes
	result.MemCapped = capped
	return result, nil
}

// faultAddrIsReasonable implements §4.6's auto-map eligibility window:
// addr >= 64 KiB and < 2^38.
func faultAddrIsReasonable(addr uint64) bool {
	return addr >= 64*1024 && addr < (1<<38)
}

func (e *Engine) releaseAutoMapped(ms []*memmap.Mapping) {
	for _, m := range ms {
		_ = e.guest.Release(m)
	}
}

// autoMap allocates a page-sized mapping at the faulting address's page,
// filled deterministically from the address itself (§4.6's cross-client
// determinism requirement: the same fault at the same address must fill
// the same way on every client, which rules out any host-entropy source).
func (e *Engine) autoMap(addr uint64) (*memmap.Mapping, error) {
	pageSize := uint64(e.guest.PageSize())
	base := addr &^ (pageSize - 1)
	gen := prng.New(base)
	content := make([]byte, pageSize)
	gen.FillBytes(content)
	return e.guest.Create(uintptr(base), uintptr(pageSize), memmap.ProtRead|memmap.ProtWrite, content)
}

// runOnce performs exactly one pass of §4.5 steps 2-9, with no auto-map
// retry logic — Run's caller handles retrying.
func (e *Engine) runOnce(instrs []uint32, before *regs.Snapshot) (*Result, error) {
	// Step 2: snapshot/restore the fuzzer's own FP status register so a
	// fuzzed sequence's floating point exceptions never leak out, and vice
	// versa.
	savedFP := e.fp.Get()
	defer e.fp.Set(savedFP)

	// Step 4: write instrs into the runner page and flush the I-cache.
	if err := e.page.Load(instrs); err != nil {
		return nil, fmt.Errorf("engine: load instructions: %w", err)
	}

	// Step 5: reset every live guest mapping to its baseline content.
	for _, m := range e.guest.All() {
		if err := e.guest.Reset(m); err != nil {
			return nil, fmt.Errorf("engine: reset mapping %#x: %w", m.Start, err)
		}
	}

	// Clear the trap-result buffer so a stale signum from a previous run
	// can never be misread as this run's outcome.
	if err := e.trapResult.Clear(); err != nil {
		return nil, fmt.Errorf("engine: clear trap result: %w", err)
	}

	// Step 6: arm the watchdog, enter the trampoline.
	if err := e.broker.Arm(func() (func(), error) {
		return sigbroker.ArmTimer(sigbroker.DefaultTimeout)
	}); err != nil {
		return nil, fmt.Errorf("engine: arm broker: %w", err)
	}

	resultSnap := regs.New(e.cfg)

	instretBefore := e.sampleInstret()
	cycleBefore := e.sampleCycle()

	runner.Call(e.page.EntryPoint(), unsafe.Pointer(before), unsafe.Pointer(resultSnap))

	cycleAfter := e.sampleCycle()
	instretAfter := e.sampleInstret()

	raw := e.trapResult.Bytes()
	trapSignum := raw[0]

	var res Result
	if trapSignum == 0 {
		// Step 7 (clean): the trampoline tail already filled resultSnap.
		if err := e.broker.CleanReturn(); err != nil {
			return nil, err
		}
		res.RegsAfter = resultSnap
	} else {
		t := decodeTrap(raw)
		trap := sigbroker.Trap{
			Signum: unix.Signal(t.Signum),
			SICode: t.SICode,
			SIAddr: t.SIAddr,
			SIPC:   t.PC,
		}
		if err := e.broker.Deliver(trap); err != nil {
			return nil, err
		}
		// §3: "even on trap, every register is filled — either from the
		// kernel's signal context, a shadow save, or an inferred value."
		// GP/SP come from mcontext; anything this port's raw handler
		// doesn't capture (PSTATE/FPSR/V — see decode_arm64.go) falls back
		// to regs_before, the sanctioned "inferred value" path.
		res.RegsAfter = before.Clone()
		applyTrap(res.RegsAfter, t)
		res.Signum = unix.Signal(t.Signum)
		res.SICode = t.SICode
		res.SIAddr = t.SIAddr
		res.SIPC = t.PC
		res.InstrIdx = e.page.InstrIndex(uintptr(t.PC))
	}
	e.broker.Reset()

	// §4.3: the scratch register's delta is always masked from the
	// reported result, on both the clean and trapped path.
	res.RegsAfter.SetScratchValue(before.ScratchValue())

	if e.metaOn {
		res.Meta.Cycle = subtractBaseline(cycleAfter, cycleBefore, e.illegalCycleBaselineFor(res.Signum))
		res.Meta.Instret = subtractBaseline(instretAfter, instretBefore, e.instretBaselineFor(res.Signum))
	}

	return &res, nil
}

func subtractBaseline(after, before, baseline uint64) uint64 {
	delta := after - before
	if delta < baseline {
		return 0
	}
	return delta - baseline
}

func (e *Engine) instretBaselineFor(signum unix.Signal) uint64 {
	if signum == 0 {
		return e.cleanInstretBaseline
	}
	return 0
}

func (e *Engine) illegalCycleBaselineFor(signum unix.Signal) uint64 {
	if signum != 0 {
		return e.illegalCycleBaseline
	}
	return 0
}

// RunFullSeq implements run_full_seq(instrs[0..l]): repeatedly Run
// instrs[0..k] for k = 1..l, stopping at the first k whose result traps
// (§4.5). Clean intermediates are still recorded.
func (e *Engine) RunFullSeq(instrs []uint32, before *regs.Snapshot) ([]*Result, error) {
	var out []*Result
	for k := 1; k <= len(instrs); k++ {
		r, err := e.Run(instrs[:k], before)
		if err != nil {
			return out, err
		}
		out = append(out, r)
		if r.Signum != 0 {
			break
		}
	}
	return out, nil
}

func readU32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func readU64LE(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
