package reproducer

import (
	"fmt"
	"runtime"

	"github.com/intuitionamiga/riscover-client/internal/engine"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

// FromRun builds a Document's Input and a single Result entry from one
// engine.Run outcome — the shape cmd/riscover-replay's "save what just
// happened" path and a coordinator-side capture tool both need.
func FromRun(before *regs.Snapshot, instrs []uint32, r *engine.Result, client, arch string, flags []string, gitCommit string) *Document {
	return &Document{
		Input: Input{
			InstrSeq: hexInstrs(instrs),
			Regs:     encodeGP(before),
		},
		Results:   []Result{encodeResult(before, r, client)},
		Flags:     flags,
		Arch:      arch,
		GitCommit: gitCommit,
	}
}

func hexInstrs(instrs []uint32) []string {
	out := make([]string, len(instrs))
	for i, w := range instrs {
		out[i] = fmt.Sprintf("0x%08x", w)
	}
	return out
}

func encodeGP(s *regs.Snapshot) map[string]string {
	out := make(map[string]string, len(s.GP))
	for i, v := range s.GP {
		out[regs.ABIName(i)] = fmt.Sprintf("0x%016x", v)
	}
	return out
}

func encodeResult(before *regs.Snapshot, r *engine.Result, client string) Result {
	res := Result{
		Signum:    int(r.Signum),
		RegsAfter: encodeRegsAfter(before, r.RegsAfter),
		Clients:   []string{client},
	}
	if r.Signum != 0 {
		code := r.SICode
		addr := r.SIAddr
		pc := r.SIPC
		res.SICode = &code
		res.SIAddr = &addr
		res.SIPC = &pc
	}
	if r.Meta.Cycle != 0 || r.Meta.Instret != 0 {
		m := Meta{}
		if r.Meta.Cycle != 0 {
			c := r.Meta.Cycle
			m.Cycle = &c
		}
		if r.Meta.Instret != 0 {
			n := r.Meta.Instret
			m.Instret = &n
		}
		res.Meta = &m
	}
	for _, c := range r.MemChanges {
		res.MemDiffs = append(res.MemDiffs, MemDiff{Start: c.Start, Length: c.Length, Hash: c.Hash})
	}
	if r.MemCapped {
		n := len(r.MemChanges)
		res.MemDiffsCapAt = &n
	}
	return res
}

// encodeRegsAfter returns only the GP registers that differ from before,
// per §6's "regs_after deltas" wording — a reproducer file need not
// restate every unchanged register.
func encodeRegsAfter(before, after *regs.Snapshot) map[string]string {
	out := make(map[string]string)
	for _, d := range regs.DiffGP(before, after) {
		out[abiNameForDiff(d.ABIIndex)] = fmt.Sprintf("0x%016x", d.After)
	}
	return out
}

// abiNameForDiff maps a GPDiff's ABIIndex back to its ABI name. ARM64's
// DiffGP reports x0..x30 at 0..30 and SP at 31; RISC-V's reports x1..x31
// at 1..31, one above the GP array position regs.ABIName takes.
func abiNameForDiff(index uint8) string {
	if runtime.GOARCH == "riscv64" {
		return regs.ABIName(int(index) - 1)
	}
	if int(index) < 31 {
		return regs.ABIName(int(index))
	}
	return spOrScratchName()
}

func spOrScratchName() string {
	// ARM64's DiffGP reports the stack pointer at ABI index 31; RISC-V
	// diffs are named in abiNameForDiff and never reach here.
	return "sp"
}
