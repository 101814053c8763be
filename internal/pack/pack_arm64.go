//go:build arm64

package pack

import (
	"encoding/binary"

	"github.com/intuitionamiga/riscover-client/internal/regs"
)

// Wire-level abi_index ranges for ARM64, disjoint across register classes
// so a single flat diff list needs no separate class tag (see
// original_source's getabiindex/getabiindex_float/getabiindex_vec).
const (
	wirePState  = 32
	wireFPSR    = 33
	wireFPBase  = 34             // scalar FP (D-view), 32 registers, present only when Cfg.Floats
	wireVecBase = wireFPBase + 32 // vector registers, present only when Cfg.Vector
)

// regDiffs returns every differing register between before and after, in
// ascending wire abi_index order: GP, SP, PState, FPSR, scalar FP, vector.
func regDiffs(before, after *regs.Snapshot) []regWire {
	var out []regWire

	for _, d := range regs.DiffGP(before, after) {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, d.After)
		out = append(out, regWire{abiIndex: d.ABIIndex, value: v}) // 0..30 GP, 31 SP (regs.DiffGP already reports SP at 31)
	}

	if before.PState != after.PState {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, after.PState)
		out = append(out, regWire{abiIndex: wirePState, value: v})
	}

	if (before.Cfg.Floats || before.Cfg.Vector) && before.FPSR != after.FPSR {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, after.FPSR)
		out = append(out, regWire{abiIndex: wireFPSR, value: v})
	}

	for _, d := range regs.DiffFP(before, after) {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, d.After)
		out = append(out, regWire{abiIndex: wireFPBase + d.ABIIndex, value: v})
	}

	for _, d := range regs.DiffVec(before, after) {
		v := append([]byte(nil), d.After...) // 16 bytes, full V register
		out = append(out, regWire{abiIndex: wireVecBase + d.ABIIndex, value: v})
	}

	return out
}
