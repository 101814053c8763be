//go:build riscv64

package pack

import (
	"encoding/binary"

	"github.com/intuitionamiga/riscover-client/internal/regs"
)

// Wire-level abi_index ranges for RISC-V64, disjoint across register
// classes — unlike ARM64, scalar FP is architecturally separate from the
// vector file here, so no overlap to worry about within FP/vector
// themselves, only between GP/flag/FP/vector as a group.
const (
	wireFCSR    = 31
	wireFPBase  = 32 // scalar FP f0..f31, present only when Cfg.Floats
	wireVecBase = wireFPBase + 32 // vector registers, present only when Cfg.Vector
)

// regDiffs returns every differing register between before and after, in
// ascending wire abi_index order: GP (x1..x31), FCSR, scalar FP, vector.
func regDiffs(before, after *regs.Snapshot) []regWire {
	var out []regWire

	for _, d := range regs.DiffGP(before, after) {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, d.After)
		out = append(out, regWire{abiIndex: d.ABIIndex - 1, value: v}) // array position 0..30 -> x1..x31
	}

	if before.Cfg.Floats && before.FCSR != after.FCSR {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, after.FCSR)
		out = append(out, regWire{abiIndex: wireFCSR, value: v})
	}

	for _, d := range regs.DiffFP(before, after) {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, d.After)
		out = append(out, regWire{abiIndex: wireFPBase + d.ABIIndex, value: v})
	}

	for _, d := range regs.DiffVec(before, after) {
		v := append([]byte(nil), d.After...) // Cfg.VectorBytes wide
		out = append(out, regWire{abiIndex: wireVecBase + d.ABIIndex, value: v})
	}

	return out
}
