//go:build riscv64

package engine

import "github.com/intuitionamiga/riscover-client/internal/regs"

// decodeTrap splices handler_riscv64.go's raw capture buffer — signum(1),
// si_code(4 @1), si_addr(8 @8), pc(8 @16), x1..x31(8 each @24) — into the
// architecture-neutral trapFields shape. Offsets here must track
// buildSignalHandler exactly.
func decodeTrap(raw []byte) trapFields {
	var t trapFields
	t.Signum = raw[0]
	t.SICode = int32(readU32LE(raw[1:]))
	t.SIAddr = readU64LE(raw[8:])
	t.PC = readU64LE(raw[16:])
	for n := 1; n <= 31; n++ {
		t.GP[n-1] = readU64LE(raw[24+(n-1)*8:])
	}
	t.SP = t.GP[regs.SPIndex]
	return t
}

// applyTrap overlays the captured x1..x31 file onto a clone of regs_before.
// fcsr and the scalar FP / vector files are not captured by this port's
// raw handler and so retain regs_before's values, the "inferred value"
// branch §3 sanctions for fields a trapped result can't otherwise fill.
func applyTrap(s *regs.Snapshot, t trapFields) {
	s.GP = t.GP
}
