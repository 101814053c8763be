//go:build arm64

package engine

import "github.com/intuitionamiga/riscover-client/internal/regs"

// decodeTrap splices handler_arm64.go's raw capture buffer — signum(1),
// si_code(4 @1), si_addr(8 @8), x0..x30(8 each @16), sp(@16+31*8),
// pc(@16+32*8) — into the architecture-neutral trapFields shape. Offsets
// here must track buildSignalHandler exactly.
func decodeTrap(raw []byte) trapFields {
	var t trapFields
	t.Signum = raw[0]
	t.SICode = int32(readU32LE(raw[1:]))
	t.SIAddr = readU64LE(raw[8:])
	for i := 0; i < 31; i++ {
		t.GP[i] = readU64LE(raw[16+i*8:])
	}
	t.SP = readU64LE(raw[16+31*8:])
	t.PC = readU64LE(raw[16+32*8:])
	return t
}

// applyTrap overlays the captured GP file and SP onto a clone of
// regs_before. PSTATE, FPSR and the vector file are not captured by this
// port's raw handler (reading the fpsimd_context reserved block out of
// mcontext would need scanning for its magic tag) and so retain
// regs_before's values — the "inferred value" branch §3 explicitly
// sanctions for fields a result can't otherwise fill on a trap.
func applyTrap(s *regs.Snapshot, t trapFields) {
	s.GP = t.GP
	s.SP = t.SP
}
