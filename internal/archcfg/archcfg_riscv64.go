//go:build riscv64

package archcfg

import "github.com/intuitionamiga/riscover-client/internal/regs"

// RunningArch is this build's §6/reproducer arch tag.
const RunningArch = "riscv64"

// riscv64VectorBytes mirrors original_source/client/src/lib/runner.c's
// get_vec_size(): on RISC-V the vector register width is a compile-time
// build parameter (VEC_REG_SIZE), not something probed at runtime, so
// this client fixes it the same way rather than inventing a runtime
// vlenb query this codebase has no other use for.
const riscv64VectorBytes = 16

// DefaultRegsConfig enables every optional register class this client
// captures on RISC-V64.
func DefaultRegsConfig() regs.Config {
	return regs.Config{Floats: true, Vector: true, VectorBytes: riscv64VectorBytes}
}

// SetSP writes the stack pointer. On RISC-V, x2/sp is already an ordinary
// GP array slot (array position 1) that ABIName resolves to "sp", so this
// is a convenience alias rather than a distinct storage location.
func SetSP(s *regs.Snapshot, v uint64) { s.GP[1] = v }
