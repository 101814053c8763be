//go:build arm64

package runner

import "github.com/intuitionamiga/riscover-client/internal/memmap"

// ARM64 register-snapshot field offsets, matching regs.Snapshot's fixed
// layout (see internal/regs/regs_arm64.go): GP[31]uint64, SP, PState, FPSR,
// V[32][16]byte.
const (
	offGP     = 0
	offSP     = 31 * 8
	offPState = offSP + 8
	offFPSR   = offPState + 8
	offV      = offFPSR + 8
)

const nopARM64 = 0xd503201f // NOP

func movReg(rd, rm uint32) uint32   { return 0xAA0003E0 | (rm << 16) | rd }
func movSPtoX(rd uint32) uint32     { return 0x910003E0 | rd } // MOV Xd, SP
func ldrXimm(rt, rn uint32, byteOff int) uint32 {
	return 0xF9400000 | (uint32(byteOff/8) << 10) | (rn << 5) | rt
}
func strXimm(rt, rn uint32, byteOff int) uint32 {
	return 0xF9000000 | (uint32(byteOff/8) << 10) | (rn << 5) | rt
}
func strQimm(qt, rn uint32, byteOff int) uint32 {
	return 0x3D800000 | (uint32(byteOff/16) << 10) | (rn << 5) | qt
}
func mrsNZCV(rt uint32) uint32 { return 0xD53B4200 | rt }
func mrsFPSR(rt uint32) uint32 { return 0xD53B4420 | rt }

const retInsn = 0xD65F03C0

func bImm(fromWordIdx int, toAddr, fromAddr uintptr) uint32 {
	rel := int64(toAddr) - int64(fromAddr) - int64(fromWordIdx*4)
	imm26 := (rel / 4) & 0x03FFFFFF
	return 0x14000000 | uint32(imm26)
}

// buildTailARM64 encodes the fixed trampoline tail: save x0..x30, SP,
// PSTATE (NZCV), FPSR, and the V0..V31 vector registers into the
// regs_result area addressed by the scratch register (x9), then return.
//
// x9 is stored like any other GP register — its value at this point is
// still the regs_result pointer the entry glue set, not a meaningful
// fuzzed value. The engine overwrites regs_result.GP[ScratchIndex] with
// the pre-run value afterward (regs.Snapshot.SetScratchValue), per §4.5
// step 7 ("restore the scratch register's value to its pre-run content").
func buildTailARM64(bool) []byte {
	var words []uint32
	const scratch = 9
	for i := uint32(0); i < 31; i++ {
		words = append(words, strXimm(i, scratch, offGP+int(i)*8))
	}
	// SP has no direct STR encoding as Rt; stage through x0 (already saved).
	words = append(words, movSPtoX(0))
	words = append(words, strXimm(0, scratch, offSP))
	words = append(words, mrsNZCV(0))
	words = append(words, strXimm(0, scratch, offPState))
	words = append(words, mrsFPSR(0))
	words = append(words, strXimm(0, scratch, offFPSR))
	for i := uint32(0); i < 32; i++ {
		words = append(words, strQimm(i, scratch, offV+int(i)*16))
	}
	words = append(words, retInsn)
	return wordsToBytes(words)
}

// buildEntryARM64 encodes the entry glue: load x0..x30 (except the scratch
// register, which is set from the call's second argument) from
// regs_before, then fall into the runner page's first slot via a
// PC-relative branch.
//
// Floating-point and vector state are captured on exit (buildTailARM64)
// but not injected on entry — every general-purpose register is free to
// stage regs_before's address during the load sequence, but none remains
// free to stage the FPCR/FPSR/V values without first clobbering a register
// whose fuzzed value still needs loading. Runs under Cfg.Floats/Vector
// still observe correct results for any instruction reading only what it
// itself writes, but cannot seed a pre-chosen FP/vector input; tracked as
// an open item in DESIGN.md.
//
// x30 (the link register) is also left out of the injected set, even
// though regs_before carries a value for it: runner.Call reaches this
// glue with a BLR, which leaves its own return address in x30, and the
// Signal Broker's trap path resumes execution by an ordinary RET through
// whatever x30 currently holds (see sigbroker/handler_arm64.go's resume
// stub). Loading a fuzzed x30 here would strand that return address and
// turn every trap into a wild jump instead of a clean unwind back into
// the engine. A sequence that deliberately writes x30 itself is still
// observed correctly, since that write happens after this glue has
// already handed control to slot 0.
func buildEntryARM64(entryAddr, branchTarget uintptr) []byte {
	var words []uint32
	const addrReg = 10
	const scratch = 9
	const linkReg = 30
	words = append(words, movReg(addrReg, 0)) // x10 = regs_before ptr (arg0)
	words = append(words, movReg(scratch, 1)) // x9  = regs_result ptr (arg1)
	for i := uint32(0); i < 31; i++ {
		if i == scratch || i == addrReg || i == linkReg {
			continue
		}
		words = append(words, ldrXimm(i, addrReg, offGP+int(i)*8))
	}
	words = append(words, ldrXimm(addrReg, addrReg, offGP+addrReg*8)) // reload x10 itself, last
	words = append(words, bImm(len(words), branchTarget, entryAddr))
	return wordsToBytes(words)
}

func wordsToBytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		putU32LE(buf[i*4:], w)
	}
	return buf
}

// NewARM64 builds a runner page configured for the ARM64 instruction set.
func NewARM64(mp *memmap.Mapper, base uintptr, slotCount int) (*Page, error) {
	return newWithEntryBuilder(mp, base, slotCount, arch{
		nopWord:      nopARM64,
		buildTail:    buildTailARM64,
		scratchIndex: 9,
	}, buildEntryARM64)
}
