//go:build riscv64

package runner

import "github.com/intuitionamiga/riscover-client/internal/memmap"

// RISC-V64 register-snapshot field offsets, matching regs.Snapshot's fixed
// layout (see internal/regs/regs_riscv64.go): GP[31]uint64 (x1..x31), FCSR,
// F[32]uint64. The V slice header and Cfg that follow are never touched by
// hand-encoded machine code.
const (
	offGPrv   = 0
	offFCSR   = 31 * 8
	offFrv    = offFCSR + 8
)

const nopRISCV64 = 0x00000013 // addi x0, x0, 0

func addiMV(rd, rs uint32) uint32 { return 0x00000013 | (rs << 15) | (rd << 7) }

func ldRV(rd, rs1 uint32, byteOff int) uint32 {
	imm := uint32(int32(byteOff)) & 0xFFF
	return (imm << 20) | (rs1 << 15) | (0b011 << 12) | (rd << 7) | 0b0000011
}

func sdRV(rs2, rs1 uint32, byteOff int) uint32 {
	imm := uint32(int32(byteOff)) & 0xFFF
	hi := (imm >> 5) & 0x7F
	lo := imm & 0x1F
	return (hi << 25) | (rs2 << 20) | (rs1 << 15) | (0b011 << 12) | (lo << 7) | 0b0100011
}

// csrrsRead encodes "csrrs rd, csr, x0" — read csr into rd without writing
// (rs1 = x0 means the CSR's value is left unmodified).
func csrrsRead(rd uint32, csr uint32) uint32 {
	return (csr << 20) | (0 << 15) | (0b010 << 12) | (rd << 7) | 0b1110011
}

const fcsrCSR = 0x003

// jal encodes an unconditional PC-relative jump with no link (rd = x0),
// the RISC-V equivalent of the ARM64 tail's unconditional branch.
func jal(rd uint32, fromWordIdx int, toAddr, fromAddr uintptr) uint32 {
	rel := int32(int64(toAddr) - int64(fromAddr) - int64(fromWordIdx*4))
	imm := uint32(rel)
	bit20 := (imm >> 20) & 1
	bits10_1 := (imm >> 1) & 0x3FF
	bit11 := (imm >> 11) & 1
	bits19_12 := (imm >> 12) & 0xFF
	word := (bit20 << 31) | (bits10_1 << 21) | (bit11 << 20) | (bits19_12 << 12) | (rd << 7) | 0b1101111
	return word
}

// buildTailRISCV64 encodes the fixed trampoline tail: save x1..x31, fcsr,
// and f0..f31 into the regs_result area addressed by the scratch register
// (x31/t6), then return via jalr x0, 0(x1) (the standard RISC-V "ret"
// pseudo-instruction).
//
// As on ARM64, the scratch register is saved like any ordinary GP register
// and the engine restores its pre-run value afterward.
func buildTailRISCV64(bool) []byte {
	var words []uint32
	const scratch = 31 // physical x31 = GP[30]
	for i := uint32(0); i < 31; i++ {
		words = append(words, sdRV(i+1, scratch, offGPrv+int(i)*8)) // rs2 = x(i+1)
	}
	words = append(words, csrrsRead(5, fcsrCSR)) // stage fcsr through x5 (t0), already saved
	words = append(words, sdRV(5, scratch, offFCSR))
	for i := uint32(0); i < 32; i++ {
		words = append(words, fsdRV(i, scratch, offFrv+int(i)*8))
	}
	words = append(words, jalrRet())
	return wordsToBytesRV(words)
}

// fsdRV encodes "fsd fi, offset(rs1)" — store a 64-bit float register.
func fsdRV(fi, rs1 uint32, byteOff int) uint32 {
	imm := uint32(int32(byteOff)) & 0xFFF
	hi := (imm >> 5) & 0x7F
	lo := imm & 0x1F
	return (hi << 25) | (fi << 20) | (rs1 << 15) | (0b011 << 12) | (lo << 7) | 0b0100111
}

// fldRV encodes "fld fi, offset(rs1)" — load a 64-bit float register.
func fldRV(fi, rs1 uint32, byteOff int) uint32 {
	imm := uint32(int32(byteOff)) & 0xFFF
	return (imm << 20) | (rs1 << 15) | (0b011 << 12) | (fi << 7) | 0b0000111
}

func jalrRet() uint32 { return (0 << 20) | (1 << 15) | (0 << 12) | (0 << 7) | 0b1100111 }

// buildEntryRISCV64 encodes the entry glue: load x1..x31 (except the
// scratch register, set from a1) from regs_before (a0), then jump into the
// runner page's first slot.
//
// f0..f31 and fcsr are captured on exit but not injected on entry, for the
// same register-pressure reason documented in codegen_arm64.go's
// buildEntryARM64.
//
// ra (x1) is likewise excluded from injection, for the same reason
// ARM64's x30 is: runner.Call reaches this glue via jal, leaving the real
// return address in ra, and the Signal Broker's trap path resumes by an
// ordinary ret through whatever ra currently holds (see
// sigbroker/handler_riscv64.go's resume stub).
func buildEntryRISCV64(entryAddr, branchTarget uintptr) []byte {
	var words []uint32
	const addrReg = 6  // t1, stages regs_before's address
	const scratch = 31 // t6
	const ra = 1
	words = append(words, addiMV(addrReg, 10)) // x6 = a0 (x10)
	words = append(words, addiMV(scratch, 11)) // x31 = a1 (x11)
	for i := uint32(0); i < 31; i++ {
		rd := i + 1
		if rd == scratch || rd == addrReg || rd == ra {
			continue
		}
		words = append(words, ldRV(rd, addrReg, offGPrv+int(i)*8))
	}
	// reload x6 itself last, from its own slot (GP index 5 = x6)
	words = append(words, ldRV(addrReg, addrReg, offGPrv+5*8))
	words = append(words, jal(0, len(words), branchTarget, entryAddr))
	return wordsToBytesRV(words)
}

func wordsToBytesRV(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		putU32LE(buf[i*4:], w)
	}
	return buf
}

// NewRISCV64 builds a runner page configured for the RISC-V64 instruction
// set.
func NewRISCV64(mp *memmap.Mapper, base uintptr, slotCount int) (*Page, error) {
	return newWithEntryBuilder(mp, base, slotCount, arch{
		nopWord:      nopRISCV64,
		buildTail:    buildTailRISCV64,
		scratchIndex: 30,
	}, buildEntryRISCV64)
}
