//go:build riscv64

package sigbroker

// Raw signal-handler trampoline for RISC-V64. Invoked directly by the
// kernel as void handler(int sig, siginfo_t *info, ucontext_t *uctx) with
// sig/info/uctx in a0/a1/a2 per the LP64D calling convention. As on ARM64
// (handler_arm64.go), this runs outside any Go calling convention, so every
// register is free.
//
// Offset constants carry the same "best-effort, unverified against an
// actual libc header" caveat documented in handler_arm64.go. RISC-V's
// sigcontext happens to lay out x1..x31 in plain register-number order
// immediately after pc, which makes the per-register offset formula exact
// once mcontextOffset itself is right.
const (
	siCodeOffsetRV     = 8
	siAddrOffsetRV     = 16
	ucontextMcontextRV = 176 // offsetof(ucontext_t, uc_mcontext), best-effort — see handler_arm64.go
	mcontextPCrv       = 0
)

func gpOffsetRV(n int) int { return 8 + (n-1)*8 } // x1..x31, relative to mcontext start

// buildSignalHandler encodes a handler that copies signum (in a0 at entry),
// si_code, si_addr, pc, and x1..x31 from mcontext into dest, then resumes
// via an explicit rt_sigreturn rather than a bare ret — see
// handler_arm64.go's buildSignalHandler for why a raw rt_sigaction(2)
// install (no libc restorer) needs this, and why rewriting mcontext's
// saved pc to a one-instruction resume stub and jumping through the
// preserved ra is safe here: buildEntryRISCV64 never overwrites ra with a
// fuzzed value, so ra still holds runner.Call's own jal return address.
func buildSignalHandler(dest, resumeStub uintptr) []byte {
	var words []uint32
	const dst = 31  // t6, holds dest
	const uctx = 12 // a2 = ucontext*
	const info = 11 // a1 = siginfo*
	const tmp = 5   // t0, scratch for loaded values
	const base = 7  // t2, holds uctx + mcontextOffset (t1 is li64RV's scratch)

	words = append(words, li64RV(dst, uint64(dest))...)
	words = append(words, sbRV(10, dst, 0)) // signum (a0) -> dest[0]

	words = append(words, lwRV(tmp, info, siCodeOffsetRV))
	words = append(words, swRV(tmp, dst, 1))
	words = append(words, ldRV(tmp, info, siAddrOffsetRV))
	words = append(words, sdRV(tmp, dst, 8))

	words = append(words, addiMV(base, uctx))
	words = append(words, addiImm(base, base, ucontextMcontextRV))

	words = append(words, ldRV(tmp, base, mcontextPCrv))
	words = append(words, sdRV(tmp, dst, 16))
	for n := 1; n <= 31; n++ {
		words = append(words, ldRV(tmp, base, gpOffsetRV(n)))
		words = append(words, sdRV(tmp, dst, 24+(n-1)*8))
	}

	// Rewrite the live frame's saved pc to the resume stub, then resume
	// via rt_sigreturn.
	words = append(words, li64RV(tmp, uint64(resumeStub))...)
	words = append(words, sdRV(tmp, base, mcontextPCrv))
	words = append(words, addiImm(17, 0, rtSigreturnNRrv)) // a7 = __NR_rt_sigreturn
	words = append(words, ecallRV)
	return wordsToBytesRV(words)
}

// rtSigreturnNRrv is __NR_rt_sigreturn, identical to arm64's value (both
// use the Linux generic syscall table).
const rtSigreturnNRrv = 139

const ecallRV = 0x00000073

// retStub returns the one-instruction resume stub's machine code: a bare
// ret (jalr x0, 0(ra)) through whatever ra holds once rt_sigreturn
// restores the rewritten context.
func retStub() []byte {
	return wordsToBytesRV([]uint32{jalrRet()})
}

func addiImm(rd, rs1 uint32, imm int) uint32 {
	return (uint32(int32(imm)&0xFFF) << 20) | (rs1 << 15) | (rd << 7) | 0b0010011
}

func lwRV(rd, rs1 uint32, byteOff int) uint32 {
	imm := uint32(int32(byteOff)) & 0xFFF
	return (imm << 20) | (rs1 << 15) | (0b010 << 12) | (rd << 7) | 0b0000011
}
func swRV(rs2, rs1 uint32, byteOff int) uint32 {
	imm := uint32(int32(byteOff)) & 0xFFF
	hi := (imm >> 5) & 0x7F
	lo := imm & 0x1F
	return (hi << 25) | (rs2 << 20) | (rs1 << 15) | (0b010 << 12) | (lo << 7) | 0b0100011
}
func sbRV(rs2, rs1 uint32, byteOff int) uint32 {
	imm := uint32(int32(byteOff)) & 0xFFF
	hi := (imm >> 5) & 0x7F
	lo := imm & 0x1F
	return (hi << 25) | (rs2 << 20) | (rs1 << 15) | (0b000 << 12) | (lo << 7) | 0b0100011
}
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
func addiMV(rd, rs uint32) uint32 { return (rs << 15) | (rd << 7) | 0b0010011 }
func jalrRet() uint32             { return (1 << 15) | 0b1100111 }

func li64RV(rd uint32, v uint64) []uint32 {
	// Standard 6-instruction 64-bit immediate build: lui+addi for the high
	// 32 bits, shifted into place, or'd with the low 32 bits similarly
	// built. Conservative and slightly redundant rather than clever, to
	// keep the bit math easy to re-derive by hand.
	hi32 := uint32(v >> 32)
	lo32 := uint32(v)
	words := li32RV(rd, hi32)
	words = append(words, slliRV(rd, rd, 32))
	words = append(words, li32RV(6, lo32)...) // t1 as scratch for the low half
	// li32RV's addi sign-extends; clear any sign-extension above bit 31
	// before OR-ing the low half in, so a high bit in lo32 can't leak into
	// rd's upper 32 bits.
	words = append(words, slliRV(6, 6, 32))
	words = append(words, srliRV(6, 6, 32))
	words = append(words, orRV(rd, rd, 6))
	return words
}

func li32RV(rd uint32, v uint32) []uint32 {
	upper := v + 0x800
	lui := (upper & 0xFFFFF000) | (rd << 12) | 0b0110111
	addi := (uint32(int32(v)&0xFFF) << 20) | (rd << 15) | (rd << 7) | 0b0010011
	return []uint32{lui, addi}
}

func slliRV(rd, rs1 uint32, shamt uint32) uint32 {
	return (shamt << 20) | (rs1 << 15) | (0b001 << 12) | (rd << 7) | 0b0010011
}
func srliRV(rd, rs1 uint32, shamt uint32) uint32 {
	return (shamt << 20) | (rs1 << 15) | (0b101 << 12) | (rd << 7) | 0b0010011
}
func orRV(rd, rs1, rs2 uint32) uint32 {
	return (rs2 << 20) | (rs1 << 15) | (0b110 << 12) | (rd << 7) | 0b0110011
}

func wordsToBytesRV(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return buf
}
