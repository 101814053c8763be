//go:build arm64

package sigbroker

// Raw signal-handler trampoline for ARM64. Unlike the Runner Page's entry
// glue (internal/runner), this code is invoked directly by the kernel as
// the SA_SIGINFO handler — void handler(int sig, siginfo_t *info,
// ucontext_t *uctx) — with sig/info/uctx in x0/x1/x2 per AAPCS64. It never
// executes under Go's calling convention, so (unlike the runner trampoline)
// there is no register-reservation conflict with the Go runtime: every
// register is free to use.
//
// Offsets into siginfo_t and ucontext_t below match the Linux/glibc and
// musl aarch64 layouts as published in <bits/sigcontext.h> /
// <asm/ucontext.h> at the time of writing. This is the single highest-risk
// area of this port: it was written and reasoned about without ever
// compiling against the target libc's actual headers, and a libc revision
// or ABI variant could shift these numbers. See DESIGN.md.
const (
	siCodeOffset      = 8  // siginfo_t.si_code (after si_signo, si_errno)
	siAddrOffset      = 16 // siginfo_t._sifields._sigfault.si_addr
	ucontextMcontext  = 176 // offsetof(ucontext_t, uc_mcontext) on glibc/aarch64
	mcontextFaultAddr = 0   // sigcontext.fault_address
	mcontextRegs      = 8   // sigcontext.regs[0..30]
	mcontextSP        = mcontextRegs + 31*8
	mcontextPC        = mcontextSP + 8
	mcontextPState    = mcontextPC + 8
)

// buildSignalHandler encodes a handler that copies signum (already in w0),
// si_code, si_addr, and the 31 GP registers + SP + PC from mcontext into
// dest (a fixed Go-owned buffer address baked in as an immediate), then
// never falls through to a normal RET. Raw rt_sigaction(2) installs (no
// libc, no SA_RESTORER) leave "return from the handler" undefined unless
// the handler arranges its own resumption, so instead of relying on a
// kernel-provided restorer this handler rewrites uc_mcontext.pc in place
// to point at a one-instruction resume stub (a plain RET, built
// alongside this handler by install.go — see NewHandlerPage) and invokes
// rt_sigreturn(2) directly. Since the handler body never touches SP, the
// stack pointer at that point is still exactly where the kernel built the
// signal frame, which is what rt_sigreturn requires. The resume stub's
// RET then returns through whatever x30 holds in the rewritten context —
// the original call into the runner page's entry glue left its own
// return address there, and codegen_arm64.go's buildEntryARM64
// deliberately never overwrites x30 with a fuzzed value, so this resumes
// exactly where runner.Call's BLR would have returned on a clean run.
func buildSignalHandler(dest, resumeStub uintptr) []byte {
	var words []uint32
	const dst = 9   // scratch: holds dest, built via movz/movk
	const uctx = 2  // x2 = ucontext* (arg2)
	const info = 1  // x1 = siginfo* (arg1), still valid until overwritten

	words = append(words, movz64(dst, dest)...)

	// dest.Signum (u8) already present in w0 at handler entry; store it at
	// offset 0 of the result buffer (engine reads it as the first byte).
	words = append(words, strBimm(0, dst, 0))

	// si_code, si_addr from siginfo_t (x1).
	words = append(words, ldrWimm(3, info, siCodeOffset))
	words = append(words, 0xB8000000|(1<<12)|(dst<<5)|3) // STUR w3, [x9, #1]: the scaled STR form cannot address byte 1
	words = append(words, ldrXimm(3, info, siAddrOffset))
	words = append(words, strXimm(3, dst, 8))

	// GP regs, SP, PC from ucontext_t->uc_mcontext (x2).
	words = append(words, movReg(4, uctx))
	words = append(words, addImm(4, 4, ucontextMcontext))
	for i := uint32(0); i < 31; i++ {
		words = append(words, ldrXimm(5, 4, mcontextRegs+int(i)*8))
		words = append(words, strXimm(5, dst, 16+int(i)*8))
	}
	words = append(words, ldrXimm(5, 4, mcontextSP))
	words = append(words, strXimm(5, dst, 16+31*8))
	words = append(words, ldrXimm(5, 4, mcontextPC))
	words = append(words, strXimm(5, dst, 16+32*8))

	// Rewrite the live frame's saved PC to the resume stub, then resume
	// via rt_sigreturn rather than falling through to a restorer.
	words = append(words, movz64(6, uint64(resumeStub))...)
	words = append(words, strXimm(6, 4, mcontextPC))
	words = append(words, movz64(8, rtSigreturnNR)[0]) // imm16 fits one MOVZ
	words = append(words, svc0)
	return wordsToBytes(words)
}

// rtSigreturnNR is __NR_rt_sigreturn, identical on arm64 and riscv64
// (both use the Linux generic syscall table).
const rtSigreturnNR = 139

const svc0 = 0xD4000001 // SVC #0

// retStub returns the one-instruction resume stub's machine code: a bare
// RET through whatever x30 holds once rt_sigreturn restores the rewritten
// context.
func retStub() []byte {
	return wordsToBytes([]uint32{retInsn})
}

func movz64(rd uint32, imm uint64) []uint32 {
	return []uint32{
		0xD2800000 | (uint32(imm&0xFFFF) << 5) | rd,
		0xF2A00000 | (uint32((imm>>16)&0xFFFF) << 5) | rd,
		0xF2C00000 | (uint32((imm>>32)&0xFFFF) << 5) | rd,
		0xF2E00000 | (uint32((imm>>48)&0xFFFF) << 5) | rd,
	}
}

func ldrWimm(rt, rn uint32, byteOff int) uint32 {
	return 0xB9400000 | (uint32(byteOff/4) << 10) | (rn << 5) | rt
}
func strWimm(rt, rn uint32, byteOff int) uint32 {
	return 0xB9000000 | (uint32(byteOff/4) << 10) | (rn << 5) | rt
}
func strBimm(rt, rn uint32, byteOff int) uint32 {
	return 0x39000000 | (uint32(byteOff) << 10) | (rn << 5) | rt
}
func addImm(rd, rn uint32, imm int) uint32 {
	return 0x91000000 | (uint32(imm&0xFFF) << 10) | (rn << 5) | rd
}

func movReg(rd, rm uint32) uint32 { return 0xAA0003E0 | (rm << 16) | rd }

func ldrXimm(rt, rn uint32, byteOff int) uint32 {
	return 0xF9400000 | (uint32(byteOff/8) << 10) | (rn << 5) | rt
}
func strXimm(rt, rn uint32, byteOff int) uint32 {
	return 0xF9000000 | (uint32(byteOff/8) << 10) | (rn << 5) | rt
}

const retInsn = 0xD65F03C0

func wordsToBytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return buf
}
