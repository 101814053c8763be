package memmap

// FlushICache invalidates the instruction cache after new instruction
// bytes have been written through a mapping's shadow view. RISC-V's
// fence.i flushes the whole local hart's instruction cache rather than a
// range — there is no RISC-V equivalent of ARM64's per-line IC IVAU — so
// start/size are accepted for API symmetry with the ARM64 implementation
// but unused.
func FlushICache(start, size uintptr) {
	_, _ = start, size
	fenceIRISCV64()
}

// Implemented in icache_riscv64.s.
func fenceIRISCV64()
