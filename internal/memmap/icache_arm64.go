package memmap

// arm64CacheLineSize is a conservative lower bound on the data/instruction
// cache line size. Using a value smaller than the true line size only
// costs redundant maintenance ops, never correctness; reading the true
// size out of CTR_EL0 would need another raw system-register read, not
// worth it for a one-time-per-run loop.
const arm64CacheLineSize = 64

// FlushICache invalidates the instruction cache for [start, start+size)
// after new instruction bytes have been written through a mapping's shadow
// view. ARM64 requires explicit cache maintenance (clean each data cache
// line to the point of unification, then invalidate the matching
// instruction cache line, each ordered by barriers) because the
// instruction and data caches are not automatically coherent — see §4.3's
// trampoline contract.
func FlushICache(start, size uintptr) {
	end := start + size
	aligned := start &^ (arm64CacheLineSize - 1)

	dsbIshARM64()
	for a := aligned; a < end; a += arm64CacheLineSize {
		dcCvauARM64(a)
	}
	dsbIshARM64()
	for a := aligned; a < end; a += arm64CacheLineSize {
		icIvauARM64(a)
	}
	dsbIshARM64()
	isbARM64()
}

// Implemented in icache_arm64.s.
func dcCvauARM64(addr uintptr)
func icIvauARM64(addr uintptr)
func dsbIshARM64()
func isbARM64()
