// Package memdiff implements Memory Diff & Auto-Map (C6): comparing every
// attached mapping's post-run content against its baseline and recording
// bounded difference ranges. The auto-map loop that grows mappings on a
// SIGSEGV/SIGBUS fault runs in internal/engine; this package supplies only
// its bound, CheckMemMaxTries.
//
// Grounded on the teacher's memory_bus.go for the chunked-scan,
// boundary-merge comment style, and on original_source/'s hexdiff.h for
// the exact FNV-1a-over-the-differing-span + first-K-bytes-literal
// record shape this component must reproduce byte-for-byte in the wire
// format (internal/pack).
package memdiff

import (
	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

// CheckMemCutAt is the number of literal bytes recorded per diff range,
// regardless of the range's true length (§4.6).
const CheckMemCutAt = 16

// CheckMemMaxNumberMemChanges caps the number of recorded ranges per run.
const CheckMemMaxNumberMemChanges = 32

// CheckMemMaxTries bounds the auto-map retry loop (§4.6).
const CheckMemMaxTries = 4

// chunkSize is the granularity of the initial equal-prefix skip; only once
// a chunk differs does the scan drop to byte-by-byte (§4.6).
const chunkSize = 512

// Change is one recorded difference range: the absolute address it starts
// at, its length, up to CheckMemCutAt literal bytes, and an FNV-1a hash
// over the full span (even when truncated for the literal copy).
type Change struct {
	Start   uint64
	Length  uint32
	First   []byte // len == min(Length, CheckMemCutAt)
	Hash    uint32
}

// Scan compares every mapping's current shadow content against its
// baseline and returns the recorded diff ranges, capped at
// CheckMemMaxNumberMemChanges. capped reports whether more ranges existed
// than the cap allowed (the reproducer's mem_diffs_capped_at field, §7).
func Scan(mp *memmap.Mapper) (changes []Change, capped bool) {
	mappings := mp.All() // insertion order, not address order — §4.6 determinism note
	resume := 0          // first unscanned byte of mappings[i] after a partial merge into it
	for i := 0; i < len(mappings); i++ {
		// A plain index, not range's i, because the adjacent-mapping merge
		// below advances i to skip past mappings it has already consumed —
		// range re-derives i from its own counter each iteration and would
		// silently discard that advance.
		m := mappings[i]
		cur := mp.Read(m, 0, int(m.Size))
		base := m.Baseline
		j := resume
		resume = 0
		for j < len(cur) {
			// Skip equal chunks first, then find the exact first differing byte.
			if j+chunkSize <= len(cur) && equalChunk(cur[j:j+chunkSize], base[j:j+chunkSize]) {
				j += chunkSize
				continue
			}
			if cur[j] == base[j] {
				j++
				continue
			}
			if len(changes) >= CheckMemMaxNumberMemChanges {
				return changes, true
			}
			start := j
			for j < len(cur) && cur[j] != base[j] {
				j++
			}
			// Merge into the next mapping if it starts exactly adjacent and
			// its first byte also differs.
			span := append([]byte(nil), cur[start:j]...)
			endAddr := uint64(m.Start) + uint64(j)
			for i+1 < len(mappings) {
				next := mappings[i+1]
				if uint64(next.Start) != endAddr {
					break
				}
				nextCur := mp.Read(next, 0, int(next.Size))
				if len(nextCur) == 0 || nextCur[0] == next.Baseline[0] {
					break
				}
				k := 0
				for k < len(nextCur) && nextCur[k] != next.Baseline[k] {
					k++
				}
				span = append(span, nextCur[:k]...)
				endAddr = uint64(next.Start) + uint64(k)
				if k < len(nextCur) {
					resume = k
					break
				}
				i++
			}
			lit := span
			if len(lit) > CheckMemCutAt {
				lit = lit[:CheckMemCutAt]
			}
			changes = append(changes, Change{
				Start:  uint64(m.Start) + uint64(start),
				Length: uint32(len(span)),
				First:  append([]byte(nil), lit...),
				Hash:   fnv1a32(span),
			})
		}
	}
	return changes, false
}

func equalChunk(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fnv1a32(data []byte) uint32 {
	const offsetBasis = 2166136261
	const prime = 16777619
	h := uint32(offsetBasis)
	for _, b := range data {
		h ^= uint32(b)
		h *= prime
	}
	return h
}
