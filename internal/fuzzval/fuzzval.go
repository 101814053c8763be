// Package fuzzval holds the compiled-in fuzzing value table described in
// spec.md §3: a small curated set of interesting 64-bit bit patterns used
// to populate registers for Register-select BatchInputs, and the
// check_ptrs_safe startup assertion from §4.2 that guarantees none of the
// table's pointer-shaped values lands on a page the Memory Mapper might
// legitimately map.
//
// Grounded on original_source/client/src/lib/fuzzing_value_map.c, reworked
// as a Go table instead of a C designated-initializer array.
package fuzzval

import "math"

// Table is the fixed, ordered list of 64-bit values used to populate
// general-purpose registers. Index is the "small per-register index" a
// Register-select BatchInput refers to (§3).
var Table = buildTable()

// PointerValues is the subset of Table whose values are meant to be used
// as addresses — these are the ones check_ptrs_safe (CheckPointersSafe)
// must verify are never mapped.
var PointerValues []uint64

func buildTable() []uint64 {
	var t []uint64

	// Small and boundary integers.
	t = append(t,
		0,
		1,
		2,
		0x7f, 0x80, 0xff,
		0x7fff, 0x8000, 0xffff,
		0x7fffffff, 0x80000000, 0xffffffff,
		0x7fffffffffffffff,
		0x8000000000000000,
		0xffffffffffffffff,
	)

	// NOP encodings for both target architectures (harmless if loaded into
	// a register rather than executed; kept here because the original
	// table uses the same curated list for both purposes).
	const (
		arm64NOP  = 0xd503201f
		riscvNOP  = 0x00000013 // addi x0, x0, 0
	)
	t = append(t, arm64NOP, riscvNOP)

	// Pointer-shaped values, sandwiched around a chosen "valid" address so
	// that a load/store-with-small-immediate lands near, but never on, a
	// mapped page. anchor is deliberately an address with no special
	// alignment significance; every entry here is later validated by
	// CheckPointersSafe against the live mapping table.
	const anchor = uint64(0x0000_4000_0000_0000)
	pageSize := uint64(4096)
	for k := int64(-4); k <= 4; k++ {
		v := anchor + uint64(k)*pageSize
		t = append(t, v)
		PointerValues = append(PointerValues, v)
	}

	// Floating point bit patterns (IEEE-754 double and single extremes),
	// carried as raw bits so the table stays a single []uint64.
	doubles := []float64{
		0.0, math.Copysign(0, -1),
		1.0, -1.0,
		math.Inf(1), math.Inf(-1),
		math.NaN(),
		math.MaxFloat64, -math.MaxFloat64,
		math.SmallestNonzeroFloat64,
	}
	for _, d := range doubles {
		t = append(t, math.Float64bits(d))
	}
	floats := []float32{
		0.0, float32(math.Copysign(0, -1)),
		1.0, -1.0,
		float32(math.Inf(1)), float32(math.Inf(-1)),
		float32(math.NaN()),
		math.MaxFloat32, -math.MaxFloat32,
		math.SmallestNonzeroFloat32,
	}
	for _, f := range floats {
		t = append(t, uint64(math.Float32bits(f)))
	}

	return t
}

// PageProber abstracts the "is this page currently mapped" probe the
// Memory Mapper provides, so CheckPointersSafe can be unit tested without
// touching the real address space.
type PageProber interface {
	// PageMapped reports whether the page containing addr is mapped in
	// this process right now.
	PageMapped(addr uint64) bool
}

// CheckPointersSafe implements §4.2's startup policy: for every pointer
// value p in the table, no page at p&^(pagesize-1) + k*pagesize for
// k in [-1000, 1000] may be mapped. It returns the first violating address
// found, or 0 with ok=true if the table is safe.
func CheckPointersSafe(prober PageProber, pageSize uint64) (violating uint64, ok bool) {
	mask := ^(pageSize - 1)
	for _, p := range PointerValues {
		base := p & mask
		for k := int64(-1000); k <= 1000; k++ {
			addr := base + uint64(k)*pageSize
			if prober.PageMapped(addr) {
				return addr, false
			}
		}
	}
	return 0, true
}
