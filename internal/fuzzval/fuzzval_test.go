package fuzzval

import "testing"

type fakeProber struct{ mapped map[uint64]bool }

func (f fakeProber) PageMapped(addr uint64) bool { return f.mapped[addr] }

func TestCheckPointersSafeNoneMapped(t *testing.T) {
	_, ok := CheckPointersSafe(fakeProber{mapped: map[uint64]bool{}}, 4096)
	if !ok {
		t.Fatal("expected safe table against an empty address space")
	}
}

func TestCheckPointersSafeDetectsViolation(t *testing.T) {
	bad := PointerValues[0] & ^uint64(4095)
	prober := fakeProber{mapped: map[uint64]bool{bad: true}}
	addr, ok := CheckPointersSafe(prober, 4096)
	if ok {
		t.Fatal("expected violation to be detected")
	}
	if addr != bad {
		t.Errorf("violating address = %#x, want %#x", addr, bad)
	}
}

func TestTableNonEmpty(t *testing.T) {
	if len(Table) == 0 {
		t.Fatal("fuzzing value table must not be empty")
	}
	if len(PointerValues) == 0 {
		t.Fatal("pointer value subset must not be empty")
	}
}
