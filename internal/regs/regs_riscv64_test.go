//go:build riscv64

package regs

import "testing"

func TestDiffGPArrayPositionToABIIndex(t *testing.T) {
	a := New(Config{})
	b := a.Clone()
	b.GP[9] = 42 // array position 9 -> x10 / a0

	diffs := DiffGP(a, b)
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].ABIIndex != 10 || diffs[0].After != 42 {
		t.Errorf("unexpected diff: %+v", diffs[0])
	}
}

func TestScratchInvisibility(t *testing.T) {
	a := New(Config{})
	a.GP[ScratchIndex] = 0xdead
	b := a.Clone()
	b.GP[ScratchIndex] = 0xbeef
	b.SetScratchValue(a.ScratchValue())

	if diffs := DiffGP(a, b); len(diffs) != 0 {
		t.Errorf("scratch register leaked into diff: %+v", diffs)
	}
}

func TestDiffFPDisjointFromVector(t *testing.T) {
	a := New(Config{Floats: true, Vector: true, VectorBytes: 8})
	b := a.Clone()
	b.F[2] = 0x3ff0000000000000 // 1.0
	b.V[2][0] = 1

	fpDiffs := DiffFP(a, b)
	if len(fpDiffs) != 1 || fpDiffs[0].ABIIndex != 2 {
		t.Fatalf("unexpected FP diffs: %+v", fpDiffs)
	}
	vecDiffs := DiffVec(a, b)
	if len(vecDiffs) != 1 || vecDiffs[0].ABIIndex != 2 {
		t.Fatalf("unexpected vector diffs: %+v", vecDiffs)
	}
}

func TestEqualIdempotence(t *testing.T) {
	a := New(Config{Vector: true, VectorBytes: 8})
	b := a.Clone()
	if !Equal(a, b) {
		t.Fatal("clone of identical snapshot should be equal")
	}
	b.V[3][0] = 1
	if Equal(a, b) {
		t.Fatal("snapshots differing in vector state reported equal")
	}
}

func TestABIName(t *testing.T) {
	if got := ABIName(0); got != "ra" {
		t.Errorf("ABIName(0) = %q, want ra", got)
	}
	if got := ABIName(9); got != "a0" {
		t.Errorf("ABIName(9) = %q, want a0", got)
	}
}

func TestBytesSetBytesRoundTrip(t *testing.T) {
	for _, cfg := range []Config{
		{},
		{Floats: true},
		{Floats: true, Vector: true, VectorBytes: 8},
	} {
		a := New(cfg)
		a.GP[0] = 0x1122334455667788
		a.FCSR = 0x7
		if cfg.Floats {
			a.F[4] = 0x4000000000000000
		}
		if cfg.Vector {
			a.V[1][0] = 0xaa
			a.V[31][cfg.VectorBytes-1] = 0xbb
		}

		b := New(cfg)
		b.SetBytes(a.Bytes())
		if !Equal(a, b) {
			t.Fatalf("SetBytes(a.Bytes()) did not reproduce a under cfg=%+v", cfg)
		}
	}
}

func TestBytesOmitsVectorWhenDisabled(t *testing.T) {
	a := New(Config{Floats: true})
	want := (31 + 1 + 32) * 8
	if got := len(a.Bytes()); got != want {
		t.Fatalf("len(Bytes()) = %d, want %d (no vector portion)", got, want)
	}
}
