package memdiff

import (
	"testing"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

func newMapping(t *testing.T, mp *memmap.Mapper, start uintptr, size uintptr) *memmap.Mapping {
	t.Helper()
	m, err := mp.Create(start, size, memmap.ProtRead|memmap.ProtWrite, make([]byte, size))
	if err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	t.Cleanup(func() { _ = mp.Release(m) })
	return m
}

func TestScanEmptyWhenNothingChanged(t *testing.T) {
	mp := memmap.New()
	newMapping(t, mp, 0x0000_4000_0000_0000, mp.PageSize())

	changes, capped := Scan(mp)
	if len(changes) != 0 || capped {
		t.Fatalf("expected no changes, got %+v capped=%v", changes, capped)
	}
}

func TestScanFindsSingleByteChange(t *testing.T) {
	mp := memmap.New()
	m := newMapping(t, mp, 0x0000_4000_0000_0000, mp.PageSize())

	if err := mp.Write(m, 100, []byte{0xff}); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes, capped := Scan(mp)
	if capped {
		t.Fatal("did not expect capped")
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(changes), changes)
	}
	c := changes[0]
	if c.Start != uint64(m.Start)+100 || c.Length != 1 {
		t.Errorf("unexpected change: %+v", c)
	}
	if len(c.First) != 1 || c.First[0] != 0xff {
		t.Errorf("unexpected First: %+v", c.First)
	}
}

func TestScanSkipsEqualChunks(t *testing.T) {
	mp := memmap.New()
	m := newMapping(t, mp, 0x0000_4000_0000_0000, mp.PageSize())

	// A change well past the first chunk boundary exercises the chunked
	// equal-prefix skip before falling to byte-by-byte scanning.
	offset := chunkSize + 5
	if err := mp.Write(m, offset, []byte{0x42}); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes, _ := Scan(mp)
	if len(changes) != 1 || changes[0].Start != uint64(m.Start)+uint64(offset) {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestScanTruncatesLiteralButKeepsFullHash(t *testing.T) {
	mp := memmap.New()
	size := mp.PageSize()
	m := newMapping(t, mp, 0x0000_4000_0000_0000, size)

	span := make([]byte, CheckMemCutAt*3)
	for i := range span {
		span[i] = byte(i + 1)
	}
	if err := mp.Write(m, 0, span); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes, _ := Scan(mp)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if int(c.Length) != len(span) {
		t.Errorf("Length = %d, want %d", c.Length, len(span))
	}
	if len(c.First) != CheckMemCutAt {
		t.Errorf("First len = %d, want %d", len(c.First), CheckMemCutAt)
	}
	if got, want := c.Hash, fnv1a32(span); got != want {
		t.Errorf("Hash = %#x, want %#x (full span, not truncated)", got, want)
	}
}

func TestScanCapsAtMaxChanges(t *testing.T) {
	mp := memmap.New()
	size := mp.PageSize()
	m := newMapping(t, mp, 0x0000_4000_0000_0000, size)

	// Isolated single-byte changes spaced apart so each becomes its own
	// range, comfortably exceeding the cap.
	stride := int(size) / (CheckMemMaxNumberMemChanges + 4)
	for i := 0; i < CheckMemMaxNumberMemChanges+2; i++ {
		if err := mp.Write(m, i*stride, []byte{0xaa}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	changes, capped := Scan(mp)
	if !capped {
		t.Fatal("expected capped to be true")
	}
	if len(changes) != CheckMemMaxNumberMemChanges {
		t.Fatalf("len(changes) = %d, want %d", len(changes), CheckMemMaxNumberMemChanges)
	}
}

func TestScanMergesAcrossAdjacentMappings(t *testing.T) {
	mp := memmap.New()
	size := mp.PageSize()
	m1 := newMapping(t, mp, 0x0000_4000_0000_0000, size)
	m2 := newMapping(t, mp, m1.Start+size, size)

	// A differing span that runs up to the very end of m1 and continues
	// from the very start of m2 should merge into one recorded range.
	if err := mp.Write(m1, int(size)-4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write m1: %v", err)
	}
	if err := mp.Write(m2, 0, []byte{5, 6}); err != nil {
		t.Fatalf("write m2: %v", err)
	}

	changes, _ := Scan(mp)
	if len(changes) != 1 {
		t.Fatalf("expected merge into 1 change, got %d: %+v", len(changes), changes)
	}
	c := changes[0]
	if c.Start != uint64(m1.Start)+size-4 {
		t.Errorf("Start = %#x, want %#x", c.Start, uint64(m1.Start)+size-4)
	}
	if c.Length != 6 {
		t.Errorf("Length = %d, want 6", c.Length)
	}
}

func TestFNV1a32KnownValue(t *testing.T) {
	// FNV-1a 32-bit of the empty string is the offset basis itself.
	if got := fnv1a32(nil); got != 2166136261 {
		t.Errorf("fnv1a32(nil) = %#x, want offset basis", got)
	}
}

func TestEqualChunk(t *testing.T) {
	if !equalChunk([]byte{1, 2, 3}, []byte{1, 2, 3}) {
		t.Error("expected equal chunks to report equal")
	}
	if equalChunk([]byte{1, 2, 3}, []byte{1, 9, 3}) {
		t.Error("expected differing chunks to report unequal")
	}
}
