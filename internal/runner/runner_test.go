package runner

import (
	"testing"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

func testArch() (arch, entryBuilder) {
	a := arch{
		nopWord: 0x12345678,
		buildTail: func(bool) []byte {
			return []byte{0, 0, 0, 0} // one placeholder word, content irrelevant to these tests
		},
	}
	eb := func(entryAddr, branchTarget uintptr) []byte {
		return []byte{0, 0, 0, 0}
	}
	return a, eb
}

func TestLoadRejectsOversizeSequence(t *testing.T) {
	mp := memmap.New()
	a, eb := testArch()
	p, err := newWithEntryBuilder(mp, 0x20000000, 4, a, eb)
	if err != nil {
		t.Fatalf("newWithEntryBuilder: %v", err)
	}
	defer p.Release()

	if err := p.Load(make([]uint32, 5)); err == nil {
		t.Fatal("expected error loading more words than slots")
	}
}

func TestLoadFillsRemainingSlotsWithNOP(t *testing.T) {
	mp := memmap.New()
	a, eb := testArch()
	p, err := newWithEntryBuilder(mp, 0x20000000, 4, a, eb)
	if err != nil {
		t.Fatalf("newWithEntryBuilder: %v", err)
	}
	defer p.Release()

	if err := p.Load([]uint32{0xAAAAAAAA}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw := mp.Read(p.mapping, 0, 4*instrWidth)
	if got := leU32(raw[4:8]); got != a.nopWord {
		t.Fatalf("slot 1 = %#x, want NOP %#x", got, a.nopWord)
	}
}

func TestInstrIndexInsideAndOutsideBounds(t *testing.T) {
	mp := memmap.New()
	a, eb := testArch()
	p, err := newWithEntryBuilder(mp, 0x20000000, 4, a, eb)
	if err != nil {
		t.Fatalf("newWithEntryBuilder: %v", err)
	}
	defer p.Release()

	start, end := p.Bounds()
	if got := p.InstrIndex(start); got != 1 {
		t.Fatalf("InstrIndex(start) = %d, want 1", got)
	}
	if got := p.InstrIndex(start + 3*instrWidth); got != 4 {
		t.Fatalf("InstrIndex(slot 3) = %d, want 4", got)
	}
	if got := p.InstrIndex(end); got != 0 {
		t.Fatalf("InstrIndex(end) = %d, want 0 (tail, not a slot)", got)
	}
}

func TestNewRejectsTooManySlots(t *testing.T) {
	mp := memmap.New()
	a, eb := testArch()
	if _, err := newWithEntryBuilder(mp, 0x20000000, MaxSeqLen+1, a, eb); err == nil {
		t.Fatal("expected error for slot count above MaxSeqLen")
	}
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
