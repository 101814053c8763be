package batch

import (
	"encoding/binary"
	"testing"

	"github.com/intuitionamiga/riscover-client/internal/regs"
)

func TestSeqNumCodecSizeAndExpandCount(t *testing.T) {
	codec := NewSeqNumCodec(0xdeadbeef)
	if codec.Size() != 12 {
		t.Fatalf("Size() = %d, want 12", codec.Size())
	}

	rec := make([]byte, 12)
	binary.LittleEndian.PutUint64(rec[0:8], 100) // seq_num
	binary.LittleEndian.PutUint16(rec[8:10], 3)  // n
	rec[10] = 2                                   // seq_len
	rec[11] = 0                                   // full_seq

	base := regs.New(regs.Config{})
	sn := codec.(*seqNumRecord)
	draws, err := sn.Expand(rec, base)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(draws) != 3 {
		t.Fatalf("Expand returned %d draws, want 3 (n field)", len(draws))
	}
	for i, d := range draws {
		if len(d.Instrs) != 2 {
			t.Fatalf("draw %d: len(Instrs) = %d, want 2 (seq_len field)", i, len(d.Instrs))
		}
	}
}

func TestSeqNumCodecDeterministic(t *testing.T) {
	codec := NewSeqNumCodec(42)
	rec := make([]byte, 12)
	binary.LittleEndian.PutUint64(rec[0:8], 7)
	binary.LittleEndian.PutUint16(rec[8:10], 1)
	rec[10] = 4

	base := regs.New(regs.Config{})
	sn := codec.(*seqNumRecord)

	a, err := sn.Expand(rec, base)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	b, err := sn.Expand(rec, base)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected exactly one draw each")
	}
	if !regs.Equal(a[0].Regs, b[0].Regs) {
		t.Fatalf("same seed+seq_num produced different register fills")
	}
	for i := range a[0].Instrs {
		if a[0].Instrs[i] != b[0].Instrs[i] {
			t.Fatalf("same seed+seq_num produced different instruction sequences at %d", i)
		}
	}
}

func TestSeqNumCodecRejectsWrongSize(t *testing.T) {
	codec := NewSeqNumCodec(0)
	base := regs.New(regs.Config{})
	if _, err := codec.Decode(make([]byte, 5), base); err == nil {
		t.Fatalf("expected an error for a wrong-size record")
	}
}

func TestFullRegsCodecRoundTrip(t *testing.T) {
	base := regs.New(regs.Config{})
	snapBytes := len(base.Bytes())
	codec := NewFullRegsCodec(snapBytes, 4)

	want := regs.New(regs.Config{})
	want.SetScratchValue(0x1234)

	rec := make([]byte, codec.Size())
	copy(rec, want.Bytes())
	off := snapBytes
	rec[off] = 2 // n_instrs
	off++
	rec[off] = 1 // full_seq
	off++
	binary.LittleEndian.PutUint32(rec[off:off+4], 0xAAAAAAAA)
	off += 4
	binary.LittleEndian.PutUint32(rec[off:off+4], 0xBBBBBBBB)

	d, err := codec.Decode(rec, base)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !d.FullSeq {
		t.Fatalf("FullSeq = false, want true")
	}
	if len(d.Instrs) != 2 || d.Instrs[0] != 0xAAAAAAAA || d.Instrs[1] != 0xBBBBBBBB {
		t.Fatalf("Instrs = %x, want [AAAAAAAA BBBBBBBB]", d.Instrs)
	}
	if d.Regs.ScratchValue() != 0x1234 {
		t.Fatalf("ScratchValue = %x, want 1234", d.Regs.ScratchValue())
	}
}

func TestFullRegsCodecRejectsOversizeInstrCount(t *testing.T) {
	base := regs.New(regs.Config{})
	codec := NewFullRegsCodec(len(base.Bytes()), 2)
	rec := make([]byte, codec.Size())
	rec[len(base.Bytes())] = 5 // n_instrs, exceeds maxInstrs=2
	if _, err := codec.Decode(rec, base); err == nil {
		t.Fatalf("expected an error for n_instrs exceeding the negotiated maximum")
	}
}

func TestRegSelectCodecDecodesIndices(t *testing.T) {
	base := regs.New(regs.Config{})
	numGP := len(base.GP)
	codec := NewRegSelectCodec(numGP, 0, 0, 1)

	rec := make([]byte, codec.Size())
	for i := 0; i < numGP; i++ {
		rec[i] = 0 // fuzzval.Table[0] == 0, per the table's first entry
	}
	off := numGP
	rec[off] = 1 // n_instrs
	off++
	rec[off] = 0 // full_seq
	off++
	binary.LittleEndian.PutUint32(rec[off:off+4], 0x91000420)

	d, err := codec.Decode(rec, base)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(d.Instrs) != 1 || d.Instrs[0] != 0x91000420 {
		t.Fatalf("Instrs = %x, want [91000420]", d.Instrs)
	}
	for i, v := range d.Regs.GP {
		if v != 0 {
			t.Fatalf("GP[%d] = %x, want 0 (fuzzval.Table[0])", i, v)
		}
	}
}
