package pack

import (
	"encoding/binary"
	"testing"

	"github.com/intuitionamiga/riscover-client/internal/engine"
	"github.com/intuitionamiga/riscover-client/internal/memdiff"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

func TestResultFrameShape(t *testing.T) {
	before := regs.New(regs.Config{})
	after := before.Clone()
	after.SetScratchValue(after.ScratchValue() + 1)

	r := &engine.Result{RegsAfter: after}

	buf, err := Result(before, r, Options{})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	bodySize := binary.LittleEndian.Uint16(buf[0:2])
	if int(bodySize) != len(buf)-2 {
		t.Fatalf("body_size = %d, want %d (len(buf)-2)", bodySize, len(buf)-2)
	}
	if buf[2] != tagSingle {
		t.Fatalf("tag = %d, want tagSingle", buf[2])
	}
	// signum byte immediately follows the tag.
	if buf[3] != 0 {
		t.Fatalf("signum = %d, want 0 (clean run)", buf[3])
	}
}

func TestResultTrapFieldsIncludedOnlyWhenSignumNonzero(t *testing.T) {
	before := regs.New(regs.Config{})

	clean := &engine.Result{RegsAfter: before.Clone()}
	cleanBuf, err := Result(before, clean, Options{})
	if err != nil {
		t.Fatalf("Result (clean): %v", err)
	}

	trapped := &engine.Result{
		Signum:    4, // SIGILL
		SICode:    1,
		SIAddr:    0x1000,
		SIPC:      0x2000,
		RegsAfter: before.Clone(),
	}
	trapBuf, err := Result(before, trapped, Options{})
	if err != nil {
		t.Fatalf("Result (trapped): %v", err)
	}

	// The trapped record must carry si_addr/si_pc/si_code (20 extra bytes)
	// beyond the clean record's n_reg_diffs==0 tail.
	if len(trapBuf) <= len(cleanBuf) {
		t.Fatalf("trapped record (%d bytes) should be longer than clean record (%d bytes)", len(trapBuf), len(cleanBuf))
	}
	if len(trapBuf)-len(cleanBuf) != 8+8+4 {
		t.Fatalf("trapped record grew by %d bytes, want 20 (si_addr+si_pc+si_code)", len(trapBuf)-len(cleanBuf))
	}
}

func TestResultMetaFields(t *testing.T) {
	before := regs.New(regs.Config{})
	r := &engine.Result{
		RegsAfter: before.Clone(),
		Meta:      engine.Meta{Cycle: 42, Instret: 7},
	}

	withoutMeta, err := Result(before, r, Options{Meta: false})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	withMeta, err := Result(before, r, Options{Meta: true})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(withMeta)-len(withoutMeta) != 2 {
		t.Fatalf("meta-enabled record grew by %d bytes, want 2 (u16 cycle)", len(withMeta)-len(withoutMeta))
	}

	withInstret, err := Result(before, r, Options{Meta: true, RISCV64: true})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(withInstret)-len(withMeta) != 2 {
		t.Fatalf("RISC-V meta record grew by %d bytes, want 2 more (u16 instret)", len(withInstret)-len(withMeta))
	}
}

func TestResultMemChanges(t *testing.T) {
	before := regs.New(regs.Config{})
	r := &engine.Result{
		RegsAfter: before.Clone(),
		MemChanges: []memdiff.Change{
			{Start: 0x4000, Length: 4, First: []byte{1, 2, 3, 4}, Hash: 0xabcd},
		},
	}

	buf, err := Result(before, r, Options{CheckMem: true})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	bufWithout, err := Result(before, r, Options{CheckMem: false})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	// n_mem_changes(1) + start(8) + length(4) + literal(4) + hash(4) = 21
	if len(buf)-len(bufWithout) != 21 {
		t.Fatalf("CheckMem record grew by %d bytes, want 21", len(buf)-len(bufWithout))
	}
}

func TestSequenceCountPrefix(t *testing.T) {
	before := regs.New(regs.Config{})
	rs := []*engine.Result{
		{RegsAfter: before.Clone()},
		{RegsAfter: before.Clone()},
		{Signum: 11, RegsAfter: before.Clone()},
	}

	buf, err := Sequence(before, rs, Options{})
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if buf[2] != tagMulti {
		t.Fatalf("tag = %d, want tagMulti", buf[2])
	}
	if buf[3] != uint8(len(rs)) {
		t.Fatalf("count = %d, want %d", buf[3], len(rs))
	}
}

func TestResultMemChangeCountOverflowRejected(t *testing.T) {
	before := regs.New(regs.Config{})
	changes := make([]memdiff.Change, 255)
	for i := range changes {
		changes[i] = memdiff.Change{Start: uint64(i), Length: 16, First: make([]byte, 16), Hash: 1}
	}
	r := &engine.Result{RegsAfter: before.Clone(), MemChanges: changes}

	_, err := Result(before, r, Options{CheckMem: true})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	tooMany := make([]memdiff.Change, 256)
	for i := range tooMany {
		tooMany[i] = memdiff.Change{Start: uint64(i), Length: 16, First: make([]byte, 16), Hash: 1}
	}
	r2 := &engine.Result{RegsAfter: before.Clone(), MemChanges: tooMany}
	if _, err := Result(before, r2, Options{CheckMem: true}); err == nil {
		t.Fatalf("expected an error for 256 memory changes exceeding the u8 count field")
	}
}
