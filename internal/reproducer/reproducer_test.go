package reproducer

import (
	"bytes"
	"testing"

	"github.com/intuitionamiga/riscover-client/internal/engine"
	"github.com/intuitionamiga/riscover-client/internal/regs"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	before := regs.New(regs.Config{})
	before.GP[1] = 41

	after := before.Clone()
	after.GP[0] = 42

	r := &engine.Result{RegsAfter: after, Meta: engine.Meta{Instret: 1}}
	doc := FromRun(before, []uint32{0x91000420}, r, "cpu0", "aarch64", []string{"FLOATS"}, "abc123")

	var buf bytes.Buffer
	if err := Save(&buf, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(got.Input.InstrSeq) != 1 || got.Input.InstrSeq[0] != "0x91000420" {
		t.Fatalf("InstrSeq = %v, want [0x91000420]", got.Input.InstrSeq)
	}
	if len(got.Results) != 1 {
		t.Fatalf("Results len = %d, want 1", len(got.Results))
	}
	if got.Results[0].Signum != 0 {
		t.Fatalf("Signum = %d, want 0", got.Results[0].Signum)
	}
	if got.Arch != "aarch64" {
		t.Fatalf("Arch = %q, want aarch64", got.Arch)
	}
	if got.GitCommit != "abc123" {
		t.Fatalf("GitCommit = %q, want abc123", got.GitCommit)
	}
	if len(got.Results[0].Clients) != 1 || got.Results[0].Clients[0] != "cpu0" {
		t.Fatalf("Clients = %v, want [cpu0]", got.Results[0].Clients)
	}
}

func TestTrapFieldsPresentOnlyWhenSignumNonzero(t *testing.T) {
	before := regs.New(regs.Config{})
	clean := &engine.Result{RegsAfter: before.Clone()}
	cleanDoc := FromRun(before, nil, clean, "cpu0", "aarch64", nil, "")
	if cleanDoc.Results[0].SICode != nil {
		t.Fatalf("clean result has non-nil SICode")
	}

	trapped := &engine.Result{Signum: 4, SICode: 1, SIAddr: 0x1000, SIPC: 0x2000, RegsAfter: before.Clone()}
	trapDoc := FromRun(before, nil, trapped, "cpu0", "aarch64", nil, "")
	if trapDoc.Results[0].SICode == nil || *trapDoc.Results[0].SICode != 1 {
		t.Fatalf("trapped result missing SICode")
	}
	if trapDoc.Results[0].SIAddr == nil || *trapDoc.Results[0].SIAddr != 0x1000 {
		t.Fatalf("trapped result missing SIAddr")
	}
}

func TestValidateRejectsMismatchedArch(t *testing.T) {
	doc := &Document{Arch: "riscv64", Flags: []string{"FLOATS"}}
	if err := Validate(doc, "aarch64", []string{"FLOATS"}); err == nil {
		t.Fatalf("expected an error for mismatched arch")
	}
}

func TestValidateRejectsMismatchedFlags(t *testing.T) {
	doc := &Document{Arch: "aarch64", Flags: []string{"FLOATS", "VECTOR"}}
	if err := Validate(doc, "aarch64", []string{"FLOATS"}); err == nil {
		t.Fatalf("expected an error for mismatched flags")
	}
}

func TestValidateAcceptsMatchingFlagsAnyOrder(t *testing.T) {
	doc := &Document{Arch: "aarch64", Flags: []string{"VECTOR", "FLOATS"}}
	if err := Validate(doc, "aarch64", []string{"FLOATS", "VECTOR"}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
