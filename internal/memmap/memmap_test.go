//go:build linux

package memmap

import "testing"

func TestCreateRejectsUnalignedStart(t *testing.T) {
	mp := New()
	_, err := mp.Create(mp.PageSize()+1, mp.PageSize(), ProtRead, nil)
	if err == nil {
		t.Fatal("expected error for unaligned start")
	}
}

func TestCreateRejectsUnalignedSize(t *testing.T) {
	mp := New()
	_, err := mp.Create(0, mp.PageSize()+1, ProtRead, nil)
	if err == nil {
		t.Fatal("expected error for unaligned size")
	}
}

func TestCreateRejectsMismatchedBaseline(t *testing.T) {
	mp := New()
	_, err := mp.Create(0, mp.PageSize(), ProtRead, make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for mismatched baseline length")
	}
}

func TestProtFlagsCombine(t *testing.T) {
	p := ProtRead | ProtWrite
	if p&ProtExec != 0 {
		t.Fatal("ProtExec should not be set")
	}
	if p&ProtRead == 0 || p&ProtWrite == 0 {
		t.Fatal("expected both read and write bits set")
	}
}

func TestFindEmptyMapper(t *testing.T) {
	mp := New()
	if _, ok := mp.Find(0x1000); ok {
		t.Fatal("expected no mapping in an empty mapper")
	}
}
