package cpuinfo

import "testing"

func TestHostnameOverrideWins(t *testing.T) {
	got, err := Hostname("explicit-name")
	if err != nil {
		t.Fatalf("Hostname: %v", err)
	}
	if got != "explicit-name" {
		t.Fatalf("Hostname = %q, want override to win", got)
	}
}

func TestHostnameEnvFallback(t *testing.T) {
	t.Setenv("HOST", "env-name")
	got, err := Hostname("")
	if err != nil {
		t.Fatalf("Hostname: %v", err)
	}
	if got != "env-name" {
		t.Fatalf("Hostname = %q, want HOST env var to win over os.Hostname()", got)
	}
}

func TestNumPossibleCPUsRanges(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"0-7", 8},
		{"0", 1},
		{"0-3,8,10-11", 6},
		{"0-3, 8 , 10-11\n", 6},
	}
	for _, c := range cases {
		got, err := NumPossibleCPUs(c.in)
		if err != nil {
			t.Fatalf("NumPossibleCPUs(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("NumPossibleCPUs(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNumPossibleCPUsRejectsGarbage(t *testing.T) {
	if _, err := NumPossibleCPUs("not-a-range"); err == nil {
		t.Fatalf("expected an error for a malformed range token")
	}
}

func TestProcCPUInfoReadsRealFile(t *testing.T) {
	out, err := ProcCPUInfo()
	if err != nil {
		t.Fatalf("ProcCPUInfo: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("ProcCPUInfo returned empty text")
	}
}

func TestBuildIdentityIsFixedWidth(t *testing.T) {
	id, err := BuildIdentity()
	if err != nil {
		t.Fatalf("BuildIdentity: %v", err)
	}
	if len(id) != 32 {
		t.Fatalf("BuildIdentity length = %d, want 32", len(id))
	}
}

func TestBuildIdentityStable(t *testing.T) {
	a, err := BuildIdentity()
	if err != nil {
		t.Fatalf("BuildIdentity: %v", err)
	}
	b, err := BuildIdentity()
	if err != nil {
		t.Fatalf("BuildIdentity: %v", err)
	}
	if a != b {
		t.Fatalf("BuildIdentity not stable across calls: %q != %q", a, b)
	}
}
