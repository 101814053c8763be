package diag

import (
	"bytes"
	"strings"
	"testing"
)

func withCapturedOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := out
	out = &buf
	t.Cleanup(func() { out = orig })
	fn()
	return buf.String()
}

func TestInfoPrefixNoColorWhenColorOff(t *testing.T) {
	t.Setenv("COLOR", "off")
	got := withCapturedOutput(t, func() { Info("hello %d", 42) })
	if !strings.Contains(got, "INFO: hello 42") {
		t.Fatalf("output %q does not contain expected prefix+message", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("output %q contains ANSI color codes despite COLOR=off", got)
	}
}

func TestColorEnvForcesOn(t *testing.T) {
	t.Setenv("COLOR", "1")
	got := withCapturedOutput(t, func() { Error("boom") })
	if !strings.Contains(got, "\x1b[31m") {
		t.Fatalf("output %q does not contain red color code despite COLOR=1 on a non-tty writer", got)
	}
}

func TestColorEnvSynonymsForOff(t *testing.T) {
	for _, v := range []string{"0", "off", "OFF", "false", "no"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("COLOR", v)
			if shouldColor(&bytes.Buffer{}) {
				t.Fatalf("COLOR=%q should disable color", v)
			}
		})
	}
}

func TestPerrorFormatsContextAndError(t *testing.T) {
	t.Setenv("COLOR", "off")
	got := withCapturedOutput(t, func() { Perror("opening file", errBoom{}) })
	if !strings.Contains(got, "ERROR: opening file: boom") {
		t.Fatalf("output %q missing expected perror shape", got)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
