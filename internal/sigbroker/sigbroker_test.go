package sigbroker

import (
	"testing"

	"golang.org/x/sys/unix"
)

func armed(t *testing.T) *Broker {
	t.Helper()
	b := New()
	if err := b.Arm(func() (func(), error) {
		return func() {}, nil
	}); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	return b
}

func TestArmRejectsFromNonIdle(t *testing.T) {
	b := armed(t)
	if err := b.Arm(func() (func(), error) { return func() {}, nil }); err == nil {
		t.Fatal("expected error arming an already-running broker")
	}
}

func TestCleanReturnTransitionsState(t *testing.T) {
	b := armed(t)
	if err := b.CleanReturn(); err != nil {
		t.Fatalf("CleanReturn: %v", err)
	}
	if got := b.State(); got != CleanlyReturned {
		t.Fatalf("state = %s, want cleanly-returned", got)
	}
}

func TestCleanReturnRejectsFromIdle(t *testing.T) {
	b := New()
	if err := b.CleanReturn(); err == nil {
		t.Fatal("expected error cleanly-returning an idle broker")
	}
}

func TestDeliverOutOfBandIsFatalError(t *testing.T) {
	b := New()
	err := b.Deliver(Trap{Signum: unix.SIGILL})
	if err == nil {
		t.Fatal("expected error delivering a signal while idle")
	}
}

func TestDeliverTransitionsToTrapCaptured(t *testing.T) {
	b := armed(t)
	if err := b.Deliver(Trap{Signum: unix.SIGILL}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := b.State(); got != TrapCaptured {
		t.Fatalf("state = %s, want trap-captured", got)
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	b := armed(t)
	_ = b.CleanReturn()
	b.Reset()
	if got := b.State(); got != Idle {
		t.Fatalf("state = %s, want idle", got)
	}
}
