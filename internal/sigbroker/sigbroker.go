// Package sigbroker implements the Signal Broker (C4): a state machine
// around POSIX signal delivery that turns a runner-page trap into a
// structured capture of the faulting register state, and a per-run
// wall-clock watchdog (ITIMER_REAL, see timer.go) that aborts runaway
// instruction sequences; the watchdog does not measure CPU time.
//
// Grounded on the teacher's coprocessor_manager.go for the
// mutex-guarded state-machine shape (armed/running/idle transitions guarded
// against re-entrant calls) and on original_source/ for which signals this
// fuzzer must catch and in what order fields are inspected.
package sigbroker

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// State is the broker's state machine position, per §4.4.
type State int

const (
	Idle State = iota
	Arming
	Running
	CleanlyReturned
	TrapCaptured
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Arming:
		return "arming"
	case Running:
		return "running"
	case CleanlyReturned:
		return "cleanly-returned"
	case TrapCaptured:
		return "trap-captured"
	default:
		return "unknown"
	}
}

// caughtSignals is every signal the broker installs a handler for. SIGALRM
// is the per-run timeout; the rest are the traps a bad instruction can
// raise.
var caughtSignals = []unix.Signal{
	unix.SIGILL, unix.SIGSEGV, unix.SIGBUS, unix.SIGTRAP, unix.SIGFPE, unix.SIGSYS, unix.SIGALRM,
}

// Trap is everything the broker captured about a signal delivered while
// Running: the raw fields from siginfo_t/mcontext, already translated into
// Go values. RegsAfter is filled in by the caller (internal/engine) by
// splicing Capture's raw register bytes into a regs.Snapshot — sigbroker
// stays architecture-agnostic and leaves that translation to the engine,
// which already owns the per-arch regs package.
type Trap struct {
	Signum  unix.Signal
	SICode  int32
	SIAddr  uint64
	SIPC    uint64
	RawRegs []byte // raw GP (and, where the kernel saves it, FP) register bytes from mcontext
}

// Broker owns the alternate signal stack and the installed handlers. One
// Broker is created per pinned worker and lives for the worker's lifetime;
// §5 "Shared-resource policy" makes it process-global and single-owner.
type Broker struct {
	mu    sync.Mutex
	state State

	altStack    []byte
	prevActions map[unix.Signal]unix.Sigaction

	pending   chan Trap // depth-1: the handler delivers at most one Trap before Disarm
	depth     int       // re-entrancy guard; >1 during handler execution is fatal
	armTimer  func()     // disarms the wall-clock watchdog; nil once disarmed
}

// New allocates the broker and its alternate signal stack (SIGSTKSZ-sized,
// per sigaltstack(2)) but installs no handlers yet — call Install.
func New() *Broker {
	return &Broker{
		state:       Idle,
		altStack:    make([]byte, 32*1024),
		prevActions: make(map[unix.Signal]unix.Sigaction),
		pending:     make(chan Trap, 1),
	}
}

// Install registers the alternate stack and a handler for every signal in
// caughtSignals. handlerAddr is the address of the architecture-specific
// raw trampoline (see handler_arm64.go / handler_riscv64.go) that the
// kernel invokes directly with (signum, *siginfo_t, *ucontext_t) in the
// platform's standard SA_SIGINFO argument registers.
func (b *Broker) Install(handlerAddr uintptr) error {
	stack := unix.Stack_t{
		Ss_sp:    &b.altStack[0],
		Ss_flags: 0,
		Ss_size:  uint64(len(b.altStack)),
	}
	if err := unix.Sigaltstack(&stack, nil); err != nil {
		return fmt.Errorf("sigbroker: sigaltstack: %w", err)
	}

	act := unix.Sigaction{
		Handler: handlerAddr,
		Flags:   unix.SA_SIGINFO | unix.SA_ONSTACK,
	}
	for _, sig := range caughtSignals {
		var old unix.Sigaction
		if err := unix.Sigaction(sig, &act, &old); err != nil {
			return fmt.Errorf("sigbroker: sigaction(%d): %w", sig, err)
		}
		b.prevActions[sig] = old
	}
	return nil
}

// Arm transitions Idle -> Arming -> Running and starts the per-run
// watchdog through timeout (ArmTimer: wall-clock, DefaultTimeout 20ms).
// disarm is called
// automatically by Deliver/CleanReturn, or by the caller directly if the
// run never reaches either (a logic bug upstream, not a normal path).
func (b *Broker) Arm(timeout func() (disarm func(), err error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Idle {
		return fmt.Errorf("sigbroker: Arm called from state %s, want idle", b.state)
	}
	b.state = Arming
	disarm, err := timeout()
	if err != nil {
		b.state = Idle
		return fmt.Errorf("sigbroker: start watchdog: %w", err)
	}
	b.armTimer = disarm
	b.depth = 0
	b.state = Running
	return nil
}

// CleanReturn transitions Running -> CleanlyReturned: the trampoline fell
// through to its RET without a trap. The caller (engine) still needs to
// disarm the watchdog and read regs_result itself; Broker only tracks the
// state machine's position.
func (b *Broker) CleanReturn() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Running {
		return fmt.Errorf("sigbroker: CleanReturn called from state %s, want running", b.state)
	}
	b.disarmLocked()
	b.state = CleanlyReturned
	return nil
}

// Deliver is called by the engine after observing (via the pending
// channel, or a synchronous poll in a single-threaded worker) that a
// signal arrived while Running. It performs §4.4's steps 2 and 8: the
// re-entrancy check, and disarming the timer unless the trap itself was
// the alarm.
func (b *Broker) Deliver(t Trap) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Running {
		return fmt.Errorf("sigbroker: signal %d delivered out of band in state %s — fatal", t.Signum, b.state)
	}
	if b.depth > 1 {
		return fmt.Errorf("sigbroker: re-entrant signal (depth %d) — scratch register or handler corrupted, fatal", b.depth)
	}
	if t.Signum != unix.SIGALRM {
		b.disarmLocked()
	}
	b.state = TrapCaptured
	return nil
}

// Reset transitions back to Idle after the engine has fully consumed the
// result of a run (clean or trapped).
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Idle
}

func (b *Broker) disarmLocked() {
	if b.armTimer != nil {
		b.armTimer()
		b.armTimer = nil
	}
}

// State returns the broker's current position, for diagnostics.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Restore reverts every signal disposition this Broker changed, undoing
// Install. Used when a worker shuts down cleanly (not on the fatal-abort
// path, which intentionally leaves state for postmortem inspection).
func (b *Broker) Restore() {
	for sig, old := range b.prevActions {
		_ = unix.Sigaction(sig, &old, nil)
	}
}
