// Package cliutil provides the raw-mode terminal handling
// cmd/riscover-replay uses to step through a reproducer's recorded run
// one key press at a time.
//
// Grounded on IntuitionAmiga-IntuitionEngine's terminal_host.go: the same
// term.MakeRaw/term.Restore pairing, the same "restore on Stop, tolerate a
// a failed raw-mode switch by returning an error instead of panicking"
// shape. Unlike terminal_host.go's continuous background reader (needed
// there to feed a running machine's keyboard MMIO), riscover-replay's use
// is synchronous — one blocking read per step — so this package has no
// goroutine or stop channel of its own.
package cliutil

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// RawTerminal holds the state needed to restore stdin to its original
// mode; the zero value is not usable, construct with EnterRaw.
type RawTerminal struct {
	fd    int
	state *term.State
}

// EnterRaw switches stdin to raw mode (no line buffering, no local echo)
// so ReadKey can read single key presses without waiting for Enter.
func EnterRaw() (*RawTerminal, error) {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("cliutil: enter raw mode: %w", err)
	}
	return &RawTerminal{fd: fd, state: state}, nil
}

// Restore returns stdin to the mode it was in before EnterRaw.
func (r *RawTerminal) Restore() error {
	if err := term.Restore(r.fd, r.state); err != nil {
		return fmt.Errorf("cliutil: restore terminal state: %w", err)
	}
	return nil
}

// ReadKey blocks for exactly one byte from stdin. Call only while a
// RawTerminal from EnterRaw is active, or Enter will be required between
// presses.
func ReadKey() (byte, error) {
	var buf [1]byte
	if _, err := os.Stdin.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("cliutil: read key: %w", err)
	}
	return buf[0], nil
}

// IsTerminal reports whether stdin is an interactive terminal — replay's
// main loop uses this to decide whether to step interactively or just run
// straight through (e.g. when stdin is redirected from a file or pipe).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
