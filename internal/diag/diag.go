// Package diag implements the plain, prefix-and-color logging this
// program uses throughout, plus the fatal-exit diagnostic dump §7's
// "Configuration fatal"/"Signal reentrancy" error kinds require: process
// maps, PC, signal info, and a register dump, printed before os.Exit(1).
//
// Grounded on original_source/client/src/lib/log.c: the same three
// severities, the same COLOR-env-var-then-isatty color decision, the same
// "PREFIX: message" line shape. No logging framework (zerolog, zap,
// logrus) replaces this — the teacher's own programs use plain
// fmt.Fprintf to stdout/stderr for all diagnostic output, and this
// program's §6 contract (the COLOR environment variable controlling
// exactly this kind of ANSI prefix) is itself the original's own
// hand-rolled scheme, not a generic logging concern a library abstracts
// away.
package diag

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/intuitionamiga/riscover-client/internal/regs"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
)

var out io.Writer = os.Stdout

// shouldColor follows log_should_color's precedence: an explicit COLOR
// environment variable always wins (on unless it spells out one of the
// "off" synonyms); otherwise it's whatever isatty(w) says.
func shouldColor(w io.Writer) bool {
	if v := os.Getenv("COLOR"); v != "" {
		switch strings.ToLower(v) {
		case "0", "off", "false", "no":
			return false
		default:
			return true
		}
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func printPrefixed(prefix, color, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if shouldColor(out) {
		fmt.Fprintf(out, "%s%s%s %s\n", color, prefix, colorReset, msg)
	} else {
		fmt.Fprintf(out, "%s %s\n", prefix, msg)
	}
}

// Info prints an informational line, colored cyan when color is active.
func Info(format string, args ...any) { printPrefixed("INFO:", colorCyan, format, args...) }

// Warning prints a warning line, colored yellow when color is active.
func Warning(format string, args ...any) { printPrefixed("WARNING:", colorYellow, format, args...) }

// Error prints an error line, colored red when color is active, without
// exiting — use Fatal for errors that should abort the process.
func Error(format string, args ...any) { printPrefixed("ERROR:", colorRed, format, args...) }

// Perror prints context plus the current errno-equivalent message,
// mirroring log_perror's "ERROR: context: message" shape.
func Perror(context string, err error) {
	if context == "" {
		context = "error"
	}
	Error("%s: %v", context, err)
}

// FatalContext is everything Fatal prints before exiting: whatever state
// was available at the point of failure. Every field is optional; a zero
// value is simply omitted from the dump.
type FatalContext struct {
	Reason   string
	Regs     *regs.Snapshot
	PC       uint64
	Signum   int
	SICode   int32
	SIAddr   uint64
	DumpMaps bool // print /proc/self/maps
}

// Fatal prints ctx's diagnostic dump to stderr and exits the process with
// status 1. Per §7, this is the terminal action for every "Configuration
// fatal" and "Signal reentrancy" error kind — there is no recovery above
// run level; the coordinator is responsible for reissuing work after a
// client crash, so this process's only remaining job is leaving enough
// context behind for a human to reproduce the failure.
func Fatal(ctx FatalContext) {
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", ctx.Reason)
	if ctx.Signum != 0 {
		fmt.Fprintf(os.Stderr, "  signal: %d  si_code: %d  si_addr: 0x%x\n", ctx.Signum, ctx.SICode, ctx.SIAddr)
	}
	if ctx.PC != 0 {
		fmt.Fprintf(os.Stderr, "  pc: 0x%x\n", ctx.PC)
	}
	if ctx.Regs != nil {
		dumpRegs(os.Stderr, ctx.Regs)
	}
	if ctx.DumpMaps {
		dumpMaps(os.Stderr)
	}
	os.Exit(1)
}

// dumpRegs prints every general-purpose register by ABI name, the only
// register class guaranteed present regardless of build configuration.
func dumpRegs(w io.Writer, s *regs.Snapshot) {
	fmt.Fprintln(w, "  registers:")
	for i, v := range s.GP {
		fmt.Fprintf(w, "    %-4s = 0x%016x\n", regs.ABIName(i), v)
	}
}

// dumpMaps copies /proc/self/maps to w, the "print... process maps" step
// §7 calls for on a Configuration fatal error.
func dumpMaps(w io.Writer) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		fmt.Fprintf(w, "  (could not open /proc/self/maps: %v)\n", err)
		return
	}
	defer f.Close()

	fmt.Fprintln(w, "  maps:")
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fmt.Fprintf(w, "    %s\n", sc.Text())
	}
}
