// Package scrub implements the Determinism Scrubber (C9): the sequence of
// steps §4.9 requires before any fuzzing begins, so that two clients on
// different hosts/kernels see the same address-space shape and therefore
// produce comparable Results.
//
// Grounded directly on diffuzz-client.c's main(): the ADDR_NO_RANDOMIZE
// persona re-exec, the fork-per-core-then-pin loop, and the session
// detach, translated into Go's process model (a multi-threaded Go binary
// cannot safely fork(2) the way a single-threaded C binary can — only the
// calling OS thread survives a Go fork, stranding every other goroutine's
// thread — so per-core parallelism here is re-exec-based: the launcher
// spawns one independent child process per core instead of forking
// itself, using golang.org/x/sync/errgroup the way the DOMAIN STACK
// wiring note describes).
package scrub

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const addrNoRandomize = 0x0040000

// coreEnvVar is how a launcher tells a re-exec'd worker which core it
// owns; cmd/riscover-client reads this at startup.
const coreEnvVar = "RISCOVER_WORKER_CORE"

// DisableASLR implements §4.9's first step. It reads the process's
// current personality flags; if ADDR_NO_RANDOMIZE is not already set, it
// sets it and re-execs the running binary with the same argv and
// environment so the flag takes effect for every mapping this process (and
// any of its re-exec'd workers) makes from here on — exactly
// diffuzz-client.c's `personality(ADDR_NO_RANDOMIZE); execv(argv[0], argv)`.
//
// If the flag was already set (a prior re-exec, or a parent that already
// scrubbed itself), DisableASLR returns immediately without re-executing.
func DisableASLR() error {
	current, _, errno := unix.Syscall(unix.SYS_PERSONALITY, 0xffffffff, 0, 0)
	if errno != 0 {
		return fmt.Errorf("scrub: read personality: %w", errno)
	}
	if current&addrNoRandomize != 0 {
		return nil
	}

	if _, _, errno := unix.Syscall(unix.SYS_PERSONALITY, addrNoRandomize, 0, 0); errno != 0 {
		return fmt.Errorf("scrub: set ADDR_NO_RANDOMIZE: %w (try: sudo sysctl kernel.randomize_va_space=0)", errno)
	}

	confirm, _, errno := unix.Syscall(unix.SYS_PERSONALITY, 0xffffffff, 0, 0)
	if errno != 0 || confirm&addrNoRandomize == 0 {
		return fmt.Errorf("scrub: ADDR_NO_RANDOMIZE did not take effect")
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("scrub: resolve executable for re-exec: %w", err)
	}
	return unix.Exec(exe, os.Args, os.Environ())
}

// DetachSession implements §4.9's "detach the session" step — makes this
// process a session leader so it survives the launching shell or Android
// host app exiting.
func DetachSession() error {
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("scrub: setsid: %w", err)
	}
	return nil
}

// PinToCore pins the calling process to a single CPU core, retrying per
// §4.9's bounded schedule (10 attempts, 1s apart) — another core's own
// scrub pass may bring an offlined core back before this one gives up.
func PinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		if err := unix.SchedSetaffinity(0, &set); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(1 * time.Second)
	}
	return fmt.Errorf("scrub: pin to core %d after 10 attempts: %w", core, lastErr)
}

// CoreFromEnv reports the core index a re-exec'd worker was assigned, and
// whether RISCOVER_WORKER_CORE was present — a launcher process (the
// first one started by the operator) has no such env var and is the one
// responsible for calling SpawnWorkers.
func CoreFromEnv() (core int, isWorker bool) {
	v := os.Getenv(coreEnvVar)
	if v == "" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// SpawnWorkers launches one child process per core, each a re-exec of the
// calling binary with RISCOVER_WORKER_CORE set, and waits for all of them.
// It implements the "spawn one child per selected core" half of §4.9 —
// the per-core pinning itself happens inside each worker, via PinToCore
// after it observes its own CoreFromEnv.
//
// Uses errgroup rather than the teacher's raw goroutine+channel pattern
// (coprocessor_manager.go) to fan out and collect the first worker
// failure, per this program's DOMAIN STACK wiring.
func SpawnWorkers(numCores int, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("scrub: resolve executable: %w", err)
	}

	var g errgroup.Group
	for core := 0; core < numCores; core++ {
		core := core
		g.Go(func() error {
			cmd := exec.Command(exe, args...)
			cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", coreEnvVar, core))
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("scrub: worker for core %d: %w", core, err)
			}
			return nil
		})
	}
	return g.Wait()
}
