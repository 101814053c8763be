//go:build arm64

// Package archcfg is the one place cmd/riscover-client and
// cmd/riscover-replay share architecture-specific wiring decisions that
// don't belong in internal/regs itself: the default feature configuration
// a worker/replay process boots with, the arch tag §6's handshake and
// reproducer format both use, and how to set the stack pointer when it
// isn't addressable as an ordinary GP array slot (ARM64).
package archcfg

import "github.com/intuitionamiga/riscover-client/internal/regs"

// RunningArch is this build's §6/reproducer arch tag.
const RunningArch = "aarch64"

// DefaultRegsConfig enables every optional register class this client
// captures on ARM64: the SIMD/FP file is always present on AArch64
// hardware capable of running Linux, so there's no narrower subset worth
// negotiating.
func DefaultRegsConfig() regs.Config {
	return regs.Config{Floats: true, Vector: true, VectorBytes: 16}
}

// SetSP writes the stack pointer. On ARM64 it's a dedicated Snapshot
// field, not one of the 31 GP array slots.
func SetSP(s *regs.Snapshot, v uint64) { s.SP = v }
