package regs

import "encoding/binary"

// Snapshot is the ARM64 architectural state captured around one run: 31
// general-purpose registers (x0..x30), the stack pointer, pstate, and
// optionally the SIMD/FP register file (V0..V31, 16 bytes each — scalar FP
// views D/S/H/B alias the low bytes of the same array, per the AArch64 ABI).
//
// Field order is fixed: GP, SP, PState, FPSR, then V. The runner page's
// trampoline tail stores into these fields by fixed offset
// (internal/runner/codegen_arm64.go), so reordering them breaks that
// splice. A trapped run's capture fills only GP and SP; PState, FPSR and V
// keep their pre-run values.
type Snapshot struct {
	GP     [31]uint64 // x0..x30
	SP     uint64
	PState uint64 // NZCV as the trampoline's MRS reads it; MaskPState filters a raw mcontext pstate
	FPSR   uint64 // fpsr:fpcr packed low:high by the caller, only meaningful when Cfg.Floats||Cfg.Vector
	V      [32][16]byte

	Cfg Config
}

const (
	// ScratchIndex is the ABI index of the high-numbered GP register the
	// runner-page trampoline uses to reach the regs_result save area. x9 is
	// an ordinary caller-saved temporary in the standard AArch64 ABI and,
	// unlike x18 (reserved as the platform register on several ABIs,
	// including Go's own runtime) or x28/x30 (reserved by the Go runtime
	// for the goroutine pointer and link register), carries no meaning the
	// host Go process depends on — see DESIGN.md's note on register
	// reservation conflicts with the Go runtime.
	ScratchIndex = 9

	abiNameX0 = "x0"
)

// abiNames are index-addressable ARM64 GP register names, x0..x30.
var abiNames = [31]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9",
	"x10", "x11", "x12", "x13", "x14", "x15", "x16", "x17", "x18", "x19",
	"x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28", "x29", "x30",
}

// ABIName returns the platform register name for a GP index (0..30) or "sp"
// for index 31.
func ABIName(index int) string {
	if index == 31 {
		return "sp"
	}
	if index < 0 || index >= len(abiNames) {
		return "?"
	}
	return abiNames[index]
}

// New returns a zeroed snapshot under the given feature configuration.
func New(cfg Config) *Snapshot {
	return &Snapshot{Cfg: cfg}
}

// Clone returns a deep copy; safe to mutate independently of s.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	return &c
}

// ScratchValue returns the current value of the scratch register.
func (s *Snapshot) ScratchValue() uint64 { return s.GP[ScratchIndex] }

// SetScratchValue restores the scratch register to a fixed value, used by
// the engine to mask its delta from the reported result (§4.5 step 7).
func (s *Snapshot) SetScratchValue(v uint64) { s.GP[ScratchIndex] = v }

// DiffGP returns every GP register (including SP, reported at ABI index 31)
// that differs between a and b, in ascending ABI-index order.
func DiffGP(a, b *Snapshot) []GPDiff {
	var out []GPDiff
	for i := 0; i < len(a.GP); i++ {
		if a.GP[i] != b.GP[i] {
			out = append(out, GPDiff{ABIIndex: uint8(i), Before: a.GP[i], After: b.GP[i]})
		}
	}
	if a.SP != b.SP {
		out = append(out, GPDiff{ABIIndex: 31, Before: a.SP, After: b.SP})
	}
	return out
}

// DiffFP returns the differing scalar FP registers. On ARM64 the scalar FP
// view overlaps the low 8 bytes of the vector register file, so this reads
// through V rather than a disjoint array (unlike RISC-V, where FP and
// vector registers are architecturally distinct — see regs_riscv64.go).
func DiffFP(a, b *Snapshot) []FPDiff {
	if !a.Cfg.Floats {
		return nil
	}
	var out []FPDiff
	for i := 0; i < 32; i++ {
		av := lowU64(a.V[i])
		bv := lowU64(b.V[i])
		if av != bv {
			out = append(out, FPDiff{ABIIndex: uint8(i), Before: av, After: bv})
		}
	}
	return out
}

// DiffVec returns the differing full-width vector registers.
func DiffVec(a, b *Snapshot) []VecDiff {
	if !a.Cfg.Vector {
		return nil
	}
	var out []VecDiff
	for i := 0; i < 32; i++ {
		if a.V[i] != b.V[i] {
			out = append(out, VecDiff{ABIIndex: uint8(i), Before: a.V[i][:], After: b.V[i][:]})
		}
	}
	return out
}

// Equal reports whether a and b are byte-identical over every field the
// active Config enables — the idempotence-of-a-clean-run property (§8)
// reduces to this.
func Equal(a, b *Snapshot) bool {
	if a.GP != b.GP || a.SP != b.SP || a.PState != b.PState {
		return false
	}
	if a.Cfg.Floats || a.Cfg.Vector {
		if a.FPSR != b.FPSR {
			return false
		}
	}
	if a.Cfg.Vector {
		return a.V == b.V
	}
	if a.Cfg.Floats {
		for i := 0; i < 32; i++ {
			if lowU64(a.V[i]) != lowU64(b.V[i]) {
				return false
			}
		}
	}
	return true
}

func lowU64(v [16]byte) uint64 {
	var u uint64
	for i := 7; i >= 0; i-- {
		u = u<<8 | uint64(v[i])
	}
	return u
}

// Bytes marshals every register field (GP, SP, PState, FPSR, V — not Cfg)
// into a freshly allocated little-endian byte buffer, in that field order.
// Used by the Full-registers BatchInput shape to serialize a template
// snapshot onto the wire and, via SetBytes, to parse one back off it.
func (s *Snapshot) Bytes() []byte {
	buf := make([]byte, arm64SnapshotWireSize)
	off := 0
	for _, v := range s.GP {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:], s.SP)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.PState)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.FPSR)
	off += 8
	for _, v := range s.V {
		copy(buf[off:], v[:])
		off += 16
	}
	return buf
}

// SetBytes parses a buffer produced by Bytes back into s's fields. len(b)
// must be exactly len(s.Bytes()); callers that negotiated a shorter wire
// size elsewhere should not reach this with the wrong length.
func (s *Snapshot) SetBytes(b []byte) {
	off := 0
	for i := range s.GP {
		s.GP[i] = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	s.SP = binary.LittleEndian.Uint64(b[off:])
	off += 8
	s.PState = binary.LittleEndian.Uint64(b[off:])
	off += 8
	s.FPSR = binary.LittleEndian.Uint64(b[off:])
	off += 8
	for i := range s.V {
		copy(s.V[i][:], b[off:off+16])
		off += 16
	}
}

// arm64SnapshotWireSize is the fixed byte length Bytes always produces:
// 31 GP + SP + PState + FPSR (4*8 bytes) plus 32 V registers of 16 bytes.
const arm64SnapshotWireSize = (31+3)*8 + 32*16

// documentedPStateMask whitelists the architecturally documented PSTATE
// bits (N,Z,C,V, SS, IL, D, A, I, F, the exception/mode bits, BTYPE).
// The reference implementation this spec was distilled from instead
// blacklisted two kernel-private bits (0x1000, 0x1000000); a whitelist is
// more robust to kernels adding new private bits later (see DESIGN.md).
const documentedPStateMask = 0x00000000_F0300FFF

// MaskPState strips undocumented/kernel-private bits from a raw pstate
// value captured from mcontext, per §9's open question.
func MaskPState(raw uint64) uint64 {
	return raw & documentedPStateMask
}
