package regs

import "encoding/binary"

// Snapshot is the RISC-V 64-bit architectural state captured around one
// run: x1..x31 (x0 is hardwired zero and never stored), fcsr, and
// optionally 32 scalar FP registers (f0..f31, architecturally disjoint
// from the vector register file — unlike ARM64, where scalar FP overlaps
// the vector file) plus 32 vector registers of runner-configured width
// Cfg.VectorBytes.
//
// Field order is fixed: GP, FCSR, F, then V (sized at runtime via Cfg —
// the vector register length is a runner build parameter, not an ARM64-
// style architectural constant, so the V slice is allocated once at
// process start and never resized).
type Snapshot struct {
	GP   [31]uint64 // x1..x31 (ABI index i stores register x(i+1))
	FCSR uint64
	F    [32]uint64 // scalar FP, present only when Cfg.Floats
	V    [][]byte   // len(V)==32 when Cfg.Vector, each len(V[i])==Cfg.VectorBytes

	Cfg Config
}

const (
	// ScratchIndex is the ABI index (array position, i.e. x(ScratchIndex+1))
	// of the scratch register the trampoline uses to reach regs_result.
	// x31 (t6) is caller-saved, never used by the ABI for anything the
	// compiler assumes survives a call, and high-numbered like its ARM64
	// counterpart.
	ScratchIndex = 30 // array position 30 -> x31
)

var abiNames = [31]string{
	"ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1", "a0",
	"a1", "a2", "a3", "a4", "a5", "a6", "a7", "s2", "s3", "s4",
	"s5", "s6", "s7", "s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// ABIName returns the ABI mnemonic for GP array position index (0..30,
// corresponding to x1..x31).
func ABIName(index int) string {
	if index < 0 || index >= len(abiNames) {
		return "?"
	}
	return abiNames[index]
}

// New returns a zeroed snapshot under the given feature configuration. The
// vector slice, if enabled, is allocated here once so later Clone calls
// never need to know VectorBytes.
func New(cfg Config) *Snapshot {
	s := &Snapshot{Cfg: cfg}
	if cfg.Vector {
		s.V = make([][]byte, 32)
		for i := range s.V {
			s.V[i] = make([]byte, cfg.VectorBytes)
		}
	}
	return s
}

// Clone returns a deep copy; safe to mutate independently of s.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	if s.Cfg.Vector {
		c.V = make([][]byte, len(s.V))
		for i := range s.V {
			c.V[i] = append([]byte(nil), s.V[i]...)
		}
	}
	return &c
}

// SPIndex is the array position of the stack pointer, x2.
const SPIndex = 1

// ScratchValue returns the current value of the scratch register.
func (s *Snapshot) ScratchValue() uint64 { return s.GP[ScratchIndex] }

// SetScratchValue restores the scratch register to a fixed value, masking
// its delta from the reported result (§4.5 step 7).
func (s *Snapshot) SetScratchValue(v uint64) { s.GP[ScratchIndex] = v }

// DiffGP returns every x1..x31 register that differs, in ascending ABI
// order.
func DiffGP(a, b *Snapshot) []GPDiff {
	var out []GPDiff
	for i := 0; i < len(a.GP); i++ {
		if a.GP[i] != b.GP[i] {
			out = append(out, GPDiff{ABIIndex: uint8(i + 1), Before: a.GP[i], After: b.GP[i]})
		}
	}
	return out
}

// DiffFP returns the differing scalar FP registers (f0..f31), disjoint
// from vector state on this architecture.
func DiffFP(a, b *Snapshot) []FPDiff {
	if !a.Cfg.Floats {
		return nil
	}
	var out []FPDiff
	for i := 0; i < 32; i++ {
		if a.F[i] != b.F[i] {
			out = append(out, FPDiff{ABIIndex: uint8(i), Before: a.F[i], After: b.F[i]})
		}
	}
	return out
}

// DiffVec returns the differing vector registers.
func DiffVec(a, b *Snapshot) []VecDiff {
	if !a.Cfg.Vector {
		return nil
	}
	var out []VecDiff
	for i := 0; i < 32; i++ {
		if !bytesEqual(a.V[i], b.V[i]) {
			out = append(out, VecDiff{ABIIndex: uint8(i), Before: a.V[i], After: b.V[i]})
		}
	}
	return out
}

// Bytes marshals GP, FCSR, F (always, regardless of Cfg.Floats) and, when
// Cfg.Vector is set, all 32 vector lanes, into a freshly allocated
// little-endian buffer — the Full-registers BatchInput shape's wire
// representation of a register template. The vector portion is omitted
// entirely (not zero-filled) when Cfg.Vector is false, since V itself is
// never allocated in that configuration (see New).
func (s *Snapshot) Bytes() []byte {
	buf := make([]byte, s.wireSize())
	off := 0
	for _, v := range s.GP {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:], s.FCSR)
	off += 8
	for _, v := range s.F {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	if s.Cfg.Vector {
		for _, lane := range s.V {
			copy(buf[off:], lane)
			off += len(lane)
		}
	}
	return buf
}

// SetBytes parses a buffer produced by Bytes back into s's fields. len(b)
// must equal len(s.Bytes()) under s's own Cfg.
func (s *Snapshot) SetBytes(b []byte) {
	off := 0
	for i := range s.GP {
		s.GP[i] = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	s.FCSR = binary.LittleEndian.Uint64(b[off:])
	off += 8
	for i := range s.F {
		s.F[i] = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	if s.Cfg.Vector {
		for i := range s.V {
			copy(s.V[i], b[off:off+len(s.V[i])])
			off += len(s.V[i])
		}
	}
}

// wireSize is the byte length Bytes always produces under s's own Cfg.
func (s *Snapshot) wireSize() int {
	n := (31+1)*8 + 32*8 // GP, FCSR, F
	if s.Cfg.Vector {
		n += 32 * s.Cfg.VectorBytes
	}
	return n
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Equal reports whether a and b are byte-identical over every field the
// active Config enables.
func Equal(a, b *Snapshot) bool {
	if a.GP != b.GP || a.FCSR != b.FCSR {
		return false
	}
	if a.Cfg.Floats && a.F != b.F {
		return false
	}
	if a.Cfg.Vector {
		for i := 0; i < 32; i++ {
			if !bytesEqual(a.V[i], b.V[i]) {
				return false
			}
		}
	}
	return true
}
