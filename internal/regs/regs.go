// Package regs implements the typed, architecture-specific register snapshot
// described as the Register Model (C1): a fixed-layout copy of GP/FP/vector/
// flag register state, diff iteration over two snapshots, and ABI naming.
//
// The byte size and field order of Snapshot are fixed per architecture and
// per compiled feature set (Floats, Vector) so that a byte-level memcmp is a
// valid equality test and so the signal broker can splice kernel mcontext
// arrays into it by offset. Two concrete layouts exist, one per GOARCH,
// selected at compile time by the _arm64.go / _riscv64.go file suffix — the
// same mechanism the teacher uses for its le_check.go endianness assertion.
package regs

// Config controls which optional register classes a Snapshot carries. It is
// decided once at process start (from the negotiated build/feature flags)
// and never changes mid-run; every Snapshot sharing a Config has the same
// byte layout.
type Config struct {
	Floats      bool // scalar FP registers present
	Vector      bool // vector registers present
	VectorBytes int  // width V of one vector register, in bytes (16 on ARM64, runner-configured on RISC-V)
}

// GPDiff describes one general-purpose register that differs between two
// snapshots.
type GPDiff struct {
	ABIIndex uint8
	Before   uint64
	After    uint64
}

// FPDiff describes one scalar floating point register that differs.
type FPDiff struct {
	ABIIndex uint8
	Before   uint64
	After    uint64
}

// VecDiff describes one vector register that differs. Bytes are owned by
// the caller's backing array view into the snapshot; copy before mutating
// the snapshot again.
type VecDiff struct {
	ABIIndex uint8
	Before   []byte
	After    []byte
}

// Snapshot is implemented once per GOARCH (see regs_arm64.go, regs_riscv64.go).
// It is intentionally not an interface in the hot path — the engine imports
// this package and uses the concrete regs.Snapshot type directly, exactly
// as the teacher's CPU cores use a concrete register-file struct rather than
// an interface. The methods below are the contract every arch file must
// satisfy; this block documents it but does not declare a Go interface,
// since nothing in this program needs to hold both layouts at once.
//
//	func (s *Snapshot) Clone() *Snapshot
//	func (s *Snapshot) Bytes() []byte
//	func (s *Snapshot) SetBytes(b []byte)
//	func (s *Snapshot) ScratchValue() uint64
//	func (s *Snapshot) SetScratchValue(v uint64)
//	func ABIName(index int) string
//	const ScratchIndex
//	func DiffGP(a, b *Snapshot) []GPDiff
//	func DiffFP(a, b *Snapshot) []FPDiff
//	func DiffVec(a, b *Snapshot) []VecDiff
//	func Equal(a, b *Snapshot) bool
