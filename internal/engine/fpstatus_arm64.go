//go:build arm64

package engine

import (
	"github.com/ebitengine/purego"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

// fpStatus reads and restores the host process's own FPSR/FPCR, packed
// low:high into one uint64 exactly like regs.Snapshot's FPSR field, so a
// fuzzed sequence's floating-point exception flags never leak into the
// engine's own subsequent floating-point arithmetic and vice versa (§4.5
// steps 2 and 9). Built the same way the runner page's trampoline is:
// hand-encoded machine words in a small executable mapping, entered via
// purego.SyscallN.
//
// As with the rest of this port's hand-encoded machine code, these
// encodings were derived by hand from the AArch64 system-register
// MRS/MSR instruction class and not verified against a running
// assembler; see DESIGN.md.
type fpStatus struct {
	mapping  *memmap.Mapping
	getEntry uintptr
	setEntry uintptr
}

func newFPStatus(mp *memmap.Mapper, base uintptr) (*fpStatus, error) {
	const (
		mrsFPSRop = 0xD53B4420
		mrsFPCRop = 0xD53B4400
		msrFPSRop = 0xD51B4420
		msrFPCRop = 0xD51B4400
		retInsn   = 0xD65F03C0
	)
	// get(): x0 = fpsr | (fpcr << 32)
	get := []uint32{
		mrsFPSRop | 0, // mrs x0, fpsr
		mrsFPCRop | 1, // mrs x1, fpcr
		0xAA018000,    // orr x0, x0, x1, lsl #32
		retInsn,
	}
	// set(x0): fpsr = x0[31:0]; fpcr = x0[63:32]
	set := []uint32{
		msrFPSRop | 0, // msr fpsr, x0
		0xD360FC00,    // lsr x0, x0, #32  (UBFM x0, x0, #32, #63)
		msrFPCRop | 0, // msr fpcr, x0
		retInsn,
	}
	getBytes := wordsLE(get)
	setBytes := wordsLE(set)
	pageSize := mp.PageSize()
	total := uintptr(len(getBytes) + len(setBytes))
	size := ((total + pageSize - 1) / pageSize) * pageSize
	baseline := make([]byte, size)
	copy(baseline, getBytes)
	copy(baseline[len(getBytes):], setBytes)

	m, err := mp.Create(base, size, memmap.ProtRead|memmap.ProtWrite|memmap.ProtExec, baseline)
	if err != nil {
		return nil, err
	}
	memmap.FlushICache(m.Start, m.Size)
	return &fpStatus{
		mapping:  m,
		getEntry: m.Start,
		setEntry: m.Start + uintptr(len(getBytes)),
	}, nil
}

func (f *fpStatus) Get() uint64 {
	ret, _, _ := purego.SyscallN(f.getEntry)
	return uint64(ret)
}

func (f *fpStatus) Set(v uint64) {
	purego.SyscallN(f.setEntry, uintptr(v))
}

func (f *fpStatus) Release(mp *memmap.Mapper) {
	mp.Release(f.mapping)
}

func wordsLE(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return buf
}
