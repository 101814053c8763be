//go:build riscv64

package engine

import (
	"github.com/ebitengine/purego"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

// fpStatus reads and restores the host process's own fcsr so a fuzzed
// sequence's floating-point flags never leak into the engine's own
// subsequent floating-point arithmetic and vice versa (§4.5 steps 2 and
// 9). RISC-V's fcsr is a single CSR, so unlike ARM64's packed fpsr:fpcr
// pair this needs no bit-packing — the raw value is exactly what
// regs.Snapshot.FCSR stores.
type fpStatus struct {
	mapping  *memmap.Mapping
	getEntry uintptr
	setEntry uintptr
}

const fcsrCSR = 0x003

func csrrsRead(rd, csr uint32) uint32 {
	return (csr << 20) | (0 << 15) | (0b010 << 12) | (rd << 7) | 0b1110011
}

func csrrwWrite(csr, rs1 uint32) uint32 {
	return (csr << 20) | (rs1 << 15) | (0b001 << 12) | (0 << 7) | 0b1110011
}

// jalrRet is a bare RISC-V ret (jalr x0, 0(ra)), shared by every
// hand-encoded leaf blob in this package (fpStatus, counterSource).
const jalrRet = 0x00008067

func newFPStatus(mp *memmap.Mapper, base uintptr) (*fpStatus, error) {
	get := []uint32{csrrsRead(10, fcsrCSR), jalrRet} // a0 = fcsr
	set := []uint32{csrrwWrite(fcsrCSR, 10), jalrRet}
	getBytes := wordsLERV(get)
	setBytes := wordsLERV(set)
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

func wordsLERV(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return buf
}
