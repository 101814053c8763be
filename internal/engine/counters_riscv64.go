//go:build riscv64

package engine

import (
	"github.com/ebitengine/purego"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

// counterSource reads RISC-V's user-accessible rdcycle/rdinstret CSRs
// (0xC00, 0xC02) — unprivileged reads, gated only by mcounteren/scounteren
// bits the kernel sets on by default on Linux, unlike ARM64's PMCCNTR_EL0
// which needs an explicit per-process EL0 grant this port has no way to
// request. Built the same hand-encoded-blob way as fpStatus.
type counterSource struct {
	mapping    *memmap.Mapping
	cycleEntry uintptr
	instrEntry uintptr
}

const (
	cycleCSR   = 0xC00
	instretCSR = 0xC02
)

func newCounterSource(mp *memmap.Mapper, base uintptr) (*counterSource, error) {
	cycle := []uint32{csrrsRead(10, cycleCSR), jalrRet}
	instret := []uint32{csrrsRead(10, instretCSR), jalrRet}
	cycleBytes := wordsLERV(cycle)
	instretBytes := wordsLERV(instret)

	pageSize := mp.PageSize()
	total := uintptr(len(cycleBytes) + len(instretBytes))
	size := ((total + pageSize - 1) / pageSize) * pageSize
	baseline := make([]byte, size)
	copy(baseline, cycleBytes)
	copy(baseline[len(cycleBytes):], instretBytes)

	m, err := mp.Create(base, size, memmap.ProtRead|memmap.ProtWrite|memmap.ProtExec, baseline)
	if err != nil {
		return nil, err
	}
	memmap.FlushICache(m.Start, m.Size)
	return &counterSource{
		mapping:    m,
		cycleEntry: m.Start,
		instrEntry: m.Start + uintptr(len(cycleBytes)),
	}, nil
}

func (c *counterSource) readCycle() uint64 {
	ret, _, _ := purego.SyscallN(c.cycleEntry)
	return uint64(ret)
}

func (c *counterSource) readInstret() uint64 {
	ret, _, _ := purego.SyscallN(c.instrEntry)
	return uint64(ret)
}

func (c *counterSource) Release(mp *memmap.Mapper) {
	mp.Release(c.mapping)
}

func (e *Engine) sampleCycle() uint64 {
	if e.counters == nil {
		return 0
	}
	return e.counters.readCycle()
}

func (e *Engine) sampleInstret() uint64 {
	if e.counters == nil {
		return 0
	}
	return e.counters.readInstret()
}
