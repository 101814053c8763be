package sigbroker

import (
	"fmt"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

// TrapResult is the fixed-layout buffer the raw signal handler writes into
// (address baked into the handler as an immediate at build time): signum,
// si_code, si_addr, then the registers (ARM64: x0..x30, SP, PC; RISC-V:
// pc, then x1..x31). NewHandlerPage maps one whole page for it, larger
// than the trapResultSize bytes Bytes returns.
type TrapResult struct {
	mapping *memmap.Mapping
	mapper  *memmap.Mapper
}

// trapResultSize is sized for the larger of the two architectures' layouts
// (ARM64: 16 header bytes + 31 GP regs + SP + PC = 16+264=280; RISC-V:
// 24 header bytes incl. pc + 31 regs = 24+248=272).
const trapResultSize = 512

// NewHandlerPage builds the architecture's raw signal handler, maps it
// executable at base, installs it on broker, and returns the TrapResult
// buffer the engine reads after a trap. base must not collide with the
// Runner Page or any other fixed mapping.
func NewHandlerPage(mp *memmap.Mapper, broker *Broker, resultBase, handlerBase uintptr) (*TrapResult, error) {
	resultMapping, err := mp.Create(resultBase, mp.PageSize(), memmap.ProtRead|memmap.ProtWrite, make([]byte, mp.PageSize()))
	if err != nil {
		return nil, fmt.Errorf("sigbroker: create trap-result page: %w", err)
	}

	// Two-pass, mirroring runner.newWithEntryBuilder: the handler's own
	// length doesn't depend on the resume stub's address (every immediate
	// build sequence is fixed-width regardless of value), so build once
	// with a placeholder to learn where the stub lands, then rebuild with
	// the real address.
	probe := buildSignalHandler(resultMapping.Shadow, 0)
	stubAddr := handlerBase + uintptr(len(probe))
	handlerBytes := append(buildSignalHandler(resultMapping.Shadow, stubAddr), retStub()...)
	pageSize := mp.PageSize()
	handlerSize := ((uintptr(len(handlerBytes)) + pageSize - 1) / pageSize) * pageSize
	baseline := make([]byte, handlerSize)
	copy(baseline, handlerBytes)
	handlerMapping, err := mp.Create(handlerBase, handlerSize, memmap.ProtRead|memmap.ProtWrite|memmap.ProtExec, baseline)
	if err != nil {
		mp.Release(resultMapping)
		return nil, fmt.Errorf("sigbroker: create handler page: %w", err)
	}
	memmap.FlushICache(handlerMapping.Start, handlerMapping.Size)

	if err := broker.Install(handlerMapping.Start); err != nil {
		mp.Release(handlerMapping)
		mp.Release(resultMapping)
		return nil, err
	}

	return &TrapResult{mapping: resultMapping, mapper: mp}, nil
}

// Bytes returns a live view of the raw trap-result buffer the handler
// writes into — valid to read only after Broker has observed state
// TrapCaptured.
func (t *TrapResult) Bytes() []byte {
	return t.mapper.Read(t.mapping, 0, trapResultSize)
}

// Clear zeroes the signum byte so a stale capture from a previous run can
// never be misread as this run's outcome.
func (t *TrapResult) Clear() error {
	return t.mapper.Write(t.mapping, 0, []byte{0})
}
