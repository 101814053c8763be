// Package runner implements the Runner Page (C3): a writable twin of a
// fixed executable page holding up to MaxSeqLen instructions, followed by a
// trampoline that saves architectural state into a fixed result area and
// returns to the engine.
//
// The trampoline itself is not Go code. It is hand-encoded machine words
// baked into the page's baseline (see codegen_arm64.go / codegen_riscv64.go)
// and entered through a small "entry glue" blob built the same way, invoked
// via github.com/ebitengine/purego's raw-call primitive rather than a
// hand-written Go assembly stub — purego already solves exactly this
// problem (calling an arbitrary native code address with a fixed register
// convention) for its cgo-free dynamic-library bindings, and reusing it
// means the engine never has to fight the Go runtime over register
// reservations (g, the link register, the platform register) the way a
// bespoke asm entry point would.
package runner

import (
	"fmt"

	"github.com/intuitionamiga/riscover-client/internal/memmap"
)

// MaxSeqLen is the largest instruction sequence the runner page holds.
const MaxSeqLen = 64

// instrWidth is the width of one instruction slot on both target
// architectures; RISC-V's compressed (16-bit) extension is never emitted by
// this fuzzer, so every slot is a plain 4-byte word.
const instrWidth = 4

// arch describes the architecture-specific machine code this package bakes
// into the runner page: the canonical NOP encoding, and the byte-encoder
// for the trampoline tail. The entry glue's encoder is supplied separately
// (see newWithEntryBuilder) because it needs both mappings' final
// addresses to compute its PC-relative branch into slot 0.
type arch struct {
	nopWord      uint32
	buildTail    func(resultAreaUnused bool) []byte
	scratchIndex int
}

// entryBuilder encodes the entry glue given its own (about to be mapped)
// address and the runner page base it must branch into.
type entryBuilder func(entryAddr, branchTarget uintptr) []byte

// Page is a Mapping (from memmap) configured prot = R+X, holding the
// instruction slots at offset 0 and the fixed trampoline tail immediately
// after them.
type Page struct {
	mapper      *memmap.Mapper
	mapping     *memmap.Mapping
	slotCount   int
	tailOffset  uintptr
	entryCode   []byte
	entryMap    *memmap.Mapping
	nopWord     uint32
}

// newWithEntryBuilder creates a runner page at base, sized to hold
// slotCount instruction slots plus the architecture's trampoline tail,
// rounded up to a whole number of pages. A second, smaller mapping holds
// the entry glue that the engine calls through to jump into the page.
func newWithEntryBuilder(mp *memmap.Mapper, base uintptr, slotCount int, a arch, buildEntry entryBuilder) (*Page, error) {
	if slotCount <= 0 || slotCount > MaxSeqLen {
		return nil, fmt.Errorf("runner: slot count %d out of range [1,%d]", slotCount, MaxSeqLen)
	}

	tail := a.buildTail(true)
	slotsBytes := slotCount * instrWidth
	rawSize := uintptr(slotsBytes + len(tail))
	pageSize := mp.PageSize()
	size := ((rawSize + pageSize - 1) / pageSize) * pageSize

	baseline := make([]byte, size)
	fillNOPs(baseline[:slotsBytes], a.nopWord)
	copy(baseline[slotsBytes:], tail)

	mapping, err := mp.Create(base, size, memmap.ProtRead|memmap.ProtExec, baseline)
	if err != nil {
		return nil, fmt.Errorf("runner: create page: %w", err)
	}

	entryAddr := base + size
	entry := buildEntry(entryAddr, base)
	entrySize := ((uintptr(len(entry)) + pageSize - 1) / pageSize) * pageSize
	entryBaseline := make([]byte, entrySize)
	copy(entryBaseline, entry)
	// The entry glue is mapped through the same Mapper at the next
	// page-aligned address after the runner page itself.
	entryMapping, err := mp.Create(entryAddr, entrySize, memmap.ProtRead|memmap.ProtWrite|memmap.ProtExec, entryBaseline)
	if err != nil {
		mp.Release(mapping)
		return nil, fmt.Errorf("runner: create entry glue: %w", err)
	}

	return &Page{
		mapper:     mp,
		mapping:    mapping,
		slotCount:  slotCount,
		tailOffset: uintptr(slotsBytes),
		entryCode:  entry,
		entryMap:   entryMapping,
		nopWord:    a.nopWord,
	}, nil
}

// Load installs a new instruction sequence: words[0..len(words)) go into
// the first slots, the remainder up to slotCount is filled with NOP, and
// the I-cache is flushed for the whole page (slots and tail).
func (p *Page) Load(words []uint32) error {
	if len(words) > p.slotCount {
		return fmt.Errorf("runner: %d instructions exceeds %d slots", len(words), p.slotCount)
	}
	buf := make([]byte, p.slotCount*instrWidth)
	for i, w := range words {
		putU32LE(buf[i*instrWidth:], w)
	}
	for i := len(words); i < p.slotCount; i++ {
		putU32LE(buf[i*instrWidth:], p.nopWord)
	}
	if err := p.mapper.Write(p.mapping, 0, buf); err != nil {
		return err
	}
	memmap.FlushICache(p.mapping.Start, p.mapping.Size)
	return nil
}

// Base returns the runner page's primary (executable) address —
// runner_page_base in §4.4's instr_idx derivation.
func (p *Page) Base() uintptr { return p.mapping.Start }

// Bounds returns [start, end) of the instruction-slot region only, used to
// decide whether a faulting PC fell inside user-controlled code.
func (p *Page) Bounds() (start, end uintptr) {
	return p.mapping.Start, p.mapping.Start + p.tailOffset
}

// InstrIndex derives the 1-based trapping instruction index from a faulting
// PC per §4.4 step 7, or 0 if pc falls outside the slot region.
func (p *Page) InstrIndex(pc uintptr) int {
	start, end := p.Bounds()
	if pc < start || pc >= end {
		return 0
	}
	return int((pc-start)/instrWidth) + 1
}

// EntryPoint returns the address of the callable entry glue — the function
// pointer passed to Call.
func (p *Page) EntryPoint() uintptr { return p.entryMap.Start }

// Release tears down both mappings.
func (p *Page) Release() {
	p.mapper.Release(p.entryMap)
	p.mapper.Release(p.mapping)
}

func fillNOPs(buf []byte, nop uint32) {
	for i := 0; i+instrWidth <= len(buf); i += instrWidth {
		putU32LE(buf[i:], nop)
	}
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
