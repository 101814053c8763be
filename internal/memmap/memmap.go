// Package memmap implements the Memory Mapper (C2): creating, resetting,
// and releasing fixed-address memory regions backed by a single shared-
// memory object mapped twice — a primary "executed" view at a caller-
// chosen address with the requested protection, and a private "shadow"
// view elsewhere with read+write, used to reset content between runs and
// (for the Runner Page) to write instruction bytes that the primary view
// then executes. This is the same double-mapping pattern modern W^X JIT
// compilers use; grounded on the RawSyscall6(SYS_MMAP, ...) fixed-address
// mapping idiom in gvisor's subprocess platform and on the teacher's own
// shared-memory-free, syscall-direct style in terminal_host.go.
//
// Linux/arm64 and Linux/riscv64 only — the signal/mmap contract this
// component relies on (MAP_FIXED_NOREPLACE, memfd_create, explicit I-cache
// invalidation) has no portable cross-OS equivalent.
//
//go:build linux

package memmap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Prot is a bitmask of the protection flags a Mapping's primary view is
// created with.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

func (p Prot) toUnix() int {
	var u int
	if p&ProtRead != 0 {
		u |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		u |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		u |= unix.PROT_EXEC
	}
	return u
}

// Mapping is one region created by Mapper.Create: a fixed-address
// "executed" view and a private read-write "shadow" view over the same
// shared-memory object, plus the baseline content it is reset to before
// every run.
type Mapping struct {
	Start    uintptr
	Size     uintptr
	Prot     Prot
	Shadow   uintptr // address of the RW twin, used for writes/resets
	Baseline []byte  // len == Size; content restored by Reset

	fd int
}

// Mapper owns every live Mapping and enforces C2's non-overlap invariant.
type Mapper struct {
	pageSize uintptr
	list     []*Mapping
}

// New returns a Mapper using the process's page size.
func New() *Mapper {
	return &Mapper{pageSize: uintptr(unix.Getpagesize())}
}

// PageSize returns the page size this Mapper rounds addresses and sizes to.
func (mp *Mapper) PageSize() uintptr { return mp.pageSize }

func (mp *Mapper) pageAligned(v uintptr) bool { return v%mp.pageSize == 0 }

// PageMapped reports whether the page containing addr is mapped in this
// process, by probing with a MAP_FIXED_NOREPLACE anonymous mapping: if the
// kernel refuses with EEXIST the page is taken, otherwise the probe
// mapping is created and immediately torn down. Implements the
// fuzzval.PageProber interface used by CheckPointersSafe.
func (mp *Mapper) PageMapped(addr uint64) bool {
	base := uintptr(addr) &^ (mp.pageSize - 1)
	ret, _, errno := unix.RawSyscall6(
		unix.SYS_MMAP, base, mp.pageSize,
		unix.PROT_NONE,
		uintptr(unix.MAP_FIXED_NOREPLACE|unix.MAP_ANON|unix.MAP_PRIVATE),
		^uintptr(0), 0,
	)
	if errno == unix.EEXIST {
		return true
	}
	if errno != 0 {
		// Any other failure (e.g. address out of the process's reachable
		// range) is treated as "not a page we could ever map", not as
		// "mapped" — CheckPointersSafe only cares about collisions.
		return false
	}
	unix.RawSyscall(unix.SYS_MUNMAP, ret, mp.pageSize, 0)
	return false
}

// Create establishes a new double mapping: size bytes of shared memory,
// with a fixed-address primary view at start under prot, and a private
// read-write shadow view at a kernel-chosen address. It fails if any page
// in [start, start+size) is already mapped, probed with the same
// MAP_FIXED_NOREPLACE technique PageMapped uses (distinguishing "mapped"
// from address-space exhaustion per §4.2).
func (mp *Mapper) Create(start, size uintptr, prot Prot, baseline []byte) (*Mapping, error) {
	if !mp.pageAligned(start) || !mp.pageAligned(size) || size == 0 {
		return nil, fmt.Errorf("memmap: start %#x and size %#x must be page-aligned and non-zero", start, size)
	}
	if baseline != nil && uintptr(len(baseline)) != size {
		return nil, fmt.Errorf("memmap: baseline length %d != size %d", len(baseline), size)
	}

	fd, err := unix.MemfdCreate("riscover-mapping", 0)
	if err != nil {
		return nil, fmt.Errorf("memmap: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memmap: ftruncate: %w", err)
	}

	primary, _, errno := unix.RawSyscall6(
		unix.SYS_MMAP, start, size,
		uintptr(prot.toUnix()),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED_NOREPLACE),
		uintptr(fd), 0,
	)
	if errno != 0 {
		unix.Close(fd)
		if errno == unix.EEXIST {
			return nil, fmt.Errorf("memmap: %#x already mapped", start)
		}
		return nil, fmt.Errorf("memmap: mmap primary view: %w", errno)
	}
	if primary != start {
		unix.RawSyscall6(unix.SYS_MUNMAP, primary, size, 0, 0, 0, 0)
		unix.Close(fd)
		return nil, fmt.Errorf("memmap: kernel placed primary view at %#x, wanted %#x", primary, start)
	}

	shadowProt := uintptr(unix.PROT_READ | unix.PROT_WRITE)
	shadow, _, errno := unix.RawSyscall6(
		unix.SYS_MMAP, 0, size, shadowProt,
		uintptr(unix.MAP_SHARED), uintptr(fd), 0,
	)
	if errno != 0 {
		unix.RawSyscall6(unix.SYS_MUNMAP, primary, size, 0, 0, 0, 0)
		unix.Close(fd)
		return nil, fmt.Errorf("memmap: mmap shadow view: %w", errno)
	}

	m := &Mapping{
		Start:    start,
		Size:     size,
		Prot:     prot,
		Shadow:   shadow,
		Baseline: append([]byte(nil), baseline...),
		fd:       fd,
	}
	if m.Baseline == nil {
		m.Baseline = make([]byte, size)
	}
	mp.list = append(mp.list, m)
	return m, nil
}

// shadowBytes returns a []byte view over the mapping's shadow address,
// valid only while the mapping is live.
func shadowBytes(m *Mapping) []byte {
	return unsafeByteSlice(m.Shadow, int(m.Size))
}

// Reset copies baseline into the shadow view, so the next run starts from
// known content; if the mapping is executable, it also invalidates the
// I-cache for the primary view's range so freshly written instruction
// bytes are actually fetched (the Runner Page relies on this for every
// run, not just the first).
func (mp *Mapper) Reset(m *Mapping) error {
	copy(shadowBytes(m), m.Baseline)
	if m.Prot&ProtExec != 0 {
		FlushICache(m.Start, m.Size)
	}
	return nil
}

// Write copies data into the shadow view starting at the given offset,
// used by the Runner Page to install instruction bytes.
func (mp *Mapper) Write(m *Mapping, offset int, data []byte) error {
	if offset < 0 || uintptr(offset+len(data)) > m.Size {
		return fmt.Errorf("memmap: write [%d,%d) out of range for size %d", offset, offset+len(data), m.Size)
	}
	copy(shadowBytes(m)[offset:], data)
	return nil
}

// Read returns a copy of length bytes from the shadow view at offset —
// used by the Memory Diff component, which must never hold a live slice
// across a run that could remap or release the mapping.
func (mp *Mapper) Read(m *Mapping, offset, length int) []byte {
	out := make([]byte, length)
	copy(out, shadowBytes(m)[offset:offset+length])
	return out
}

// Release unmaps both views and closes the shared-memory descriptor.
func (mp *Mapper) Release(m *Mapping) error {
	unix.RawSyscall6(unix.SYS_MUNMAP, m.Start, m.Size, 0, 0, 0, 0)
	unix.RawSyscall6(unix.SYS_MUNMAP, m.Shadow, m.Size, 0, 0, 0, 0)
	unix.Close(m.fd)
	for i, mm := range mp.list {
		if mm == m {
			mp.list = append(mp.list[:i], mp.list[i+1:]...)
			break
		}
	}
	return nil
}

// Find returns the mapping containing addr (start <= addr < start+size),
// or false if none matches.
func (mp *Mapper) Find(addr uintptr) (*Mapping, bool) {
	for _, m := range mp.list {
		if addr >= m.Start && addr < m.Start+m.Size {
			return m, true
		}
	}
	return nil, false
}

// All returns every live mapping in insertion order. The Memory Diff &
// Auto-Map component relies on this order being insertion order, not
// sorted by address — the sequence of faults is itself part of the
// observable, cross-client-stable result (§4.6).
func (mp *Mapper) All() []*Mapping {
	return mp.list
}
