package runner

import (
	"unsafe"

	"github.com/ebitengine/purego"
)

// Call invokes a runner page's entry glue once, passing the addresses of
// the pre-run and result register areas. The entry glue (built in
// codegen_arm64.go / codegen_riscv64.go) loads GP registers from before,
// jumps into the page's instruction slots, and — for a clean run — the
// trampoline tail saves the resulting state into result and returns here.
//
// purego.SyscallN is built for calling arbitrary dlopen'd C function
// pointers without cgo; a JIT'd runner page entry point is just such a
// pointer under the standard AAPCS64 / RISC-V LP64D calling convention, so
// it serves equally well as the call primitive here.
func Call(entry uintptr, before, result unsafe.Pointer) {
	purego.SyscallN(entry, uintptr(before), uintptr(result))
}
