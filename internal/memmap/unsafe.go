//go:build linux

package memmap

import "unsafe"

// unsafeByteSlice views length bytes starting at addr as a []byte. addr
// must be a live mapping's Shadow address — callers never hold the
// resulting slice across a Release.
func unsafeByteSlice(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}
