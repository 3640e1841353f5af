package mem

import (
	"unsafe"
)

// Alignment is the start alignment of heap chunk memory (one cache line on
// common hardware).
const Alignment = 64

// AllocAligned allocates a zeroed byte slice of the given size whose first
// byte sits on an Alignment boundary. It returns nil for size <= 0.
//
// The slice over-allocates by up to Alignment bytes; the backing array is
// kept alive by the returned slice.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}

	buf := make([]byte, size+Alignment)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	offset := int((Alignment - (addr & (Alignment - 1))) & (Alignment - 1))

	return buf[offset : offset+size : offset+size]
}
