// Package mmap provides anonymous, read-write memory mappings.
//
// Off-heap chunks are carved from anonymous mappings so that large arenas
// live outside the Go heap: the garbage collector never scans them and
// returning a chunk to the OS is a single munmap.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE, madvise(2) for hints
//   - Windows: VirtualAlloc/VirtualFree (advice is a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must ensure no
// goroutine touches Bytes() after Close() returns.
package mmap
