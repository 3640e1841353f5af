// Package mem provides memory allocation utilities.
//
// # Aligned Allocation
//
// Heap-backed chunks start on a cache-line boundary so concurrent writers
// bump-allocating from neighbouring chunks never share the first line.
package mem
