// Package pool provides Pool, the chunk pool shared by every allocator of a
// region server.
//
// The pool hands out chunks by id, recycles the ones it owns and enforces a
// global memory budget through a resource.Controller. Acquire never blocks:
// when the budget is spent it fails fast with ErrExhausted and the caller
// decides how to back off.
//
// # Pooled and one-shot chunks
//
// The first MaxPooled chunks the pool creates are pooled: on release they are
// reset and pushed onto a LIFO free list, so the most recently used (and most
// likely cache-warm) chunk is reused first. Chunks created beyond that limit
// are one-shot: releasing them drops the memory and returns their budget.
//
// # Durable chunks
//
// A pool of durable chunks forwards every chunk's persisted ranges to its
// sink.Sink. A drain request is followed by Sink.Sync.
package pool
