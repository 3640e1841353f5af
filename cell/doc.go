// Package cell defines the record contract consumed by the allocator and the
// zero-copy views it hands back.
//
// # Records
//
// A [Cell] is any variable-length, byte-serializable record carrying a
// logical key, a value, optional tags and a monotonic write sequence id. The
// allocator only looks at the serialized length and the sequence id; the
// bytes themselves are produced by the record's WriteTo callback.
//
// [KeyValue] is the concrete record used by the write buffer:
//
//	+-------------+---------------+-----+-------+--------------+------+
//	| keyLen (4)  | valueLen (4)  | key | value | tagsLen (2)? | tags |
//	+-------------+---------------+-----+-------+--------------+------+
//
// The tags section is present only when the record has tags. All integers
// are big-endian.
//
// # Views
//
// A [View] wraps a range of chunk memory. It does not own the buffer: it is
// valid only until the chunk it points into is returned to the pool. Readers
// must hold a scanner reference on the allocator while they dereference
// views.
package cell
