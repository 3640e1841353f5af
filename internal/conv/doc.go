// Package conv provides checked integer conversions for the fixed-width
// length fields of the chunk and journal encodings.
//
// Use it where a value crosses from Go's platform-sized int into a wire
// field, or back from bytes that may be corrupt. Conversions that are
// bounded by construction use plain casts.
package conv
