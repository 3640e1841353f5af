package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of immutable objects.
type Store interface {
	// Put writes an object atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Get reads a whole object.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
