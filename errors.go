package memlab

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLarge is returned when a record or batch cannot be placed in a
	// chunk. No chunk is touched; the caller stores the record outside the arena.
	ErrTooLarge = errors.New("memlab: allocation too large")

	// ErrClosed is returned when allocating from a closed allocator.
	ErrClosed = errors.New("memlab: allocator closed")

	// ErrPoolExhausted is returned when the chunk pool could not supply a
	// chunk within the acquire timeout.
	ErrPoolExhausted = errors.New("memlab: chunk pool exhausted")

	// ErrPersistAborted is returned when waiting for a sequence id was
	// interrupted. Nothing was forwarded to the chunks.
	ErrPersistAborted = errors.New("memlab: persist aborted")
)

// ConfigError reports an invalid configuration value.
//
// The underlying error (if any) can be accessed via errors.Unwrap.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
	cause  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("memlab: invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.cause }

func configError(field string, value any, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}
