package memlab

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/hupe1980/memlab/chunk"
	"github.com/hupe1980/memlab/pool"
	"github.com/hupe1980/memlab/resource"
	"github.com/hupe1980/memlab/sink"
)

// Config is the file form of a pool plus the allocators drawing from it.
type Config struct {
	ChunkSize       int      `json:"chunk_size"`
	MaxAlloc        int      `json:"max_alloc"`
	InitialChunks   int      `json:"initial_chunks"`
	MaxPooledChunks int      `json:"max_pooled_chunks"`
	OffHeap         bool     `json:"off_heap"`
	Durable         bool     `json:"durable"`
	MemoryLimit     int64    `json:"memory_limit_bytes"`
	AcquireTimeout  Duration `json:"acquire_timeout"`
	PersistTimeout  Duration `json:"persist_timeout"`

	// Durable pools only.
	JournalPath        string `json:"journal_path,omitempty"`
	JournalCompression string `json:"journal_compression,omitempty"`
	JournalIOLimit     int64  `json:"journal_io_limit_bytes_per_sec,omitempty"`
}

// Duration is a time.Duration encoded as a Go duration string ("10s").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler. Plain numbers are nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("memlab: invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("memlab: invalid duration %s", b)
	}
	return nil
}

// DefaultConfig returns the stock configuration: 2 MiB heap chunks, 256 KiB
// max allocation, no memory limit.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      pool.DefaultChunkSize,
		MaxAlloc:       DefaultMaxAlloc,
		AcquireTimeout: Duration(DefaultAcquireTimeout),
		PersistTimeout: Duration(DefaultPersistTimeout),
	}
}

// LoadConfig decodes a JSON config on top of DefaultConfig and validates it.
// Unknown fields are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("memlab: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks sizes and limits for consistency.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return configError("chunk_size", c.ChunkSize, "must be positive")
	}
	if c.MaxAlloc < 0 {
		return configError("max_alloc", c.MaxAlloc, "must not be negative")
	}
	if c.MaxAlloc > c.ChunkSize {
		return configError("max_alloc", c.MaxAlloc, "exceeds chunk_size")
	}
	if c.InitialChunks < 0 {
		return configError("initial_chunks", c.InitialChunks, "must not be negative")
	}
	if c.MaxPooledChunks < 0 {
		return configError("max_pooled_chunks", c.MaxPooledChunks, "must not be negative")
	}
	if c.MemoryLimit < 0 {
		return configError("memory_limit_bytes", c.MemoryLimit, "must not be negative")
	}
	if c.MemoryLimit > 0 && int64(c.InitialChunks)*int64(c.ChunkSize) > c.MemoryLimit {
		return configError("initial_chunks", c.InitialChunks, "exceeds memory_limit_bytes")
	}
	if c.AcquireTimeout < 0 {
		return configError("acquire_timeout", time.Duration(c.AcquireTimeout), "must not be negative")
	}
	if c.PersistTimeout < 0 {
		return configError("persist_timeout", time.Duration(c.PersistTimeout), "must not be negative")
	}
	if c.JournalIOLimit < 0 {
		return configError("journal_io_limit_bytes_per_sec", c.JournalIOLimit, "must not be negative")
	}
	if _, err := sink.ParseCompression(c.JournalCompression); err != nil {
		return &ConfigError{Field: "journal_compression", Value: c.JournalCompression, Reason: "unknown codec", cause: err}
	}
	if c.JournalPath != "" && !c.Durable {
		return configError("journal_path", c.JournalPath, "requires durable")
	}
	return nil
}

// Resources returns the resource controller configuration.
func (c Config) Resources() resource.Config {
	return resource.Config{
		MemoryLimitBytes:   c.MemoryLimit,
		IOLimitBytesPerSec: c.JournalIOLimit,
	}
}

// PoolOptions returns the pool options for this config. s receives persisted
// segments of durable chunks; nil discards them.
func (c Config) PoolOptions(rc *resource.Controller, s sink.Sink) func(o *pool.Options) {
	return func(o *pool.Options) {
		o.ChunkSize = c.ChunkSize
		o.InitialChunks = c.InitialChunks
		o.MaxPooled = c.MaxPooledChunks
		o.Resources = rc
		if c.Durable {
			o.Kind = chunk.Durable
		}
		if c.OffHeap {
			o.Backing = chunk.OffHeap
		}
		if s != nil {
			o.Sink = s
		}
	}
}

// AllocatorOptions returns the allocator options for this config. Zero
// timeouts keep the defaults.
func (c Config) AllocatorOptions() []Option {
	opts := []Option{WithMaxAlloc(c.MaxAlloc)}
	if c.AcquireTimeout > 0 {
		opts = append(opts, WithAcquireTimeout(time.Duration(c.AcquireTimeout)))
	}
	if c.PersistTimeout > 0 {
		opts = append(opts, WithPersistTimeout(time.Duration(c.PersistTimeout)))
	}
	return opts
}

// NewPool builds the pool described by c. Durable configs with a journal
// path persist into that journal; the journal is closed with the pool.
func (c Config) NewPool(optFns ...func(o *pool.Options)) (*pool.Pool, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	rc := resource.NewController(c.Resources())

	var s sink.Sink
	if c.Durable && c.JournalPath != "" {
		codec, _ := sink.ParseCompression(c.JournalCompression)
		j, err := sink.OpenJournal(c.JournalPath, func(o *sink.JournalOptions) {
			o.Compression = codec
			o.Resources = rc
		})
		if err != nil {
			return nil, err
		}
		s = j
	}

	p, err := pool.New(append([]func(o *pool.Options){c.PoolOptions(rc, s)}, optFns...)...)
	if err != nil {
		if s != nil {
			_ = s.Close()
		}
		return nil, err
	}
	return p, nil
}
