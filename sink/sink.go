// Package sink receives the committed bytes of durable chunks.
//
// A durable chunk holds self-describing record batches (see package codec).
// When its allocator persists, the chunk hands the newly committed byte range
// to a Sink as a Segment. Segments of one chunk arrive in offset order and
// never overlap. Sync is called when the caller asked for a drain.
//
// Implementations:
//
//   - Discard drops everything (plain pools, tests).
//   - Journal appends checksummed frames to a local file.
//   - Blob batches frames and uploads one object per Sync to a blobstore.Store.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/memlab/internal/compress"
)

// ErrClosed is returned when writing to a closed sink.
var ErrClosed = errors.New("sink: closed")

// Segment is a contiguous committed range of one chunk.
type Segment struct {
	// Owner is the region that held the chunk when the range was persisted.
	Owner string
	// ChunkID identifies the chunk within its pool.
	ChunkID uint32
	// Offset is the position of Data inside the chunk.
	Offset int64
	// Data aliases chunk memory; sinks must copy what they keep.
	Data []byte
}

// End returns the chunk offset just past the segment.
func (s Segment) End() int64 { return s.Offset + int64(len(s.Data)) }

func (s Segment) String() string {
	return fmt.Sprintf("segment{owner=%q chunk=%d off=%d len=%d}", s.Owner, s.ChunkID, s.Offset, len(s.Data))
}

// Sink is a persist target for durable chunks. Implementations must be safe
// for concurrent use.
type Sink interface {
	Write(ctx context.Context, seg Segment) error
	Sync(ctx context.Context) error
	Close() error
}

// Compression selects the block codec applied to frame payloads.
type Compression = compress.Codec

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(name string) (Compression, error) {
	return compress.ParseCodec(name)
}

// Discard accepts and drops every segment.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(context.Context, Segment) error { return nil }
func (discard) Sync(context.Context) error           { return nil }
func (discard) Close() error                         { return nil }
