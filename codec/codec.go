// Package codec serializes cells into chunk memory.
//
// Two layouts exist, selected by the chunk kind:
//
//   - Plain: the raw concatenated record encodings, no framing.
//   - Durable: self-describing batches that a downstream consumer can replay.
//
// Durable batch layout (big-endian):
//
//	+------------------+-----------------+----------------------------------------+
//	| sequenceID (8)   | recordCount (4) | { recordLen (4) | record bytes } x N   |
//	+------------------+-----------------+----------------------------------------+
//
// The header is written first so a reader always learns the sequence id and
// the record count before it touches any record.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/memlab/cell"
	"github.com/hupe1980/memlab/internal/conv"
)

const (
	// BatchHeaderSize is the size of a durable batch header: sequence id + count.
	BatchHeaderSize = 8 + 4
	// RecordHeaderSize is the per-record length prefix in durable batches.
	RecordHeaderSize = 4
)

var (
	// ErrShortBuffer is returned when the destination is smaller than the batch.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrEmptyBatch is returned when encoding zero cells.
	ErrEmptyBatch = errors.New("codec: empty batch")
)

// Placement locates one encoded record relative to the start of the
// destination slice. Header bytes are not part of the placement.
type Placement struct {
	Offset int
	Length int
}

// Overhead returns the framing bytes needed for n records.
func Overhead(durable bool, n int) int {
	if !durable {
		return 0
	}
	return BatchHeaderSize + RecordHeaderSize*n
}

// Size returns the total encoded size of cells, framing included.
func Size(durable bool, cells []cell.Cell) int {
	n := 0
	for _, c := range cells {
		n += c.SerializedLen()
	}
	return n + Overhead(durable, len(cells))
}

// Encode writes cells into dst using the layout selected by durable.
//
// dst is the exact range granted by a chunk. seq is the batch sequence id
// written to the durable header; plain layouts ignore it.
func Encode(dst []byte, durable bool, seq int64, cells []cell.Cell) ([]Placement, error) {
	if len(cells) == 0 {
		return nil, ErrEmptyBatch
	}
	if need := Size(durable, cells); len(dst) < need {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, need, len(dst))
	}

	placements := make([]Placement, len(cells))
	off := 0
	if durable {
		count, err := conv.IntToUint32(len(cells))
		if err != nil {
			return nil, fmt.Errorf("codec: record count: %w", err)
		}
		binary.BigEndian.PutUint64(dst[off:], uint64(seq))
		binary.BigEndian.PutUint32(dst[off+8:], count)
		off += BatchHeaderSize
	}

	for i, c := range cells {
		size := c.SerializedLen()
		if durable {
			binary.BigEndian.PutUint32(dst[off:], uint32(size))
			off += RecordHeaderSize
		}
		if n := c.WriteTo(dst[off : off+size]); n != size {
			return nil, fmt.Errorf("codec: cell %d wrote %d bytes, declared %d", i, n, size)
		}
		placements[i] = Placement{Offset: off, Length: size}
		off += size
	}
	return placements, nil
}

// BatchSequenceID returns the highest sequence id among cells.
func BatchSequenceID(cells []cell.Cell) int64 {
	var seq int64
	for i, c := range cells {
		if s := c.SequenceID(); i == 0 || s > seq {
			seq = s
		}
	}
	return seq
}
