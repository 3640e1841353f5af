package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrCorrupt is returned when a durable batch cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt batch")

// Batch is a decoded durable batch. Records alias the source bytes.
type Batch struct {
	Offset     int
	SequenceID int64
	Records    [][]byte
}

// Size returns the encoded size of the batch.
func (b Batch) Size() int {
	n := BatchHeaderSize
	for _, r := range b.Records {
		n += RecordHeaderSize + len(r)
	}
	return n
}

// BatchReader iterates the durable batches stored in a byte range.
//
// Chunk memory is zeroed before use, so a header with a zero record count
// marks the end of written data.
type BatchReader struct {
	data []byte
	off  int
}

// NewBatchReader creates a reader over data.
func NewBatchReader(data []byte) *BatchReader {
	return &BatchReader{data: data}
}

// Offset returns the position of the next batch.
func (r *BatchReader) Offset() int { return r.off }

// Next decodes the next batch. It returns io.EOF at the end of written data.
func (r *BatchReader) Next() (Batch, error) {
	rest := r.data[r.off:]
	if len(rest) < BatchHeaderSize {
		return Batch{}, io.EOF
	}

	seq := int64(binary.BigEndian.Uint64(rest))
	count := int(binary.BigEndian.Uint32(rest[8:]))
	if count == 0 {
		return Batch{}, io.EOF
	}

	b := Batch{Offset: r.off, SequenceID: seq, Records: make([][]byte, 0, count)}
	pos := BatchHeaderSize
	for i := 0; i < count; i++ {
		if len(rest)-pos < RecordHeaderSize {
			return Batch{}, fmt.Errorf("%w: truncated record header %d at offset %d", ErrCorrupt, i, r.off)
		}
		size := int(binary.BigEndian.Uint32(rest[pos:]))
		pos += RecordHeaderSize
		if size < 0 || len(rest)-pos < size {
			return Batch{}, fmt.Errorf("%w: record %d overruns range at offset %d", ErrCorrupt, i, r.off)
		}
		b.Records = append(b.Records, rest[pos:pos+size:pos+size])
		pos += size
	}

	r.off += pos
	return b, nil
}

// ReadAll decodes every batch in data.
func ReadAll(data []byte) ([]Batch, error) {
	r := NewBatchReader(data)
	var out []Batch
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}
