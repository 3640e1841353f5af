package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/hupe1980/memlab/cell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCells(n, valueSize int, seq int64) []cell.Cell {
	cells := make([]cell.Cell, n)
	for i := range cells {
		key := []byte(fmt.Sprintf("row-%04d", i))
		value := make([]byte, valueSize)
		for j := range value {
			value[j] = byte(i + j)
		}
		cells[i] = cell.NewKeyValue(key, value, seq)
	}
	return cells
}

func TestOverhead(t *testing.T) {
	assert.Equal(t, 0, Overhead(false, 10))
	assert.Equal(t, 12+4, Overhead(true, 1))
	assert.Equal(t, 12+40, Overhead(true, 10))
}

func TestEncode_Plain(t *testing.T) {
	cells := makeCells(3, 16, 5)
	dst := make([]byte, Size(false, cells))

	placements, err := Encode(dst, false, 5, cells)
	require.NoError(t, err)
	require.Len(t, placements, 3)

	off := 0
	for i, p := range placements {
		assert.Equal(t, off, p.Offset, "plain records are packed back to back")
		assert.Equal(t, cells[i].SerializedLen(), p.Length)
		assert.Equal(t, cell.Copy(cells[i]), dst[p.Offset:p.Offset+p.Length])
		off += p.Length
	}
	assert.Equal(t, len(dst), off)
}

func TestEncode_Durable(t *testing.T) {
	cells := makeCells(4, 10, 77)
	dst := make([]byte, Size(true, cells))

	placements, err := Encode(dst, true, 77, cells)
	require.NoError(t, err)

	assert.Equal(t, uint64(77), binary.BigEndian.Uint64(dst[0:]))
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(dst[8:]))

	off := BatchHeaderSize
	for i, p := range placements {
		assert.Equal(t, uint32(cells[i].SerializedLen()), binary.BigEndian.Uint32(dst[off:]))
		off += RecordHeaderSize
		assert.Equal(t, off, p.Offset)
		off += p.Length
	}
	assert.Equal(t, len(dst), off)

	batches, err := ReadAll(dst)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(77), batches[0].SequenceID)
	assert.Equal(t, len(dst), batches[0].Size())
	for i, rec := range batches[0].Records {
		assert.Equal(t, cell.Copy(cells[i]), rec)
	}
}

func TestEncode_DurableBatchFootprint(t *testing.T) {
	// 10 records of 1 KiB each: 10*1024 + 12 + 10*4 bytes.
	cells := make([]cell.Cell, 10)
	for i := range cells {
		cells[i] = cell.NewKeyValue([]byte{byte(i)}, make([]byte, 1024-8-1), 1)
		require.Equal(t, 1024, cells[i].SerializedLen())
	}
	assert.Equal(t, 10292, Size(true, cells))
}

func TestEncode_Errors(t *testing.T) {
	_, err := Encode(make([]byte, 64), true, 0, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	cells := makeCells(2, 32, 1)
	_, err = Encode(make([]byte, Size(true, cells)-1), true, 1, cells)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestEncode_SingleCell(t *testing.T) {
	c := cell.NewKeyValue([]byte("k"), []byte("v"), 12)

	t.Run("plain", func(t *testing.T) {
		dst := make([]byte, c.SerializedLen())
		p, err := Encode(dst, false, c.SequenceID(), []cell.Cell{c})
		require.NoError(t, err)
		assert.Equal(t, []Placement{{Offset: 0, Length: c.SerializedLen()}}, p)
	})

	t.Run("durable is a batch of one", func(t *testing.T) {
		dst := make([]byte, c.SerializedLen()+Overhead(true, 1))
		p, err := Encode(dst, true, c.SequenceID(), []cell.Cell{c})
		require.NoError(t, err)
		require.Len(t, p, 1)
		assert.Equal(t, BatchHeaderSize+RecordHeaderSize, p[0].Offset)

		batches, err := ReadAll(dst)
		require.NoError(t, err)
		require.Len(t, batches, 1)
		assert.Equal(t, int64(12), batches[0].SequenceID)
		assert.Len(t, batches[0].Records, 1)
	})
}

func TestBatchSequenceID(t *testing.T) {
	cells := []cell.Cell{
		cell.NewKeyValue([]byte("a"), nil, 3),
		cell.NewKeyValue([]byte("b"), nil, 9),
		cell.NewKeyValue([]byte("c"), nil, 4),
	}
	assert.Equal(t, int64(9), BatchSequenceID(cells))
	assert.Equal(t, int64(0), BatchSequenceID(nil))
}

func TestBatchReader(t *testing.T) {
	first := makeCells(2, 8, 1)
	second := makeCells(3, 8, 2)

	// Trailing zeroed space mimics the unused tail of a chunk.
	buf := make([]byte, Size(true, first)+Size(true, second)+64)
	_, err := Encode(buf, true, 1, first)
	require.NoError(t, err)
	_, err = Encode(buf[Size(true, first):], true, 2, second)
	require.NoError(t, err)

	r := NewBatchReader(buf)
	b1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, b1.Offset)
	assert.Len(t, b1.Records, 2)

	b2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Size(true, first), b2.Offset)
	assert.Equal(t, int64(2), b2.SequenceID)
	assert.Len(t, b2.Records, 3)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestBatchReader_Corrupt(t *testing.T) {
	cells := makeCells(2, 8, 1)
	buf := make([]byte, Size(true, cells))
	_, err := Encode(buf, true, 1, cells)
	require.NoError(t, err)

	_, err = ReadAll(buf[:len(buf)-3])
	assert.ErrorIs(t, err, ErrCorrupt)
}
