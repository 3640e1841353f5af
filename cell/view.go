package cell

import "fmt"

// View is a zero-copy record backed by chunk memory.
//
// The buffer is shared with the chunk and not owned by the view. A view is
// valid only while the owning chunk has not been returned to its pool.
type View struct {
	buf     []byte
	chunkID uint32
	offset  int
	seq     int64
	noTags  bool
}

// NewView wraps b (the serialized record bytes) located at offset in chunk
// chunkID.
func NewView(b []byte, chunkID uint32, offset int, seq int64, tagsLen int) View {
	return View{
		buf:     b,
		chunkID: chunkID,
		offset:  offset,
		seq:     seq,
		noTags:  tagsLen == 0,
	}
}

// IsZero reports whether v does not reference any memory.
func (v View) IsZero() bool { return v.buf == nil }

// ChunkID returns the id of the chunk holding the record.
func (v View) ChunkID() uint32 { return v.chunkID }

// Offset returns the record's offset inside its chunk.
func (v View) Offset() int { return v.offset }

// Len returns the record's serialized length.
func (v View) Len() int { return len(v.buf) }

// Bytes returns the serialized record. The slice aliases chunk memory.
func (v View) Bytes() []byte { return v.buf }

// Key returns the record key.
func (v View) Key() []byte {
	key, _, _, _ := split(v.buf)
	return key
}

// Value returns the record value.
func (v View) Value() []byte {
	_, value, _, _ := split(v.buf)
	return value
}

// Tags returns the tags payload, or nil if the record has none.
func (v View) Tags() []byte {
	if v.noTags {
		return nil
	}
	_, _, tags, _ := split(v.buf)
	return tags
}

// SerializedLen implements Cell.
func (v View) SerializedLen() int { return len(v.buf) }

// TagsLen implements Cell.
func (v View) TagsLen() int {
	if v.noTags {
		return 0
	}
	return len(v.Tags())
}

// SequenceID implements Cell.
func (v View) SequenceID() int64 { return v.seq }

// WriteTo implements Cell.
func (v View) WriteTo(dst []byte) int { return copy(dst, v.buf) }

// Overlaps reports whether v and o share any byte of the same chunk.
func (v View) Overlaps(o View) bool {
	if v.chunkID != o.chunkID {
		return false
	}
	return v.offset < o.offset+len(o.buf) && o.offset < v.offset+len(v.buf)
}

func (v View) String() string {
	return fmt.Sprintf("View{chunk: %d, offset: %d, len: %d, seq: %d}", v.chunkID, v.offset, len(v.buf), v.seq)
}
