package cell

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// LengthSize is the size of the key and value length prefixes.
	LengthSize = 4
	// TagsLengthSize is the size of the optional tags length prefix.
	TagsLengthSize = 2
	// MaxTagsLen is the largest tags section a record can carry.
	MaxTagsLen = math.MaxUint16
)

var (
	// ErrMalformed is returned when serialized bytes do not describe a record.
	ErrMalformed = errors.New("cell: malformed record")
	// ErrShortBuffer is returned when the destination cannot hold the record.
	ErrShortBuffer = errors.New("cell: short buffer")
)

// Cell is a variable-length, byte-serializable record.
type Cell interface {
	// SerializedLen returns the number of bytes WriteTo produces.
	SerializedLen() int
	// TagsLen returns the length of the tags payload (0 if untagged).
	TagsLen() int
	// SequenceID returns the record's write sequence id.
	SequenceID() int64
	// WriteTo serializes the record into dst and returns the bytes written.
	// dst holds at least SerializedLen bytes.
	WriteTo(dst []byte) int
}

// KeyValue is the concrete record stored by the write buffer.
type KeyValue struct {
	Key   []byte
	Value []byte
	Tags  []byte
	Seq   int64
}

// NewKeyValue creates a record without tags.
func NewKeyValue(key, value []byte, seq int64) *KeyValue {
	return &KeyValue{Key: key, Value: value, Seq: seq}
}

// WithTags attaches tags to the record.
func (kv *KeyValue) WithTags(tags []byte) *KeyValue {
	kv.Tags = tags
	return kv
}

// SerializedLen implements Cell.
func (kv *KeyValue) SerializedLen() int {
	n := 2*LengthSize + len(kv.Key) + len(kv.Value)
	if len(kv.Tags) > 0 {
		n += TagsLengthSize + len(kv.Tags)
	}
	return n
}

// TagsLen implements Cell.
func (kv *KeyValue) TagsLen() int { return len(kv.Tags) }

// SequenceID implements Cell.
func (kv *KeyValue) SequenceID() int64 { return kv.Seq }

// WriteTo implements Cell.
func (kv *KeyValue) WriteTo(dst []byte) int {
	binary.BigEndian.PutUint32(dst[0:], uint32(len(kv.Key)))
	binary.BigEndian.PutUint32(dst[LengthSize:], uint32(len(kv.Value)))
	off := 2 * LengthSize
	off += copy(dst[off:], kv.Key)
	off += copy(dst[off:], kv.Value)
	if len(kv.Tags) > 0 {
		binary.BigEndian.PutUint16(dst[off:], uint16(len(kv.Tags)))
		off += TagsLengthSize
		off += copy(dst[off:], kv.Tags)
	}
	return off
}

// Validate checks that the record can be serialized.
func (kv *KeyValue) Validate() error {
	if len(kv.Key) == 0 {
		return fmt.Errorf("%w: empty key", ErrMalformed)
	}
	if uint64(len(kv.Key)) > math.MaxUint32 || uint64(len(kv.Value)) > math.MaxUint32 {
		return fmt.Errorf("%w: key or value too large", ErrMalformed)
	}
	if len(kv.Tags) > MaxTagsLen {
		return fmt.Errorf("%w: tags too large (%d > %d)", ErrMalformed, len(kv.Tags), MaxTagsLen)
	}
	return nil
}

// Parse decodes a serialized record. The returned KeyValue aliases b.
func Parse(b []byte, seq int64) (KeyValue, error) {
	kv := KeyValue{Seq: seq}
	key, value, tags, err := split(b)
	if err != nil {
		return kv, err
	}
	kv.Key, kv.Value, kv.Tags = key, value, tags
	return kv, nil
}

// Copy serializes c into a freshly allocated buffer.
func Copy(c Cell) []byte {
	buf := make([]byte, c.SerializedLen())
	n := c.WriteTo(buf)
	return buf[:n]
}

func split(b []byte) (key, value, tags []byte, err error) {
	if len(b) < 2*LengthSize {
		return nil, nil, nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	klen := uint64(binary.BigEndian.Uint32(b[0:]))
	vlen := uint64(binary.BigEndian.Uint32(b[LengthSize:]))
	end := uint64(2*LengthSize) + klen + vlen
	if end > uint64(len(b)) {
		return nil, nil, nil, fmt.Errorf("%w: lengths exceed buffer", ErrMalformed)
	}
	off := 2 * LengthSize
	key = b[off : off+int(klen)]
	off += int(klen)
	value = b[off : off+int(vlen)]
	off += int(vlen)

	rest := b[off:]
	switch {
	case len(rest) == 0:
		return key, value, nil, nil
	case len(rest) < TagsLengthSize:
		return nil, nil, nil, fmt.Errorf("%w: truncated tags length", ErrMalformed)
	}
	tlen := int(binary.BigEndian.Uint16(rest))
	if len(rest) != TagsLengthSize+tlen {
		return nil, nil, nil, fmt.Errorf("%w: tags length mismatch", ErrMalformed)
	}
	return key, value, rest[TagsLengthSize:], nil
}
