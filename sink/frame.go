package sink

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/memlab/internal/compress"
	"github.com/hupe1980/memlab/internal/conv"
)

// Frame layout (big-endian):
//
//	[magic:4][chunkID:4][offset:8][rawLen:4][storedLen:4][codec:1][xxhash64:8][payload:storedLen]
//
// The checksum covers the first 25 header bytes and the stored payload.
const (
	frameMagic      uint32 = 0x4d4c5347 // "MLSG"
	frameHeaderSize        = 4 + 4 + 8 + 4 + 4 + 1 + 8
	checksumOffset         = frameHeaderSize - 8
)

var (
	// ErrCorrupt is returned when a complete frame fails validation.
	ErrCorrupt = errors.New("sink: corrupt frame")
	// errTorn marks a frame cut short by the end of the input.
	errTorn = errors.New("sink: torn frame")
)

// AppendFrame encodes seg as one frame appended to dst.
func AppendFrame(dst []byte, seg Segment, c Compression) ([]byte, error) {
	used, payload, err := compress.Compress(c, seg.Data)
	if err != nil {
		return nil, err
	}

	rawLen, err := conv.IntToUint32(len(seg.Data))
	if err != nil {
		return nil, fmt.Errorf("sink: segment length: %w", err)
	}
	storedLen, err := conv.IntToUint32(len(payload))
	if err != nil {
		return nil, fmt.Errorf("sink: payload length: %w", err)
	}

	start := len(dst)
	dst = append(dst, make([]byte, frameHeaderSize)...)
	h := dst[start:]
	binary.BigEndian.PutUint32(h[0:], frameMagic)
	binary.BigEndian.PutUint32(h[4:], seg.ChunkID)
	binary.BigEndian.PutUint64(h[8:], uint64(seg.Offset))
	binary.BigEndian.PutUint32(h[16:], rawLen)
	binary.BigEndian.PutUint32(h[20:], storedLen)
	h[24] = byte(used)
	binary.BigEndian.PutUint64(h[checksumOffset:], frameChecksum(h[:checksumOffset], payload))

	return append(dst, payload...), nil
}

// decodeFrame decodes the frame at the start of b and returns its total size.
func decodeFrame(b []byte) (Segment, int, error) {
	if len(b) < frameHeaderSize {
		return Segment{}, 0, errTorn
	}
	if binary.BigEndian.Uint32(b[0:]) != frameMagic {
		return Segment{}, 0, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	rawLen, err := conv.Uint32ToInt(binary.BigEndian.Uint32(b[16:]))
	if err != nil {
		return Segment{}, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	storedLen, err := conv.Uint32ToInt(binary.BigEndian.Uint32(b[20:]))
	if err != nil {
		return Segment{}, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	size := frameHeaderSize + storedLen
	if len(b) < size {
		return Segment{}, 0, errTorn
	}

	payload := b[frameHeaderSize:size]
	if frameChecksum(b[:checksumOffset], payload) != binary.BigEndian.Uint64(b[checksumOffset:]) {
		return Segment{}, 0, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	data, err := compress.Decompress(compress.Codec(b[24]), payload, rawLen)
	if err != nil {
		return Segment{}, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return Segment{
		ChunkID: binary.BigEndian.Uint32(b[4:]),
		Offset:  int64(binary.BigEndian.Uint64(b[8:])),
		Data:    data,
	}, size, nil
}

// DecodeFrames decodes every frame in b. A trailing incomplete frame is
// ignored; valid is the length of the well-formed prefix.
func DecodeFrames(b []byte) (segs []Segment, valid int, err error) {
	for valid < len(b) {
		seg, n, err := decodeFrame(b[valid:])
		if errors.Is(err, errTorn) {
			return segs, valid, nil
		}
		if err != nil {
			return segs, valid, fmt.Errorf("frame at %d: %w", valid, err)
		}
		segs = append(segs, seg)
		valid += n
	}
	return segs, valid, nil
}

func frameChecksum(header, payload []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(header)
	_, _ = d.Write(payload)
	return d.Sum64()
}
