// Package compress implements the block codecs used for journal frames.
package compress

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a block compression algorithm.
type Codec uint8

const (
	// None stores blocks verbatim.
	None Codec = 0
	// LZ4 is fast block compression, suited to hot write paths.
	LZ4 Codec = 1
	// ZSTD trades speed for a better ratio.
	ZSTD Codec = 2
)

var (
	// ErrUnknownCodec is returned for codec ids this package does not know.
	ErrUnknownCodec = errors.New("compress: unknown codec")
	// ErrSizeMismatch is returned when a block does not inflate to its recorded size.
	ErrSizeMismatch = errors.New("compress: decompressed size mismatch")
)

// minGain is the ratio above which compressed output is discarded.
const minGain = 0.9

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a configuration name to a Codec. The empty string is None.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress encodes data with c. It returns the codec actually applied: None
// when c is None, data is empty, or compression saves less than 10%.
func Compress(c Codec, data []byte) (Codec, []byte, error) {
	if c == None || len(data) == 0 {
		return None, data, nil
	}

	var out []byte
	switch c {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return None, nil, err
		}
		out = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return None, nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint8(c))
	}

	if len(out) == 0 || float64(len(out)) > float64(len(data))*minGain {
		return None, data, nil
	}
	return c, out, nil
}

// Decompress inflates data encoded with c into a block of rawLen bytes.
func Decompress(c Codec, data []byte, rawLen int) ([]byte, error) {
	switch c {
	case None:
		if len(data) != rawLen {
			return nil, ErrSizeMismatch
		}
		return data, nil
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if n != rawLen {
			return nil, ErrSizeMismatch
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if len(out) != rawLen {
			return nil, ErrSizeMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint8(c))
	}
}
