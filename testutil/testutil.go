package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/memlab/cell"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	b := make([]byte, n)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(b)
	return b
}

// KeyValue returns an untagged record with random key and value bytes.
func (r *RNG) KeyValue(keyLen, valueLen int, seq int64) *cell.KeyValue {
	return cell.NewKeyValue(r.Bytes(keyLen), r.Bytes(valueLen), seq)
}

// TaggedKeyValue returns a record carrying tagsLen random tag bytes.
func (r *RNG) TaggedKeyValue(keyLen, valueLen, tagsLen int, seq int64) *cell.KeyValue {
	return r.KeyValue(keyLen, valueLen, seq).WithTags(r.Bytes(tagsLen))
}

// Batch returns n records with consecutive sequence ids starting at firstSeq.
func (r *RNG) Batch(n, keyLen, valueLen int, firstSeq int64) []cell.Cell {
	cells := make([]cell.Cell, n)
	for i := range cells {
		cells[i] = r.KeyValue(keyLen, valueLen, firstSeq+int64(i))
	}
	return cells
}

// MixedBatch returns n records with value sizes drawn from [minValue, maxValue].
func (r *RNG) MixedBatch(n, keyLen, minValue, maxValue int, firstSeq int64) []cell.Cell {
	cells := make([]cell.Cell, n)
	for i := range cells {
		size := minValue + r.Intn(maxValue-minValue+1)
		cells[i] = r.KeyValue(keyLen, size, firstSeq+int64(i))
	}
	return cells
}

// SizedCell returns an untagged record whose serialized form is exactly size
// bytes. size must be at least 2*cell.LengthSize + 1.
func SizedCell(size int, seq int64) *cell.KeyValue {
	valueLen := size - 2*cell.LengthSize - 1
	if valueLen < 0 {
		panic("testutil: cell size too small")
	}
	value := make([]byte, valueLen)
	for i := range value {
		value[i] = byte(seq + int64(i))
	}
	return cell.NewKeyValue([]byte{byte(seq)}, value, seq)
}

// SizedBatch returns n records of exactly size serialized bytes each.
func SizedBatch(n, size int, firstSeq int64) []cell.Cell {
	cells := make([]cell.Cell, n)
	for i := range cells {
		cells[i] = SizedCell(size, firstSeq+int64(i))
	}
	return cells
}
