// Package chunk implements the fixed-capacity byte arenas that allocators
// carve records out of.
//
// # Allocation
//
// A chunk hands out disjoint ranges by advancing an atomic cursor with
// compare-and-swap. A request that does not fit reports full without touching
// the cursor, so a full chunk stays full until its pool recycles it. Granted
// ranges are never granted again while the chunk is checked out.
//
// # Kinds
//
// Plain chunks store raw record encodings. Durable chunks additionally frame
// every allocation as a replayable batch (see package codec), reserve the
// framing bytes up front, and track which granted ranges writers have
// finished so the committed prefix can be persisted.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/memlab/codec"
	"github.com/hupe1980/memlab/internal/mem"
	"github.com/hupe1980/memlab/internal/mmap"
	"github.com/hupe1980/memlab/sink"
)

// Kind is the chunk variant. Encoding dispatches on it.
type Kind uint8

const (
	// Plain chunks hold raw concatenated record encodings.
	Plain Kind = iota
	// Durable chunks hold self-describing batches.
	Durable
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Durable:
		return "durable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Backing selects where chunk memory lives.
type Backing uint8

const (
	// Heap chunks are Go byte slices.
	Heap Backing = iota
	// OffHeap chunks are anonymous mappings invisible to the garbage collector.
	OffHeap
)

func (b Backing) String() string {
	if b == OffHeap {
		return "off-heap"
	}
	return "heap"
}

// ErrInvalidSize is returned for non-positive chunk sizes.
var ErrInvalidSize = errors.New("chunk: invalid size")

// PersistFunc receives the newly committed range of a durable chunk. drain
// asks the receiver to make everything handed over so far durable.
type PersistFunc func(ctx context.Context, seg sink.Segment, drain bool) error

// Options configures a chunk.
type Options struct {
	Kind    Kind
	Backing Backing
	// Pooled marks chunks owned by a pool's reusable set.
	Pooled bool
	// Persist is invoked by Persist on durable chunks. Optional.
	Persist PersistFunc
}

// Chunk is a fixed-capacity byte arena with a lock-free bump cursor.
type Chunk struct {
	id      uint32
	kind    Kind
	pooled  bool
	data    []byte
	mapping *mmap.Mapping // nil for heap chunks

	cursor atomic.Int64 // MUST be atomic - advanced concurrently without locks
	allocs atomic.Int64
	owner  atomic.Pointer[string]

	// Durable only.
	commitMu  sync.Mutex
	committed int64           // end of the contiguous fully written prefix
	completed map[int64]int64 // finished ranges beyond committed: start -> end

	persistMu sync.Mutex
	persisted int64
	persist   PersistFunc
}

// New creates a chunk of size bytes.
func New(id uint32, size int, optFns ...func(o *Options)) (*Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Chunk{
		id:      id,
		kind:    opts.Kind,
		pooled:  opts.Pooled,
		persist: opts.Persist,
	}

	switch opts.Backing {
	case OffHeap:
		m, err := mmap.MapAnon(size)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: map off-heap memory: %w", id, err)
		}
		_ = m.Advise(mmap.AccessSequential)
		c.mapping = m
		c.data = m.Bytes()
	default:
		c.data = mem.AllocAligned(size)
	}

	if c.kind == Durable {
		c.completed = make(map[int64]int64)
	}
	return c, nil
}

// ID returns the chunk id, unique within its pool.
func (c *Chunk) ID() uint32 { return c.id }

// Kind returns the chunk variant.
func (c *Chunk) Kind() Kind { return c.kind }

// Durable reports whether the chunk uses the durable layout.
func (c *Chunk) Durable() bool { return c.kind == Durable }

// Pooled reports whether the chunk returns to its pool's free list on release.
func (c *Chunk) Pooled() bool { return c.pooled }

// IsOffHeap reports whether the chunk is backed by an anonymous mapping.
func (c *Chunk) IsOffHeap() bool { return c.mapping != nil }

// Capacity returns the chunk size in bytes.
func (c *Chunk) Capacity() int { return len(c.data) }

// Used returns the bytes granted so far.
func (c *Chunk) Used() int { return int(c.cursor.Load()) }

// Free returns the bytes still available.
func (c *Chunk) Free() int { return len(c.data) - c.Used() }

// Allocs returns the number of successful allocations.
func (c *Chunk) Allocs() int64 { return c.allocs.Load() }

// Owner returns the region currently holding the chunk.
func (c *Chunk) Owner() string {
	if p := c.owner.Load(); p != nil {
		return *p
	}
	return ""
}

// SetOwner records the region the chunk is handed to.
func (c *Chunk) SetOwner(owner string) { c.owner.Store(&owner) }

// Bytes returns the whole backing buffer.
func (c *Chunk) Bytes() []byte { return c.data }

// Slice returns the n bytes at off, capped so appends cannot spill over.
func (c *Chunk) Slice(off, n int) []byte {
	return c.data[off : off+n : off+n]
}

// Reserve returns the bytes an allocation of size record bytes spanning
// count records occupies in this chunk, framing included.
func (c *Chunk) Reserve(size, count int) int {
	return size + codec.Overhead(c.kind == Durable, count)
}

// Alloc reserves room for size record bytes spanning count records and
// returns the offset of the reserved range. It reports false, leaving the
// chunk untouched, when the range does not fit.
func (c *Chunk) Alloc(size, count int) (int, bool) {
	need := int64(c.Reserve(size, count))
	limit := int64(len(c.data))

	for {
		old := c.cursor.Load()
		if old+need > limit {
			return -1, false
		}
		if c.cursor.CompareAndSwap(old, old+need) {
			c.allocs.Add(1)
			return int(old), true
		}
	}
}

// Commit marks the n bytes at off as fully written. Plain chunks ignore it.
// Writers may commit out of order; only the contiguous prefix is persisted.
func (c *Chunk) Commit(off, n int) {
	if c.kind != Durable || n <= 0 {
		return
	}

	start, end := int64(off), int64(off+n)

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if start != c.committed {
		c.completed[start] = end
		return
	}

	c.committed = end
	for {
		next, ok := c.completed[c.committed]
		if !ok {
			return
		}
		delete(c.completed, c.committed)
		c.committed = next
	}
}

// Committed returns the end of the contiguous fully written prefix.
func (c *Chunk) Committed() int64 {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	return c.committed
}

// Persisted returns the offset up to which data was handed to the persist hook.
func (c *Chunk) Persisted() int64 {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	return c.persisted
}

// Persist forwards the checkpoint signal. Plain chunks do nothing. Durable
// chunks hand the committed but not yet persisted range to the persist hook
// and advance the persisted mark once it succeeds. The chunk performs no I/O
// itself. Calls on one chunk are serialized.
func (c *Chunk) Persist(ctx context.Context, drain bool) error {
	if c.kind != Durable {
		return nil
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	end := c.Committed()
	if end == c.persisted && !drain {
		return nil
	}
	if c.persist == nil {
		c.persisted = end
		return nil
	}

	seg := sink.Segment{
		Owner:   c.Owner(),
		ChunkID: c.id,
		Offset:  c.persisted,
		Data:    c.data[c.persisted:end:end],
	}
	if err := c.persist(ctx, seg, drain); err != nil {
		return fmt.Errorf("chunk %d: persist [%d,%d): %w", c.id, seg.Offset, end, err)
	}
	c.persisted = end
	return nil
}

// Reset rewinds the chunk for reuse. Only the pool calls it, once no holder
// of a granted range remains. Durable chunks are zeroed up to the old cursor
// so batch readers see the end of written data.
func (c *Chunk) Reset() {
	used := min(c.cursor.Swap(0), int64(len(c.data)))
	c.allocs.Store(0)
	c.owner.Store(nil)

	if c.kind == Durable {
		clear(c.data[:used])

		c.persistMu.Lock()
		c.commitMu.Lock()
		c.committed = 0
		clear(c.completed)
		c.persisted = 0
		c.commitMu.Unlock()
		c.persistMu.Unlock()
	}
}

// Close releases off-heap memory. The chunk must not be used afterwards.
func (c *Chunk) Close() error {
	if c.mapping == nil {
		return nil
	}
	return c.mapping.Close()
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk{id=%d kind=%s used=%d/%d}", c.id, c.kind, c.Used(), len(c.data))
}
