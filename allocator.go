package memlab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/time/rate"

	"github.com/hupe1980/memlab/cell"
	"github.com/hupe1980/memlab/chunk"
	"github.com/hupe1980/memlab/codec"
	"github.com/hupe1980/memlab/pool"
)

// NoSequenceID passed to Persist skips the sequence id wait.
const NoSequenceID int64 = -1

// ChunkPool issues chunks by id and takes them back as id sets.
// Implementations must be safe for concurrent use by many allocators.
type ChunkPool interface {
	// ChunkSize returns the capacity of every chunk.
	ChunkSize() int
	// Acquire checks out a chunk for owner. Failures are transient and must
	// not block indefinitely.
	Acquire(ctx context.Context, owner string) (*chunk.Chunk, error)
	// Lookup returns a chunk by id.
	Lookup(id uint32) (*chunk.Chunk, bool)
	// Release returns chunks. Unknown or already released ids are ignored.
	Release(ids *roaring.Bitmap)
}

// State is the allocator lifecycle stage.
type State int32

const (
	// StateOpen accepts allocations.
	StateOpen State = iota
	// StateClosing rejects allocations; chunks are kept until the last scanner closes.
	StateClosing
	// StateReclaimed means every owned chunk was returned to the pool.
	StateReclaimed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReclaimed:
		return "reclaimed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// refs packs the closed flag, the in-flight writer count and the open
// scanner count into one word so close and hold transitions are decided by a
// single atomic operation. Chunks are reclaimed when the word drops to
// exactly closedBit.
const (
	closedBit   int64 = 1 << 62
	writerUnit  int64 = 1 << 31
	scannerMask int64 = writerUnit - 1
)

// Stats is a point-in-time view of one allocator.
type Stats struct {
	Region          string
	State           State
	Scanners        int32
	OwnedChunks     int
	Allocations     uint64
	Records         uint64
	AllocatedBytes  uint64
	RetiredChunks   uint64
	WastedBytes     uint64
	TooLarge        uint64
	PoolFailures    uint64
	PendingSequence int
}

// Allocator is the per-write-buffer arena. Records are bump-allocated from the
// current chunk; full chunks are retired and replaced from the pool. When the
// allocator is closed and no scanner is open, every chunk it drew is returned
// to the pool exactly once.
type Allocator struct {
	pool    ChunkPool
	opts    options
	log     *Logger
	metrics MetricsObserver

	current   atomic.Pointer[chunk.Chunk]
	installMu sync.Mutex // guards chunk installation; only ever try-locked

	ownedMu sync.Mutex
	owned   *roaring.Bitmap

	refs      atomic.Int64 // closedBit | writers<<31 | scanners
	reclaimed atomic.Bool

	pending     *pendingSet
	exhaustWarn rate.Sometimes

	allocs       atomic.Uint64
	records      atomic.Uint64
	bytes        atomic.Uint64
	retired      atomic.Uint64
	wasted       atomic.Uint64
	tooLarge     atomic.Uint64
	poolFailures atomic.Uint64
}

// New creates an allocator drawing chunks from pool.
func New(pool ChunkPool, optFns ...Option) (*Allocator, error) {
	if pool == nil {
		return nil, configError("pool", nil, "must not be nil")
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(pool.ChunkSize()); err != nil {
		return nil, err
	}

	log := opts.logger
	if opts.region != "" {
		log = log.WithRegion(opts.region)
	}

	return &Allocator{
		pool:        pool,
		opts:        opts,
		log:         log,
		metrics:     opts.metrics,
		owned:       roaring.New(),
		pending:     newPendingSet(),
		exhaustWarn: rate.Sometimes{Interval: time.Second},
	}, nil
}

// Region returns the owner hint passed to the pool.
func (a *Allocator) Region() string { return a.opts.region }

// MaxAlloc returns the largest record the allocator accepts.
func (a *Allocator) MaxAlloc() int { return a.opts.maxAlloc }

// Allocate copies c into the current chunk and returns a view of the copy.
// Records larger than the max allocation fail with ErrTooLarge without
// touching any chunk. On durable chunks the record is framed as a batch of one.
func (a *Allocator) Allocate(ctx context.Context, c cell.Cell) (cell.View, error) {
	views, err := a.allocate(ctx, []cell.Cell{c})
	if err != nil {
		return cell.View{}, err
	}
	return views[0], nil
}

// AllocateBatch copies cells contiguously into one chunk, batch header first
// on durable chunks. A batch is never split: if it does not fit, the chunk is
// retired and the whole batch is retried on a fresh one. With asyncPersist
// the batch's highest sequence id is staged for Persist once it is written.
// A batch whose records together exceed the max allocation fails with
// ErrTooLarge without touching any chunk.
func (a *Allocator) AllocateBatch(ctx context.Context, cells []cell.Cell, asyncPersist bool) ([]cell.View, error) {
	if len(cells) == 0 {
		return nil, nil
	}

	views, err := a.allocate(ctx, cells)
	if err != nil {
		return nil, err
	}
	if asyncPersist {
		a.pending.add(codec.BatchSequenceID(cells))
	}
	return views, nil
}

func (a *Allocator) allocate(ctx context.Context, cells []cell.Cell) ([]cell.View, error) {
	total := 0
	for _, c := range cells {
		size := c.SerializedLen()
		if size > a.opts.maxAlloc {
			return nil, a.rejectTooLarge(size)
		}
		total += size
	}
	if total > a.opts.maxAlloc {
		return nil, a.rejectTooLarge(total)
	}

	// The hold keeps the owned chunks from going back to the pool while this
	// writer may still copy into one of them.
	if !a.hold(writerUnit, false) {
		return nil, ErrClosed
	}
	defer a.unhold(writerUnit)

	var retry *retrier
	for {
		if a.refs.Load()&closedBit != 0 {
			return nil, ErrClosed
		}

		c, err := a.getOrMakeChunk(ctx)
		if err != nil {
			if errors.Is(err, pool.ErrClosed) {
				return nil, err
			}
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			if retry == nil {
				retry = a.newRetrier()
			}
			if err := retry.wait(ctx, err); err != nil {
				return nil, err
			}
			continue
		}
		if c == nil {
			// Another writer is installing a chunk.
			if retry == nil {
				retry = a.newRetrier()
			}
			if err := retry.yield(ctx); err != nil {
				return nil, err
			}
			continue
		}

		need := c.Reserve(total, len(cells))
		if need > c.Capacity() {
			return nil, a.rejectTooLarge(need)
		}

		off, ok := c.Alloc(total, len(cells))
		if !ok {
			a.retire(c)
			continue
		}
		return a.write(c, off, need, cells)
	}
}

func (a *Allocator) rejectTooLarge(size int) error {
	a.tooLarge.Add(1)
	a.metrics.OnTooLarge(size)
	return fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, size, a.opts.maxAlloc)
}

// write encodes cells into the range granted at off. The range is committed
// even if encoding fails so the durable prefix never stalls behind it.
func (a *Allocator) write(c *chunk.Chunk, off, n int, cells []cell.Cell) ([]cell.View, error) {
	dst := c.Slice(off, n)
	placements, err := codec.Encode(dst, c.Durable(), codec.BatchSequenceID(cells), cells)
	c.Commit(off, n)
	if err != nil {
		return nil, fmt.Errorf("memlab: encode into chunk %d: %w", c.ID(), err)
	}

	views := make([]cell.View, len(cells))
	for i, p := range placements {
		views[i] = cell.NewView(
			dst[p.Offset:p.Offset+p.Length:p.Offset+p.Length],
			c.ID(),
			off+p.Offset,
			cells[i].SequenceID(),
			cells[i].TagsLen(),
		)
	}

	a.allocs.Add(1)
	a.records.Add(uint64(len(cells)))
	a.bytes.Add(uint64(n))
	a.metrics.OnAllocate(n, len(cells))
	return views, nil
}

// getOrMakeChunk returns the current chunk, installing a fresh one from the
// pool if there is none. It returns (nil, nil) when another goroutine holds
// the installation lock.
func (a *Allocator) getOrMakeChunk(ctx context.Context) (*chunk.Chunk, error) {
	if c := a.current.Load(); c != nil {
		return c, nil
	}

	if !a.installMu.TryLock() {
		return nil, nil
	}
	defer a.installMu.Unlock()

	if c := a.current.Load(); c != nil {
		return c, nil
	}

	c, err := a.pool.Acquire(ctx, a.opts.region)
	if err != nil {
		return nil, err
	}

	a.ownedMu.Lock()
	a.owned.Add(c.ID())
	a.ownedMu.Unlock()

	a.current.Store(c)

	a.metrics.OnChunkAcquired()
	a.log.LogChunkInstalled(ctx, c.ID(), c.Pooled())
	return c, nil
}

// retire detaches a full chunk. Only the first caller for a given chunk wins;
// the chunk stays owned and readable until reclaim.
func (a *Allocator) retire(c *chunk.Chunk) {
	if !a.current.CompareAndSwap(c, nil) {
		return
	}
	wasted := c.Free()
	a.retired.Add(1)
	a.wasted.Add(uint64(wasted))
	a.metrics.OnChunkRetired(wasted)
	a.log.LogChunkRetired(context.Background(), c.ID(), wasted)
}

// Persist waits until seqID has been staged by an asynchronous batch write
// and consumes it, then forwards persist to every owned chunk. NoSequenceID
// skips the wait and clears the staged set; drain clears it after the wait
// and asks durable chunks to sync.
//
// The wait is bounded by ctx, or by the persist timeout when ctx has no
// deadline. An interrupted wait returns ErrPersistAborted and forwards nothing.
func (a *Allocator) Persist(ctx context.Context, seqID int64, drain bool) error {
	start := time.Now()
	err := a.persist(ctx, seqID, drain)
	a.metrics.OnPersist(time.Since(start), err)
	a.log.LogPersist(ctx, seqID, drain, err)
	return err
}

func (a *Allocator) persist(ctx context.Context, seqID int64, drain bool) error {
	if seqID != NoSequenceID {
		wctx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, a.opts.persistTimeout)
			defer cancel()
		}
		if err := a.pending.wait(wctx, seqID); err != nil {
			return fmt.Errorf("%w: sequence id %d: %w", ErrPersistAborted, seqID, err)
		}
	}
	if drain || seqID == NoSequenceID {
		a.pending.clear()
	}

	if !a.hold(writerUnit, true) {
		return nil
	}
	defer a.unhold(writerUnit)

	var errs []error
	it := a.OwnedChunks().Iterator()
	for it.HasNext() {
		c, ok := a.pool.Lookup(it.Next())
		if !ok {
			continue
		}
		if err := c.Persist(ctx, drain); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops allocation. The owned chunks go back to the pool now if no
// scanner is open and no write or persist is in flight, otherwise when the
// last of them finishes. Closing twice is a no-op.
func (a *Allocator) Close() {
	for {
		r := a.refs.Load()
		if r&closedBit != 0 {
			return
		}
		if a.refs.CompareAndSwap(r, r|closedBit) {
			if r == 0 {
				a.reclaim()
			}
			return
		}
	}
}

// IncScannerCount registers a scanner reading views of this allocator. It
// returns false if the allocator is closed with no scanner left, in which
// case its chunks may already be back in the pool and must not be read.
func (a *Allocator) IncScannerCount() bool {
	return a.hold(1, true)
}

// DecScannerCount unregisters a scanner. The last scanner to close after
// Close reclaims the chunks. Closing more scanners than were opened panics.
func (a *Allocator) DecScannerCount() {
	for {
		r := a.refs.Load()
		if r&scannerMask == 0 {
			panic("memlab: scanner count below zero")
		}
		if !a.refs.CompareAndSwap(r, r-1) {
			continue
		}
		if r-1 == closedBit {
			a.reclaim()
		}
		return
	}
}

// hold adds unit to refs. Writers pass whileClosing=false and are refused as
// soon as Close ran; scanners and persists are only refused once nothing
// holds the chunks any more.
func (a *Allocator) hold(unit int64, whileClosing bool) bool {
	for {
		r := a.refs.Load()
		if r == closedBit || (r&closedBit != 0 && !whileClosing) {
			return false
		}
		if a.refs.CompareAndSwap(r, r+unit) {
			return true
		}
	}
}

func (a *Allocator) unhold(unit int64) {
	if a.refs.Add(-unit) == closedBit {
		a.reclaim()
	}
}

// reclaim returns every owned chunk to the pool. It runs at most once.
func (a *Allocator) reclaim() {
	if !a.reclaimed.CompareAndSwap(false, true) {
		return
	}

	a.ownedMu.Lock()
	ids := a.owned.Clone()
	a.ownedMu.Unlock()

	a.current.Store(nil)
	a.pending.abort()
	a.pool.Release(ids)

	n := int(ids.GetCardinality())
	a.metrics.OnReclaim(n)
	a.log.LogReclaim(context.Background(), n)
}

// State returns the lifecycle stage.
func (a *Allocator) State() State {
	switch {
	case a.reclaimed.Load():
		return StateReclaimed
	case a.refs.Load()&closedBit != 0:
		return StateClosing
	default:
		return StateOpen
	}
}

// ScannerCount returns the number of open scanners.
func (a *Allocator) ScannerCount() int32 {
	return int32(a.refs.Load() & scannerMask)
}

// CurrentChunk returns the chunk receiving allocations, or nil.
func (a *Allocator) CurrentChunk() *chunk.Chunk {
	return a.current.Load()
}

// OwnedChunks returns a copy of the ids of every chunk the allocator drew.
func (a *Allocator) OwnedChunks() *roaring.Bitmap {
	a.ownedMu.Lock()
	defer a.ownedMu.Unlock()
	return a.owned.Clone()
}

// PooledChunks returns the owned chunk ids that belong to the pool's
// recyclable set, as opposed to one-shot chunks created beyond it.
func (a *Allocator) PooledChunks() *roaring.Bitmap {
	pooled := roaring.New()
	it := a.OwnedChunks().Iterator()
	for it.HasNext() {
		id := it.Next()
		if c, ok := a.pool.Lookup(id); ok && c.Pooled() {
			pooled.Add(id)
		}
	}
	return pooled
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		Region:          a.opts.region,
		State:           a.State(),
		Scanners:        a.ScannerCount(),
		OwnedChunks:     int(a.OwnedChunks().GetCardinality()),
		Allocations:     a.allocs.Load(),
		Records:         a.records.Load(),
		AllocatedBytes:  a.bytes.Load(),
		RetiredChunks:   a.retired.Load(),
		WastedBytes:     a.wasted.Load(),
		TooLarge:        a.tooLarge.Load(),
		PoolFailures:    a.poolFailures.Load(),
		PendingSequence: a.pending.len(),
	}
}
