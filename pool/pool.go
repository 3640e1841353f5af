package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/memlab/chunk"
	"github.com/hupe1980/memlab/resource"
	"github.com/hupe1980/memlab/sink"
)

// DefaultChunkSize is the default chunk capacity (2 MiB).
const DefaultChunkSize = 2 << 20

var (
	// ErrExhausted is returned when no chunk can be handed out right now.
	// The condition is transient.
	ErrExhausted = errors.New("pool: exhausted")
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("pool: closed")
)

// Options configures a Pool.
type Options struct {
	// ChunkSize is the capacity of every chunk. Defaults to DefaultChunkSize.
	ChunkSize int
	// Kind selects plain or durable chunks.
	Kind chunk.Kind
	// Backing selects heap or off-heap chunk memory.
	Backing chunk.Backing
	// InitialChunks are created eagerly and parked on the free list.
	InitialChunks int
	// MaxPooled caps the number of recyclable chunks. Zero means every chunk
	// is pooled.
	MaxPooled int
	// Resources enforces the global memory budget. Optional.
	Resources *resource.Controller
	// Sink receives persisted ranges of durable chunks and is closed with
	// the pool. Defaults to sink.Discard.
	Sink sink.Sink
	// Logger receives debug events. Defaults to a discarding logger.
	Logger *slog.Logger
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	ChunkSize     int
	Created       uint64 // chunks ever created
	Reused        uint64 // acquisitions served from the free list
	Dropped       uint64 // one-shot chunks discarded on release
	Pooled        int    // recyclable chunks alive
	Free          int    // chunks parked on the free list
	InUse         int    // chunks checked out
	ReservedBytes int64  // chunk memory currently held
}

// Pool is a concurrent-safe chunk pool.
type Pool struct {
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	free       []*chunk.Chunk
	checkedOut *roaring.Bitmap
	pooled     int
	closed     bool

	chunks sync.Map // uint32 -> *chunk.Chunk
	nextID atomic.Uint32

	created  atomic.Uint64
	reused   atomic.Uint64
	dropped  atomic.Uint64
	reserved atomic.Int64
}

// New creates a pool and pre-creates InitialChunks chunks.
func New(optFns ...func(o *Options)) (*Pool, error) {
	opts := Options{
		ChunkSize: DefaultChunkSize,
		Sink:      sink.Discard,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("pool: %w: %d", chunk.ErrInvalidSize, opts.ChunkSize)
	}
	if opts.Sink == nil {
		opts.Sink = sink.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		opts:       opts,
		log:        opts.Logger.With("component", "chunk_pool"),
		checkedOut: roaring.New(),
	}

	initial := opts.InitialChunks
	if opts.MaxPooled > 0 {
		initial = min(initial, opts.MaxPooled)
	}
	for range initial {
		c, err := p.create()
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.free = append(p.free, c)
	}
	return p, nil
}

// ChunkSize returns the capacity of every chunk.
func (p *Pool) ChunkSize() int { return p.opts.ChunkSize }

// Kind returns the kind of the chunks this pool creates.
func (p *Pool) Kind() chunk.Kind { return p.opts.Kind }

// Acquire checks out a chunk for owner, recycling one when possible. It does
// not block; a spent memory budget yields ErrExhausted.
func (p *Pool) Acquire(ctx context.Context, owner string) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	var c *chunk.Chunk
	if n := len(p.free); n > 0 {
		c = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.checkedOut.Add(c.ID())
	}
	p.mu.Unlock()

	if c != nil {
		p.reused.Add(1)
		c.SetOwner(owner)
		return c, nil
	}

	c, err := p.create()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.drop(c)
		return nil, ErrClosed
	}
	p.checkedOut.Add(c.ID())
	p.mu.Unlock()

	c.SetOwner(owner)
	return c, nil
}

func (p *Pool) create() (*chunk.Chunk, error) {
	size := p.opts.ChunkSize
	if err := p.opts.Resources.TryAcquireMemory(int64(size)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	p.mu.Lock()
	pooled := p.opts.MaxPooled <= 0 || p.pooled < p.opts.MaxPooled
	if pooled {
		p.pooled++
	}
	p.mu.Unlock()

	id := p.nextID.Add(1)
	c, err := chunk.New(id, size, func(o *chunk.Options) {
		o.Kind = p.opts.Kind
		o.Backing = p.opts.Backing
		o.Pooled = pooled
		if p.opts.Kind == chunk.Durable {
			o.Persist = p.persist
		}
	})
	if err != nil {
		p.opts.Resources.ReleaseMemory(int64(size))
		if pooled {
			p.mu.Lock()
			p.pooled--
			p.mu.Unlock()
		}
		return nil, fmt.Errorf("%w: %w", ErrExhausted, err)
	}

	p.chunks.Store(id, c)
	p.created.Add(1)
	p.reserved.Add(int64(size))
	p.log.Debug("chunk created", "chunk_id", id, "pooled", pooled, "backing", p.opts.Backing.String())
	return c, nil
}

func (p *Pool) persist(ctx context.Context, seg sink.Segment, drain bool) error {
	if len(seg.Data) > 0 {
		if err := p.opts.Sink.Write(ctx, seg); err != nil {
			return err
		}
	}
	if drain {
		return p.opts.Sink.Sync(ctx)
	}
	return nil
}

// Lookup returns the chunk with the given id.
func (p *Pool) Lookup(id uint32) (*chunk.Chunk, bool) {
	v, ok := p.chunks.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*chunk.Chunk), true
}

// Release returns chunks to the pool. Ids that are not checked out are
// ignored, so releasing the same set twice is harmless. Safe for concurrent
// use by many allocators.
func (p *Pool) Release(ids *roaring.Bitmap) {
	if ids == nil || ids.IsEmpty() {
		return
	}

	var recycle, drop []*chunk.Chunk

	p.mu.Lock()
	it := ids.Iterator()
	for it.HasNext() {
		id := it.Next()
		if !p.checkedOut.CheckedRemove(id) {
			continue
		}
		c, ok := p.Lookup(id)
		if !ok {
			continue
		}
		if c.Pooled() && !p.closed {
			recycle = append(recycle, c)
			continue
		}
		if c.Pooled() {
			p.pooled--
		}
		drop = append(drop, c)
	}
	p.mu.Unlock()

	// Reset waits for in-flight persists, so it runs outside the pool lock.
	// The chunks are in neither the free list nor the checked-out set here.
	for _, c := range recycle {
		c.Reset()
	}

	if len(recycle) > 0 {
		p.mu.Lock()
		if p.closed {
			p.pooled -= len(recycle)
			drop = append(drop, recycle...)
		} else {
			p.free = append(p.free, recycle...)
		}
		p.mu.Unlock()
	}

	for _, c := range drop {
		p.drop(c)
	}
}

func (p *Pool) drop(c *chunk.Chunk) {
	p.chunks.Delete(c.ID())
	if err := c.Close(); err != nil {
		p.log.Warn("failed to unmap chunk", "chunk_id", c.ID(), "error", err)
	}
	p.opts.Resources.ReleaseMemory(int64(c.Capacity()))
	p.reserved.Add(-int64(c.Capacity()))
	p.dropped.Add(1)
	p.log.Debug("chunk dropped", "chunk_id", c.ID())
}

// Stats returns current usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		ChunkSize:     p.opts.ChunkSize,
		Created:       p.created.Load(),
		Reused:        p.reused.Load(),
		Dropped:       p.dropped.Load(),
		Pooled:        p.pooled,
		Free:          len(p.free),
		InUse:         int(p.checkedOut.GetCardinality()),
		ReservedBytes: p.reserved.Load(),
	}
}

// Close releases the memory of every free chunk and closes the sink. Chunks
// still checked out are dropped when they are released. Closing twice is a
// no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.pooled -= len(free)
	p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, c := range free {
		g.Go(func() error {
			p.drop(c)
			return nil
		})
	}
	_ = g.Wait()

	return p.opts.Sink.Close()
}
