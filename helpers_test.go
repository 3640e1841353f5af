package memlab

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memlab/chunk"
	"github.com/hupe1980/memlab/pool"
	"github.com/hupe1980/memlab/sink"
)

func newTestPool(t *testing.T, optFns ...func(o *pool.Options)) *pool.Pool {
	t.Helper()

	p, err := pool.New(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func chunkSize(n int) func(o *pool.Options) {
	return func(o *pool.Options) { o.ChunkSize = n }
}

func durable(o *pool.Options) { o.Kind = chunk.Durable }

// countingPool records how often each chunk id was released.
type countingPool struct {
	*pool.Pool

	mu        sync.Mutex
	released  map[uint32]int
	onRelease func(ids *roaring.Bitmap)
}

func newCountingPool(t *testing.T, optFns ...func(o *pool.Options)) *countingPool {
	return &countingPool{
		Pool:     newTestPool(t, optFns...),
		released: make(map[uint32]int),
	}
}

func (p *countingPool) Release(ids *roaring.Bitmap) {
	if p.onRelease != nil {
		p.onRelease(ids)
	}

	p.mu.Lock()
	it := ids.Iterator()
	for it.HasNext() {
		p.released[it.Next()]++
	}
	p.mu.Unlock()

	p.Pool.Release(ids)
}

func (p *countingPool) releaseCount(id uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released[id]
}

func (p *countingPool) releasedIDs() *roaring.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := roaring.New()
	for id := range p.released {
		ids.Add(id)
	}
	return ids
}

// failingPool refuses every acquisition until it is healed.
type failingPool struct {
	size     int
	healed   atomic.Pointer[pool.Pool]
	attempts atomic.Int64
}

var errPoolDown = errors.New("pool down")

func (p *failingPool) ChunkSize() int { return p.size }

func (p *failingPool) Acquire(ctx context.Context, owner string) (*chunk.Chunk, error) {
	p.attempts.Add(1)
	if hp := p.healed.Load(); hp != nil {
		return hp.Acquire(ctx, owner)
	}
	return nil, errPoolDown
}

func (p *failingPool) Lookup(id uint32) (*chunk.Chunk, bool) {
	if hp := p.healed.Load(); hp != nil {
		return hp.Lookup(id)
	}
	return nil, false
}

func (p *failingPool) Release(ids *roaring.Bitmap) {
	if hp := p.healed.Load(); hp != nil {
		hp.Release(ids)
	}
}

// recordingSink keeps every segment and counts syncs.
type recordingSink struct {
	mu       sync.Mutex
	segments []sink.Segment
	syncs    int
	writeErr error
}

func (s *recordingSink) Write(_ context.Context, seg sink.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	seg.Data = append([]byte(nil), seg.Data...)
	s.segments = append(s.segments, seg)
	return nil
}

func (s *recordingSink) Sync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) snapshot() ([]sink.Segment, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Segment(nil), s.segments...), s.syncs
}

// stallingPool blocks in Acquire until it is let go, holding the allocator's
// installation lock meanwhile.
type stallingPool struct {
	*pool.Pool

	entered chan struct{}
	letGo   chan struct{}
	once    sync.Once
}

func newStallingPool(t *testing.T, optFns ...func(o *pool.Options)) *stallingPool {
	return &stallingPool{
		Pool:    newTestPool(t, optFns...),
		entered: make(chan struct{}),
		letGo:   make(chan struct{}),
	}
}

func (p *stallingPool) Acquire(ctx context.Context, owner string) (*chunk.Chunk, error) {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.letGo:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.Pool.Acquire(ctx, owner)
}
