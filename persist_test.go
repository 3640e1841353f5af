package memlab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memlab/codec"
	"github.com/hupe1980/memlab/pool"
	"github.com/hupe1980/memlab/testutil"
)

func newDurableAllocator(t *testing.T, optFns ...Option) (*Allocator, *recordingSink) {
	t.Helper()

	s := &recordingSink{}
	p := newTestPool(t, chunkSize(8192), durable, func(o *pool.Options) { o.Sink = s })
	a, err := New(p, append([]Option{WithMaxAlloc(4096)}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, s
}

func TestPersist_DrainAllClearsPendingAndForwards(t *testing.T) {
	a, s := newDurableAllocator(t)
	ctx := context.Background()

	for i := range 6 {
		_, err := a.AllocateBatch(ctx, testutil.SizedBatch(2, 1500, int64(10*i)), true)
		require.NoError(t, err)
	}
	owned := a.OwnedChunks()
	require.Greater(t, owned.GetCardinality(), uint64(1))
	require.Equal(t, 6, a.pending.len())

	require.NoError(t, a.Persist(ctx, NoSequenceID, true))
	assert.Equal(t, 0, a.pending.len())

	segs, syncs := s.snapshot()
	assert.Equal(t, int(owned.GetCardinality()), syncs, "every owned chunk drains")

	seen := map[uint32]bool{}
	for _, seg := range segs {
		seen[seg.ChunkID] = true
		assert.Equal(t, int64(0), seg.Offset)
		_, err := codec.ReadAll(seg.Data)
		require.NoError(t, err)
	}
	it := owned.Iterator()
	for it.HasNext() {
		assert.True(t, seen[it.Next()])
	}

	// Nothing new: a plain persist forwards nothing.
	require.NoError(t, a.Persist(ctx, NoSequenceID, false))
	again, _ := s.snapshot()
	assert.Len(t, again, len(segs))
}

func TestPersist_OnlyNewRangesAreForwarded(t *testing.T) {
	a, s := newDurableAllocator(t)
	ctx := context.Background()

	_, err := a.AllocateBatch(ctx, testutil.SizedBatch(2, 100, 1), false)
	require.NoError(t, err)
	require.NoError(t, a.Persist(ctx, NoSequenceID, false))

	_, err = a.AllocateBatch(ctx, testutil.SizedBatch(2, 100, 3), false)
	require.NoError(t, err)
	require.NoError(t, a.Persist(ctx, NoSequenceID, false))

	segs, syncs := s.snapshot()
	require.Len(t, segs, 2)
	assert.Equal(t, 0, syncs)
	assert.Equal(t, segs[0].End(), segs[1].Offset)
	assert.Equal(t, "", segs[0].Owner)
}

func TestPersist_WaitsForStagedSequence(t *testing.T) {
	a, s := newDurableAllocator(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- a.Persist(ctx, 42, false) }()

	select {
	case err := <-done:
		t.Fatalf("persist returned before the sequence id was staged: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	// Not async: nothing is staged.
	_, err := a.AllocateBatch(ctx, testutil.SizedBatch(2, 100, 41), false)
	require.NoError(t, err)

	select {
	case err := <-done:
		t.Fatalf("persist returned for an unstaged batch: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	_, err = a.AllocateBatch(ctx, testutil.SizedBatch(2, 100, 41), true)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("persist did not return")
	}

	assert.False(t, a.pending.has(42), "persist consumes the sequence id")
	segs, _ := s.snapshot()
	assert.NotEmpty(t, segs)
}

func TestPersist_AlreadyStagedReturnsImmediately(t *testing.T) {
	a, _ := newDurableAllocator(t)
	ctx := context.Background()

	_, err := a.AllocateBatch(ctx, testutil.SizedBatch(3, 100, 5), true)
	require.NoError(t, err)
	require.True(t, a.pending.has(7))

	require.NoError(t, a.Persist(ctx, 7, false))
	assert.False(t, a.pending.has(7))
}

func TestPersist_DrainClearsAfterWait(t *testing.T) {
	a, _ := newDurableAllocator(t)
	ctx := context.Background()

	for i := range 3 {
		_, err := a.AllocateBatch(ctx, testutil.SizedBatch(1, 100, int64(i+1)), true)
		require.NoError(t, err)
	}
	require.NoError(t, a.Persist(ctx, 2, true))
	assert.Equal(t, 0, a.pending.len())
}

func TestPersist_CancelAborts(t *testing.T) {
	a, s := newDurableAllocator(t)

	_, err := a.AllocateBatch(context.Background(), testutil.SizedBatch(1, 100, 1), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err = a.Persist(ctx, 99, true)
	require.ErrorIs(t, err, ErrPersistAborted)
	require.ErrorIs(t, err, context.Canceled)

	segs, syncs := s.snapshot()
	assert.Empty(t, segs, "aborted persist forwards nothing")
	assert.Zero(t, syncs)
}

func TestPersist_TimeoutAborts(t *testing.T) {
	a, _ := newDurableAllocator(t, WithPersistTimeout(10*time.Millisecond))

	err := a.Persist(context.Background(), 99, false)
	require.ErrorIs(t, err, ErrPersistAborted)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPersist_CloseAbortsWaiters(t *testing.T) {
	a, _ := newDurableAllocator(t)

	done := make(chan error, 1)
	go func() { done <- a.Persist(context.Background(), 99, false) }()

	time.Sleep(10 * time.Millisecond)
	a.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrPersistAborted)
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("persist did not return after close")
	}

	require.NoError(t, a.Persist(context.Background(), NoSequenceID, true))
}

func TestPersist_JoinsChunkErrors(t *testing.T) {
	a, s := newDurableAllocator(t)
	ctx := context.Background()

	for i := range 4 {
		_, err := a.AllocateBatch(ctx, testutil.SizedBatch(2, 1500, int64(10*i)), false)
		require.NoError(t, err)
	}
	errDisk := errors.New("disk full")
	s.mu.Lock()
	s.writeErr = errDisk
	s.mu.Unlock()

	metrics := &BasicMetricsObserver{}
	a.metrics = metrics

	err := a.Persist(ctx, NoSequenceID, false)
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, int64(1), metrics.GetStats().PersistErrors)
}

func TestPersist_PlainChunksAreNoop(t *testing.T) {
	a, err := New(newTestPool(t))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.AllocateBatch(context.Background(), testutil.SizedBatch(2, 100, 1), true)
	require.NoError(t, err)
	require.NoError(t, a.Persist(context.Background(), 2, true))
}
