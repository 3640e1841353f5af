package memlab

import (
	"sync/atomic"
	"time"
)

// MetricsObserver receives allocator events.
// Implement this interface to integrate with monitoring systems; see the
// promobserver package for a Prometheus implementation.
type MetricsObserver interface {
	// OnChunkAcquired is called when a chunk is installed as the current chunk.
	OnChunkAcquired()

	// OnChunkRetired is called when a full chunk is retired. wasted is the
	// unused tail left in it.
	OnChunkRetired(wasted int)

	// OnAllocate is called after each successful allocation. bytes includes
	// framing.
	OnAllocate(bytes, records int)

	// OnTooLarge is called when an allocation is rejected as oversize.
	OnTooLarge(bytes int)

	// OnPoolExhausted is called for every failed chunk acquisition.
	OnPoolExhausted()

	// OnReclaim is called once, when the allocator returns its chunks.
	OnReclaim(chunks int)

	// OnPersist is called after each persist call.
	OnPersist(duration time.Duration, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnChunkAcquired()                {}
func (NoopMetricsObserver) OnChunkRetired(int)              {}
func (NoopMetricsObserver) OnAllocate(int, int)             {}
func (NoopMetricsObserver) OnTooLarge(int)                  {}
func (NoopMetricsObserver) OnPoolExhausted()                {}
func (NoopMetricsObserver) OnReclaim(int)                   {}
func (NoopMetricsObserver) OnPersist(time.Duration, error) {}

// BasicMetricsObserver provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsObserver struct {
	ChunksAcquired   atomic.Int64
	ChunksRetired    atomic.Int64
	WastedBytes      atomic.Int64
	Allocations      atomic.Int64
	Records          atomic.Int64
	AllocatedBytes   atomic.Int64
	TooLarge         atomic.Int64
	PoolExhausted    atomic.Int64
	Reclaims         atomic.Int64
	ReclaimedChunks  atomic.Int64
	PersistCount     atomic.Int64
	PersistErrors    atomic.Int64
	PersistTotalNano atomic.Int64
}

// OnChunkAcquired implements MetricsObserver.
func (b *BasicMetricsObserver) OnChunkAcquired() { b.ChunksAcquired.Add(1) }

// OnChunkRetired implements MetricsObserver.
func (b *BasicMetricsObserver) OnChunkRetired(wasted int) {
	b.ChunksRetired.Add(1)
	b.WastedBytes.Add(int64(wasted))
}

// OnAllocate implements MetricsObserver.
func (b *BasicMetricsObserver) OnAllocate(bytes, records int) {
	b.Allocations.Add(1)
	b.Records.Add(int64(records))
	b.AllocatedBytes.Add(int64(bytes))
}

// OnTooLarge implements MetricsObserver.
func (b *BasicMetricsObserver) OnTooLarge(int) { b.TooLarge.Add(1) }

// OnPoolExhausted implements MetricsObserver.
func (b *BasicMetricsObserver) OnPoolExhausted() { b.PoolExhausted.Add(1) }

// OnReclaim implements MetricsObserver.
func (b *BasicMetricsObserver) OnReclaim(chunks int) {
	b.Reclaims.Add(1)
	b.ReclaimedChunks.Add(int64(chunks))
}

// OnPersist implements MetricsObserver.
func (b *BasicMetricsObserver) OnPersist(duration time.Duration, err error) {
	b.PersistCount.Add(1)
	b.PersistTotalNano.Add(duration.Nanoseconds())
	if err != nil {
		b.PersistErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsObserver) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		ChunksAcquired:  b.ChunksAcquired.Load(),
		ChunksRetired:   b.ChunksRetired.Load(),
		WastedBytes:     b.WastedBytes.Load(),
		Allocations:     b.Allocations.Load(),
		Records:         b.Records.Load(),
		AllocatedBytes:  b.AllocatedBytes.Load(),
		TooLarge:        b.TooLarge.Load(),
		PoolExhausted:   b.PoolExhausted.Load(),
		Reclaims:        b.Reclaims.Load(),
		ReclaimedChunks: b.ReclaimedChunks.Load(),
		PersistCount:    b.PersistCount.Load(),
		PersistErrors:   b.PersistErrors.Load(),
	}
	if s.PersistCount > 0 {
		s.PersistAvgNanos = b.PersistTotalNano.Load() / s.PersistCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsObserver state.
type BasicMetricsStats struct {
	ChunksAcquired  int64
	ChunksRetired   int64
	WastedBytes     int64
	Allocations     int64
	Records         int64
	AllocatedBytes  int64
	TooLarge        int64
	PoolExhausted   int64
	Reclaims        int64
	ReclaimedChunks int64
	PersistCount    int64
	PersistErrors   int64
	PersistAvgNanos int64
}
