package promobserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memlab"
	"github.com/hupe1980/memlab/cell"
	"github.com/hupe1980/memlab/pool"
)

func TestObserverCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	o.OnChunkAcquired()
	o.OnChunkAcquired()
	o.OnChunkRetired(100)
	o.OnAllocate(64, 2)
	o.OnTooLarge(1 << 20)
	o.OnPoolExhausted()
	o.OnReclaim(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(o.chunksAcquired))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.chunksRetired))
	assert.Equal(t, 100.0, testutil.ToFloat64(o.wastedBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(o.chunksInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.allocations))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.records))
	assert.Equal(t, 64.0, testutil.ToFloat64(o.allocatedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.tooLarge))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.poolExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.reclaims))
}

func TestObserverPersistHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	o.OnPersist(time.Millisecond, nil)
	o.OnPersist(2*time.Millisecond, nil)
	o.OnPersist(time.Millisecond, errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)

	var hist *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "memlab_persist_latency_seconds" {
			hist = mf
		}
	}
	require.NotNil(t, hist)

	counts := map[string]uint64{}
	for _, m := range hist.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "status" {
				counts[l.GetValue()] = m.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, uint64(2), counts["success"])
	assert.Equal(t, uint64(1), counts["error"])
}

func TestObserverRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })

	assert.NotPanics(t, func() { New(nil) })
}

func TestObserverWithAllocator(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	p, err := pool.New(func(o *pool.Options) { o.ChunkSize = 4096 })
	require.NoError(t, err)
	defer p.Close()

	a, err := memlab.New(p, memlab.WithMetricsObserver(o), memlab.WithMaxAlloc(1024))
	require.NoError(t, err)

	ctx := context.Background()
	for i := range 10 {
		_, err := a.Allocate(ctx, cell.NewKeyValue([]byte("key"), make([]byte, 500), int64(i)))
		require.NoError(t, err)
	}
	_, err = a.Allocate(ctx, cell.NewKeyValue([]byte("key"), make([]byte, 2048), 10))
	require.ErrorIs(t, err, memlab.ErrTooLarge)

	assert.Equal(t, 10.0, testutil.ToFloat64(o.allocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.tooLarge))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.chunksAcquired))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.chunksRetired))

	a.Close()
	assert.Equal(t, 0.0, testutil.ToFloat64(o.chunksInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.reclaims))
}
