// Package promobserver exports allocator metrics to Prometheus.
package promobserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/memlab"
)

// Observer implements memlab.MetricsObserver on Prometheus collectors.
// One observer may be shared by every allocator of a process.
type Observer struct {
	chunksAcquired prometheus.Counter
	chunksRetired  prometheus.Counter
	wastedBytes    prometheus.Counter
	chunksInUse    prometheus.Gauge
	allocations    prometheus.Counter
	records        prometheus.Counter
	allocatedBytes prometheus.Counter
	tooLarge       prometheus.Counter
	poolExhausted  prometheus.Counter
	reclaims       prometheus.Counter
	persistLatency *prometheus.HistogramVec
}

var _ memlab.MetricsObserver = (*Observer)(nil)

// New creates an observer and registers its collectors on reg. A nil reg
// leaves the collectors unregistered.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		chunksAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_chunks_acquired_total",
			Help: "Chunks installed as current chunk",
		}),
		chunksRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_chunks_retired_total",
			Help: "Full chunks retired",
		}),
		wastedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_chunk_wasted_bytes_total",
			Help: "Unused tail bytes left in retired chunks",
		}),
		chunksInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memlab_chunks_in_use",
			Help: "Chunks held by allocators that were not reclaimed yet",
		}),
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_allocations_total",
			Help: "Successful allocations (single records and batches)",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_records_total",
			Help: "Records copied into chunks",
		}),
		allocatedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_allocated_bytes_total",
			Help: "Chunk bytes granted, framing included",
		}),
		tooLarge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_too_large_total",
			Help: "Allocations rejected as oversize",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_pool_exhausted_total",
			Help: "Failed chunk acquisitions",
		}),
		reclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memlab_reclaims_total",
			Help: "Allocators that returned their chunks",
		}),
		persistLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memlab_persist_latency_seconds",
			Help:    "Latency of persist calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(o.Collectors()...)
	}
	return o
}

// Collectors returns every collector of the observer.
func (o *Observer) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		o.chunksAcquired,
		o.chunksRetired,
		o.wastedBytes,
		o.chunksInUse,
		o.allocations,
		o.records,
		o.allocatedBytes,
		o.tooLarge,
		o.poolExhausted,
		o.reclaims,
		o.persistLatency,
	}
}

func (o *Observer) OnChunkAcquired() {
	o.chunksAcquired.Inc()
	o.chunksInUse.Inc()
}

func (o *Observer) OnChunkRetired(wasted int) {
	o.chunksRetired.Inc()
	o.wastedBytes.Add(float64(wasted))
}

func (o *Observer) OnAllocate(bytes, records int) {
	o.allocations.Inc()
	o.records.Add(float64(records))
	o.allocatedBytes.Add(float64(bytes))
}

func (o *Observer) OnTooLarge(int) { o.tooLarge.Inc() }

func (o *Observer) OnPoolExhausted() { o.poolExhausted.Inc() }

func (o *Observer) OnReclaim(chunks int) {
	o.reclaims.Inc()
	o.chunksInUse.Sub(float64(chunks))
}

func (o *Observer) OnPersist(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	o.persistLatency.WithLabelValues(status).Observe(d.Seconds())
}
