// Package memlab is a chunk-based local allocation arena for the in-memory
// write buffer of a region-based storage engine.
//
// Records written to a write buffer are copied into a few large, contiguous
// chunks instead of being allocated one by one. When the write buffer is
// flushed and discarded, its chunks go back to a shared pool as a whole.
//
// # Quick Start
//
//	p, _ := pool.New(func(o *pool.Options) {
//		o.ChunkSize = 2 << 20
//		o.InitialChunks = 8
//	})
//	defer p.Close()
//
//	a, _ := memlab.New(p, memlab.WithRegion("orders,,1700000000000.abc"))
//	v, err := a.Allocate(ctx, cell.NewKeyValue(key, value, seq))
//	if errors.Is(err, memlab.ErrTooLarge) {
//		// store the record outside the arena
//	}
//
// # Lifecycle
//
// An allocator is OPEN until Close, CLOSING while scanners still read its
// views or a write is still copying, and RECLAIMED once its chunks were
// returned to the pool:
//
//	if a.IncScannerCount() {
//		defer a.DecScannerCount()
//		// read views
//	}
//	a.Close() // chunks return now or when the last scanner closes
//
// # Durable Chunks
//
// Pools created with chunk.Durable lay records out as replayable batches
// (see package codec). Persist hands the written prefix of every owned chunk
// to the pool's sink (a local journal or an object store):
//
//	views, _ := a.AllocateBatch(ctx, cells, true)
//	err := a.Persist(ctx, views[len(views)-1].SequenceID(), false)
//
// # Observability
//
//	logger := memlab.NewJSONLogger(slog.LevelInfo)
//	obs := promobserver.New(prometheus.DefaultRegisterer)
//	a, _ := memlab.New(p, memlab.WithLogger(logger), memlab.WithMetricsObserver(obs))
package memlab
