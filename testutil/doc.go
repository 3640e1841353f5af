// Package testutil provides testing utilities for memlab.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Cells
//
//	rng := testutil.NewRNG(seed)
//	kv := rng.KeyValue(16, 1024, seq)   // 16 byte key, 1 KiB value
//	cells := rng.Batch(10, 16, 1024, 1) // sequence ids 1..10
//
// # Fixed-Size Cells
//
//	c := testutil.SizedCell(1024, seq) // SerializedLen() == 1024
package testutil
