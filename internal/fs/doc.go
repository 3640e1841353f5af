// Package fs is the filesystem seam used by the segment journal.
//
// Production code uses [Default] ([LocalFS]). Tests inject [FaultyFS] to make
// writes, syncs or closes of selected files fail:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("journal", fs.Fault{FailAfterBytes: 1024})
//
// Operations take no context: local file calls are not interruptible at the
// syscall level. Slow object storage lives behind blobstore.Store instead.
package fs
