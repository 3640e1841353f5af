package sink

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/memlab/blobstore"
	"github.com/hupe1980/memlab/resource"
)

// BlobOptions configures a Blob sink.
type BlobOptions struct {
	// Compression is applied to frame payloads.
	Compression Compression
	// Resources bounds concurrent uploads (MaxBackgroundWorkers). Optional.
	Resources *resource.Controller
	// Now stamps object names. Defaults to time.Now.
	Now func() time.Time
}

// Blob buffers frames between syncs and uploads each sync window as one
// object named "<prefix>/<unix-nanos>-<seq>.seg".
type Blob struct {
	store  blobstore.Store
	prefix string
	codec  Compression
	rc     *resource.Controller
	now    func() time.Time

	syncMu sync.Mutex // serializes uploads so objects appear in write order
	mu     sync.Mutex
	buf    []byte
	seq    uint64
	closed bool
}

var _ Sink = (*Blob)(nil)

// NewBlob creates a Blob sink writing under prefix in store.
func NewBlob(store blobstore.Store, prefix string, optFns ...func(o *BlobOptions)) *Blob {
	opts := BlobOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Blob{
		store:  store,
		prefix: prefix,
		codec:  opts.Compression,
		rc:     opts.Resources,
		now:    opts.Now,
	}
}

// Write buffers seg until the next Sync.
func (b *Blob) Write(_ context.Context, seg Segment) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	buf, err := AppendFrame(b.buf, seg, b.codec)
	if err != nil {
		return err
	}
	b.buf = buf
	return nil
}

// Pending returns the number of buffered bytes not yet uploaded.
func (b *Blob) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Sync uploads the buffered frames. On failure the frames stay buffered and
// are retried by the next Sync.
func (b *Blob) Sync(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	return b.flush(ctx)
}

func (b *Blob) flush(ctx context.Context) error {
	b.syncMu.Lock()
	defer b.syncMu.Unlock()

	b.mu.Lock()
	data := b.buf
	if len(data) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.buf = nil
	b.seq++
	name := path.Join(b.prefix, fmt.Sprintf("%020d-%06d.seg", b.now().UnixNano(), b.seq))
	b.mu.Unlock()

	err := b.upload(ctx, name, data)
	if err != nil {
		b.mu.Lock()
		b.buf = append(data, b.buf...)
		b.mu.Unlock()
		return fmt.Errorf("sink: upload %s: %w", name, err)
	}
	return nil
}

func (b *Blob) upload(ctx context.Context, name string, data []byte) error {
	if err := b.rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer b.rc.ReleaseBackground()

	return b.store.Put(ctx, name, data)
}

// Close uploads anything still buffered and rejects further writes.
func (b *Blob) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.flush(context.Background())
}

// ReadBlobs returns the segments of every object under prefix, in upload order.
func ReadBlobs(ctx context.Context, store blobstore.Store, prefix string) ([]Segment, error) {
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	names, err := store.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	var segs []Segment
	for _, name := range names {
		data, err := store.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		s, valid, err := DecodeFrames(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if valid != len(data) {
			return nil, fmt.Errorf("%s: %w: truncated object", name, ErrCorrupt)
		}
		segs = append(segs, s...)
	}
	return segs, nil
}
