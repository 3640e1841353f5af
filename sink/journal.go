package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/memlab/internal/fs"
	"github.com/hupe1980/memlab/resource"
)

// JournalOptions configures a Journal.
type JournalOptions struct {
	// Compression is applied to frame payloads.
	Compression Compression
	// Resources throttles journal writes (IOLimitBytesPerSec). Optional.
	Resources *resource.Controller

	fs fs.FileSystem
}

// Journal is an append-only local file of segment frames.
type Journal struct {
	mu     sync.Mutex
	fs     fs.FileSystem
	file   fs.File
	path   string
	size   int64
	codec  Compression
	rc     *resource.Controller
	closed bool
}

var _ Sink = (*Journal)(nil)

// OpenJournal opens or creates the journal at path. A torn frame left at the
// tail by a crash is truncated away; corruption before the tail is an error.
func OpenJournal(path string, optFns ...func(o *JournalOptions)) (*Journal, error) {
	opts := JournalOptions{fs: fs.Default}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("sink: create journal directory: %w", err)
	}

	file, err := opts.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("sink: open journal: %w", err)
	}

	j := &Journal{
		fs:    opts.fs,
		file:  file,
		path:  path,
		codec: opts.Compression,
		rc:    opts.Resources,
	}

	if err := j.recover(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) recover() error {
	data, err := io.ReadAll(j.file)
	if err != nil {
		return fmt.Errorf("sink: read journal: %w", err)
	}

	_, valid, err := DecodeFrames(data)
	if err != nil {
		return fmt.Errorf("sink: journal %s: %w", j.path, err)
	}

	if valid < len(data) {
		if err := j.fs.Truncate(j.path, int64(valid)); err != nil {
			return fmt.Errorf("sink: truncate torn journal tail: %w", err)
		}
	}

	j.size = int64(valid)
	_, err = j.file.Seek(j.size, io.SeekStart)
	return err
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Size returns the journal length in bytes.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Write appends seg as one frame. A failed write leaves the journal at its
// previous length.
func (j *Journal) Write(ctx context.Context, seg Segment) error {
	frame, err := AppendFrame(nil, seg, j.codec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	w := resource.NewRateLimitedWriter(ctx, j.file, j.rc)
	if _, err := w.Write(frame); err != nil {
		if rerr := j.rewind(); rerr != nil {
			return fmt.Errorf("sink: journal write: %w (rewind: %w)", err, rerr)
		}
		return fmt.Errorf("sink: journal write: %w", err)
	}

	j.size += int64(len(frame))
	return nil
}

func (j *Journal) rewind() error {
	if err := j.fs.Truncate(j.path, j.size); err != nil {
		return err
	}
	_, err := j.file.Seek(j.size, io.SeekStart)
	return err
}

// Sync flushes the journal to stable storage.
func (j *Journal) Sync(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	return j.file.Sync()
}

// Close syncs and closes the journal. Closing twice is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	syncErr := j.file.Sync()
	if err := j.file.Close(); err != nil {
		return err
	}
	return syncErr
}

// ReadJournal returns every complete segment stored in the journal at path.
func ReadJournal(path string) ([]Segment, error) {
	return readJournal(fs.Default, path)
}

func readJournal(fsys fs.FileSystem, path string) ([]Segment, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	segs, _, err := DecodeFrames(data)
	return segs, err
}
