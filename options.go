package memlab

import (
	"time"
)

const (
	// DefaultMaxAlloc is the largest single record placed in a chunk (256 KiB).
	DefaultMaxAlloc = 256 << 10
	// DefaultAcquireTimeout bounds the time spent backing off on pool failures.
	DefaultAcquireTimeout = 10 * time.Second
	// DefaultPersistTimeout bounds a persist wait when the context has no deadline.
	DefaultPersistTimeout = 30 * time.Second
	// DefaultRetryBackoffMin is the first pause after a pool failure.
	DefaultRetryBackoffMin = 50 * time.Microsecond
	// DefaultRetryBackoffMax caps the pause between pool retries.
	DefaultRetryBackoffMax = 5 * time.Millisecond
)

type options struct {
	maxAlloc       int
	region         string
	logger         *Logger
	metrics        MetricsObserver
	acquireTimeout time.Duration
	persistTimeout time.Duration
	backoffMin     time.Duration
	backoffMax     time.Duration
}

// Option configures an Allocator.
type Option func(*options)

// WithMaxAlloc sets the largest record the allocator places in a chunk.
// Larger records fail with ErrTooLarge. Must not exceed the pool's chunk size.
// Zero selects DefaultMaxAlloc, capped at the chunk size.
func WithMaxAlloc(n int) Option {
	return func(o *options) {
		o.maxAlloc = n
	}
}

// WithRegion names the region owning the allocator. The name is the owner
// hint passed to the pool and tags log records and persisted segments.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsObserver sets the metrics observer. If nil is passed, metrics
// are discarded.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsObserver{}
		}
		o.metrics = m
	}
}

// WithAcquireTimeout bounds how long an allocation keeps retrying a failing
// pool before giving up with ErrPoolExhausted.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) {
		o.acquireTimeout = d
	}
}

// WithPersistTimeout bounds a persist wait when the context carries no deadline.
func WithPersistTimeout(d time.Duration) Option {
	return func(o *options) {
		o.persistTimeout = d
	}
}

// WithRetryBackoff sets the exponential backoff range used between pool retries.
func WithRetryBackoff(minDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		o.backoffMin = minDelay
		o.backoffMax = maxDelay
	}
}

func defaultOptions() options {
	return options{
		logger:         NoopLogger(),
		metrics:        NoopMetricsObserver{},
		acquireTimeout: DefaultAcquireTimeout,
		persistTimeout: DefaultPersistTimeout,
		backoffMin:     DefaultRetryBackoffMin,
		backoffMax:     DefaultRetryBackoffMax,
	}
}

func (o *options) validate(chunkSize int) error {
	if o.maxAlloc == 0 {
		o.maxAlloc = min(DefaultMaxAlloc, chunkSize)
	}
	if o.maxAlloc < 0 {
		return configError("max alloc", o.maxAlloc, "must be positive")
	}
	if o.maxAlloc > chunkSize {
		return configError("max alloc", o.maxAlloc, "exceeds chunk size")
	}
	if o.acquireTimeout <= 0 {
		return configError("acquire timeout", o.acquireTimeout, "must be positive")
	}
	if o.persistTimeout <= 0 {
		return configError("persist timeout", o.persistTimeout, "must be positive")
	}
	if o.backoffMin <= 0 || o.backoffMax < o.backoffMin {
		return configError("retry backoff", [2]time.Duration{o.backoffMin, o.backoffMax}, "need 0 < min <= max")
	}
	return nil
}
