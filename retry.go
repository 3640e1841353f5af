package memlab

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

var errInstallPending = errors.New("memlab: chunk installation still pending")

// retrier bounds the time an allocation spends without a chunk, whether the
// pool is failing or another writer is stuck installing one.
type retrier struct {
	a        *Allocator
	delay    time.Duration
	deadline time.Time
}

func (a *Allocator) newRetrier() *retrier {
	return &retrier{a: a}
}

// start fixes the deadline on first use: the acquire timeout or the context
// deadline, whichever comes first.
func (r *retrier) start(ctx context.Context, now time.Time) {
	if !r.deadline.IsZero() {
		return
	}
	r.deadline = now.Add(r.a.opts.acquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(r.deadline) {
		r.deadline = d
	}
}

func (r *retrier) exhausted(ctx context.Context, cause error) error {
	a := r.a
	a.metrics.OnPoolExhausted()
	a.poolFailures.Add(1)
	a.exhaustWarn.Do(func() { a.log.LogPoolExhausted(ctx, cause) })
	return fmt.Errorf("%w: %w", ErrPoolExhausted, cause)
}

// wait sleeps before the next acquisition attempt. It returns an error once
// the acquire timeout or the context deadline leaves no room for another try.
func (r *retrier) wait(ctx context.Context, cause error) error {
	a := r.a
	a.metrics.OnPoolExhausted()
	a.poolFailures.Add(1)
	a.exhaustWarn.Do(func() { a.log.LogPoolExhausted(ctx, cause) })

	now := time.Now()
	r.start(ctx, now)
	if r.delay == 0 {
		r.delay = a.opts.backoffMin
	} else {
		r.delay = min(r.delay*2, a.opts.backoffMax)
	}

	remaining := r.deadline.Sub(now)
	if remaining <= 0 {
		return fmt.Errorf("%w: %w", ErrPoolExhausted, cause)
	}

	timer := time.NewTimer(min(r.delay, remaining))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrPoolExhausted, cause)
		}
		return ctx.Err()
	}
}

// yield gives way to the writer holding the installation lock. It fails on
// the same deadline as wait.
func (r *retrier) yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return r.exhausted(ctx, err)
		}
		return err
	}

	now := time.Now()
	r.start(ctx, now)
	if !now.Before(r.deadline) {
		return r.exhausted(ctx, errInstallPending)
	}

	runtime.Gosched()
	return nil
}
