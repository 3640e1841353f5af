package memlab

import (
	"context"
	"sync"
)

// pendingSet is the async-durability handshake: writers stage the sequence
// id of a written batch, persist waits until its id is staged and consumes it.
// Each waited-for id has one channel, closed when the id is staged or the set
// is aborted.
type pendingSet struct {
	mu      sync.Mutex
	staged  map[int64]struct{}
	waiters map[int64]*waiter
	aborted bool
}

type waiter struct {
	done chan struct{}
	err  error
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		staged:  make(map[int64]struct{}),
		waiters: make(map[int64]*waiter),
	}
}

// add stages seq and wakes anyone waiting for it.
func (p *pendingSet) add(seq int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aborted {
		return
	}
	p.staged[seq] = struct{}{}
	if w, ok := p.waiters[seq]; ok {
		delete(p.waiters, seq)
		close(w.done)
	}
}

// wait blocks until seq is staged, then removes it.
func (p *pendingSet) wait(ctx context.Context, seq int64) error {
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, ok := p.staged[seq]; ok {
		delete(p.staged, seq)
		p.mu.Unlock()
		return nil
	}
	w, ok := p.waiters[seq]
	if !ok {
		w = &waiter{done: make(chan struct{})}
		p.waiters[seq] = w
	}
	p.mu.Unlock()

	select {
	case <-w.done:
		if w.err != nil {
			return w.err
		}
		p.mu.Lock()
		delete(p.staged, seq)
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clear drops every staged id. Waiters keep waiting.
func (p *pendingSet) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.staged)
}

// abort drops every staged id and fails all current and future waiters.
func (p *pendingSet) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.aborted = true
	clear(p.staged)
	for seq, w := range p.waiters {
		w.err = ErrClosed
		close(w.done)
		delete(p.waiters, seq)
	}
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.staged)
}

func (p *pendingSet) has(seq int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.staged[seq]
	return ok
}
