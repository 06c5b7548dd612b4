// Package workpool bounds the CPU-heavy work the service does off the
// request path: PDF parsing and merging, image cropping, conversion
// round-trips. Backend I/O does not go through the pool.
package workpool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded worker pool.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a pool with n slots. n <= 0 defaults to GOMAXPROCS.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// Do runs f once a slot is free. Acquisition respects ctx, so a cancelled
// caller never queues work.
func (p *Pool) Do(ctx context.Context, f func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	defer p.sem.Release(1)
	return f()
}

// Go runs f asynchronously once a slot is free and reports the result on
// the returned channel.
func (p *Pool) Go(ctx context.Context, f func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- p.Do(ctx, f)
	}()
	return ch
}
