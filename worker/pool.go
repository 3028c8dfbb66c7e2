// Package worker runs the two long-lived pollers, the inbox loop and the
// submission loop, and bounds their per-event work with a fixed-size worker
// pool.
package worker

import (
	"context"
	"sync"
)

// Pool is a bounded worker pool. Submit blocks once all workers are busy and
// the queue is full, applying backpressure to the poll loop instead of
// spawning unbounded work per event.
type Pool[T any] struct {
	workers int
	jobs    chan T
	wg      sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool[T any](workers, queue int) *Pool[T] {
	return &Pool[T]{
		workers: workers,
		jobs:    make(chan T, queue),
	}
}

// Start launches the workers; each runs fn for every job it receives.
func (p *Pool[T]) Start(ctx context.Context, fn func(context.Context, T)) {
	for range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				fn(ctx, job)
			}
		}()
	}
}

// Submit enqueues a job, blocking while the pool is saturated.
func (p *Pool[T]) Submit(job T) {
	p.jobs <- job
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (p *Pool[T]) Close() {
	close(p.jobs)
	p.wg.Wait()
}
