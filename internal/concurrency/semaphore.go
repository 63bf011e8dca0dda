// Package concurrency provides the three admission primitives the
// orchestrators compose: a global job admission semaphore, a keyed
// reader/writer lock over program ids, and a keyed writer lock over
// environment ids for benchmark serialization.
package concurrency

import (
	"context"

	"golang.org/x/sync/semaphore"

	"sandkasten-go/internal/metrics"
)

// JobSemaphore bounds the number of sandbox invocations running at once.
// Every outward build or run acquires one permit before doing sandbox work
// and releases it on completion or cancellation.
type JobSemaphore struct {
	sem *semaphore.Weighted
}

// NewJobSemaphore creates a semaphore admitting at most capacity concurrent
// jobs.
func NewJobSemaphore(capacity int64) *JobSemaphore {
	return &JobSemaphore{sem: semaphore.NewWeighted(capacity)}
}

// Acquire blocks until a permit is available or ctx is canceled. The
// returned release func must be called exactly once.
func (s *JobSemaphore) Acquire(ctx context.Context) (release func(), err error) {
	metrics.Get().JobsQueueDepth.Inc()
	defer metrics.Get().JobsQueueDepth.Dec()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.Get().JobsAdmittedTotal.Inc()
	return func() { s.sem.Release(1) }, nil
}

// AcquireMany acquires n permits at once, used by the benchmark service to
// reserve extra headroom for noise-free measurements.
func (s *JobSemaphore) AcquireMany(ctx context.Context, n int64) (release func(), err error) {
	metrics.Get().JobsQueueDepth.Add(float64(n))
	defer metrics.Get().JobsQueueDepth.Sub(float64(n))

	if err := s.sem.Acquire(ctx, n); err != nil {
		return nil, err
	}
	for i := int64(0); i < n; i++ {
		metrics.Get().JobsAdmittedTotal.Inc()
	}
	return func() { s.sem.Release(n) }, nil
}
