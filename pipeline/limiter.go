package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/MikeyMike1984/amazon-seller-by-asin/scraper"
	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of fetches in flight. Waiters are admitted in
// FIFO order.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
	metrics  *scraper.Metrics
}

// NewLimiter builds a limiter admitting at most capacity holders.
func NewLimiter(capacity int, metrics *scraper.Metrics) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		metrics:  metrics,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.metrics.SetInFlight(l.inFlight.Add(1))
	return nil
}

// Release frees the slot taken by a successful Acquire.
func (l *Limiter) Release() {
	l.metrics.SetInFlight(l.inFlight.Add(-1))
	l.sem.Release(1)
}

// InFlight reports the number of current holders.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Capacity reports the admission cap.
func (l *Limiter) Capacity() int {
	return l.capacity
}
