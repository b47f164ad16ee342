// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veilhq/stealthcrawler/internal/acquire"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory priority queue with three bands. Within a
// band items are FIFO; across bands high always wins at the next dequeue.
// Items carry a not-before timestamp so retries respect their backoff.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	bands    [3][]acquire.QueueItem
	capacity int
	closed   bool
	clock    acquire.Clock
}

// NewQueue constructs a queue with the provided total capacity.
func NewQueue(capacity int, clock acquire.Clock) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	q := &Queue{capacity: capacity, clock: clock}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) size() int {
	return len(q.bands[0]) + len(q.bands[1]) + len(q.bands[2])
}

// Enqueue pushes an item into its priority band, blocking while the queue
// is at capacity.
func (q *Queue) Enqueue(ctx context.Context, item acquire.QueueItem) error {
	stop := context.AfterFunc(ctx, q.cond.Broadcast)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("enqueue canceled: %w", err)
		}
		if q.size() < q.capacity {
			band := item.Priority.Band()
			q.bands[band] = append(q.bands[band], item)
			q.cond.Broadcast()
			return nil
		}
		q.cond.Wait()
	}
}

// Dequeue pops the next eligible item, strictly by band priority then age,
// waiting for backoff timestamps and respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (acquire.QueueItem, error) {
	stop := context.AfterFunc(ctx, q.cond.Broadcast)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return acquire.QueueItem{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return acquire.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}

		now := q.clock.Now()
		if item, ok := q.take(now); ok {
			q.cond.Broadcast()
			return item, nil
		}

		// Arm a wakeup for the earliest pending backoff so a lone delayed
		// item does not strand the waiter.
		if next, ok := q.nextNotBefore(); ok {
			timer := time.AfterFunc(next.Sub(now), q.cond.Broadcast)
			q.cond.Wait()
			timer.Stop()
			continue
		}
		q.cond.Wait()
	}
}

// take removes the oldest eligible item from the highest non-empty band.
func (q *Queue) take(now time.Time) (acquire.QueueItem, bool) {
	for band := range q.bands {
		for i, item := range q.bands[band] {
			if item.NotBefore.After(now) {
				continue
			}
			q.bands[band] = append(q.bands[band][:i], q.bands[band][i+1:]...)
			return item, true
		}
	}
	return acquire.QueueItem{}, false
}

func (q *Queue) nextNotBefore() (time.Time, bool) {
	var next time.Time
	found := false
	for band := range q.bands {
		for _, item := range q.bands[band] {
			if !found || item.NotBefore.Before(next) {
				next = item.NotBefore
				found = true
			}
		}
	}
	return next, found
}

// Len returns the number of queued items across all bands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Close wakes all waiters and rejects further operations.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
