// Package queue holds the in-memory backlog of match ids waiting for
// aggregation. It is unbounded and does not deduplicate: the consumer relies
// on the match's processed flag for idempotency.
package queue

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// MatchQueue is a FIFO of match ids safe for concurrent producers.
type MatchQueue struct {
	mu    sync.Mutex
	items *queue.Queue

	// ready holds at most one pending wake-up for a blocked Dequeue
	ready chan struct{}
}

func New() *MatchQueue {
	return &MatchQueue{
		items: queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends id to the tail. It never blocks.
func (q *MatchQueue) Enqueue(id int64) {
	q.mu.Lock()
	q.items.Add(id)
	q.mu.Unlock()

	q.wake()
}

// Dequeue removes and returns the head of the queue, blocking until an id is
// available or ctx is done.
func (q *MatchQueue) Dequeue(ctx context.Context) (int64, error) {
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			id := q.items.Remove().(int64)
			more := q.items.Length() > 0
			q.mu.Unlock()

			if more {
				q.wake()
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Len returns the number of queued ids
func (q *MatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *MatchQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
