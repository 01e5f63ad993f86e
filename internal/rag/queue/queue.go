// Package queue provides the ingestion job queue.
//
// A popped job is gone from the queue: a crash between pop and completion
// loses the delivery, and the startup recovery scan re-enqueues the affected
// documents from their status rows. Duplicate deliveries are harmless
// because the worker claims a document with a compare-and-swap status
// transition before processing, so a redelivered job finds nothing to claim
// and is dropped.
package queue

import (
	"context"
	"time"
)

// Queue carries document IDs awaiting ingestion.
type Queue interface {
	// Enqueue appends a document ID to the queue.
	Enqueue(ctx context.Context, documentID string) error

	// Dequeue pops the oldest document ID, blocking up to wait. It returns
	// an empty string when the queue stayed empty.
	Dequeue(ctx context.Context, wait time.Duration) (string, error)

	// Len returns the number of queued jobs.
	Len(ctx context.Context) (int64, error)
}

// memoryQueue is a channel-backed Queue for tests and single-process runs.
type memoryQueue struct {
	ch chan string
}

var _ Queue = (*memoryQueue)(nil)

// NewMemoryQueue creates an in-process queue with the given capacity.
func NewMemoryQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &memoryQueue{ch: make(chan string, capacity)}
}

func (q *memoryQueue) Enqueue(ctx context.Context, documentID string) error {
	select {
	case q.ch <- documentID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *memoryQueue) Len(_ context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}
