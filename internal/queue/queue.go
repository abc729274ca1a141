// Package queue provides the durable at-least-once job queue that carries
// task attempts from the batch executor to the worker pool.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty indicates no attempt is currently visible for dequeue.
var ErrEmpty = errors.New("queue is empty")

// Attempt is one unit of work placed on the queue: a task at a specific
// attempt number. The executor never enqueues an attempt whose dependencies
// are unmet.
type Attempt struct {
	// TaskID is the task to execute.
	TaskID string `json:"task_id"`
	// BatchID is the batch that owns the task.
	BatchID string `json:"batch_id"`
	// Attempt is the attempt number, starting at 1.
	Attempt int `json:"attempt"`
	// EnqueuedAt is when the attempt was placed on the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handle identifies a dequeued attempt for acknowledgement.
type Handle int64

// Queue is the durable job queue contract. Delivery is at-least-once: an
// attempt that is dequeued but never acknowledged becomes visible again
// after the visibility timeout, so consumers must de-duplicate by
// task ID + attempt number.
type Queue interface {
	// Enqueue places an attempt on the queue. Re-enqueueing the same
	// (task, attempt) pair is a no-op and returns the existing handle.
	Enqueue(ctx context.Context, attempt *Attempt) (Handle, error)
	// Dequeue claims the oldest visible attempt, or returns ErrEmpty.
	Dequeue(ctx context.Context) (*Attempt, Handle, error)
	// Ack marks a claimed attempt as consumed.
	Ack(ctx context.Context, handle Handle) error
	// Depth returns the number of unconsumed attempts.
	Depth(ctx context.Context) (int, error)
}
