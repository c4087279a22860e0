// Package memory provides a bounded in-process queue of reconcile requests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/askmaven/internal/core"
)

var (
	// ErrFull is returned by TryEnqueue when the queue has no free slot.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned once Close has been called.
	ErrClosed = core.ErrQueueClosed
)

// Queue is a bounded in-memory queue with context-aware operations. A job id
// is held at most once until it is dequeued. The channel is never closed;
// shutdown is signalled through done so a racing send cannot panic.
type Queue struct {
	ch   chan core.ReconcileRequest
	done chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:      make(chan core.ReconcileRequest, capacity),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Enqueue pushes a request into the queue or returns if the context ends.
// Requests for a job that is already queued are dropped silently.
func (q *Queue) Enqueue(ctx context.Context, req core.ReconcileRequest) error {
	if ok, err := q.reserve(req.JobID); !ok {
		return err
	}
	select {
	case <-ctx.Done():
		q.release(req.JobID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.release(req.JobID)
		return ErrClosed
	case q.ch <- req:
		return nil
	}
}

// TryEnqueue pushes a request without blocking. It returns ErrFull when no
// slot is free.
func (q *Queue) TryEnqueue(req core.ReconcileRequest) error {
	if ok, err := q.reserve(req.JobID); !ok {
		return err
	}
	select {
	case <-q.done:
		q.release(req.JobID)
		return ErrClosed
	case q.ch <- req:
		return nil
	default:
		q.release(req.JobID)
		return ErrFull
	}
}

// Dequeue pops the next request, respecting context cancellation. Requests
// buffered before Close are still handed out; after that it returns ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (core.ReconcileRequest, error) {
	select {
	case <-ctx.Done():
		return core.ReconcileRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req := <-q.ch:
		q.release(req.JobID)
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			q.release(req.JobID)
			return req, nil
		default:
			return core.ReconcileRequest{}, ErrClosed
		}
	}
}

// Len reports the number of queued requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Pending and later Enqueue calls return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.done)
	q.closed = true
}

// reserve marks jobID as queued. ok is false with a nil error for duplicates.
func (q *Queue) reserve(jobID string) (ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	if _, dup := q.pending[jobID]; dup {
		return false, nil
	}
	q.pending[jobID] = struct{}{}
	return true, nil
}

func (q *Queue) release(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, jobID)
}
