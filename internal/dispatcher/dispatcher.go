// Package dispatcher manages worker fan-out over the reconcile queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/askmaven/internal/core"
	"github.com/JakeFAU/askmaven/internal/worker"
)

// Queue is a core.Queue that also supports non-blocking enqueue.
type Queue interface {
	core.Queue
	TryEnqueue(req core.ReconcileRequest) error
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req core.ReconcileRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// TryEnqueue proxies a non-blocking enqueue to the underlying queue.
func (d *Dispatcher) TryEnqueue(req core.ReconcileRequest) error {
	if err := d.queue.TryEnqueue(req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
