package oplog

import (
	"context"
	"log"
	"sync/atomic"
)

// Task is the single background worker that drains a Queue against a
// PersistenceEngine. Exactly one Task runs per persistent table: a
// single worker means operations for one table apply in enqueue order
// with no interleaving.
type Task struct {
	queue   *Queue
	engine  PersistenceEngine
	waiting atomic.Bool
	done    chan struct{}
}

// NewTask builds a worker bound to queue and engine. Call Run to start
// it (typically in its own goroutine).
func NewTask(queue *Queue, engine PersistenceEngine) *Task {
	return &Task{queue: queue, engine: engine, done: make(chan struct{})}
}

// Waiting reports whether the worker is currently idle, blocked in
// Pop with nothing queued: useful for dashboards and tests wanting to
// know the log has caught up without racing WaitForOps.
func (t *Task) Waiting() bool { return t.waiting.Load() }

// Run pops operations and applies them until ctx is cancelled. A failed
// ApplyOperation is logged and the operation is dropped rather than
// retried forever; the in-memory state stays authoritative and a reopen
// re-derives indexes from the data file, so one bad operation must not
// block the whole queue.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)
	for {
		t.waiting.Store(true)
		op, err := t.queue.Pop(ctx)
		t.waiting.Store(false)
		if err != nil {
			return
		}
		if err := t.engine.ApplyOperation(op); err != nil {
			log.Printf("oplog: apply operation %s (%s) failed: %v", op.ID, op.Kind, err)
		}
		if op.OnApplied != nil {
			op.OnApplied()
		}
		t.queue.Done()
	}
}

// Done returns a channel closed once Run has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Enqueue pushes op onto the underlying queue.
func (t *Task) Enqueue(op Operation) { t.queue.Push(op) }

// WaitForOps blocks until every currently queued operation has been
// applied, or ctx is done: used by callers that need read-your-writes
// durability before returning.
func (t *Task) WaitForOps(ctx context.Context) error {
	return t.queue.WaitDrained(ctx)
}

// Len reports the number of operations pushed but not yet applied.
func (t *Task) Len() int { return t.queue.Len() }
