package oplog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wt-db/wt/index"
)

type recordingEngine struct {
	mu  sync.Mutex
	ops []Operation
	err error
}

func (e *recordingEngine) ApplyOperation(op Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.ops = append(e.ops, op)
	return nil
}

func (e *recordingEngine) applied() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Operation(nil), e.ops...)
}

func mustOp(t *testing.T, kind Kind) Operation {
	t.Helper()
	op, err := NewOperation(kind, index.Link{PageID: 1, Offset: 0, Length: 8}, index.Link{}, []byte("row"), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewOperation: %v", err)
	}
	return op
}

// TestQueue_FIFOOrder verifies operations are popped in push order.
func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue()
	a := mustOp(t, KindInsert)
	b := mustOp(t, KindUpdate)
	q.Push(a)
	q.Push(b)

	ctx := context.Background()
	got1, err := q.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := q.Pop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got1.ID != a.ID || got2.ID != b.ID {
		t.Fatal("expected FIFO order")
	}
}

// TestQueue_WaitDrained_Empty verifies WaitDrained returns immediately
// on an empty queue.
func TestQueue_WaitDrained_Empty(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.WaitDrained(ctx); err != nil {
		t.Fatalf("expected immediate return, got %v", err)
	}
}

// TestTask_RunAppliesInOrder verifies the worker applies queued
// operations in FIFO order and WaitForOps blocks until it catches up.
func TestTask_RunAppliesInOrder(t *testing.T) {
	q := NewQueue()
	engine := &recordingEngine{}
	task := NewTask(q, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	a := mustOp(t, KindInsert)
	b := mustOp(t, KindUpdate)
	c := mustOp(t, KindDelete)
	task.Enqueue(a)
	task.Enqueue(b)
	task.Enqueue(c)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := task.WaitForOps(waitCtx); err != nil {
		t.Fatalf("WaitForOps: %v", err)
	}

	applied := engine.applied()
	if len(applied) != 3 {
		t.Fatalf("expected 3 applied operations, got %d", len(applied))
	}
	if applied[0].ID != a.ID || applied[1].ID != b.ID || applied[2].ID != c.ID {
		t.Fatal("expected operations applied in FIFO order")
	}
}

// TestTask_FailedApplyDoesNotBlockQueue verifies a failing operation is
// logged and skipped rather than stalling the worker.
func TestTask_FailedApplyDoesNotBlockQueue(t *testing.T) {
	q := NewQueue()
	engine := &recordingEngine{}
	task := NewTask(q, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	engine.mu.Lock()
	engine.err = errFake{}
	engine.mu.Unlock()
	task.Enqueue(mustOp(t, KindInsert))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := task.WaitForOps(waitCtx); err != nil {
		t.Fatalf("WaitForOps: %v", err)
	}
	if task.Len() != 0 {
		t.Fatalf("expected queue drained even after apply failure, got len=%d", task.Len())
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake apply failure" }

type countingCheckpoint struct {
	mu sync.Mutex
	n  int
}

func (c *countingCheckpoint) Checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingCheckpoint) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// TestScheduler_RunsCheckpointOnSchedule verifies an every-second cron
// entry actually drives the engine's Checkpoint.
func TestScheduler_RunsCheckpointOnSchedule(t *testing.T) {
	engine := &countingCheckpoint{}
	s := NewScheduler(engine)
	if err := s.AddCheckpoint("* * * * * *"); err != nil {
		t.Fatalf("AddCheckpoint: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if engine.count() >= 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("scheduled checkpoint never fired")
}

// TestScheduler_RejectsBadSpec verifies a malformed cron expression is
// reported at registration, not swallowed.
func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(&countingCheckpoint{})
	if err := s.AddCheckpoint("not a cron spec"); err == nil {
		t.Fatal("expected an error for a malformed schedule")
	}
}
