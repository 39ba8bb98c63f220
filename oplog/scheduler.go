package oplog

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CheckpointEngine is the periodic maintenance hook a persistent
// space exposes: flush the operation log's effects to a consistent
// on-disk frontier. Reclaiming unreachable pages is not part of it.
type CheckpointEngine interface {
	Checkpoint() error
}

// Scheduler drives periodic checkpoints against a
// CheckpointEngine on a cron schedule, so a long-lived persistent table
// flushes on a timer rather than only on demand.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	engine CheckpointEngine
}

// NewScheduler builds a scheduler targeting engine. Schedules are added
// with AddCheckpoint before Start.
func NewScheduler(engine CheckpointEngine) *Scheduler {
	loc, _ := time.LoadLocation("UTC")
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		engine: engine,
	}
}

// AddCheckpoint registers a cron spec (six-field, seconds-first) that
// triggers engine.Checkpoint. Errors from Checkpoint are logged, never
// propagated: a missed checkpoint is retried on the next tick.
func (s *Scheduler) AddCheckpoint(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.engine.Checkpoint(); err != nil {
			log.Printf("oplog: scheduled checkpoint failed: %v", err)
		}
	})
	return err
}

// Start begins running scheduled checkpoints in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight checkpoint to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}
