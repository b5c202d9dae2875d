// Package checkpoint runs a background schedule that periodically checkpoints
// a long-lived tree handle, so a process that keeps a database open without
// further explicit checkpoints still bounds WAL growth.
package checkpoint

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Checkpointer is satisfied by anything that can flush its WAL into the main
// file and truncate it — in this module, *pager.Pager and the root package's
// Tree both qualify.
type Checkpointer interface {
	Checkpoint() error
}

// Scheduler runs one periodic checkpoint job against a Checkpointer. It is a
// deliberately narrower descendant of the teacher's job scheduler: the
// teacher ran an arbitrary number of named SQL jobs (CRON/INTERVAL/ONCE,
// each with its own timeout, no_overlap flag, and catch-up semantics) against
// a CatalogManager-backed job table; this engine only ever needs the one
// recurring job, so the job table, per-job timeout/overlap bookkeeping, and
// the INTERVAL/ONCE ticker loop are dropped — what survives is the same
// cron.Cron-driven registration and start/stop lifecycle.
type Scheduler struct {
	mu     sync.Mutex
	target Checkpointer
	cron   *cron.Cron
	running bool
	lastErr error
}

// NewScheduler creates a scheduler that checkpoints target on the given
// standard 5-field cron spec (e.g. "*/30 * * * *" for every 30 minutes).
func NewScheduler(target Checkpointer, spec string) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{target: target, cron: c}
	_, err := c.AddFunc(spec, s.runCheckpoint)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts the schedule and waits for any in-flight checkpoint to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ctx := s.cron.Stop()
	// Release s.mu before waiting: an in-flight runCheckpoint takes it to
	// record its result.
	s.mu.Unlock()
	<-ctx.Done()
}

// LastError returns the error from the most recent checkpoint attempt, if any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Scheduler) runCheckpoint() {
	err := s.target.Checkpoint()
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		log.Printf("scheduled checkpoint failed: %v", err)
	}
}
