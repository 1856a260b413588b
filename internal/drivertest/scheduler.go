package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ESGI-M2/docuorm/driver"
)

// scheduledJob is a pending RunAfter/RunAt call the in-memory scheduler
// never actually fires on a timer: tests drive it explicitly via Drain
// instead of wiring a real clock.
type scheduledJob struct {
	ID       string
	Fn       driver.JobRef
	Args     driver.Document
	RunAt    time.Time
	Canceled bool
	Done     bool
}

type memScheduler struct {
	mu   sync.Mutex
	jobs []*scheduledJob
}

func newMemScheduler() *memScheduler {
	return &memScheduler{}
}

func (s *memScheduler) RunAfter(ctx context.Context, delayMs int64, fn driver.JobRef, args driver.Document) (string, error) {
	return s.RunAt(ctx, time.Now().Add(time.Duration(delayMs)*time.Millisecond), fn, args)
}

func (s *memScheduler) RunAt(ctx context.Context, at time.Time, fn driver.JobRef, args driver.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.jobs = append(s.jobs, &scheduledJob{ID: id, Fn: fn, Args: args, RunAt: at})
	return id, nil
}

func (s *memScheduler) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == jobID {
			j.Canceled = true
			return nil
		}
	}
	return fmt.Errorf("drivertest: cancel: no job with id %q", jobID)
}

// Pending returns every non-canceled job, for test assertions and manual
// draining.
func (s *memScheduler) Pending() []*scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*scheduledJob
	for _, j := range s.jobs {
		if !j.Canceled && !j.Done {
			out = append(out, j)
		}
	}
	return out
}

// pop claims the earliest pending job, or nil when the queue is empty.
func (s *memScheduler) pop() *scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *scheduledJob
	for _, j := range s.jobs {
		if j.Canceled || j.Done {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) {
			next = j
		}
	}
	if next != nil {
		next.Done = true
	}
	return next
}

// PendingJob is the exported view of one queued job, for assertions outside
// this package.
type PendingJob struct {
	ID   string
	Fn   driver.JobRef
	Args driver.Document
}

// PendingJobs lists every queued, not-yet-dispatched job on m's scheduler.
func (m *Memory) PendingJobs() []PendingJob {
	var out []PendingJob
	for _, j := range m.scheduler.Pending() {
		out = append(out, PendingJob{ID: j.ID, Fn: j.Fn, Args: j.Args})
	}
	return out
}

// Drain dispatches queued jobs in RunAt order through dispatch until none
// remain, following jobs that enqueue further jobs. The scheduler never
// fires on a real timer; tests drive completion explicitly here instead.
func (m *Memory) Drain(ctx context.Context, dispatch func(ctx context.Context, fn driver.JobRef, args driver.Document) error) error {
	for {
		j := m.scheduler.pop()
		if j == nil {
			return nil
		}
		if err := dispatch(ctx, j.Fn, j.Args); err != nil {
			return fmt.Errorf("drivertest: dispatching job %s (%s): %w", j.ID, j.Fn, err)
		}
	}
}
