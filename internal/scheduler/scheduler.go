// Package scheduler runs maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTick is how often the loop checks for due jobs.
const DefaultTick = 30 * time.Second

// Job is a named maintenance task with a five-field cron spec.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobStatus reports the last and next run of a job.
type JobStatus struct {
	Name       string     `json:"name"`
	Spec       string     `json:"spec"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Runs       int        `json:"runs"`
}

type entry struct {
	job      Job
	schedule cron.Schedule
	status   JobStatus
}

// Scheduler runs registered jobs when their schedule comes due. A job never
// overlaps with itself.
type Scheduler struct {
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a scheduler that checks for due jobs every tick
// (DefaultTick when zero).
func NewScheduler(tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		tick:     tick,
		now:      time.Now,
		entries:  make(map[string]*entry),
		inflight: make(map[string]struct{}),
	}
}

// Register adds job. Names must be unique and specs must parse.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	schedule, err := s.parser.Parse(job.Spec)
	if err != nil {
		return fmt.Errorf("parse cron expression %q for job %q: %w", job.Spec, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	s.entries[job.Name] = &entry{
		job:      job,
		schedule: schedule,
		status:   JobStatus{Name: job.Name, Spec: job.Spec, NextRunAt: schedule.Next(s.now().UTC())},
	}
	return nil
}

// Start launches the background loop. It returns an error if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Status())))
	return nil
}

// Run starts the scheduler and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every job whose next run time has passed and returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now().UTC()
	ran := 0
	for _, e := range s.due(now) {
		if ctx.Err() != nil {
			break
		}
		if s.runEntry(ctx, e, now) {
			ran++
		}
	}
	return ran
}

// RunNow runs the named job immediately, regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if !s.runEntry(ctx, e, s.now().UTC()) {
		return fmt.Errorf("job %q is already running", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.status.LastStatus == "error" {
		return errors.New(e.status.LastError)
	}
	return nil
}

func (s *Scheduler) due(now time.Time) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entry
	for _, e := range s.entries {
		if !e.status.NextRunAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].job.Name < out[j].job.Name })
	return out
}

// runEntry executes one job and records the outcome. It returns false when
// the job was already in flight.
func (s *Scheduler) runEntry(ctx context.Context, e *entry, now time.Time) bool {
	name := e.job.Name
	if !s.tryAcquire(name) {
		return false
	}
	defer s.release(name)

	start := time.Now()
	err := e.job.Run(ctx)

	s.mu.Lock()
	e.status.LastRunAt = &now
	e.status.NextRunAt = e.schedule.Next(now)
	e.status.Runs++
	if err != nil {
		e.status.LastStatus = "error"
		e.status.LastError = err.Error()
	} else {
		e.status.LastStatus = "success"
		e.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("maintenance job failed", slog.String("job", name), slog.String("error", err.Error()))
	} else {
		s.logger.Debug("maintenance job finished", slog.String("job", name), slog.Duration("took", time.Since(start)))
	}
	return true
}

// Status returns a snapshot of every job, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the loop down and waits for it. A job already running finishes
// first.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}
