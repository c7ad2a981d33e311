// Package scheduler runs the gateway's background jobs: fixed-interval jobs
// such as the SLO violation sweep and daily jobs at a cron time.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// JobStatus is the outcome of a job's last run
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// JobFunc is the work of a job
type JobFunc func(ctx context.Context) error

// Job describes a recurring job. Exactly one of Interval or Cron is set.
type Job struct {
	Name     string
	Interval time.Duration
	// Cron is a daily "minute hour * * *" expression
	Cron       string
	Timeout    time.Duration
	RunOnStart bool
	Run        JobFunc
}

// JobState is a snapshot of a job's run history
type JobState struct {
	Name       string     `json:"name"`
	Status     JobStatus  `json:"status"`
	Runs       int64      `json:"runs"`
	Failures   int64      `json:"failures"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunFor float64    `json:"last_run_seconds"`
}

type entry struct {
	job          Job
	hour, minute int
	trigger      chan struct{}

	mu    sync.Mutex
	state JobState
	// running guards against a manual trigger overlapping a scheduled run
	running bool
}

// Scheduler runs registered jobs until stopped. Each job runs on its own
// goroutine, so a slow job never delays another.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty scheduler
func New(l *zap.Logger) *Scheduler {
	if l == nil {
		l = zap.NewNop()
	}
	return &Scheduler{
		logger:  l.Named("scheduler"),
		entries: make(map[string]*entry),
	}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a func", ErrInvalidConfig)
	}
	if (job.Interval > 0) == (job.Cron != "") {
		return fmt.Errorf("%w: job %s needs exactly one of interval or cron", ErrInvalidConfig, job.Name)
	}

	e := &entry{
		job:     job,
		trigger: make(chan struct{}, 1),
		state:   JobState{Name: job.Name, Status: JobStatusPending},
	}
	if job.Cron != "" {
		hour, minute, err := ParseDailyCron(job.Cron)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		e.hour, e.minute = hour, minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	if _, ok := s.entries[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	s.entries[job.Name] = e
	return nil
}

// Start launches every registered job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels running jobs and waits for them or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// Trigger asks a job to run now. A trigger while one is pending is coalesced.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return nil
}

// States returns a snapshot of every job, sorted by name
func (s *Scheduler) States() []JobState {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]JobState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	if e.job.RunOnStart {
		s.execute(ctx, e)
	}

	for {
		wait := s.scheduleNext(e, time.Now())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-e.trigger:
			timer.Stop()
		}
		s.execute(ctx, e)
	}
}

// scheduleNext records and returns the wait until the job's next run
func (s *Scheduler) scheduleNext(e *entry, now time.Time) time.Duration {
	var next time.Time
	if e.job.Interval > 0 {
		next = now.Add(e.job.Interval)
	} else {
		next = nextDailyRun(now, e.hour, e.minute)
	}
	e.mu.Lock()
	e.state.NextRunAt = &next
	e.mu.Unlock()
	return next.Sub(now)
}

func (s *Scheduler) execute(ctx context.Context, e *entry) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.state.Status = JobStatusRunning
	e.mu.Unlock()

	l := s.logger.With(zap.String("job", e.job.Name))
	jobCtx := logger.WithContext(ctx, l)
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, e.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeRun(jobCtx, e.job.Run)
	elapsed := time.Since(start)

	e.mu.Lock()
	e.running = false
	e.state.Runs++
	e.state.LastRunAt = &start
	e.state.LastRunFor = elapsed.Seconds()
	if err != nil {
		e.state.Status = JobStatusFailed
		e.state.Failures++
		e.state.LastError = err.Error()
	} else {
		e.state.Status = JobStatusSuccess
		e.state.LastError = ""
	}
	e.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		l.Error("Job failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	l.Debug("Job completed", zap.Duration("duration", elapsed))
}

func (s *Scheduler) safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
