package scheduler

import "errors"

var (
	// ErrSchedulerRunning is returned when a job is added after Start
	ErrSchedulerRunning = errors.New("scheduler is already running")

	// ErrDuplicateJob is returned when two jobs share a name
	ErrDuplicateJob = errors.New("job already registered")

	// ErrJobNotFound is returned when triggering an unknown job
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidConfig is returned when a job or cron expression is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
