package delivery

import (
	"context"
	"time"
)

// Statistics summarizes the state of the delivery pipeline
type Statistics struct {
	TotalMessages         int64   `json:"total_messages"`
	Delivered             int64   `json:"delivered"`
	Failed                int64   `json:"failed"`
	Retrying              int64   `json:"retrying"`
	DeadLetter            int64   `json:"dead_letter"`
	Quarantined           int64   `json:"quarantined"`
	AverageRetryCount     float64 `json:"average_retry_count"`
	AverageDeliveryTime   float64 `json:"average_delivery_time"`
	RetryQueueSize        int64   `json:"retry_queue_size"`
	DeadLetterQueueSize   int64   `json:"dead_letter_queue_size"`
	QuarantineQueueSize   int64   `json:"quarantine_queue_size"`
	ProcessingCount       int64   `json:"processing_count"`
	OldestReadyAgeSeconds float64 `json:"oldest_ready_age_seconds"`
}

// MessageRepository persists messages and their delivery attempts
type MessageRepository interface {
	// Save inserts a message, or overwrites it unconditionally
	Save(ctx context.Context, msg *Message) error

	// Transition writes msg only while the stored row is in one of the from
	// statuses. It returns shared.ErrInvalidState when the row is missing or
	// another writer moved it first.
	Transition(ctx context.Context, msg *Message, from ...Status) error

	FindByID(ctx context.Context, id string) (*Message, error)

	// FindBySourceControlID finds the latest message a source system sent with the given MSH-10
	FindBySourceControlID(ctx context.Context, source, controlID string) (*Message, error)

	// ClaimReady atomically moves up to limit ready messages to processing and
	// returns them ordered by priority descending then next retry time.
	ClaimReady(ctx context.Context, now time.Time, limit int) ([]*Message, error)

	// ReleaseStale moves messages stuck in processing since before cutoff back to retrying
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)

	// FindByStatuses lists messages in any of the statuses, priority first
	FindByStatuses(ctx context.Context, statuses []Status, limit int) ([]*Message, error)

	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// DeleteDeliveredBefore purges delivered messages older than cutoff
	DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	SaveAttempt(ctx context.Context, attempt *Attempt) error
	FindAttempts(ctx context.Context, messageID string) ([]*Attempt, error)

	// Statistics computes aggregate counters; queue sizes come from CountByStatus
	Statistics(ctx context.Context, now time.Time) (*Statistics, error)
}
