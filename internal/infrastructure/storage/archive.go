package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"go.uber.org/zap"
)

// ErrNotArchived is returned when no archived copy of a message exists
var ErrNotArchived = errors.New("message is not archived")

const hl7ContentType = "x-application/hl7-v2+er7"

// DeadLetterArchive copies dead-lettered messages to object storage
type DeadLetterArchive struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
}

// NewDeadLetterArchive creates an archive writing below prefix
func NewDeadLetterArchive(store ObjectStore, prefix string, logger *zap.Logger) *DeadLetterArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterArchive{
		store:  store,
		prefix: prefix,
		logger: logger.Named("dead_letter_archive"),
	}
}

// Key returns the object key for a message dead-lettered at ts:
// [prefix/]dead-letter/YYYY/MM/DD/<id>.hl7 (UTC date)
func (a *DeadLetterArchive) Key(messageID string, ts time.Time) string {
	return path.Join(a.prefix, "dead-letter", ts.UTC().Format("2006/01/02"), messageID+".hl7")
}

// Handle archives a MessageDeadLettered event
func (a *DeadLetterArchive) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*delivery.MessageDeadLetteredEvent)
	if !ok {
		return nil
	}
	key := a.Key(e.AggregateID(), e.OccurredAt())
	metadata := map[string]string{
		"message-type":       e.MessageType,
		"source-system":      e.SourceSystem,
		"destination-system": e.DestinationSystem,
		"retry-count":        strconv.Itoa(e.RetryCount),
		"last-error":         truncate(e.Error, 512),
	}
	if err := a.store.Put(ctx, key, []byte(e.Content), hl7ContentType, metadata); err != nil {
		return fmt.Errorf("archive message %s: %w", e.AggregateID(), err)
	}
	a.logger.Info("dead-lettered message archived",
		zap.String("message_id", e.AggregateID()),
		zap.String("key", key),
	)
	return nil
}

// EventTypes returns the event types this handler is interested in
func (a *DeadLetterArchive) EventTypes() []string {
	return []string{delivery.EventTypeMessageDeadLettered}
}

// DownloadURL presigns the archived copy of a message dead-lettered around ts.
// The day before and after are tried too, since the event time and the
// message's update time can straddle midnight.
func (a *DeadLetterArchive) DownloadURL(ctx context.Context, messageID string, ts time.Time, expiresIn time.Duration) (string, time.Time, error) {
	for _, day := range []time.Time{ts, ts.Add(-24 * time.Hour), ts.Add(24 * time.Hour)} {
		key := a.Key(messageID, day)
		ok, err := a.store.Exists(ctx, key)
		if err != nil {
			return "", time.Time{}, err
		}
		if ok {
			return a.store.PresignGet(ctx, key, expiresIn)
		}
	}
	return "", time.Time{}, ErrNotArchived
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ shared.EventHandler = (*DeadLetterArchive)(nil)
