// Package delivery implements the use cases of the HL7 retry queue:
// submission, queue inspection and operator interventions.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Queue listing limits
const (
	DefaultQueueLimit = 100
	MaxQueueLimit     = 1000
)

// ServiceConfig contains configuration for the delivery service
type ServiceConfig struct {
	// MaxRetries applies to messages submitted without their own limit
	MaxRetries  int
	Idempotency shared.IdempotencyConfig
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxRetries:  delivery.DefaultRetryPolicy().MaxRetries,
		Idempotency: shared.DefaultIdempotencyConfig(),
	}
}

// Service handles HL7 message submission and queue management
type Service struct {
	repo        delivery.MessageRepository
	idempotency shared.IdempotencyStore
	publisher   shared.EventPublisher
	config      ServiceConfig
	logger      *zap.Logger
}

// NewService creates a new delivery service. idempotency and publisher may be nil.
func NewService(
	repo delivery.MessageRepository,
	idempotency shared.IdempotencyStore,
	publisher shared.EventPublisher,
	config ServiceConfig,
	logger *zap.Logger,
) *Service {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultServiceConfig().MaxRetries
	}
	if config.Idempotency.TTL <= 0 {
		config.Idempotency.TTL = shared.DefaultIdempotencyConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		idempotency: idempotency,
		publisher:   publisher,
		config:      config,
		logger:      logger.Named("delivery_service"),
	}
}

// Submit enqueues a message. Content that is not valid HL7 is accepted and
// quarantined straight away. A repeated (source, control ID) pair returns
// the original message ID without enqueueing again.
func (s *Service) Submit(ctx context.Context, req SubmitMessageRequest) (*SubmitResult, error) {
	l := logger.Enrich(ctx, s.logger)

	if strings.TrimSpace(req.Content) == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "message content cannot be empty")
	}
	if strings.TrimSpace(req.DestinationSystem) == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "destination system is required")
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.config.MaxRetries
	}
	priority := req.Priority
	if priority == 0 {
		priority = delivery.DefaultPriority
	}

	msg, headerErr := delivery.NewMessage(req.ID, req.Content, req.SourceSystem, req.DestinationSystem, priority, maxRetries)

	if req.ID != "" {
		if _, err := s.repo.FindByID(ctx, msg.ID); err == nil {
			return nil, shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("message %s already exists", msg.ID))
		} else if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("failed to check message id: %w", err)
		}
	}

	key := s.idempotencyKey(msg, headerErr)
	if key != "" {
		existing, held := s.findDuplicate(ctx, key, msg)
		if existing != "" {
			l.Info("duplicate submission ignored",
				zap.String("message_id", existing),
				zap.String("source_system", msg.SourceSystem),
				zap.String("control_id", msg.ControlID),
			)
			return &SubmitResult{MessageID: existing, Status: "duplicate", Duplicate: true}, nil
		}
		if !held {
			key = ""
		}
	}

	var event shared.DomainEvent
	if headerErr != nil {
		msg.QuarantineMalformed(headerErr)
		event = delivery.NewMessageQuarantinedEvent(msg)
	} else {
		event = delivery.NewMessageSubmittedEvent(msg)
	}

	if err := s.repo.Save(ctx, msg); err != nil {
		if key != "" {
			if relErr := s.idempotency.Release(ctx, key); relErr != nil {
				l.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		}
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if headerErr != nil {
		l.Warn("malformed message quarantined",
			zap.String("message_id", msg.ID),
			zap.String("destination_system", msg.DestinationSystem),
			zap.Error(headerErr),
		)
	} else {
		l.Info("message submitted",
			zap.String("message_id", msg.ID),
			zap.String("message_type", msg.MessageType),
			zap.String("control_id", msg.ControlID),
			zap.String("destination_system", msg.DestinationSystem),
			zap.Int("priority", msg.Priority),
		)
	}
	s.publish(ctx, event)

	return &SubmitResult{MessageID: msg.ID, Status: msg.Status.String()}, nil
}

func (s *Service) idempotencyKey(msg *delivery.Message, headerErr error) string {
	if !s.config.Idempotency.Enabled || headerErr != nil || msg.ControlID == "" {
		return ""
	}
	return msg.SourceSystem + "|" + msg.ControlID
}

// findDuplicate returns the ID of an earlier submission of the same source
// and control ID, or "" when msg is new. held reports whether key is now
// claimed in the idempotency store. Without a working store the message
// table is searched instead; detection fails open.
func (s *Service) findDuplicate(ctx context.Context, key string, msg *delivery.Message) (existing string, held bool) {
	l := logger.Enrich(ctx, s.logger)

	if s.idempotency != nil {
		claimed, existing, err := s.idempotency.Claim(ctx, key, msg.ID, s.config.Idempotency.TTL)
		if err == nil {
			if !claimed {
				return existing, false
			}
			return "", true
		}
		l.Warn("idempotency store unavailable, checking stored messages", zap.String("key", key), zap.Error(err))
	}

	prev, err := s.repo.FindBySourceControlID(ctx, msg.SourceSystem, msg.ControlID)
	switch {
	case err == nil:
		if msg.CreatedAt.Sub(prev.CreatedAt) < s.config.Idempotency.TTL {
			return prev.ID, false
		}
	case !errors.Is(err, shared.ErrNotFound):
		l.Warn("duplicate lookup failed", zap.String("key", key), zap.Error(err))
	}
	return "", false
}

// SubmitInbound enqueues a message received by the MLLP listener
func (s *Service) SubmitInbound(ctx context.Context, content, destination string) (string, error) {
	result, err := s.Submit(ctx, SubmitMessageRequest{Content: content, DestinationSystem: destination})
	if err != nil {
		return "", err
	}
	return result.MessageID, nil
}

// Quarantine parks a message waiting in the retry queue
func (s *Service) Quarantine(ctx context.Context, id, reason string) error {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := msg.Quarantine(reason); err != nil {
		return shared.WrapDomainError("NOT_FOUND", "message is not in the retry queue", err)
	}
	// the processor may have claimed the message since it was read
	if err := s.repo.Transition(ctx, msg, delivery.StatusPending, delivery.StatusRetrying); err != nil {
		if errors.Is(err, shared.ErrInvalidState) {
			return shared.WrapDomainError("NOT_FOUND", "message is not in the retry queue", err)
		}
		return fmt.Errorf("failed to save message: %w", err)
	}

	logger.Enrich(ctx, s.logger).Info("message quarantined",
		zap.String("message_id", id),
		zap.String("reason", reason),
	)
	s.publish(ctx, delivery.NewMessageQuarantinedEvent(msg))
	return nil
}

// RetryDeadLetter moves a dead-lettered message back to pending with a fresh retry budget
func (s *Service) RetryDeadLetter(ctx context.Context, id string) error {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := msg.ResetFromDeadLetter(); err != nil {
		return err
	}
	if err := s.repo.Transition(ctx, msg, delivery.StatusDeadLetter); err != nil {
		if errors.Is(err, shared.ErrInvalidState) {
			return err
		}
		return fmt.Errorf("failed to save message: %w", err)
	}

	logger.Enrich(ctx, s.logger).Info("dead letter message requeued",
		zap.String("message_id", id),
	)
	return nil
}

// RetryAllDeadLetters requeues every dead-lettered message and returns how many were moved
func (s *Service) RetryAllDeadLetters(ctx context.Context) (int, error) {
	msgs, err := s.repo.FindByStatuses(ctx, []delivery.Status{delivery.StatusDeadLetter}, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letter queue: %w", err)
	}

	requeued := 0
	for _, msg := range msgs {
		if err := msg.ResetFromDeadLetter(); err != nil {
			continue
		}
		if err := s.repo.Transition(ctx, msg, delivery.StatusDeadLetter); err != nil {
			if errors.Is(err, shared.ErrInvalidState) {
				continue
			}
			return requeued, fmt.Errorf("failed to save message %s: %w", msg.ID, err)
		}
		requeued++
	}

	logger.Enrich(ctx, s.logger).Info("dead letter queue requeued",
		zap.Int("count", requeued),
	)
	return requeued, nil
}

// Statistics returns pipeline counters and queue sizes
func (s *Service) Statistics(ctx context.Context) (*delivery.Statistics, error) {
	return s.repo.Statistics(ctx, time.Now())
}

// RetryQueue lists pending and retrying messages
func (s *Service) RetryQueue(ctx context.Context, limit int) ([]MessageResponse, error) {
	return s.queue(ctx, limit, delivery.StatusPending, delivery.StatusRetrying)
}

// DeadLetterQueue lists dead-lettered messages
func (s *Service) DeadLetterQueue(ctx context.Context, limit int) ([]MessageResponse, error) {
	return s.queue(ctx, limit, delivery.StatusDeadLetter)
}

// QuarantineQueue lists quarantined messages
func (s *Service) QuarantineQueue(ctx context.Context, limit int) ([]MessageResponse, error) {
	return s.queue(ctx, limit, delivery.StatusQuarantined)
}

func (s *Service) queue(ctx context.Context, limit int, statuses ...delivery.Status) ([]MessageResponse, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	if limit > MaxQueueLimit {
		limit = MaxQueueLimit
	}
	msgs, err := s.repo.FindByStatuses(ctx, statuses, limit)
	if err != nil {
		return nil, err
	}
	return ToMessageResponses(msgs), nil
}

// Message returns the full message, including its content
func (s *Service) Message(ctx context.Context, id string) (*delivery.Message, error) {
	return s.repo.FindByID(ctx, id)
}

// MessageStatus returns the delivery state of a message
func (s *Service) MessageStatus(ctx context.Context, id string) (*MessageStatusResponse, error) {
	msg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &MessageStatusResponse{
		ID:          msg.ID,
		Status:      msg.Status.String(),
		RetryCount:  msg.RetryCount,
		LastError:   msg.LastError,
		NextRetryAt: msg.NextRetryAt,
		DeliveredAt: msg.DeliveredAt,
	}, nil
}

// MessageAttempts returns the retry history of a message, oldest first
func (s *Service) MessageAttempts(ctx context.Context, id string) ([]AttemptResponse, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	attempts, err := s.repo.FindAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptResponse, len(attempts))
	for i, a := range attempts {
		out[i] = toAttemptResponse(a)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, event shared.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event_type", event.EventType()), zap.Error(err))
	}
}
