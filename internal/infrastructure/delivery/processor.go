package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"github.com/itechsmart/sentinel/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender delivers a message to its destination and returns the receiver's ACK.
// A negative ACK is returned as an Ack, not an error.
type Sender interface {
	Send(ctx context.Context, msg *delivery.Message) (*delivery.Ack, error)
}

// OutcomeRecorder is told the result of every delivery attempt
type OutcomeRecorder interface {
	RecordOutcome(destination string, success bool)
}

// ProcessorConfig holds configuration for the processor
type ProcessorConfig struct {
	BatchSize              int
	PollInterval           time.Duration
	Concurrency            int
	StaleProcessingTimeout time.Duration
	CleanupEnabled         bool
	CleanupRetention       time.Duration
	CleanupInterval        time.Duration
}

// DefaultProcessorConfig returns default configuration
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:              10,
		PollInterval:           5 * time.Second,
		Concurrency:            4,
		StaleProcessingTimeout: 5 * time.Minute,
		CleanupEnabled:         true,
		CleanupRetention:       7 * 24 * time.Hour,
		CleanupInterval:        time.Hour,
	}
}

// ProcessorOption configures optional collaborators
type ProcessorOption func(*Processor)

// WithMetrics records attempt metrics
func WithMetrics(m *telemetry.DeliveryMetrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithOutcomeRecorder forwards attempt outcomes, e.g. to the SLO bridge
func WithOutcomeRecorder(r OutcomeRecorder) ProcessorOption {
	return func(p *Processor) { p.recorder = r }
}

// Processor delivers ready messages in the background
type Processor struct {
	repo      delivery.MessageRepository
	sender    Sender
	publisher shared.EventPublisher
	policy    delivery.RetryPolicy
	config    ProcessorConfig
	logger    *zap.Logger
	metrics   *telemetry.DeliveryMetrics
	recorder  OutcomeRecorder

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processed atomic.Int64
}

// NewProcessor creates a new processor
func NewProcessor(
	repo delivery.MessageRepository,
	sender Sender,
	publisher shared.EventPublisher,
	policy delivery.RetryPolicy,
	config ProcessorConfig,
	l *zap.Logger,
	opts ...ProcessorOption,
) *Processor {
	defaults := DefaultProcessorConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.StaleProcessingTimeout <= 0 {
		config.StaleProcessingTimeout = defaults.StaleProcessingTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.CleanupRetention <= 0 {
		config.CleanupRetention = defaults.CleanupRetention
	}
	if l == nil {
		l = zap.NewNop()
	}

	p := &Processor{
		repo:      repo,
		sender:    sender,
		publisher: publisher,
		policy:    policy,
		config:    config,
		logger:    l.Named("delivery_processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start starts the background processing
func (p *Processor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.processLoop(ctx)

	if p.config.CleanupEnabled {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}

	p.logger.Info("delivery processor started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Int("concurrency", p.config.Concurrency),
		zap.String("retry_strategy", string(p.policy.Strategy)),
	)
	return nil
}

// Stop gracefully stops the processor; in-flight deliveries finish first
func (p *Processor) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("delivery processor stopped", zap.Int64("attempts", p.processed.Load()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) processLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// keep draining while full batches come back
			for {
				n, err := p.ProcessBatch(ctx)
				if err != nil || n < p.config.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// ProcessBatch releases stale claims, claims up to BatchSize ready messages
// and delivers them. It returns the number of messages attempted.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	released, err := p.repo.ReleaseStale(ctx, time.Now().Add(-p.config.StaleProcessingTimeout))
	if err != nil {
		p.logger.Error("failed to release stale messages", zap.Error(err))
	} else if released > 0 {
		p.logger.Warn("released messages stuck in processing", zap.Int64("count", released))
	}

	claimed, err := p.repo.ClaimReady(ctx, time.Now(), p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to claim ready messages", zap.Error(err))
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "delivery.batch",
		telemetry.WithAttribute(telemetry.SpanAttrBatchSize, len(claimed)))
	defer span.End()

	// a detached context lets claimed messages finish their attempt during shutdown
	deliverCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(p.config.Concurrency)
	for _, msg := range claimed {
		g.Go(func() error {
			p.deliver(deliverCtx, msg)
			return nil
		})
	}
	_ = g.Wait()

	return len(claimed), nil
}

// deliver makes one attempt and persists its outcome
func (p *Processor) deliver(ctx context.Context, msg *delivery.Message) {
	l := p.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("destination", msg.DestinationSystem),
		zap.Int("retry_count", msg.RetryCount),
	)
	ctx = logger.WithContext(ctx, l)

	ctx, span := telemetry.StartSpan(ctx, "delivery.send",
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrMessageID, msg.ID),
		telemetry.WithAttribute(telemetry.SpanAttrMessageType, msg.MessageType),
		telemetry.WithAttribute(telemetry.SpanAttrControlID, msg.ControlID),
		telemetry.WithAttribute(telemetry.SpanAttrDestination, msg.DestinationSystem),
		telemetry.WithAttribute(telemetry.SpanAttrRetryCount, msg.RetryCount),
	)
	defer span.End()

	var (
		ack     *delivery.Ack
		sendErr error
	)
	start := time.Now()
	telemetry.WithProfilingLabels(ctx, telemetry.DeliveryLabels("deliver", msg.DestinationSystem), func(ctx context.Context) {
		ack, sendErr = p.sender.Send(ctx, msg)
	})
	elapsed := time.Since(start)
	p.processed.Add(1)

	errText := ""
	switch {
	case sendErr != nil:
		errText = sendErr.Error()
	case ack != nil:
		errText = ack.Err()
		telemetry.SetAttributes(span, telemetry.SpanAttrAckCode, string(ack.Code))
	}
	attemptNumber := msg.RetryCount + 1

	var (
		event   shared.DomainEvent
		outcome string
	)
	if errText == "" {
		msg.MarkDelivered()
		event = delivery.NewMessageDeliveredEvent(msg, elapsed)
		outcome = telemetry.OutcomeDelivered
		l.Info("message delivered", zap.Duration("duration", elapsed))
	} else {
		telemetry.AddEvent(span, "delivery_failed", "error", errText)
		if msg.MarkFailed(errText, p.policy) {
			event = delivery.NewMessageDeadLetteredEvent(msg)
			outcome = telemetry.OutcomeDeadLetter
			l.Warn("message moved to dead letter queue", zap.String("last_error", errText))
		} else {
			event = delivery.NewDeliveryFailedEvent(msg)
			outcome = telemetry.OutcomeRetrying
			l.Info("delivery failed, retry scheduled",
				zap.String("error", errText),
				zap.Timep("next_retry_at", msg.NextRetryAt),
			)
		}
	}

	attempt := delivery.NewAttempt(msg, attemptNumber, ack, errText, elapsed)
	saveErr := p.repo.Transition(ctx, msg, delivery.StatusProcessing)
	if saveErr != nil {
		attempt.DeadLettered = false
	}
	if err := p.repo.SaveAttempt(ctx, attempt); err != nil {
		l.Error("failed to save delivery attempt", zap.Error(err))
	}
	if saveErr != nil {
		if errors.Is(saveErr, shared.ErrInvalidState) {
			// released as stale, or moved by an operator, while the attempt ran
			l.Warn("message left processing during delivery, outcome discarded", zap.String("error", errText))
			return
		}
		// the claim stays in processing and is released as stale later
		l.Error("failed to save message after attempt", zap.Error(saveErr))
		telemetry.RecordError(span, saveErr)
		return
	}

	if p.metrics != nil {
		p.metrics.RecordAttempt(ctx, msg.DestinationSystem, outcome, delivery.ErrorKind(errText), elapsed)
	}
	if p.recorder != nil {
		p.recorder.RecordOutcome(msg.DestinationSystem, errText == "")
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, event); err != nil {
			l.Warn("failed to publish delivery event", zap.String("event_type", event.EventType()), zap.Error(err))
		}
	}
}

func (p *Processor) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cleanup(ctx)
		}
	}
}

// Cleanup purges delivered messages older than the retention period
func (p *Processor) Cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupRetention)
	deleted, err := p.repo.DeleteDeliveredBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to clean up delivered messages", zap.Error(err))
		return
	}
	if deleted > 0 {
		p.logger.Info("cleaned up delivered messages",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}
