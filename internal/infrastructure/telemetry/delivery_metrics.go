package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/domain/slo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when a metrics set is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Attempt outcomes
const (
	OutcomeDelivered  = "delivered"
	OutcomeRetrying   = "retrying"
	OutcomeDeadLetter = "dead_letter"
)

// DeliveryMetrics records the delivery pipeline and SLO engine as metrics.
// Counters are fed from domain events; attempt latency and gauges are
// recorded directly by the processor and the queue monitor.
type DeliveryMetrics struct {
	logger *zap.Logger

	submitted    *Counter
	attempts     *Counter
	delivered    *Counter
	deadLettered *Counter
	quarantined  *Counter

	attemptDuration *Histogram
	endToEnd        *Histogram

	queueSize      *Gauge
	oldestReadyAge *FloatGauge
	backlogLevel   *Gauge
	sloBudget      *FloatGauge
	sloBurnRate    *FloatGauge
	sloTransitions *Counter
	sloBreaches    *Counter
	burnRateAlerts *Counter
}

// NewDeliveryMetrics creates the instruments on meter.
func NewDeliveryMetrics(meter metric.Meter, logger *zap.Logger) (*DeliveryMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &DeliveryMetrics{logger: logger}
	var err error

	counters := []struct {
		dst              **Counter
		name, desc, unit string
	}{
		{&m.submitted, "sentinel_messages_submitted_total", "Messages accepted into the retry queue", "{message}"},
		{&m.attempts, "sentinel_delivery_attempts_total", "Delivery attempts by outcome", "{attempt}"},
		{&m.delivered, "sentinel_messages_delivered_total", "Messages acknowledged by their destination", "{message}"},
		{&m.deadLettered, "sentinel_messages_dead_lettered_total", "Messages moved to the dead letter queue", "{message}"},
		{&m.quarantined, "sentinel_messages_quarantined_total", "Messages parked for manual review", "{message}"},
		{&m.sloTransitions, "sentinel_slo_status_changes_total", "SLO status transitions", "{change}"},
		{&m.sloBreaches, "sentinel_slo_breaches_total", "SLO breach alerts", "{alert}"},
		{&m.burnRateAlerts, "sentinel_slo_burn_rate_alerts_total", "SLO burn rate alerts", "{alert}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(meter, c.name, c.desc, c.unit); err != nil {
			return nil, err
		}
	}

	if m.attemptDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "sentinel_delivery_attempt_duration_seconds",
		Description: "Time from sending a message to receiving its acknowledgment",
		Unit:        "s",
		Boundaries:  DeliveryDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.endToEnd, err = NewHistogram(meter, HistogramOpts{
		Name:        "sentinel_delivery_time_seconds",
		Description: "Time from submission to successful delivery",
		Unit:        "s",
		Boundaries:  EndToEndBuckets,
	}); err != nil {
		return nil, err
	}

	if m.queueSize, err = NewGauge(meter, "sentinel_queue_messages", "Messages per queue", "{message}"); err != nil {
		return nil, err
	}
	if m.backlogLevel, err = NewGauge(meter, "sentinel_queue_backlog_level", "Backlog alert level: 0 ok, 1 warning, 2 critical", "1"); err != nil {
		return nil, err
	}
	if m.oldestReadyAge, err = NewFloatGauge(meter, "sentinel_queue_oldest_ready_age_seconds", "Age of the oldest message waiting for delivery", "s"); err != nil {
		return nil, err
	}
	if m.sloBudget, err = NewFloatGauge(meter, "sentinel_slo_error_budget_remaining_percent", "Remaining error budget", "%"); err != nil {
		return nil, err
	}
	if m.sloBurnRate, err = NewFloatGauge(meter, "sentinel_slo_burn_rate", "Error budget burn rate", "1"); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAttempt records one delivery attempt. errorKind is empty on success.
func (m *DeliveryMetrics) RecordAttempt(ctx context.Context, destination, outcome, errorKind string, d time.Duration) {
	attrs := []attribute.KeyValue{AttrDestination.String(destination), AttrOutcome.String(outcome)}
	if errorKind != "" {
		attrs = append(attrs, AttrErrorKind.String(errorKind))
	}
	m.attempts.Inc(ctx, attrs...)
	m.attemptDuration.RecordDuration(ctx, d, AttrDestination.String(destination))
}

// RecordQueues records queue sizes from a statistics snapshot.
func (m *DeliveryMetrics) RecordQueues(ctx context.Context, stats *delivery.Statistics) {
	m.queueSize.Record(ctx, stats.RetryQueueSize, AttrQueue.String("retry"))
	m.queueSize.Record(ctx, stats.ProcessingCount, AttrQueue.String("processing"))
	m.queueSize.Record(ctx, stats.DeadLetterQueueSize, AttrQueue.String("dead_letter"))
	m.queueSize.Record(ctx, stats.QuarantineQueueSize, AttrQueue.String("quarantine"))
	m.oldestReadyAge.Record(ctx, stats.OldestReadyAgeSeconds)
}

// RecordBacklogLevel records the monitor's current alert level.
func (m *DeliveryMetrics) RecordBacklogLevel(ctx context.Context, level int64) {
	m.backlogLevel.Record(ctx, level)
}

// RecordSLO records the budget and burn rate of one SLO.
func (m *DeliveryMetrics) RecordSLO(ctx context.Context, s *slo.SLO) {
	attrs := []attribute.KeyValue{AttrSLO.String(s.Name), AttrService.String(s.ServiceName)}
	m.sloBudget.Record(ctx, s.ErrorBudgetRemaining, attrs...)
	m.sloBurnRate.Record(ctx, s.BurnRate, attrs...)
}

// EventTypes implements shared.EventHandler.
func (m *DeliveryMetrics) EventTypes() []string {
	return []string{
		delivery.EventTypeMessageSubmitted,
		delivery.EventTypeMessageDelivered,
		delivery.EventTypeMessageDeadLettered,
		delivery.EventTypeMessageQuarantined,
		slo.EventTypeSLOStatusChanged,
		slo.EventTypeSLOBreached,
		slo.EventTypeSLOBurnRateAlert,
	}
}

// Handle implements shared.EventHandler.
func (m *DeliveryMetrics) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *delivery.MessageSubmittedEvent:
		m.submitted.Inc(ctx,
			AttrSource.String(e.SourceSystem),
			AttrDestination.String(e.DestinationSystem),
		)
	case *delivery.MessageDeliveredEvent:
		m.delivered.Inc(ctx, AttrDestination.String(e.DestinationSystem))
		m.endToEnd.RecordDuration(ctx, e.DeliveryTime, AttrDestination.String(e.DestinationSystem))
	case *delivery.MessageDeadLetteredEvent:
		m.deadLettered.Inc(ctx,
			AttrDestination.String(e.DestinationSystem),
			AttrErrorKind.String(delivery.ErrorKind(e.Error)),
		)
	case *delivery.MessageQuarantinedEvent:
		m.quarantined.Inc(ctx, AttrDestination.String(e.DestinationSystem))
	case *slo.StatusChangedEvent:
		m.sloTransitions.Inc(ctx, AttrSLO.String(e.SLOName), AttrStatus.String(string(e.To)))
	case *slo.BreachedEvent:
		m.sloBreaches.Inc(ctx, AttrSLO.String(e.SLOName), AttrService.String(e.Service))
	case *slo.BurnRateAlertEvent:
		m.burnRateAlerts.Inc(ctx, AttrSLO.String(e.SLOName), AttrService.String(e.Service))
	default:
		m.logger.Debug("ignoring event", zap.String("event_type", event.EventType()))
	}
	return nil
}

var _ shared.EventHandler = (*DeliveryMetrics)(nil)
