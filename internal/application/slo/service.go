// Package slo implements the use cases of the error-budget engine: SLO
// definitions, measurements, status, breach prediction and reporting.
package slo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/domain/slo"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Defaults for query parameters
const (
	DefaultHistoryHours = 24
	DefaultReportDays   = 30
)

// GaugeRecorder receives the cached figures of an SLO after each change
type GaugeRecorder interface {
	RecordSLO(ctx context.Context, s *slo.SLO)
}

// Option configures optional collaborators
type Option func(*Service)

// WithGauges records SLO gauges after every measurement
func WithGauges(g GaugeRecorder) Option {
	return func(s *Service) { s.gauges = g }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service handles SLO operations
type Service struct {
	services     slo.ServiceRepository
	slos         slo.SLORepository
	measurements slo.MeasurementRepository
	publisher    shared.EventPublisher
	gauges       GaugeRecorder
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a new SLO service
func NewService(
	services slo.ServiceRepository,
	slos slo.SLORepository,
	measurements slo.MeasurementRepository,
	publisher shared.EventPublisher,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		services:     services,
		slos:         slos,
		measurements: measurements,
		publisher:    publisher,
		logger:       logger.Named("slo_service"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSLO defines an SLO, creating its service on first use
func (s *Service) CreateSLO(ctx context.Context, req CreateSLORequest) (*SLOResponse, error) {
	service, err := s.getOrCreateService(ctx, req.ServiceName)
	if err != nil {
		return nil, err
	}

	if _, err := s.slos.FindByServiceAndName(ctx, service.Name, req.Name); err == nil {
		return nil, shared.NewDomainError("ALREADY_EXISTS",
			fmt.Sprintf("SLO %q already exists for service %q", req.Name, service.Name))
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	def, err := slo.NewSLO(service, slo.NewSLOParams{
		Name:              req.Name,
		Description:       req.Description,
		Type:              slo.Type(req.Type),
		TargetPercentage:  req.TargetPercentage,
		WindowDays:        req.WindowDays,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		AlertOnBreach:     boolOr(req.AlertOnBreach, true),
		AlertOnBurnRate:   boolOr(req.AlertOnBurnRate, true),
	})
	if err != nil {
		return nil, err
	}
	if err := s.slos.Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save SLO: %w", err)
	}

	logger.Enrich(ctx, s.logger).Info("SLO created",
		zap.String("slo_id", def.ID.String()),
		zap.String("service", service.Name),
		zap.String("name", def.Name),
		zap.Float64("target", def.TargetPercentage),
	)
	return ToSLOResponse(def), nil
}

func (s *Service) getOrCreateService(ctx context.Context, name string) (*slo.Service, error) {
	existing, err := s.services.FindByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	service, err := slo.NewService(name)
	if err != nil {
		return nil, err
	}
	if err := s.services.Save(ctx, service); err != nil {
		return nil, fmt.Errorf("failed to save service: %w", err)
	}
	s.logger.Info("service registered", zap.String("service", service.Name))
	return service, nil
}

// GetSLO returns an SLO definition
func (s *Service) GetSLO(ctx context.Context, id uuid.UUID) (*SLOResponse, error) {
	def, err := s.slos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToSLOResponse(def), nil
}

// RecordMeasurement stores an observation, recomputes the SLO's status and
// publishes status change and breach events when the status moves.
func (s *Service) RecordMeasurement(ctx context.Context, id uuid.UUID, req RecordMeasurementRequest) (*MeasurementResponse, error) {
	def, err := s.slos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := s.record(ctx, def, req)
	if err != nil {
		return nil, err
	}
	resp := ToMeasurementResponse(m)
	return &resp, nil
}

func (s *Service) record(ctx context.Context, def *slo.SLO, req RecordMeasurementRequest) (*slo.Measurement, error) {
	ts := s.now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = *req.Timestamp
	}

	m, err := slo.NewMeasurement(def, req.SuccessCount, req.TotalCount, ts)
	if err != nil {
		return nil, err
	}

	recent, err := s.measurements.FindBetween(ctx, def.ID, ts.Add(-slo.BurnRateLookback), ts)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent measurements: %w", err)
	}
	m.BurnRate = slo.BurnRate(append(recent, m))

	if err := s.measurements.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save measurement: %w", err)
	}

	// from here on m is stored and is returned even on error
	snap, err := s.evaluate(ctx, def)
	if err != nil {
		return m, err
	}
	previous := def.Apply(snap)
	if err := s.slos.Save(ctx, def); err != nil {
		return m, fmt.Errorf("failed to save SLO: %w", err)
	}
	if s.gauges != nil {
		s.gauges.RecordSLO(ctx, def)
	}

	if def.Status != previous {
		l := logger.Enrich(ctx, s.logger)
		l.Info("SLO status changed",
			zap.String("slo_id", def.ID.String()),
			zap.String("slo", def.Name),
			zap.String("from", string(previous)),
			zap.String("to", string(def.Status)),
			zap.Float64("error_budget_remaining", def.ErrorBudgetRemaining),
		)
		events := []shared.DomainEvent{slo.NewStatusChangedEvent(def, previous)}
		if def.Status == slo.StatusBreached && def.AlertOnBreach {
			l.Warn("SLO breached",
				zap.String("slo_id", def.ID.String()),
				zap.String("service", def.ServiceName),
				zap.String("slo", def.Name),
			)
			events = append(events, slo.NewBreachedEvent(def))
		}
		s.publish(ctx, events...)
	}

	return m, nil
}

// evaluate aggregates the measurements inside the SLO's window
func (s *Service) evaluate(ctx context.Context, def *slo.SLO) (*slo.Snapshot, error) {
	now := s.now()
	window, err := s.measurements.FindBetween(ctx, def.ID, now.Add(-def.Window()), now)
	if err != nil {
		return nil, fmt.Errorf("failed to load window measurements: %w", err)
	}
	snap := slo.Evaluate(def, window)
	snap.Status = def.EvaluateStatus(snap.CurrentPercentage)
	return snap, nil
}

// Status computes the current figures of an SLO over its window
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*slo.Snapshot, error) {
	def, err := s.slos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, def)
}

// History returns the measurements of the last hours, oldest first
func (s *Service) History(ctx context.Context, id uuid.UUID, hours int) ([]MeasurementResponse, error) {
	if hours <= 0 {
		hours = DefaultHistoryHours
	}
	if _, err := s.slos.FindByID(ctx, id); err != nil {
		return nil, err
	}
	ms, err := s.measurements.FindSince(ctx, id, s.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, err
	}
	out := make([]MeasurementResponse, len(ms))
	for i, m := range ms {
		out[i] = ToMeasurementResponse(m)
	}
	return out, nil
}

// List returns the status of every SLO matching filter
func (s *Service) List(ctx context.Context, filter slo.Filter) ([]*slo.Snapshot, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "unknown SLO status: "+string(filter.Status))
	}
	defs, err := s.slos.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.evaluateAll(ctx, defs)
}

func (s *Service) evaluateAll(ctx context.Context, defs []*slo.SLO) ([]*slo.Snapshot, error) {
	snaps := make([]*slo.Snapshot, len(defs))
	for i, def := range defs {
		snap, err := s.evaluate(ctx, def)
		if err != nil {
			return nil, err
		}
		snaps[i] = snap
	}
	return snaps, nil
}

// CheckViolations lists SLOs currently below their target or warning threshold
func (s *Service) CheckViolations(ctx context.Context, serviceName string) ([]*slo.Violation, error) {
	defs, snaps, err := s.load(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	violations := make([]*slo.Violation, 0)
	for i, def := range defs {
		if v := slo.CheckViolation(def, snaps[i]); v != nil {
			violations = append(violations, v)
		}
	}
	return violations, nil
}

// PredictBreach projects whether the SLO's budget runs out within hoursAhead
func (s *Service) PredictBreach(ctx context.Context, id uuid.UUID, hoursAhead int) (*slo.Prediction, error) {
	def, err := s.slos.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := s.evaluate(ctx, def)
	if err != nil {
		return nil, err
	}
	return slo.Predict(def, snap, hoursAhead), nil
}

// Report summarizes compliance of all SLOs, optionally of one service
func (s *Service) Report(ctx context.Context, serviceName string, days int) (*slo.Report, error) {
	if days <= 0 {
		days = DefaultReportDays
	}
	defs, snaps, err := s.load(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return slo.BuildReport(defs, snaps, days), nil
}

func (s *Service) load(ctx context.Context, serviceName string) ([]*slo.SLO, []*slo.Snapshot, error) {
	defs, err := s.slos.List(ctx, slo.Filter{ServiceName: serviceName})
	if err != nil {
		return nil, nil, err
	}
	snaps, err := s.evaluateAll(ctx, defs)
	if err != nil {
		return nil, nil, err
	}
	return defs, snaps, nil
}

func (s *Service) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish SLO events", zap.Error(err))
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
