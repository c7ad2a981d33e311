package slo

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/domain/slo"
	"go.uber.org/zap"
)

// ViolationSweep periodically checks every SLO. New breach and warning
// violations are logged and alerting SLOs publish breach or burn rate
// events; an SLO is not alerted again for the same violation type until
// it recovers or the violation changes type.
type ViolationSweep struct {
	svc    *Service
	logger *zap.Logger

	mu        sync.Mutex
	violating map[uuid.UUID]string
	burning   map[uuid.UUID]bool
}

// NewViolationSweep creates a sweep over all SLOs of svc
func NewViolationSweep(svc *Service, logger *zap.Logger) *ViolationSweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViolationSweep{
		svc:       svc,
		logger:    logger.Named("slo_sweep"),
		violating: make(map[uuid.UUID]string),
		burning:   make(map[uuid.UUID]bool),
	}
}

// Run performs one sweep. It has the scheduler job signature.
func (w *ViolationSweep) Run(ctx context.Context) error {
	defs, snaps, err := w.svc.load(ctx, "")
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var events []shared.DomainEvent
	violations := 0
	for i, def := range defs {
		snap := snaps[i]

		v := slo.CheckViolation(def, snap)
		if v == nil {
			delete(w.violating, def.ID)
		} else {
			violations++
			if w.violating[def.ID] != v.ViolationType {
				w.logger.Warn("SLO violation",
					zap.String("slo_id", def.ID.String()),
					zap.String("service", def.ServiceName),
					zap.String("slo", def.Name),
					zap.String("violation_type", v.ViolationType),
					zap.String("severity", v.Severity),
					zap.Float64("current", v.CurrentPercentage),
					zap.Float64("target", v.TargetPercentage),
				)
				if v.ViolationType == slo.ViolationBreach && def.AlertOnBreach {
					events = append(events, slo.NewBreachedEvent(def))
				}
			}
			w.violating[def.ID] = v.ViolationType
		}

		if !def.AlertOnBurnRate {
			continue
		}
		p := slo.Predict(def, snap, slo.DefaultPredictionHours)
		if p.WillBreach && !w.burning[def.ID] {
			fields := []zap.Field{
				zap.String("slo_id", def.ID.String()),
				zap.String("slo", def.Name),
				zap.Float64("burn_rate", p.BurnRate),
				zap.Float64("error_budget_remaining", p.ErrorBudgetRemaining),
			}
			if p.TimeToBreachHours != nil {
				fields = append(fields, zap.Float64("time_to_breach_hours", *p.TimeToBreachHours))
			}
			w.logger.Warn("error budget projected to run out", fields...)
			events = append(events, slo.NewBurnRateAlertEvent(def, p))
		}
		w.burning[def.ID] = p.WillBreach
	}

	w.svc.publish(ctx, events...)
	w.logger.Debug("violation sweep finished",
		zap.Int("slos", len(defs)),
		zap.Int("violations", violations),
		zap.Int("alerts", len(events)),
	)
	return nil
}

// ReportJob logs the daily compliance report
type ReportJob struct {
	svc    *Service
	days   int
	logger *zap.Logger
}

// NewReportJob creates a report job over the given period
func NewReportJob(svc *Service, days int, logger *zap.Logger) *ReportJob {
	if days <= 0 {
		days = DefaultReportDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportJob{svc: svc, days: days, logger: logger.Named("slo_report")}
}

// Run builds and logs the report. It has the scheduler job signature.
func (j *ReportJob) Run(ctx context.Context) error {
	report, err := j.svc.Report(ctx, "", j.days)
	if err != nil {
		return err
	}

	j.logger.Info("SLO compliance report",
		zap.Int("period_days", report.ReportPeriodDays),
		zap.Int("total_slos", report.TotalSLOs),
		zap.Float64("compliance_rate", report.ComplianceRate),
		zap.Int("healthy", report.ByStatus.Healthy),
		zap.Int("warning", report.ByStatus.Warning),
		zap.Int("critical", report.ByStatus.Critical),
		zap.Int("breached", report.ByStatus.Breached),
	)
	for _, snap := range report.SLOs {
		if snap.Status == slo.StatusHealthy {
			continue
		}
		j.logger.Info("SLO out of compliance",
			zap.String("service", snap.Service),
			zap.String("slo", snap.Name),
			zap.String("status", string(snap.Status)),
			zap.Float64("error_budget_remaining", snap.ErrorBudgetRemaining),
		)
	}
	return nil
}
