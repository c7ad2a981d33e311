package slo

import "github.com/itechsmart/sentinel/internal/domain/shared"

// Event types published by the SLO engine
const (
	EventTypeSLOStatusChanged = "SLOStatusChanged"
	EventTypeSLOBreached      = "SLOBreached"
	EventTypeSLOBurnRateAlert = "SLOBurnRateAlert"
)

// StatusChangedEvent is published when a measurement moves an SLO to another status
type StatusChangedEvent struct {
	shared.BaseDomainEvent
	SLOName              string   `json:"slo_name"`
	Service              string   `json:"service"`
	From                 Status   `json:"from"`
	To                   Status   `json:"to"`
	CurrentPercentage    *float64 `json:"current_percentage"`
	ErrorBudgetRemaining float64  `json:"error_budget_remaining"`
}

// NewStatusChangedEvent creates a StatusChangedEvent
func NewStatusChangedEvent(s *SLO, from Status) *StatusChangedEvent {
	return &StatusChangedEvent{
		BaseDomainEvent:      shared.NewBaseDomainEvent(EventTypeSLOStatusChanged, AggregateTypeSLO, s.ID.String()),
		SLOName:              s.Name,
		Service:              s.ServiceName,
		From:                 from,
		To:                   s.Status,
		CurrentPercentage:    s.CurrentPercentage,
		ErrorBudgetRemaining: s.ErrorBudgetRemaining,
	}
}

// BreachedEvent is published when an SLO with breach alerting enters the breached status
type BreachedEvent struct {
	shared.BaseDomainEvent
	SLOName           string  `json:"slo_name"`
	Service           string  `json:"service"`
	CurrentPercentage float64 `json:"current_percentage"`
	TargetPercentage  float64 `json:"target_percentage"`
	BurnRate          float64 `json:"burn_rate"`
}

// NewBreachedEvent creates a BreachedEvent
func NewBreachedEvent(s *SLO) *BreachedEvent {
	e := &BreachedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeSLOBreached, AggregateTypeSLO, s.ID.String()),
		SLOName:          s.Name,
		Service:          s.ServiceName,
		TargetPercentage: s.TargetPercentage,
		BurnRate:         s.BurnRate,
	}
	if s.CurrentPercentage != nil {
		e.CurrentPercentage = *s.CurrentPercentage
	}
	return e
}

// BurnRateAlertEvent is published when the current burn rate is projected to exhaust the budget
type BurnRateAlertEvent struct {
	shared.BaseDomainEvent
	SLOName           string   `json:"slo_name"`
	Service           string   `json:"service"`
	BurnRate          float64  `json:"burn_rate"`
	TimeToBreachHours *float64 `json:"time_to_breach_hours"`
}

// NewBurnRateAlertEvent creates a BurnRateAlertEvent
func NewBurnRateAlertEvent(s *SLO, p *Prediction) *BurnRateAlertEvent {
	return &BurnRateAlertEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeSLOBurnRateAlert, AggregateTypeSLO, s.ID.String()),
		SLOName:           s.Name,
		Service:           s.ServiceName,
		BurnRate:          p.BurnRate,
		TimeToBreachHours: p.TimeToBreachHours,
	}
}
