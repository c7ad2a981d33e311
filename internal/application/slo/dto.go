package slo

import (
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/slo"
)

// CreateSLORequest represents a request to define an SLO
type CreateSLORequest struct {
	ServiceName       string  `json:"service_name" binding:"required,max=100"`
	Name              string  `json:"name" binding:"required,max=200"`
	Description       string  `json:"description" binding:"max=2000"`
	Type              string  `json:"slo_type" binding:"omitempty,oneof=availability latency error_rate custom"`
	TargetPercentage  float64 `json:"target_percentage" binding:"required,gt=0,lt=100"`
	WindowDays        int     `json:"window_days" binding:"omitempty,min=1,max=365"`
	WarningThreshold  float64 `json:"warning_threshold" binding:"omitempty,gt=0,lte=100"`
	CriticalThreshold float64 `json:"critical_threshold" binding:"omitempty,gt=0,lte=100"`
	// nil means true
	AlertOnBreach   *bool `json:"alert_on_breach"`
	AlertOnBurnRate *bool `json:"alert_on_burn_rate"`
}

// RecordMeasurementRequest represents one observation of an SLO
type RecordMeasurementRequest struct {
	SuccessCount int64      `json:"success_count" binding:"min=0"`
	TotalCount   int64      `json:"total_count" binding:"min=0"`
	Timestamp    *time.Time `json:"timestamp"`
}

// SLOResponse represents an SLO definition with its cached figures
type SLOResponse struct {
	ID                   uuid.UUID `json:"id"`
	ServiceID            uuid.UUID `json:"service_id"`
	ServiceName          string    `json:"service_name"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	Type                 string    `json:"slo_type"`
	TargetPercentage     float64   `json:"target_percentage"`
	WindowDays           int       `json:"window_days"`
	WarningThreshold     float64   `json:"warning_threshold"`
	CriticalThreshold    float64   `json:"critical_threshold"`
	AlertOnBreach        bool      `json:"alert_on_breach"`
	AlertOnBurnRate      bool      `json:"alert_on_burn_rate"`
	Status               string    `json:"status"`
	CurrentPercentage    *float64  `json:"current_percentage"`
	ErrorBudgetRemaining float64   `json:"error_budget_remaining"`
	ErrorBudgetConsumed  float64   `json:"error_budget_consumed"`
	BurnRate             float64   `json:"burn_rate"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// MeasurementResponse represents a recorded measurement
type MeasurementResponse struct {
	ID                  uuid.UUID `json:"id"`
	SLOID               uuid.UUID `json:"slo_id"`
	Timestamp           time.Time `json:"timestamp"`
	SuccessCount        int64     `json:"success_count"`
	TotalCount          int64     `json:"total_count"`
	SuccessPercentage   float64   `json:"success_percentage"`
	ErrorBudgetConsumed float64   `json:"error_budget_consumed"`
	BurnRate            float64   `json:"burn_rate"`
}

// ToSLOResponse converts a domain SLO
func ToSLOResponse(s *slo.SLO) *SLOResponse {
	return &SLOResponse{
		ID:                   s.ID,
		ServiceID:            s.ServiceID,
		ServiceName:          s.ServiceName,
		Name:                 s.Name,
		Description:          s.Description,
		Type:                 string(s.Type),
		TargetPercentage:     s.TargetPercentage,
		WindowDays:           s.WindowDays,
		WarningThreshold:     s.WarningThreshold,
		CriticalThreshold:    s.CriticalThreshold,
		AlertOnBreach:        s.AlertOnBreach,
		AlertOnBurnRate:      s.AlertOnBurnRate,
		Status:               string(s.Status),
		CurrentPercentage:    s.CurrentPercentage,
		ErrorBudgetRemaining: s.ErrorBudgetRemaining,
		ErrorBudgetConsumed:  s.ErrorBudgetConsumed,
		BurnRate:             s.BurnRate,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// ToMeasurementResponse converts a domain measurement
func ToMeasurementResponse(m *slo.Measurement) MeasurementResponse {
	return MeasurementResponse{
		ID:                  m.ID,
		SLOID:               m.SLOID,
		Timestamp:           m.Timestamp,
		SuccessCount:        m.SuccessCount,
		TotalCount:          m.TotalCount,
		SuccessPercentage:   slo.Round(m.SuccessPercentage, 3),
		ErrorBudgetConsumed: slo.Round(m.ErrorBudgetConsumed, 2),
		BurnRate:            slo.Round(m.BurnRate, 4),
	}
}
