package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/slo"
)

// ServiceModel is the persistence model for a monitored service
type ServiceModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:varchar(200);not null;uniqueIndex"`
	DisplayName string    `gorm:"type:varchar(200)"`
	IsHealthy   bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ServiceModel) TableName() string {
	return "services"
}

// ToDomain converts the model to a domain service
func (m *ServiceModel) ToDomain() *slo.Service {
	return &slo.Service{
		ID:          m.ID,
		Name:        m.Name,
		DisplayName: m.DisplayName,
		IsHealthy:   m.IsHealthy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ServiceModelFromDomain converts a domain service to its model
func ServiceModelFromDomain(s *slo.Service) *ServiceModel {
	return &ServiceModel{
		ID:          s.ID,
		Name:        s.Name,
		DisplayName: s.DisplayName,
		IsHealthy:   s.IsHealthy,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// SLOModel is the persistence model for an SLO and its cached figures.
// Service is loaded for the service name; it is never written through.
type SLOModel struct {
	ID                   uuid.UUID     `gorm:"type:uuid;primaryKey"`
	ServiceID            uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_slos_service_name"`
	Service              *ServiceModel `gorm:"foreignKey:ServiceID"`
	Name                 string        `gorm:"type:varchar(200);not null;uniqueIndex:idx_slos_service_name"`
	Description          string        `gorm:"type:text"`
	Type                 slo.Type      `gorm:"type:varchar(20);not null"`
	TargetPercentage     float64       `gorm:"not null"`
	WindowDays           int           `gorm:"not null;default:30"`
	WarningThreshold     float64       `gorm:"not null"`
	CriticalThreshold    float64       `gorm:"not null"`
	AlertOnBreach        bool          `gorm:"not null"`
	AlertOnBurnRate      bool          `gorm:"not null"`
	Status               slo.Status    `gorm:"type:varchar(20);not null;index"`
	CurrentPercentage    *float64
	ErrorBudgetRemaining float64   `gorm:"not null;default:100"`
	ErrorBudgetConsumed  float64   `gorm:"not null;default:0"`
	BurnRate             float64   `gorm:"not null;default:0"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SLOModel) TableName() string {
	return "slos"
}

// ToDomain converts the model to a domain SLO
func (m *SLOModel) ToDomain() *slo.SLO {
	s := &slo.SLO{
		ID:                   m.ID,
		ServiceID:            m.ServiceID,
		Name:                 m.Name,
		Description:          m.Description,
		Type:                 m.Type,
		TargetPercentage:     m.TargetPercentage,
		WindowDays:           m.WindowDays,
		WarningThreshold:     m.WarningThreshold,
		CriticalThreshold:    m.CriticalThreshold,
		AlertOnBreach:        m.AlertOnBreach,
		AlertOnBurnRate:      m.AlertOnBurnRate,
		Status:               m.Status,
		CurrentPercentage:    m.CurrentPercentage,
		ErrorBudgetRemaining: m.ErrorBudgetRemaining,
		ErrorBudgetConsumed:  m.ErrorBudgetConsumed,
		BurnRate:             m.BurnRate,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if m.Service != nil {
		s.ServiceName = m.Service.Name
	}
	return s
}

// SLOModelFromDomain converts a domain SLO to its model
func SLOModelFromDomain(s *slo.SLO) *SLOModel {
	return &SLOModel{
		ID:                   s.ID,
		ServiceID:            s.ServiceID,
		Name:                 s.Name,
		Description:          s.Description,
		Type:                 s.Type,
		TargetPercentage:     s.TargetPercentage,
		WindowDays:           s.WindowDays,
		WarningThreshold:     s.WarningThreshold,
		CriticalThreshold:    s.CriticalThreshold,
		AlertOnBreach:        s.AlertOnBreach,
		AlertOnBurnRate:      s.AlertOnBurnRate,
		Status:               s.Status,
		CurrentPercentage:    s.CurrentPercentage,
		ErrorBudgetRemaining: s.ErrorBudgetRemaining,
		ErrorBudgetConsumed:  s.ErrorBudgetConsumed,
		BurnRate:             s.BurnRate,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// MeasurementModel is the persistence model for an SLO measurement
type MeasurementModel struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	SLOID               uuid.UUID `gorm:"column:slo_id;type:uuid;not null;index:idx_slo_measurements_slo_ts"`
	Timestamp           time.Time `gorm:"column:measured_at;not null;index:idx_slo_measurements_slo_ts"`
	SuccessCount        int64     `gorm:"not null"`
	TotalCount          int64     `gorm:"not null"`
	SuccessPercentage   float64   `gorm:"not null"`
	ErrorBudgetConsumed float64   `gorm:"not null"`
	BurnRate            float64   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MeasurementModel) TableName() string {
	return "slo_measurements"
}

// ToDomain converts the model to a domain measurement
func (m *MeasurementModel) ToDomain() *slo.Measurement {
	return &slo.Measurement{
		ID:                  m.ID,
		SLOID:               m.SLOID,
		Timestamp:           m.Timestamp,
		SuccessCount:        m.SuccessCount,
		TotalCount:          m.TotalCount,
		SuccessPercentage:   m.SuccessPercentage,
		ErrorBudgetConsumed: m.ErrorBudgetConsumed,
		BurnRate:            m.BurnRate,
	}
}

// MeasurementModelFromDomain converts a domain measurement to its model
func MeasurementModelFromDomain(m *slo.Measurement) *MeasurementModel {
	return &MeasurementModel{
		ID:                  m.ID,
		SLOID:               m.SLOID,
		Timestamp:           m.Timestamp,
		SuccessCount:        m.SuccessCount,
		TotalCount:          m.TotalCount,
		SuccessPercentage:   m.SuccessPercentage,
		ErrorBudgetConsumed: m.ErrorBudgetConsumed,
		BurnRate:            m.BurnRate,
	}
}

// All returns every model, in dependency order, for AutoMigrate in tests
func All() []any {
	return []any{
		&MessageModel{},
		&AttemptModel{},
		&ServiceModel{},
		&SLOModel{},
		&MeasurementModel{},
	}
}
