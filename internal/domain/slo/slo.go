// Package slo models service level objectives and the error-budget
// arithmetic used to track them.
package slo

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/shared"
)

// AggregateTypeSLO is the aggregate type used in SLO events
const AggregateTypeSLO = "SLO"

// Type is the kind of indicator an SLO tracks
type Type string

const (
	TypeAvailability Type = "availability"
	TypeLatency      Type = "latency"
	TypeErrorRate    Type = "error_rate"
	TypeCustom       Type = "custom"
)

// IsValid reports whether t is a known SLO type
func (t Type) IsValid() bool {
	switch t {
	case TypeAvailability, TypeLatency, TypeErrorRate, TypeCustom:
		return true
	}
	return false
}

// Status is the compliance state of an SLO
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusBreached Status = "breached"
)

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusHealthy, StatusWarning, StatusCritical, StatusBreached:
		return true
	}
	return false
}

// Defaults applied when an SLO is created without explicit values
const (
	DefaultWindowDays        = 30
	DefaultWarningThreshold  = 95.0
	DefaultCriticalThreshold = 90.0
)

// Service is a monitored service that owns SLOs
type Service struct {
	ID          uuid.UUID
	Name        string
	DisplayName string
	IsHealthy   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewService creates a healthy service whose display name defaults to its name
func NewService(name string) (*Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "service name cannot be empty")
	}
	now := time.Now()
	return &Service{
		ID:          uuid.New(),
		Name:        name,
		DisplayName: name,
		IsHealthy:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SLO is a service level objective with its cached error-budget figures
type SLO struct {
	ID                   uuid.UUID
	ServiceID            uuid.UUID
	ServiceName          string
	Name                 string
	Description          string
	Type                 Type
	TargetPercentage     float64
	WindowDays           int
	WarningThreshold     float64
	CriticalThreshold    float64
	AlertOnBreach        bool
	AlertOnBurnRate      bool
	Status               Status
	CurrentPercentage    *float64
	ErrorBudgetRemaining float64
	ErrorBudgetConsumed  float64
	BurnRate             float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewSLOParams holds the inputs for creating an SLO
type NewSLOParams struct {
	Name              string
	Description       string
	Type              Type
	TargetPercentage  float64
	WindowDays        int
	WarningThreshold  float64
	CriticalThreshold float64
	AlertOnBreach     bool
	AlertOnBurnRate   bool
}

// NewSLO creates a healthy SLO with a full error budget
func NewSLO(service *Service, p NewSLOParams) (*SLO, error) {
	if service == nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "service is required")
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "SLO name cannot be empty")
	}
	if p.Type == "" {
		p.Type = TypeAvailability
	}
	if !p.Type.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "unknown SLO type: "+string(p.Type))
	}
	// A 100% target leaves no error budget to divide by
	if p.TargetPercentage <= 0 || p.TargetPercentage >= 100 {
		return nil, shared.NewDomainError("INVALID_INPUT", "target percentage must be between 0 and 100 exclusive")
	}
	if p.WindowDays <= 0 {
		p.WindowDays = DefaultWindowDays
	}
	if p.WarningThreshold == 0 {
		p.WarningThreshold = DefaultWarningThreshold
	}
	if p.CriticalThreshold == 0 {
		p.CriticalThreshold = DefaultCriticalThreshold
	}

	now := time.Now()
	return &SLO{
		ID:                   uuid.New(),
		ServiceID:            service.ID,
		ServiceName:          service.Name,
		Name:                 name,
		Description:          p.Description,
		Type:                 p.Type,
		TargetPercentage:     p.TargetPercentage,
		WindowDays:           p.WindowDays,
		WarningThreshold:     p.WarningThreshold,
		CriticalThreshold:    p.CriticalThreshold,
		AlertOnBreach:        p.AlertOnBreach,
		AlertOnBurnRate:      p.AlertOnBurnRate,
		Status:               StatusHealthy,
		ErrorBudgetRemaining: 100,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// Window returns the time span measurements are aggregated over
func (s *SLO) Window() time.Duration {
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

// EvaluateStatus maps a success percentage to a status. The target is
// checked first, so a current value between the target and the thresholds
// only yields warning or critical when the thresholds sit above the target.
func (s *SLO) EvaluateStatus(current *float64) Status {
	if current == nil {
		return StatusHealthy
	}
	switch c := *current; {
	case c < s.TargetPercentage:
		return StatusBreached
	case c < s.CriticalThreshold:
		return StatusCritical
	case c < s.WarningThreshold:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Apply caches the figures of snap on the SLO and returns the previous status
func (s *SLO) Apply(snap *Snapshot) (previous Status) {
	previous = s.Status
	s.Status = s.EvaluateStatus(snap.CurrentPercentage)
	if snap.CurrentPercentage != nil {
		current := *snap.CurrentPercentage
		s.CurrentPercentage = &current
		s.ErrorBudgetRemaining = snap.ErrorBudgetRemaining
		s.ErrorBudgetConsumed = snap.ErrorBudgetConsumed
		s.BurnRate = snap.BurnRate
	}
	s.UpdatedAt = time.Now()
	return previous
}
