package slo

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ServiceRepository persists monitored services
type ServiceRepository interface {
	FindByName(ctx context.Context, name string) (*Service, error)
	Save(ctx context.Context, service *Service) error
}

// Filter narrows SLO listings
type Filter struct {
	ServiceName string
	Status      Status
}

// SLORepository persists SLO definitions and their cached figures
type SLORepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*SLO, error)
	FindByServiceAndName(ctx context.Context, serviceName, name string) (*SLO, error)
	List(ctx context.Context, filter Filter) ([]*SLO, error)
	Save(ctx context.Context, s *SLO) error
}

// MeasurementRepository persists SLO measurements
type MeasurementRepository interface {
	Save(ctx context.Context, m *Measurement) error

	// FindSince returns measurements of sloID with timestamp >= since, oldest first
	FindSince(ctx context.Context, sloID uuid.UUID, since time.Time) ([]*Measurement, error)

	// FindBetween returns measurements of sloID in [from, to], oldest first
	FindBetween(ctx context.Context, sloID uuid.UUID, from, to time.Time) ([]*Measurement, error)
}
