package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/domain/slo"
	"github.com/itechsmart/sentinel/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormServiceRepository implements slo.ServiceRepository using GORM
type GormServiceRepository struct {
	db *gorm.DB
}

// NewGormServiceRepository creates a new GormServiceRepository
func NewGormServiceRepository(db *gorm.DB) *GormServiceRepository {
	return &GormServiceRepository{db: db}
}

// FindByName finds a service by its unique name
func (r *GormServiceRepository) FindByName(ctx context.Context, name string) (*slo.Service, error) {
	var m models.ServiceModel
	if err := r.db.WithContext(ctx).First(&m, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Save inserts or updates a service
func (r *GormServiceRepository) Save(ctx context.Context, s *slo.Service) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(models.ServiceModelFromDomain(s)).Error
}

// GormSLORepository implements slo.SLORepository using GORM
type GormSLORepository struct {
	db *gorm.DB
}

// NewGormSLORepository creates a new GormSLORepository
func NewGormSLORepository(db *gorm.DB) *GormSLORepository {
	return &GormSLORepository{db: db}
}

// FindByID finds an SLO by ID, with its service name
func (r *GormSLORepository) FindByID(ctx context.Context, id uuid.UUID) (*slo.SLO, error) {
	var m models.SLOModel
	if err := r.db.WithContext(ctx).Preload("Service").First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByServiceAndName finds the SLO called name of the named service
func (r *GormSLORepository) FindByServiceAndName(ctx context.Context, serviceName, name string) (*slo.SLO, error) {
	var m models.SLOModel
	if err := r.db.WithContext(ctx).
		Preload("Service").
		Joins("JOIN services ON services.id = slos.service_id").
		Where("services.name = ? AND slos.name = ?", serviceName, name).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// List returns the SLOs matching filter ordered by service then name
func (r *GormSLORepository) List(ctx context.Context, filter slo.Filter) ([]*slo.SLO, error) {
	q := r.db.WithContext(ctx).
		Preload("Service").
		Joins("JOIN services ON services.id = slos.service_id")
	if filter.ServiceName != "" {
		q = q.Where("services.name = ?", filter.ServiceName)
	}
	if filter.Status != "" {
		q = q.Where("slos.status = ?", filter.Status)
	}

	var rows []models.SLOModel
	if err := q.Order("services.name ASC").Order("slos.name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*slo.SLO, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Save inserts or updates an SLO; the service row is never written through
func (r *GormSLORepository) Save(ctx context.Context, s *slo.SLO) error {
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(models.SLOModelFromDomain(s)).Error
}

// GormMeasurementRepository implements slo.MeasurementRepository using GORM
type GormMeasurementRepository struct {
	db *gorm.DB
}

// NewGormMeasurementRepository creates a new GormMeasurementRepository
func NewGormMeasurementRepository(db *gorm.DB) *GormMeasurementRepository {
	return &GormMeasurementRepository{db: db}
}

// Save appends a measurement
func (r *GormMeasurementRepository) Save(ctx context.Context, m *slo.Measurement) error {
	return r.db.WithContext(ctx).Create(models.MeasurementModelFromDomain(m)).Error
}

// FindSince returns the measurements of sloID taken at or after since, oldest first
func (r *GormMeasurementRepository) FindSince(ctx context.Context, sloID uuid.UUID, since time.Time) ([]*slo.Measurement, error) {
	return r.find(r.db.WithContext(ctx).Where("slo_id = ? AND measured_at >= ?", sloID, since))
}

// FindBetween returns the measurements of sloID taken in [from, to], oldest first
func (r *GormMeasurementRepository) FindBetween(ctx context.Context, sloID uuid.UUID, from, to time.Time) ([]*slo.Measurement, error) {
	return r.find(r.db.WithContext(ctx).Where("slo_id = ? AND measured_at >= ? AND measured_at <= ?", sloID, from, to))
}

func (r *GormMeasurementRepository) find(q *gorm.DB) ([]*slo.Measurement, error) {
	var rows []models.MeasurementModel
	if err := q.Order("measured_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*slo.Measurement, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var (
	_ slo.ServiceRepository     = (*GormServiceRepository)(nil)
	_ slo.SLORepository         = (*GormSLORepository)(nil)
	_ slo.MeasurementRepository = (*GormMeasurementRepository)(nil)
)
