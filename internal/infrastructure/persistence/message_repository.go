package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMessageRepository implements delivery.MessageRepository using GORM
type GormMessageRepository struct {
	db *Database
}

// NewGormMessageRepository creates a new GormMessageRepository
func NewGormMessageRepository(db *Database) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

var readyStatuses = []delivery.Status{delivery.StatusPending, delivery.StatusRetrying}

// Save inserts the message or overwrites the stored row with the same ID
func (r *GormMessageRepository) Save(ctx context.Context, msg *delivery.Message) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(models.MessageModelFromDomain(msg)).Error
}

// Transition updates the stored message only while its status is one of from
func (r *GormMessageRepository) Transition(ctx context.Context, msg *delivery.Message, from ...delivery.Status) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ? AND status IN ?", msg.ID, from).
		Select("*").
		Omit("id", "created_at").
		Updates(models.MessageModelFromDomain(msg))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrInvalidState
	}
	return nil
}

// FindByID finds a message by its ID
func (r *GormMessageRepository) FindByID(ctx context.Context, id string) (*delivery.Message, error) {
	var m models.MessageModel
	if err := r.db.DB.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindBySourceControlID finds the most recent message a source sent with controlID
func (r *GormMessageRepository) FindBySourceControlID(ctx context.Context, source, controlID string) (*delivery.Message, error) {
	var m models.MessageModel
	if err := r.db.DB.WithContext(ctx).
		Where("source_system = ? AND control_id = ?", source, controlID).
		Order("created_at DESC").
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// ClaimReady moves up to limit ready messages to processing inside one
// transaction. On PostgreSQL the rows are locked FOR UPDATE SKIP LOCKED so
// concurrent processors never claim the same message.
func (r *GormMessageRepository) ClaimReady(ctx context.Context, now time.Time, limit int) ([]*delivery.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []models.MessageModel
	err := r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status IN ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", readyStatuses, now).
			Order("priority DESC").
			Order("next_retry_at ASC NULLS FIRST").
			Order("created_at ASC").
			Limit(limit)
		if r.db.IsPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		claimedAt := time.Now()
		if err := tx.Model(&models.MessageModel{}).
			Where("id IN ? AND status IN ?", ids, readyStatuses).
			Updates(map[string]any{
				"status":     delivery.StatusProcessing,
				"updated_at": claimedAt,
			}).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].Status = delivery.StatusProcessing
			rows[i].UpdatedAt = claimedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]*delivery.Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].ToDomain()
	}
	return msgs, nil
}

// ReleaseStale moves messages left in processing since before cutoff back to retrying
func (r *GormMessageRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	result := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("status = ? AND updated_at < ?", delivery.StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":        delivery.StatusRetrying,
			"next_retry_at": now,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

// FindByStatuses lists messages in the given statuses, highest priority and oldest first
func (r *GormMessageRepository) FindByStatuses(ctx context.Context, statuses []delivery.Status, limit int) ([]*delivery.Message, error) {
	var rows []models.MessageModel
	q := r.db.DB.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("priority DESC").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	msgs := make([]*delivery.Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].ToDomain()
	}
	return msgs, nil
}

// CountByStatus returns the number of messages in each status
func (r *GormMessageRepository) CountByStatus(ctx context.Context) (map[delivery.Status]int64, error) {
	type statusCount struct {
		Status delivery.Status
		Count  int64
	}

	var results []statusCount
	if err := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error; err != nil {
		return nil, err
	}

	counts := make(map[delivery.Status]int64, len(results))
	for _, c := range results {
		counts[c.Status] = c.Count
	}
	return counts, nil
}

// DeleteDeliveredBefore purges delivered messages, and their attempts, delivered before cutoff
func (r *GormMessageRepository) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.MessageModel{}).
			Select("id").
			Where("status = ? AND delivered_at < ?", delivery.StatusDelivered, cutoff)
		if err := tx.Where("message_id IN (?)", expired).Delete(&models.AttemptModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("status = ? AND delivered_at < ?", delivery.StatusDelivered, cutoff).
			Delete(&models.MessageModel{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}

// SaveAttempt appends a delivery attempt to a message's history
func (r *GormMessageRepository) SaveAttempt(ctx context.Context, attempt *delivery.Attempt) error {
	return r.db.DB.WithContext(ctx).Create(models.AttemptModelFromDomain(attempt)).Error
}

// FindAttempts returns a message's attempts in the order they were made
func (r *GormMessageRepository) FindAttempts(ctx context.Context, messageID string) ([]*delivery.Attempt, error) {
	var rows []models.AttemptModel
	if err := r.db.DB.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("number ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	attempts := make([]*delivery.Attempt, len(rows))
	for i := range rows {
		attempts[i] = rows[i].ToDomain()
	}
	return attempts, nil
}

// Statistics computes the pipeline counters. Failed counts moves to the dead
// letter queue, the averages cover delivered messages only.
func (r *GormMessageRepository) Statistics(ctx context.Context, now time.Time) (*delivery.Statistics, error) {
	counts, err := r.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &delivery.Statistics{
		Delivered:           counts[delivery.StatusDelivered],
		Retrying:            counts[delivery.StatusRetrying],
		DeadLetter:          counts[delivery.StatusDeadLetter],
		Quarantined:         counts[delivery.StatusQuarantined],
		RetryQueueSize:      counts[delivery.StatusPending] + counts[delivery.StatusRetrying],
		DeadLetterQueueSize: counts[delivery.StatusDeadLetter],
		QuarantineQueueSize: counts[delivery.StatusQuarantined],
		ProcessingCount:     counts[delivery.StatusProcessing],
	}
	for _, c := range counts {
		stats.TotalMessages += c
	}

	db := r.db.DB.WithContext(ctx)
	if err := db.Model(&models.AttemptModel{}).
		Where("dead_lettered = ?", true).
		Count(&stats.Failed).Error; err != nil {
		return nil, err
	}

	if stats.Delivered > 0 {
		if err := r.deliveryAverages(ctx, stats); err != nil {
			return nil, err
		}
	}

	// messages still backing off are not ready yet
	var oldest models.MessageModel
	err = db.Where("status IN ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", readyStatuses, now).
		Order("created_at ASC").
		Limit(1).
		Find(&oldest).Error
	if err != nil {
		return nil, err
	}
	if oldest.ID != "" {
		stats.OldestReadyAgeSeconds = now.Sub(oldest.CreatedAt).Seconds()
	}

	return stats, nil
}

func (r *GormMessageRepository) deliveryAverages(ctx context.Context, stats *delivery.Statistics) error {
	db := r.db.DB.WithContext(ctx).Model(&models.MessageModel{}).
		Where("status = ? AND delivered_at IS NOT NULL", delivery.StatusDelivered)

	if r.db.IsPostgres() {
		var avg struct {
			AvgRetry    float64
			AvgDelivery float64
		}
		if err := db.Select(
			"COALESCE(AVG(retry_count), 0) AS avg_retry, " +
				"COALESCE(AVG(EXTRACT(EPOCH FROM (delivered_at - created_at))), 0) AS avg_delivery",
		).Scan(&avg).Error; err != nil {
			return err
		}
		stats.AverageRetryCount = avg.AvgRetry
		stats.AverageDeliveryTime = avg.AvgDelivery
		return nil
	}

	// Other dialects store timestamps as text, so the durations are summed here
	var rows []models.MessageModel
	if err := db.Select("retry_count", "created_at", "delivered_at").Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	var retries, seconds float64
	for i := range rows {
		retries += float64(rows[i].RetryCount)
		seconds += rows[i].ToDomain().DeliveryDuration().Seconds()
	}
	stats.AverageRetryCount = retries / float64(len(rows))
	stats.AverageDeliveryTime = seconds / float64(len(rows))
	return nil
}

var _ delivery.MessageRepository = (*GormMessageRepository)(nil)
