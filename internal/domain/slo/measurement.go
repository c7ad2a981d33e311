package slo

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/itechsmart/sentinel/internal/domain/shared"
)

// BurnRateLookback is the span of recent measurements used to compute a measurement's burn rate
const BurnRateLookback = time.Hour

// Measurement is one observation of successful versus total events for an SLO
type Measurement struct {
	ID                  uuid.UUID
	SLOID               uuid.UUID
	Timestamp           time.Time
	SuccessCount        int64
	TotalCount          int64
	SuccessPercentage   float64
	ErrorBudgetConsumed float64
	BurnRate            float64
}

// NewMeasurement computes the success percentage and budget consumption of an observation.
// The burn rate is filled in separately because it depends on earlier measurements.
func NewMeasurement(s *SLO, successCount, totalCount int64, ts time.Time) (*Measurement, error) {
	if successCount < 0 || totalCount < 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "counts cannot be negative")
	}
	if successCount > totalCount {
		return nil, shared.NewDomainError("INVALID_INPUT", "success count cannot exceed total count")
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	pct := SuccessPercentage(successCount, totalCount)
	return &Measurement{
		ID:                  uuid.New(),
		SLOID:               s.ID,
		Timestamp:           ts,
		SuccessCount:        successCount,
		TotalCount:          totalCount,
		SuccessPercentage:   pct,
		ErrorBudgetConsumed: BudgetConsumed(pct, s.TargetPercentage),
	}, nil
}

// SuccessPercentage is success/total*100, or 100 when nothing was counted
func SuccessPercentage(success, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(success) / float64(total) * 100
}

// BudgetConsumed is how far the success percentage falls short of the target, as a percentage of the target
func BudgetConsumed(successPercentage, target float64) float64 {
	return math.Max(0, 100-(successPercentage/target*100))
}

// BurnRate is the growth of budget consumption per hour between the first
// and last of the given measurements, which must be ordered by timestamp.
// It is never negative.
func BurnRate(measurements []*Measurement) float64 {
	if len(measurements) < 2 {
		return 0
	}
	first := measurements[0]
	last := measurements[len(measurements)-1]
	hours := last.Timestamp.Sub(first.Timestamp).Hours()
	if hours <= 0 {
		return 0
	}
	return math.Max(0, (last.ErrorBudgetConsumed-first.ErrorBudgetConsumed)/hours)
}
