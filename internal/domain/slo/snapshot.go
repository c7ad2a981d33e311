package slo

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecentBurnRateSamples is how many of the latest measurements are averaged for the reported burn rate
const RecentBurnRateSamples = 10

// Snapshot is the computed state of an SLO over its window
type Snapshot struct {
	SLOID                uuid.UUID `json:"slo_id"`
	Name                 string    `json:"name"`
	Service              string    `json:"service"`
	Type                 Type      `json:"slo_type"`
	Status               Status    `json:"status"`
	CurrentPercentage    *float64  `json:"current_percentage"`
	TargetPercentage     float64   `json:"target_percentage"`
	ErrorBudgetRemaining float64   `json:"error_budget_remaining"`
	ErrorBudgetConsumed  float64   `json:"error_budget_consumed"`
	BurnRate             float64   `json:"burn_rate"`
	MeasurementsCount    int       `json:"measurements_count"`
	WindowDays           int       `json:"window_days"`
	TotalRequests        int64     `json:"total_requests"`
	SuccessfulRequests   int64     `json:"successful_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	EvaluatedAt          time.Time `json:"evaluated_at"`
}

// HasData reports whether any measurement fell inside the window
func (s *Snapshot) HasData() bool {
	return s.CurrentPercentage != nil
}

// Evaluate aggregates the measurements of an SLO's window, which must be
// ordered by timestamp. Status reflects the SLO's stored status; callers that
// want the freshly evaluated status use s.EvaluateStatus(snap.CurrentPercentage).
func Evaluate(s *SLO, measurements []*Measurement) *Snapshot {
	snap := &Snapshot{
		SLOID:                s.ID,
		Name:                 s.Name,
		Service:              s.ServiceName,
		Type:                 s.Type,
		Status:               s.Status,
		TargetPercentage:     s.TargetPercentage,
		ErrorBudgetRemaining: 100,
		WindowDays:           s.WindowDays,
		EvaluatedAt:          time.Now(),
	}
	if len(measurements) == 0 {
		return snap
	}

	var success, total int64
	for _, m := range measurements {
		success += m.SuccessCount
		total += m.TotalCount
	}
	current := SuccessPercentage(success, total)
	remaining := BudgetRemaining(current, s.TargetPercentage)

	recent := measurements
	if len(recent) > RecentBurnRateSamples {
		recent = recent[len(recent)-RecentBurnRateSamples:]
	}
	var burnSum float64
	for _, m := range recent {
		burnSum += m.BurnRate
	}

	rounded := Round(current, 3)
	snap.CurrentPercentage = &rounded
	snap.ErrorBudgetRemaining = Round(remaining, 2)
	snap.ErrorBudgetConsumed = Round(100-remaining, 2)
	snap.BurnRate = Round(burnSum/float64(len(recent)), 4)
	snap.MeasurementsCount = len(measurements)
	snap.TotalRequests = total
	snap.SuccessfulRequests = success
	snap.FailedRequests = total - success
	return snap
}

// BudgetRemaining is the share of the error budget (100 - target) not yet
// used by the shortfall of current against target. It never drops below 0
// and exceeds 100 while current is above target; consumed is then negative.
func BudgetRemaining(current, target float64) float64 {
	return math.Max(0, 100-(target-current)/(100-target)*100)
}

// Round rounds half away from zero to the given number of decimal places
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
