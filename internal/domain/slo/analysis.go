package slo

import (
	"math"

	"github.com/google/uuid"
)

// DefaultPredictionHours is the default look-ahead for breach prediction
const DefaultPredictionHours = 24

// Prediction projects the error budget forward at the current burn rate
type Prediction struct {
	SLOID                 uuid.UUID `json:"slo_id"`
	SLOName               string    `json:"slo_name"`
	WillBreach            bool      `json:"will_breach"`
	Confidence            float64   `json:"confidence"`
	Reason                string    `json:"reason,omitempty"`
	CurrentPercentage     *float64  `json:"current_percentage,omitempty"`
	TargetPercentage      float64   `json:"target_percentage"`
	ErrorBudgetRemaining  float64   `json:"error_budget_remaining"`
	BurnRate              float64   `json:"burn_rate"`
	ProjectedErrorBudget  float64   `json:"projected_error_budget"`
	TimeToBreachHours     *float64  `json:"time_to_breach_hours"`
	PredictionWindowHours int       `json:"prediction_window_hours"`
}

// Predict estimates whether the budget runs out within hoursAhead
func Predict(s *SLO, snap *Snapshot, hoursAhead int) *Prediction {
	if hoursAhead <= 0 {
		hoursAhead = DefaultPredictionHours
	}
	p := &Prediction{
		SLOID:                 s.ID,
		SLOName:               s.Name,
		TargetPercentage:      s.TargetPercentage,
		PredictionWindowHours: hoursAhead,
	}
	if !snap.HasData() {
		p.Reason = "Insufficient data"
		p.ErrorBudgetRemaining = snap.ErrorBudgetRemaining
		p.ProjectedErrorBudget = snap.ErrorBudgetRemaining
		return p
	}

	projected := snap.ErrorBudgetRemaining - snap.BurnRate*float64(hoursAhead)
	p.WillBreach = projected <= 0
	// full confidence at 100 measurements
	p.Confidence = Round(math.Min(float64(snap.MeasurementsCount)/100, 1), 2)
	p.CurrentPercentage = snap.CurrentPercentage
	p.ErrorBudgetRemaining = snap.ErrorBudgetRemaining
	p.BurnRate = snap.BurnRate
	p.ProjectedErrorBudget = Round(projected, 2)

	if snap.BurnRate > 0 && snap.ErrorBudgetRemaining > 0 {
		ttb := Round(snap.ErrorBudgetRemaining/snap.BurnRate, 2)
		p.TimeToBreachHours = &ttb
	}
	return p
}

// Violation types and severities
const (
	ViolationBreach  = "breach"
	ViolationWarning = "warning"

	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Violation describes an SLO currently below its target or warning threshold
type Violation struct {
	SLOID                uuid.UUID `json:"slo_id"`
	SLOName              string    `json:"slo_name"`
	Service              string    `json:"service"`
	ViolationType        string    `json:"violation_type"`
	Severity             string    `json:"severity"`
	CurrentPercentage    float64   `json:"current_percentage"`
	TargetPercentage     float64   `json:"target_percentage"`
	ErrorBudgetRemaining float64   `json:"error_budget_remaining"`
	BurnRate             float64   `json:"burn_rate"`
}

// CheckViolation returns the violation of s, or nil when it is within its thresholds or has no data
func CheckViolation(s *SLO, snap *Snapshot) *Violation {
	if !snap.HasData() {
		return nil
	}
	current := *snap.CurrentPercentage

	var vType, severity string
	switch {
	case current < s.TargetPercentage:
		vType, severity = ViolationBreach, SeverityCritical
	case current < s.WarningThreshold:
		vType, severity = ViolationWarning, SeverityWarning
	default:
		return nil
	}

	return &Violation{
		SLOID:                s.ID,
		SLOName:              s.Name,
		Service:              s.ServiceName,
		ViolationType:        vType,
		Severity:             severity,
		CurrentPercentage:    current,
		TargetPercentage:     s.TargetPercentage,
		ErrorBudgetRemaining: snap.ErrorBudgetRemaining,
		BurnRate:             snap.BurnRate,
	}
}

// StatusCounts tallies SLOs per status
type StatusCounts struct {
	Healthy  int `json:"healthy"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Breached int `json:"breached"`
}

// Report summarizes compliance of a set of SLOs
type Report struct {
	ReportPeriodDays int          `json:"report_period_days"`
	TotalSLOs        int          `json:"total_slos"`
	ByStatus         StatusCounts `json:"by_status"`
	ComplianceRate   float64      `json:"compliance_rate"`
	SLOs             []*Snapshot  `json:"slos"`
}

// BuildReport counts the stored status of each SLO; snapshots are listed as given
func BuildReport(slos []*SLO, snapshots []*Snapshot, days int) *Report {
	r := &Report{
		ReportPeriodDays: days,
		TotalSLOs:        len(slos),
		SLOs:             snapshots,
	}
	for _, s := range slos {
		switch s.Status {
		case StatusHealthy:
			r.ByStatus.Healthy++
		case StatusWarning:
			r.ByStatus.Warning++
		case StatusCritical:
			r.ByStatus.Critical++
		case StatusBreached:
			r.ByStatus.Breached++
		}
	}
	if r.TotalSLOs == 0 {
		r.ComplianceRate = 100
	} else {
		r.ComplianceRate = Round(float64(r.ByStatus.Healthy)/float64(r.TotalSLOs)*100, 2)
	}
	if r.SLOs == nil {
		r.SLOs = []*Snapshot{}
	}
	return r
}
