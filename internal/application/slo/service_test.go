package slo

import (
	"context"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/shared"
	"github.com/itechsmart/sentinel/internal/domain/slo"
	"github.com/itechsmart/sentinel/internal/infrastructure/persistence"
	"github.com/itechsmart/sentinel/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
)

type recordingPublisher struct {
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type gaugeSpy struct {
	recorded []string
}

func (g *gaugeSpy) RecordSLO(_ context.Context, s *slo.SLO) {
	g.recorded = append(g.recorded, s.Name)
}

type fixture struct {
	svc    *Service
	events *recordingPublisher
	gauges *gaugeSpy
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := persistence.Open(sqlite.Open(":memory:"))
	require.NoError(t, err)
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.DB.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		events: &recordingPublisher{},
		gauges: &gaugeSpy{},
		now:    time.Now().UTC().Truncate(time.Second),
	}
	f.svc = NewService(
		persistence.NewGormServiceRepository(db.DB),
		persistence.NewGormSLORepository(db.DB),
		persistence.NewGormMeasurementRepository(db.DB),
		f.events,
		zaptest.NewLogger(t),
		WithGauges(f.gauges),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) create(t *testing.T, service, name string, target float64) *SLOResponse {
	t.Helper()
	resp, err := f.svc.CreateSLO(context.Background(), CreateSLORequest{
		ServiceName:      service,
		Name:             name,
		TargetPercentage: target,
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) measure(t *testing.T, s *SLOResponse, success, total int64, ago time.Duration) *MeasurementResponse {
	t.Helper()
	ts := f.now.Add(-ago)
	m, err := f.svc.RecordMeasurement(context.Background(), s.ID, RecordMeasurementRequest{
		SuccessCount: success,
		TotalCount:   total,
		Timestamp:    &ts,
	})
	require.NoError(t, err)
	return m
}

func TestService_CreateSLO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp := f.create(t, "hl7-lab", "lab delivery", 99.5)
	assert.Equal(t, "hl7-lab", resp.ServiceName)
	assert.Equal(t, "availability", resp.Type)
	assert.Equal(t, 30, resp.WindowDays)
	assert.Equal(t, 95.0, resp.WarningThreshold)
	assert.Equal(t, 90.0, resp.CriticalThreshold)
	assert.True(t, resp.AlertOnBreach)
	assert.True(t, resp.AlertOnBurnRate)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 100.0, resp.ErrorBudgetRemaining)
	assert.Nil(t, resp.CurrentPercentage)

	// the service is reused
	other := f.create(t, "hl7-lab", "lab latency", 99)
	assert.Equal(t, resp.ServiceID, other.ServiceID)

	_, err := f.svc.CreateSLO(ctx, CreateSLORequest{ServiceName: "hl7-lab", Name: "lab delivery", TargetPercentage: 99})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	_, err = f.svc.CreateSLO(ctx, CreateSLORequest{ServiceName: "hl7-lab", Name: "full", TargetPercentage: 100})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	off := false
	quiet, err := f.svc.CreateSLO(ctx, CreateSLORequest{ServiceName: "ehr", Name: "quiet", TargetPercentage: 99, AlertOnBreach: &off})
	require.NoError(t, err)
	assert.False(t, quiet.AlertOnBreach)
	assert.True(t, quiet.AlertOnBurnRate)
}

func TestService_RecordMeasurementAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, "hl7-lab", "lab delivery", 99)

	first := f.measure(t, s, 990, 1000, 30*time.Minute)
	assert.Equal(t, 99.0, first.SuccessPercentage)
	assert.Equal(t, 0.0, first.ErrorBudgetConsumed)
	assert.Equal(t, 0.0, first.BurnRate)
	assert.Empty(t, f.events.events)

	second := f.measure(t, s, 950, 1000, 0)
	assert.Equal(t, 95.0, second.SuccessPercentage)
	assert.Equal(t, 4.04, second.ErrorBudgetConsumed)
	assert.Equal(t, 8.0808, second.BurnRate)

	assert.Equal(t, []string{slo.EventTypeSLOStatusChanged, slo.EventTypeSLOBreached}, f.events.types())
	assert.Equal(t, []string{"lab delivery", "lab delivery"}, f.gauges.recorded)

	snap, err := f.svc.Status(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.CurrentPercentage)
	assert.Equal(t, 97.0, *snap.CurrentPercentage)
	assert.Equal(t, slo.StatusBreached, snap.Status)
	assert.Equal(t, 0.0, snap.ErrorBudgetRemaining)
	assert.Equal(t, 100.0, snap.ErrorBudgetConsumed)
	assert.Equal(t, 4.0404, snap.BurnRate)
	assert.Equal(t, 2, snap.MeasurementsCount)
	assert.Equal(t, int64(60), snap.FailedRequests)

	stored, err := f.svc.GetSLO(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "breached", stored.Status)

	_, err = f.svc.RecordMeasurement(ctx, s.ID, RecordMeasurementRequest{SuccessCount: 5, TotalCount: 2})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestService_StatusWithoutData(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "hl7-lab", "lab delivery", 99)

	snap, err := f.svc.Status(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.CurrentPercentage)
	assert.Equal(t, slo.StatusHealthy, snap.Status)
	assert.Equal(t, 100.0, snap.ErrorBudgetRemaining)
	assert.Zero(t, snap.BurnRate)
	assert.Zero(t, snap.MeasurementsCount)
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, "hl7-lab", "lab delivery", 99)

	f.measure(t, s, 100, 100, 3*time.Hour)
	f.measure(t, s, 100, 100, 30*time.Minute)

	recent, err := f.svc.History(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	all, err := f.svc.History(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.True(t, all[0].Timestamp.Before(all[1].Timestamp))
}

func TestService_PredictBreach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, "hl7-lab", "lab delivery", 99)

	p, err := f.svc.PredictBreach(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.False(t, p.WillBreach)
	assert.Zero(t, p.Confidence)
	assert.Equal(t, "Insufficient data", p.Reason)
	assert.Equal(t, 24, p.PredictionWindowHours)

	f.measure(t, s, 990, 1000, 30*time.Minute)
	f.measure(t, s, 950, 1000, 0)

	p, err = f.svc.PredictBreach(ctx, s.ID, 12)
	require.NoError(t, err)
	assert.True(t, p.WillBreach)
	assert.Equal(t, 0.02, p.Confidence)
	assert.Nil(t, p.TimeToBreachHours)
}

func TestService_ListViolationsAndReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := f.create(t, "hl7-lab", "lab delivery", 99)
	good := f.create(t, "hl7-pharmacy", "pharmacy delivery", 99)
	f.create(t, "hl7-pharmacy", "pharmacy latency", 99)

	f.measure(t, bad, 90, 100, 0)
	f.measure(t, good, 100, 100, 0)

	all, err := f.svc.List(ctx, slo.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	breached, err := f.svc.List(ctx, slo.Filter{Status: slo.StatusBreached})
	require.NoError(t, err)
	require.Len(t, breached, 1)
	assert.Equal(t, "lab delivery", breached[0].Name)

	_, err = f.svc.List(ctx, slo.Filter{Status: "bogus"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	violations, err := f.svc.CheckViolations(ctx, "")
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, slo.ViolationBreach, violations[0].ViolationType)
	assert.Equal(t, slo.SeverityCritical, violations[0].Severity)

	none, err := f.svc.CheckViolations(ctx, "hl7-pharmacy")
	require.NoError(t, err)
	assert.Empty(t, none)

	report, err := f.svc.Report(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, report.ReportPeriodDays)
	assert.Equal(t, 3, report.TotalSLOs)
	assert.Equal(t, 1, report.ByStatus.Breached)
	assert.Equal(t, 2, report.ByStatus.Healthy)
	assert.Equal(t, 66.67, report.ComplianceRate)

	empty, err := f.svc.Report(ctx, "unknown", 7)
	require.NoError(t, err)
	assert.Equal(t, 100.0, empty.ComplianceRate)
	assert.Empty(t, empty.SLOs)
}

func TestService_NotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "x", "y", 99).ID
	id[0] ^= 0xff

	_, err := f.svc.Status(ctx, id)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.RecordMeasurement(ctx, id, RecordMeasurementRequest{TotalCount: 1, SuccessCount: 1})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.History(ctx, id, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.PredictBreach(ctx, id, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
