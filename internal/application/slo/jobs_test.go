package slo

import (
	"context"
	"testing"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/slo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestViolationSweep_AlertsOncePerEpisode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, "hl7-lab", "lab delivery", 99)
	f.create(t, "hl7-ehr", "ehr delivery", 99)

	f.measure(t, s, 990, 1000, 30*time.Minute)
	f.measure(t, s, 950, 1000, 0)
	f.events.events = nil

	core, logs := observer.New(zapcore.DebugLevel)
	sweep := NewViolationSweep(f.svc, zap.New(core))

	require.NoError(t, sweep.Run(ctx))
	assert.ElementsMatch(t, []string{slo.EventTypeSLOBreached, slo.EventTypeSLOBurnRateAlert}, f.events.types())
	assert.Equal(t, 1, logs.FilterMessage("SLO violation").Len())

	require.NoError(t, sweep.Run(ctx))
	assert.Len(t, f.events.events, 2)
	assert.Equal(t, 1, logs.FilterMessage("SLO violation").Len())
}

func TestViolationSweep_LogsWarningsOncePerEpisode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, "hl7-lab", "lab delivery", 90)

	// below the 95% warning threshold, above target
	f.measure(t, s, 930, 1000, 0)
	f.events.events = nil

	core, logs := observer.New(zapcore.DebugLevel)
	sweep := NewViolationSweep(f.svc, zap.New(core))

	require.NoError(t, sweep.Run(ctx))
	require.NoError(t, sweep.Run(ctx))
	entries := logs.FilterMessage("SLO violation").All()
	require.Len(t, entries, 1)
	assert.Equal(t, slo.ViolationWarning, entries[0].ContextMap()["violation_type"])
	assert.Empty(t, f.events.types())

	// escalating to a breach starts a new episode
	f.measure(t, s, 0, 1000, 0)
	f.events.events = nil
	require.NoError(t, sweep.Run(ctx))
	entries = logs.FilterMessage("SLO violation").All()
	require.Len(t, entries, 2)
	assert.Equal(t, slo.ViolationBreach, entries[1].ContextMap()["violation_type"])
	assert.Contains(t, f.events.types(), slo.EventTypeSLOBreached)
}

func TestReportJob_Run(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "hl7-lab", "lab delivery", 99)
	f.create(t, "hl7-ehr", "ehr delivery", 99)
	f.measure(t, s, 10, 100, 0)

	core, logs := observer.New(zapcore.InfoLevel)
	job := NewReportJob(f.svc, 0, zap.New(core))
	require.NoError(t, job.Run(context.Background()))

	entries := logs.FilterMessage("SLO compliance report").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(2), fields["total_slos"])
	assert.Equal(t, 50.0, fields["compliance_rate"])
	assert.Equal(t, 1, logs.FilterMessage("SLO out of compliance").Len())
}
