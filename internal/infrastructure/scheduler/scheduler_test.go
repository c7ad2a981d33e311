package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseDailyCron(t *testing.T) {
	tests := []struct {
		expr      string
		hour, min int
		wantErr   bool
	}{
		{"0 2 * * *", 2, 0, false},
		{"30 23 * * *", 23, 30, false},
		{"60 2 * * *", 0, 0, true},
		{"0 24 * * *", 0, 0, true},
		{"0 2 * * 1", 0, 0, true},
		{"*/5 * * * *", 0, 0, true},
		{"0 2", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			hour, minute, err := ParseDailyCron(tt.expr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, hour)
			assert.Equal(t, tt.min, minute)
		})
	}
}

func TestNextDailyRun(t *testing.T) {
	now := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC), nextDailyRun(now, 7, 30))
	assert.Equal(t, time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC), nextDailyRun(now, 6, 0))
	assert.Equal(t, time.Date(2024, 3, 11, 5, 0, 0, 0, time.UTC), nextDailyRun(now, 5, 0))
}

func TestScheduler_Add_Validation(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t, s.Add(Job{Name: "", Interval: time.Second, Run: noop}), ErrInvalidConfig)
	assert.ErrorIs(t, s.Add(Job{Name: "both", Interval: time.Second, Cron: "0 1 * * *", Run: noop}), ErrInvalidConfig)
	assert.ErrorIs(t, s.Add(Job{Name: "neither", Run: noop}), ErrInvalidConfig)
	assert.ErrorIs(t, s.Add(Job{Name: "bad-cron", Cron: "0 25 * * *", Run: noop}), ErrInvalidConfig)

	require.NoError(t, s.Add(Job{Name: "sweep", Interval: time.Second, Run: noop}))
	assert.ErrorIs(t, s.Add(Job{Name: "sweep", Interval: time.Second, Run: noop}), ErrDuplicateJob)
}

func TestScheduler_RunsIntervalJobs(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "flush",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	states := s.States()
	require.Len(t, states, 1)
	assert.Equal(t, JobStatusSuccess, states[0].Status)
	assert.GreaterOrEqual(t, states[0].Runs, int64(3))
}

func TestScheduler_TriggerAndFailures(t *testing.T) {
	s := New(zaptest.NewLogger(t))
	calls := make(chan struct{}, 4)
	require.NoError(t, s.Add(Job{
		Name: "report",
		Cron: "0 3 * * *",
		Run: func(context.Context) error {
			calls <- struct{}{}
			return errors.New("report store unavailable")
		},
	}))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.ErrorIs(t, s.Trigger("missing"), ErrJobNotFound)
	require.NoError(t, s.Trigger("report"))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job did not run")
	}

	assert.Eventually(t, func() bool {
		st := s.States()[0]
		return st.Status == JobStatusFailed && st.Failures == 1
	}, time.Second, 5*time.Millisecond)
	st := s.States()[0]
	assert.Equal(t, "report store unavailable", st.LastError)
	require.NotNil(t, st.NextRunAt)
	assert.Equal(t, 3, st.NextRunAt.Hour())
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add(Job{
		Name:       "boom",
		Interval:   time.Hour,
		RunOnStart: true,
		Run:        func(context.Context) error { panic("nil destination") },
	}))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.Eventually(t, func() bool {
		return s.States()[0].Status == JobStatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, s.States()[0].LastError, "nil destination")
	assert.ErrorIs(t, s.Add(Job{Name: "late", Interval: time.Second, Run: func(context.Context) error { return nil }}), ErrSchedulerRunning)
}
