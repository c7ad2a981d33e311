package slo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessPercentage(t *testing.T) {
	assert.Equal(t, 100.0, SuccessPercentage(0, 0))
	assert.Equal(t, 99.0, SuccessPercentage(99, 100))
	assert.Equal(t, 50.0, SuccessPercentage(1, 2))
}

func TestBudgetConsumed(t *testing.T) {
	assert.InDelta(t, 0.0, BudgetConsumed(100, 99), 1e-9)
	assert.InDelta(t, 1.0101, BudgetConsumed(98, 99), 1e-4)
	assert.InDelta(t, 50.0, BudgetConsumed(40, 80), 1e-9)
}

func TestNewMeasurement(t *testing.T) {
	s := newTestSLO(t, 80)
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	m, err := NewMeasurement(s, 60, 100, ts)
	require.NoError(t, err)
	assert.Equal(t, s.ID, m.SLOID)
	assert.Equal(t, ts, m.Timestamp)
	assert.Equal(t, 60.0, m.SuccessPercentage)
	assert.InDelta(t, 25.0, m.ErrorBudgetConsumed, 1e-9)

	empty, err := NewMeasurement(s, 0, 0, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, empty.SuccessPercentage)
	assert.Equal(t, 0.0, empty.ErrorBudgetConsumed)
	assert.False(t, empty.Timestamp.IsZero())

	_, err = NewMeasurement(s, 10, 5, ts)
	assert.Error(t, err)
	_, err = NewMeasurement(s, -1, 5, ts)
	assert.Error(t, err)
}

func TestBurnRate(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(minutes int, consumed float64) *Measurement {
		return &Measurement{Timestamp: base.Add(time.Duration(minutes) * time.Minute), ErrorBudgetConsumed: consumed}
	}

	t.Run("needs two measurements", func(t *testing.T) {
		assert.Equal(t, 0.0, BurnRate(nil))
		assert.Equal(t, 0.0, BurnRate([]*Measurement{at(0, 5)}))
	})

	t.Run("consumption growth per hour", func(t *testing.T) {
		rate := BurnRate([]*Measurement{at(0, 2), at(10, 50), at(30, 7)})
		assert.InDelta(t, 10.0, rate, 1e-9)
	})

	t.Run("never negative", func(t *testing.T) {
		assert.Equal(t, 0.0, BurnRate([]*Measurement{at(0, 10), at(30, 2)}))
	})

	t.Run("zero elapsed time", func(t *testing.T) {
		assert.Equal(t, 0.0, BurnRate([]*Measurement{at(0, 1), at(0, 9)}))
	})
}
