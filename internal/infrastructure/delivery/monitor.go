package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/itechsmart/sentinel/internal/domain/delivery"
	"github.com/itechsmart/sentinel/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// BacklogLevel grades the size of the retry queue
type BacklogLevel int

const (
	BacklogNormal BacklogLevel = iota
	BacklogWarning
	BacklogCritical
)

func (l BacklogLevel) String() string {
	switch l {
	case BacklogWarning:
		return "warning"
	case BacklogCritical:
		return "critical"
	default:
		return "normal"
	}
}

// StatisticsSource provides queue statistics
type StatisticsSource interface {
	Statistics(ctx context.Context, now time.Time) (*delivery.Statistics, error)
}

// MonitorConfig holds backlog alert thresholds
type MonitorConfig struct {
	BacklogWarning  int64
	BacklogCritical int64
	AgeThreshold    time.Duration
}

// MonitorState is the last observed queue condition
type MonitorState struct {
	Level          BacklogLevel `json:"-"`
	LevelName      string       `json:"level"`
	RetryQueue     int64        `json:"retry_queue_size"`
	OldestReadyAge float64      `json:"oldest_ready_age_seconds"`
	Stale          bool         `json:"stale"`
	SampledAt      time.Time    `json:"sampled_at"`
}

// Monitor samples the queues and alerts when the backlog crosses a threshold
// or the oldest ready message waits too long. Alerts fire on transitions only.
type Monitor struct {
	source  StatisticsSource
	config  MonitorConfig
	metrics *telemetry.DeliveryMetrics
	logger  *zap.Logger

	mu    sync.Mutex
	state MonitorState
}

// NewMonitor creates a monitor; metrics may be nil
func NewMonitor(source StatisticsSource, cfg MonitorConfig, metrics *telemetry.DeliveryMetrics, l *zap.Logger) *Monitor {
	if cfg.BacklogWarning <= 0 {
		cfg.BacklogWarning = 500
	}
	if cfg.BacklogCritical <= 0 {
		cfg.BacklogCritical = 2000
	}
	if cfg.AgeThreshold <= 0 {
		cfg.AgeThreshold = 300 * time.Second
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Monitor{
		source:  source,
		config:  cfg,
		metrics: metrics,
		logger:  l.Named("queue_monitor"),
		state:   MonitorState{LevelName: BacklogNormal.String()},
	}
}

// Sample reads the current statistics and raises or clears alerts.
// It has the scheduler job signature.
func (m *Monitor) Sample(ctx context.Context) error {
	now := time.Now()
	stats, err := m.source.Statistics(ctx, now)
	if err != nil {
		return err
	}

	level := m.levelFor(stats.RetryQueueSize)
	stale := stats.OldestReadyAgeSeconds > m.config.AgeThreshold.Seconds()

	m.mu.Lock()
	prev := m.state
	m.state = MonitorState{
		Level:          level,
		LevelName:      level.String(),
		RetryQueue:     stats.RetryQueueSize,
		OldestReadyAge: stats.OldestReadyAgeSeconds,
		Stale:          stale,
		SampledAt:      now,
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordQueues(ctx, stats)
		m.metrics.RecordBacklogLevel(ctx, int64(level))
	}

	if level != prev.Level {
		fields := []zap.Field{
			zap.String("level", level.String()),
			zap.String("previous_level", prev.Level.String()),
			zap.Int64("retry_queue_size", stats.RetryQueueSize),
		}
		switch {
		case level == BacklogCritical:
			m.logger.Error("retry queue backlog critical", append(fields, zap.Int64("threshold", m.config.BacklogCritical))...)
		case level == BacklogWarning:
			m.logger.Warn("retry queue backlog high", append(fields, zap.Int64("threshold", m.config.BacklogWarning))...)
		default:
			m.logger.Info("retry queue backlog recovered", fields...)
		}
	}

	if stale != prev.Stale {
		if stale {
			m.logger.Warn("oldest ready message exceeds age threshold",
				zap.Float64("oldest_ready_age_seconds", stats.OldestReadyAgeSeconds),
				zap.Duration("threshold", m.config.AgeThreshold),
			)
		} else {
			m.logger.Info("retry queue age back under threshold")
		}
	}

	return nil
}

func (m *Monitor) levelFor(size int64) BacklogLevel {
	switch {
	case size >= m.config.BacklogCritical:
		return BacklogCritical
	case size >= m.config.BacklogWarning:
		return BacklogWarning
	default:
		return BacklogNormal
	}
}

// State returns the last sample
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
