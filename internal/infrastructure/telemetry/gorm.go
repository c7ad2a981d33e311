package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormConfig configures database instrumentation.
type GormConfig struct {
	TracingEnabled     bool
	DBSystem           string        // reported as db.system, default postgresql
	LogFullSQL         bool          // include bind variables in spans; never in production
	SlowQueryThreshold time.Duration // default 200ms
	PoolStatsInterval  time.Duration // default 15s
}

// AttrDBState labels pool connection gauges.
var AttrDBState = attribute.Key("db.state")

type gormStartKey struct{}

// GormInstrumentation traces GORM statements through otelgorm, marks slow
// statements on their spans and records query and pool metrics.
type GormInstrumentation struct {
	cfg    GormConfig
	logger *zap.Logger

	queryTotal     *Counter
	queryDuration  *Histogram
	slowQueryTotal *Counter
	poolConns      *Gauge
	poolConnsMax   *Gauge

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewGormInstrumentation builds the instruments on meter. A nil meter
// disables metrics but keeps tracing.
func NewGormInstrumentation(meter metric.Meter, cfg GormConfig, logger *zap.Logger) (*GormInstrumentation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	g := &GormInstrumentation{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	if meter == nil {
		return g, nil
	}

	var err error
	if g.queryTotal, err = NewCounter(meter, "db_query_total", "Database statements by operation", "{query}"); err != nil {
		return nil, err
	}
	if g.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if g.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total", "Statements slower than the slow query threshold", "{query}"); err != nil {
		return nil, err
	}
	if g.poolConns, err = NewGauge(meter, "db_pool_connections", "Pool connections by state", "{connection}"); err != nil {
		return nil, err
	}
	if g.poolConnsMax, err = NewGauge(meter, "db_pool_connections_max", "Maximum open connections", "{connection}"); err != nil {
		return nil, err
	}
	return g, nil
}

// Name implements gorm.Plugin.
func (g *GormInstrumentation) Name() string {
	return "sentinel:instrumentation"
}

// Initialize implements gorm.Plugin. The otelgorm plugin is installed first
// so its span is current when the after callbacks run.
func (g *GormInstrumentation) Initialize(db *gorm.DB) error {
	if g.cfg.TracingEnabled {
		opts := []otelgorm.Option{otelgorm.WithDBName(g.cfg.DBSystem)}
		if !g.cfg.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}

	cb := db.Callback()
	regs := []func() error{
		func() error { return cb.Create().Before("gorm:create").Register("sentinel:before_create", g.before) },
		func() error { return cb.Query().Before("gorm:query").Register("sentinel:before_query", g.before) },
		func() error { return cb.Update().Before("gorm:update").Register("sentinel:before_update", g.before) },
		func() error { return cb.Delete().Before("gorm:delete").Register("sentinel:before_delete", g.before) },
		func() error { return cb.Row().Before("gorm:row").Register("sentinel:before_row", g.before) },
		func() error { return cb.Raw().Before("gorm:raw").Register("sentinel:before_raw", g.before) },
		func() error { return cb.Create().After("gorm:create").Register("sentinel:after_create", g.afterFor("INSERT")) },
		func() error { return cb.Query().After("gorm:query").Register("sentinel:after_query", g.afterFor("SELECT")) },
		func() error { return cb.Update().After("gorm:update").Register("sentinel:after_update", g.afterFor("UPDATE")) },
		func() error { return cb.Delete().After("gorm:delete").Register("sentinel:after_delete", g.afterFor("DELETE")) },
		func() error { return cb.Row().After("gorm:row").Register("sentinel:after_row", g.afterFor("")) },
		func() error { return cb.Raw().After("gorm:raw").Register("sentinel:after_raw", g.afterFor("")) },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}

	g.logger.Info("Database instrumentation enabled",
		zap.Bool("tracing", g.cfg.TracingEnabled),
		zap.Bool("metrics", g.queryTotal != nil),
		zap.Duration("slow_query_threshold", g.cfg.SlowQueryThreshold),
	)
	return nil
}

func (g *GormInstrumentation) before(tx *gorm.DB) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tx.Statement.Context = context.WithValue(ctx, gormStartKey{}, time.Now())
}

// afterFor returns the after callback; an empty operation is read from the SQL text.
func (g *GormInstrumentation) afterFor(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		op := operation
		if op == "" {
			op = detectOperation(tx.Statement.SQL.String())
		}
		g.after(tx, op)
	}
}

func (g *GormInstrumentation) after(tx *gorm.DB, operation string) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}

	var elapsed time.Duration
	start, timed := ctx.Value(gormStartKey{}).(time.Time)
	if timed {
		elapsed = time.Since(start)
	}
	slow := timed && elapsed > g.cfg.SlowQueryThreshold
	table := tx.Statement.Table
	if table == "" {
		table = "unknown"
	}

	if g.queryTotal != nil {
		g.queryTotal.Inc(ctx, AttrDBOperation.String(operation))
		g.queryDuration.RecordDuration(ctx, elapsed, AttrDBOperation.String(operation))
		if slow {
			g.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
		}
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Int64("db.rows_affected", tx.Statement.RowsAffected),
		attribute.String("db.sql.table", table),
	)
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, tx.Error.Error())
		span.RecordError(tx.Error)
	}
	if slow {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", g.cfg.SlowQueryThreshold.Milliseconds()),
		))
	}
}

func detectOperation(statement string) string {
	statement = strings.ToUpper(strings.TrimSpace(statement))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "WITH"} {
		if strings.HasPrefix(statement, op) {
			if op == "WITH" {
				return "SELECT"
			}
			return op
		}
	}
	return "OTHER"
}

// StartPoolStats samples sqlDB pool statistics until ctx ends or Stop is called.
func (g *GormInstrumentation) StartPoolStats(ctx context.Context, sqlDB *sql.DB) {
	if g.poolConns == nil || sqlDB == nil {
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.cfg.PoolStatsInterval)
		defer ticker.Stop()

		g.recordPoolStats(ctx, sqlDB)
		for {
			select {
			case <-ticker.C:
				g.recordPoolStats(ctx, sqlDB)
			case <-g.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (g *GormInstrumentation) recordPoolStats(ctx context.Context, sqlDB *sql.DB) {
	stats := sqlDB.Stats()
	g.poolConnsMax.Record(ctx, int64(stats.MaxOpenConnections))
	g.poolConns.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	g.poolConns.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	g.poolConns.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool sampling. Safe to call more than once.
func (g *GormInstrumentation) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.wg.Wait()
	})
}
