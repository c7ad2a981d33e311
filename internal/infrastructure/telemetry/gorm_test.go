package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type widget struct {
	ID   uint
	Name string
}

func openInstrumentedDB(t *testing.T, g *GormInstrumentation) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Use(g))
	require.NoError(t, db.AutoMigrate(&widget{}))
	return db
}

func TestGormInstrumentation_RecordsQueries(t *testing.T) {
	meter, reader := newTestMeter(t)
	g, err := NewGormInstrumentation(meter, GormConfig{DBSystem: "sqlite"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	db := openInstrumentedDB(t, g)
	ctx := context.Background()

	require.NoError(t, db.WithContext(ctx).Create(&widget{Name: "a"}).Error)
	require.NoError(t, db.WithContext(ctx).Create(&widget{Name: "b"}).Error)
	var rows []widget
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	var count int64
	require.NoError(t, db.WithContext(ctx).Raw("SELECT COUNT(*) FROM widgets").Scan(&count).Error)

	queries := collect(t, reader)["db_query_total"]
	assert.Equal(t, int64(2), sumWhere(t, queries, AttrDBOperation.String("INSERT")))
	assert.GreaterOrEqual(t, sumWhere(t, queries, AttrDBOperation.String("SELECT")), int64(2))
}

func TestGormInstrumentation_SlowQuery(t *testing.T) {
	meter, reader := newTestMeter(t)
	g, err := NewGormInstrumentation(meter, GormConfig{SlowQueryThreshold: time.Nanosecond}, nil)
	require.NoError(t, err)
	db := openInstrumentedDB(t, g)

	require.NoError(t, db.Create(&widget{Name: "slow"}).Error)

	slow := collect(t, reader)["db_slow_query_total"]
	assert.GreaterOrEqual(t, sumWhere(t, slow, AttrDBTable.String("widgets")), int64(1))
}

func TestGormInstrumentation_TracingWithoutMeter(t *testing.T) {
	g, err := NewGormInstrumentation(nil, GormConfig{TracingEnabled: true}, nil)
	require.NoError(t, err)
	db := openInstrumentedDB(t, g)

	assert.NoError(t, db.Create(&widget{Name: "traced"}).Error)
}

func TestGormInstrumentation_PoolStats(t *testing.T) {
	meter, reader := newTestMeter(t)
	g, err := NewGormInstrumentation(meter, GormConfig{PoolStatsInterval: time.Hour}, nil)
	require.NoError(t, err)
	db := openInstrumentedDB(t, g)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	g.StartPoolStats(context.Background(), sqlDB)
	assert.Eventually(t, func() bool {
		_, ok := collect(t, reader)["db_pool_connections"]
		return ok
	}, time.Second, 10*time.Millisecond)
	g.Stop()
	g.Stop()
}

func TestDetectOperation(t *testing.T) {
	tests := map[string]string{
		"select * from hl7_messages":                "SELECT",
		"  INSERT INTO hl7_messages VALUES (1)":     "INSERT",
		"UPDATE hl7_messages SET status = 'failed'": "UPDATE",
		"DELETE FROM hl7_messages":                  "DELETE",
		"WITH ready AS (SELECT id) UPDATE x":        "SELECT",
		"VACUUM":                                    "OTHER",
	}
	for statement, want := range tests {
		assert.Equal(t, want, detectOperation(statement), statement)
	}
}
