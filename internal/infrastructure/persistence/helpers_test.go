package persistence

import (
	"testing"

	"github.com/itechsmart/sentinel/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

// newSQLiteDatabase opens a private in-memory database with the schema migrated
func newSQLiteDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := Open(sqlite.Open(":memory:"))
	require.NoError(t, err)

	// every pooled connection would otherwise get its own empty database
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.DB.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = db.Close() })
	return db
}
