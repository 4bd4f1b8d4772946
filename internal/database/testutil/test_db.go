package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/prontivus/telecare/internal/database"
)

// MustOpenTestDB opens a private in-memory SQLite database for tests with the
// schema applied. The connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Distinct DSN per test so parallel tests never share state.
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: "file::memory:?_foreign_keys=1"})
	require.NoError(t, err)

	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
