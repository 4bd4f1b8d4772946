package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas are appended to every file DSN. Foreign keys back the
// participant and consent cascade rules; WAL keeps signalling reads from
// stalling behind lifecycle writes; the busy timeout covers the brief lock
// held by a CAS status transition.
const sqlitePragmas = "_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = sqliteDSN(cfg.Path)
		if path := strings.TrimSpace(cfg.Path); path != "" && !strings.EqualFold(path, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// The DSN pragma only applies to connections that parse it; shared-cache
	// memory databases still need it switched on explicitly.
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	return db, nil
}

func sqliteDSN(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return "file::memory:?cache=shared&_foreign_keys=1"
	}
	return fmt.Sprintf("file:%s?%s", filepath.ToSlash(path), sqlitePragmas)
}
