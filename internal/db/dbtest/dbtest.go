// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"round-finalizer/internal/config"
	"round-finalizer/internal/db"

	"github.com/stretchr/testify/require"
)

// New returns a repository over a fresh sqlite database in t.TempDir().
func New(t testing.TB) *db.Repository {
	t.Helper()
	cfg := config.Config{
		DBDialect: config.DatabaseSchemeSQLite,
		DBDsn:     filepath.Join(t.TempDir(), "test.db"),
	}
	gormDB, err := db.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gormDB))
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db.NewRepository(gormDB)
}
