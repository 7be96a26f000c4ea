// Package db provides database connection, migration and repository functionality.
package db

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"round-finalizer/internal/config"
	"round-finalizer/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas are applied to every sqlite connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"foreign_keys(1)",
}

func dialector(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		return postgres.Open(cfg.DBDsn), nil
	case config.DatabaseSchemeSQLite:
		return sqlite.Open(sqliteDSN(cfg.DBDsn)), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT: %s", cfg.DBDialect)
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	return path + sep + strings.Join(params, "&")
}

// Open opens a database connection using the provided configuration.
// It returns (nil, nil) when no DATABASE_URL is configured.
func Open(cfg config.Config) (*gorm.DB, error) {
	if cfg.DBDialect == "" || cfg.DBDsn == "" {
		return nil, nil
	}

	// Silent unless debugging; slow queries are only interesting then
	level := logger.Silent
	if cfg.Debug {
		level = logger.Warn
	}
	gormLogger := logger.New(
		stdlog.New(os.Stderr, "", stdlog.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	gormDB, err := gorm.Open(d, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDialect == config.DatabaseSchemeSQLite {
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gormDB, nil
}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&models.Vote{},
		&models.Voter{},
		&models.Round{},
		&models.Project{},
		&models.Cursor{},
		&models.Strategy{},
		&models.Blob{},
		&models.PayoutState{},
	)
}
