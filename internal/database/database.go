package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sjperalta/custodia-api/internal/models"
	pkgLogger "github.com/sjperalta/custodia-api/pkg/logger"
)

// Connect opens the database selected by the URL scheme: postgres://,
// postgresql://, mysql:// or sqlite://.
func Connect(databaseURL, environment string) (*gorm.DB, error) {
	dialector, driver, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger
	logLevel := logger.Silent
	if environment == "development" {
		logLevel = logger.Info
	}

	gormLogger := pkgLogger.NewGormLogger(
		logLevel,
		200*time.Millisecond,
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            driver != "sqlite",
		TranslateError:         true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	// Get underlying SQL database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	if driver == "sqlite" {
		// One connection: SQLite allows a single writer and an in-memory
		// database lives and dies with its connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func dialectorFor(databaseURL string) (gorm.Dialector, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.Open(databaseURL), "postgres", nil
	case strings.HasPrefix(databaseURL, "mysql://"):
		return mysql.Open(strings.TrimPrefix(databaseURL, "mysql://")), "mysql", nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://")), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported DATABASE_URL scheme: %q", databaseURL)
	}
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Asset{},
		&models.Movement{},
		&models.Discrepancy{},
		&models.AuditEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// MySQL has no partial indexes; there the per-asset lock alone keeps a
	// single in-flight movement.
	if db.Dialector.Name() == "mysql" {
		return nil
	}
	// DDL takes no bind parameters; the statuses are package constants.
	err := db.Exec(fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_in_flight_asset ON movements (asset_id) WHERE status IN ('%s', '%s')",
		models.MovementStatusRequested, models.MovementStatusApproved,
	)).Error
	if err != nil {
		return fmt.Errorf("failed to create in-flight movement index: %w", err)
	}
	return nil
}
