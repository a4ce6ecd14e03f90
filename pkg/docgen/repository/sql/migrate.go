package sql

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migration source
	"gorm.io/gorm"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// applySchema brings the metadata schema up to date. With a configured
// migrations directory the versioned golang-migrate path is used; otherwise
// gorm AutoMigrate creates the tables directly.
func applySchema(db *gorm.DB, cfg config.DatabaseConfig) error {
	if cfg.MigrationsDir == "" {
		if err := db.AutoMigrate(&model.Batch{}, &model.RowOutcome{}, &model.Job{}); err != nil {
			return fmt.Errorf("auto-migration failed: %w", err)
		}
		return nil
	}
	return runMigrations(db, cfg)
}

func runMigrations(db *gorm.DB, cfg config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access underlying *sql.DB: %w", err)
	}

	var driver database.Driver
	switch cfg.Driver {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	case "mysql":
		driver, err = migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
	case "postgres":
		driver, err = migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	default:
		return fmt.Errorf("no migration driver for database driver %q", cfg.Driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsDir, cfg.Driver, driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations from %s: %w", cfg.MigrationsDir, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Infof("database schema is up to date (migrations: %s)", cfg.MigrationsDir)
	return nil
}
