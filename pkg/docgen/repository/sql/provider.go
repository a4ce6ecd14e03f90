// Package sql provides the gorm-backed implementation of the repository
// interfaces, with dialector registration for sqlite, mysql, and postgres.
package sql

import (
	"fmt"
	"sync"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// DialectorFactory builds a gorm.Dialector from a DSN.
type DialectorFactory func(dsn string) gorm.Dialector

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMu       sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for a driver name.
func RegisterDialector(driver string, factory DialectorFactory) {
	dialectorMu.Lock()
	defer dialectorMu.Unlock()
	if _, exists := dialectorRegistry[driver]; exists {
		logger.Warnf("dialector for driver %q already registered, overwriting", driver)
	}
	dialectorRegistry[driver] = factory
}

// Open connects to the configured database and applies the schema (versioned
// migrations when a migrations directory is configured, AutoMigrate
// otherwise).
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialectorMu.RLock()
	factory, ok := dialectorRegistry[cfg.Driver]
	dialectorMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(factory(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if err := applySchema(db, cfg); err != nil {
		return nil, err
	}
	return db, nil
}
