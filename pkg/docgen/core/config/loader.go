package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

const moduleName = "config"

// Load builds the effective configuration: defaults, then the embedded YAML
// document, then .env, then environment variable overrides, in that order.
func Load(embedded EmbeddedConfig) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, exception.New(moduleName, "failed to unmarshal embedded config", err, false)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the scalar settings
// that commonly differ between environments.
func applyEnvOverrides(cfg *Config) {
	overrideString("DOCMINT_LOG_LEVEL", &cfg.Docmint.System.Logging.Level)
	overrideString("DOCMINT_DB_DRIVER", &cfg.Docmint.Database.Driver)
	overrideString("DOCMINT_DB_DSN", &cfg.Docmint.Database.DSN)
	overrideString("DOCMINT_DB_MIGRATIONS_DIR", &cfg.Docmint.Database.MigrationsDir)
	overrideString("DOCMINT_STORAGE_DEFAULT", &cfg.Docmint.Storage.Default)
	overrideInt("DOCMINT_MAX_CONCURRENT_JOBS", &cfg.Docmint.Queue.MaxConcurrentJobs)
	overrideInt("DOCMINT_MAX_PENDING_JOBS", &cfg.Docmint.Queue.MaxPendingJobs)
	overrideInt("DOCMINT_ROW_CONCURRENCY", &cfg.Docmint.Generation.RowConcurrency)
	overrideInt("DOCMINT_BATCH_TIMEOUT_SECONDS", &cfg.Docmint.Generation.BatchTimeoutSeconds)
}

func overrideString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func overrideInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warnf("ignoring non-numeric value %q for %s", v, key)
		return
	}
	*dst = n
}

// NewConfigProvider is the fx provider for *Config. It loads the effective
// configuration and applies the configured log level.
func NewConfigProvider(embedded EmbeddedConfig) (*Config, error) {
	cfg, err := Load(embedded)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Docmint.System.Logging.Level)
	return cfg, nil
}

// Module provides the configuration to the fx graph.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
)
