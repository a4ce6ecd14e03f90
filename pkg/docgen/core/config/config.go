// Package config provides structures and loading utilities for the docmint
// application configuration. Configuration is merged from built-in defaults,
// an embedded YAML document, an optional .env file, and environment variables.
package config

// EmbeddedConfig holds the raw bytes of the configuration file, typically
// passed from main via go:embed.
type EmbeddedConfig []byte

// QueueConfig holds the job-queue settings.
type QueueConfig struct {
	// MaxConcurrentJobs caps the number of batches executing at once.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	// MaxPendingJobs caps the backlog; submissions beyond it are rejected.
	MaxPendingJobs int `yaml:"max_pending_jobs"`
	// TickIntervalSeconds is the scheduler's fallback polling interval.
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	// BackoffUnitMillis is the base unit of the 2^retryCount backoff.
	// Production keeps the default 1000ms; tests shrink it.
	BackoffUnitMillis int `yaml:"backoff_unit_millis"`
	// RetentionMinutes is how long terminal jobs are kept before the janitor
	// deletes them.
	RetentionMinutes int `yaml:"retention_minutes"`
}

// GenerationConfig holds the per-batch rendering settings.
type GenerationConfig struct {
	// RowConcurrency bounds the per-batch render worker pool.
	RowConcurrency int `yaml:"row_concurrency"`
	// BatchTimeoutSeconds is the wall-clock budget for one batch.
	BatchTimeoutSeconds int `yaml:"batch_timeout_seconds"`
	// RowEstimateMillis is the per-row unit cost used for the duration
	// estimate returned at submission time.
	RowEstimateMillis int `yaml:"row_estimate_millis"`
}

// StorageConfig selects the artifact storage adaptor.
type StorageConfig struct {
	// Default names the adaptor used for artifacts and archives.
	Default string `yaml:"default"`
	// Adaptors maps adaptor names to their type-specific settings, decoded by
	// the storage package with mapstructure.
	Adaptors map[string]interface{} `yaml:"adaptors"`
}

// DatabaseConfig selects the metadata store.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "mysql", "postgres", or "" for the in-memory
	// stores.
	Driver string `yaml:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`
	// MigrationsDir, when set, applies versioned golang-migrate migrations
	// from the directory instead of gorm AutoMigrate.
	MigrationsDir string `yaml:"migrations_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig controls the OpenTelemetry trace pipeline.
type TracingConfig struct {
	// Enabled switches span export on; when false a noop tracer is wired.
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`
	// SampleRatio is the parent-based trace sampling fraction.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ExportConfig controls the post-archive outcome report.
type ExportConfig struct {
	// OutcomeReport enables writing a parquet summary of row outcomes next to
	// the archive.
	OutcomeReport bool `yaml:"outcome_report"`
}

// DocmintConfig holds everything under the "docmint" top-level key.
type DocmintConfig struct {
	Queue      QueueConfig      `yaml:"queue"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	System     SystemConfig     `yaml:"system"`
	Export     ExportConfig     `yaml:"export"`
}

// Config is the root of the application configuration.
type Config struct {
	Docmint DocmintConfig `yaml:"docmint"`
}

// NewConfig returns a Config populated with default values.
func NewConfig() *Config {
	return &Config{
		Docmint: DocmintConfig{
			Queue: QueueConfig{
				MaxConcurrentJobs:   2,
				MaxPendingJobs:      100,
				TickIntervalSeconds: 1,
				BackoffUnitMillis:   1000,
				RetentionMinutes:    60,
			},
			Generation: GenerationConfig{
				RowConcurrency:      4,
				BatchTimeoutSeconds: 600,
				RowEstimateMillis:   150,
			},
			Storage: StorageConfig{
				Default: "local",
				Adaptors: map[string]interface{}{
					"local": map[string]interface{}{
						"type":    "local",
						"baseDir": "./data",
					},
				},
			},
			Database: DatabaseConfig{
				Driver: "",
			},
			System: SystemConfig{
				Logging: LoggingConfig{Level: "INFO"},
				Tracing: TracingConfig{
					Enabled:     false,
					Endpoint:    "localhost:4317",
					SampleRatio: 0.1,
				},
			},
			Export: ExportConfig{
				OutcomeReport: false,
			},
		},
	}
}
