// Package storage abstracts artifact storage behind a small interface so the
// archive and export stages can write to the local filesystem or a cloud
// bucket through the same API.
package storage

import (
	"context"
	"io"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
)

const moduleName = "storage"

// Store is a named artifact storage backend.
type Store interface {
	// Name returns the configured adaptor name.
	Name() string
	// Upload writes the data stream to the given object name.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error
	// Download opens the object for reading. The caller closes the reader.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	// List calls fn for every object under the prefix.
	List(ctx context.Context, prefix string, fn func(objectName string) error) error
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectName string) error
	// Close releases backend resources.
	Close() error
}

// Settings are the decoded per-adaptor settings. Fields are backend-specific;
// unknown keys in the configuration map are ignored.
type Settings struct {
	// Type selects the backend: "local" or "gcs".
	Type string `mapstructure:"type"`
	// BaseDir is the root directory for the local backend.
	BaseDir string `mapstructure:"baseDir"`
	// Bucket is the bucket name for the gcs backend.
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`
}

// New builds the Store named in the storage configuration's Default key.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	raw, ok := cfg.Adaptors[cfg.Default]
	if !ok {
		return nil, exception.Newf(moduleName, "storage adaptor %q is not configured", cfg.Default)
	}
	var settings Settings
	if err := mapstructure.Decode(raw, &settings); err != nil {
		return nil, exception.New(moduleName, "failed to decode storage adaptor settings", err, false)
	}
	switch settings.Type {
	case "local", "":
		return NewLocalStore(cfg.Default, settings)
	case "gcs":
		return NewGCSStore(ctx, cfg.Default, settings)
	default:
		return nil, exception.Newf(moduleName, "unknown storage adaptor type %q", settings.Type)
	}
}

// Module provides the default Store and closes it on shutdown.
var Module = fx.Options(
	fx.Provide(func(lc fx.Lifecycle, cfg *config.Config) (Store, error) {
		store, err := New(context.Background(), cfg.Docmint.Storage)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return store.Close() },
		})
		return store, nil
	}),
)
