package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// localStore implements Store on the local filesystem. The bucket notion maps
// to a base directory; object names become relative file paths.
type localStore struct {
	name    string
	baseDir string
	prefix  string
}

// NewLocalStore creates a local filesystem store rooted at settings.BaseDir,
// creating the directory if needed.
func NewLocalStore(name string, settings Settings) (Store, error) {
	if settings.BaseDir == "" {
		return nil, fmt.Errorf("local storage %q: baseDir must be configured", name)
	}
	info, err := os.Stat(settings.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(settings.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage %q: failed to create baseDir %s: %w", name, settings.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage %q: failed to stat baseDir %s: %w", name, settings.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage %q: baseDir %s is not a directory", name, settings.BaseDir)
	}
	return &localStore{name: name, baseDir: settings.BaseDir, prefix: settings.Prefix}, nil
}

func (s *localStore) Name() string { return s.name }

// resolve maps an object name onto the base directory and rejects traversal
// outside of it.
func (s *localStore) resolve(objectName string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(s.prefix), filepath.FromSlash(objectName))
	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != base && !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("object name %q escapes storage root", objectName)
	}
	return full, nil
}

func (s *localStore) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	path, err := s.resolve(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Debugf("storage %s: wrote %s", s.name, path)
	return nil
}

func (s *localStore) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	path, err := s.resolve(objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

func (s *localStore) List(ctx context.Context, prefix string, fn func(string) error) error {
	root, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	// Names handed to fn must resolve back through the configured prefix, so
	// they are relative to the prefixed root, not baseDir.
	prefixRoot := filepath.Join(s.baseDir, filepath.FromSlash(s.prefix))
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(prefixRoot, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
}

func (s *localStore) Delete(ctx context.Context, objectName string) error {
	path, err := s.resolve(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (s *localStore) Close() error {
	return nil
}

var _ Store = (*localStore)(nil)
