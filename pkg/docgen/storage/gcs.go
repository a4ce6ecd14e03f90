package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// gcsStore implements Store on a Google Cloud Storage bucket.
type gcsStore struct {
	name   string
	bucket string
	prefix string
	client *gcs.Client
}

// NewGCSStore creates a GCS-backed store. Credentials come from the
// application-default chain.
func NewGCSStore(ctx context.Context, name string, settings Settings) (Store, error) {
	if settings.Bucket == "" {
		return nil, fmt.Errorf("gcs storage %q: bucket must be configured", name)
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs storage %q: failed to create client: %w", name, err)
	}
	return &gcsStore{name: name, bucket: settings.Bucket, prefix: settings.Prefix, client: client}, nil
}

func (s *gcsStore) Name() string { return s.name }

func (s *gcsStore) objectPath(objectName string) string {
	if s.prefix == "" {
		return objectName
	}
	return path.Join(s.prefix, objectName)
}

func (s *gcsStore) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(s.objectPath(objectName)).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs upload of %s failed: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs upload of %s failed on close: %w", objectName, err)
	}
	logger.Debugf("storage %s: wrote gs://%s/%s", s.name, s.bucket, s.objectPath(objectName))
	return nil
}

func (s *gcsStore) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectPath(objectName)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs download of %s failed: %w", objectName, err)
	}
	return r, nil
}

func (s *gcsStore) List(ctx context.Context, prefix string, fn func(string) error) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: s.objectPath(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gcs list under %s failed: %w", prefix, err)
		}
		// attrs.Name carries the store prefix; strip it so the name feeds
		// back into Download/Delete unchanged.
		name := attrs.Name
		if s.prefix != "" {
			name = strings.TrimPrefix(name, s.prefix+"/")
		}
		if err := fn(name); err != nil {
			return err
		}
	}
}

func (s *gcsStore) Delete(ctx context.Context, objectName string) error {
	err := s.client.Bucket(s.bucket).Object(s.objectPath(objectName)).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete of %s failed: %w", objectName, err)
	}
	return nil
}

func (s *gcsStore) Close() error {
	return s.client.Close()
}

var _ Store = (*gcsStore)(nil)
