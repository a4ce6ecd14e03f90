package storage_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmint/docmint/pkg/docgen/storage"
)

func newLocal(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewLocalStore("local", storage.Settings{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestLocalStore_UploadDownload(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "batches/b1/template", strings.NewReader("Hello {{ name }}"), "text/plain"))

	rc, err := store.Download(ctx, "batches/b1/template")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "Hello {{ name }}", string(data))
}

func TestLocalStore_DownloadMissing(t *testing.T) {
	store := newLocal(t)

	_, err := store.Download(context.Background(), "nope")

	assert.Error(t, err)
}

func TestLocalStore_ListWalksPrefix(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "batches/b1/artifacts/row-0001.pdf", strings.NewReader("a"), ""))
	require.NoError(t, store.Upload(ctx, "batches/b1/artifacts/row-0002.pdf", strings.NewReader("b"), ""))
	require.NoError(t, store.Upload(ctx, "batches/b2/artifacts/row-0001.pdf", strings.NewReader("c"), ""))

	var seen []string
	require.NoError(t, store.List(ctx, "batches/b1/artifacts/", func(name string) error {
		seen = append(seen, name)
		return nil
	}))

	sort.Strings(seen)
	assert.Equal(t, []string{
		"batches/b1/artifacts/row-0001.pdf",
		"batches/b1/artifacts/row-0002.pdf",
	}, seen)
}

func TestLocalStore_ListedNamesResolveWithConfiguredPrefix(t *testing.T) {
	store, err := storage.NewLocalStore("local", storage.Settings{BaseDir: t.TempDir(), Prefix: "tenant-a"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "batches/b1/artifacts/row-0001.pdf", strings.NewReader("a"), ""))

	var seen []string
	require.NoError(t, store.List(ctx, "batches/b1/artifacts/", func(name string) error {
		seen = append(seen, name)
		return nil
	}))
	require.Equal(t, []string{"batches/b1/artifacts/row-0001.pdf"}, seen)

	// A listed name feeds straight back into Delete and actually removes the
	// object.
	require.NoError(t, store.Delete(ctx, seen[0]))
	_, err = store.Download(ctx, seen[0])
	assert.Error(t, err)
}

func TestLocalStore_ListMissingPrefixIsEmpty(t *testing.T) {
	store := newLocal(t)

	calls := 0
	err := store.List(context.Background(), "not/there/", func(string) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestLocalStore_DeleteIsIdempotent(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "x", strings.NewReader("1"), ""))

	require.NoError(t, store.Delete(ctx, "x"))
	require.NoError(t, store.Delete(ctx, "x"), "deleting a missing object is not an error")

	_, err := store.Download(ctx, "x")
	assert.Error(t, err)
}

func TestLocalStore_RejectsPathTraversal(t *testing.T) {
	store := newLocal(t)

	err := store.Upload(context.Background(), "../../etc/passwd", strings.NewReader("x"), "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}
