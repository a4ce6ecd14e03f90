// Package archive assembles the downloadable zip for a completed batch. Entry
// order and names are deterministic, derived from row numbers, so the archive
// layout always matches the input data set's order.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/render"
	"github.com/docmint/docmint/pkg/docgen/storage"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

const moduleName = "archive"

// Entry is one archive member: the entry name inside the zip and the storage
// object holding the rendered artifact.
type Entry struct {
	RowNumber int
	Name      string
	ObjectRef string
}

// Builder streams rendered artifacts from storage into a zip object.
type Builder struct {
	store storage.Store
}

// NewBuilder creates an archive builder on the given store.
func NewBuilder(store storage.Store) *Builder {
	return &Builder{store: store}
}

// ObjectRef returns the storage object name of a batch's archive.
func ObjectRef(batchID string) string {
	return fmt.Sprintf("batches/%s/archive.zip", batchID)
}

// Build writes the archive for a batch and returns its storage reference.
// Entries are re-sorted by row number before writing regardless of the order
// renders completed in. An empty entry set is an archive error; the caller
// guards with completedCount > 0 before reaching this stage.
func (b *Builder) Build(ctx context.Context, batchID string, entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", exception.New(moduleName, "no documents generated", exception.ErrArchive, false)
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RowNumber < sorted[j].RowNumber })

	ref := ObjectRef(batchID)
	pr, pw := io.Pipe()

	uploadErr := make(chan error, 1)
	go func() {
		uploadErr <- b.store.Upload(ctx, ref, pr, "application/zip")
	}()

	zw := zip.NewWriter(pw)
	writeErr := b.writeEntries(ctx, zw, sorted)
	if writeErr == nil {
		writeErr = zw.Close()
	}
	// Closing the pipe writer (with the write error, if any) unblocks Upload.
	_ = pw.CloseWithError(writeErr)

	if err := <-uploadErr; err != nil {
		return "", exception.New(moduleName, "failed to upload archive", errors.Join(exception.ErrArchive, err), true)
	}
	if writeErr != nil {
		return "", exception.New(moduleName, "failed to write archive", errors.Join(exception.ErrArchive, writeErr), false)
	}
	logger.Infof("archive for batch %s written with %d entries", batchID, len(sorted))
	return ref, nil
}

func (b *Builder) writeEntries(ctx context.Context, zw *zip.Writer, entries []Entry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := b.store.Download(ctx, entry.ObjectRef)
		if err != nil {
			return fmt.Errorf("artifact %s unavailable: %w", entry.ObjectRef, err)
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			_ = src.Close()
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			_ = src.Close()
			return fmt.Errorf("failed to copy artifact %s: %w", entry.ObjectRef, err)
		}
		if err := src.Close(); err != nil {
			return err
		}
	}
	return nil
}

// EntriesFromOutcomes builds archive entries for the successful outcomes of a
// batch.
func EntriesFromOutcomes(outcomes []*model.RowOutcome, format model.OutputFormat) []Entry {
	var entries []Entry
	for _, o := range outcomes {
		if o.Outcome != model.RowOutcomeSuccess {
			continue
		}
		entries = append(entries, Entry{
			RowNumber: o.RowNumber,
			Name:      render.ArtifactName(o.RowNumber, format),
			ObjectRef: o.OutputRef,
		})
	}
	return entries
}
