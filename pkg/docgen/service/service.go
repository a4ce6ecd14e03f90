// Package service is the client-facing boundary of the pipeline: batch
// submission with an immediate duration estimate, status and progress
// queries, archive retrieval, cancellation, and failed-row resubmission.
// Transport concerns (HTTP routing, auth, upload handling) live outside this
// package; callers hand in already-extracted bytes and values.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/dataset"
	"github.com/docmint/docmint/pkg/docgen/progress"
	"github.com/docmint/docmint/pkg/docgen/queue"
	"github.com/docmint/docmint/pkg/docgen/repository"
	"github.com/docmint/docmint/pkg/docgen/storage"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
	"github.com/docmint/docmint/pkg/docgen/template"
)

const moduleName = "service"

// SubmitRequest is one batch-generation submission. The data set is given
// either as already-parsed rows or as raw bytes plus their format.
type SubmitRequest struct {
	TemplateBytes []byte
	TemplateName  string
	DataRows      []model.DataRow
	DatasetBytes  []byte
	DatasetFormat dataset.Format
	OutputFormat  model.OutputFormat
	NotifyEmail   string
	Priority      model.JobPriority
}

// SubmitResult is returned immediately on admission.
type SubmitResult struct {
	BatchID           string
	EstimatedDuration time.Duration
}

// Service exposes the pipeline's operations to callers.
type Service struct {
	batches  repository.BatchStore
	outcomes repository.OutcomeStore
	store    storage.Store
	queue    *queue.Queue
	tracker  *progress.Tracker
	cfg      config.GenerationConfig
}

// New assembles the service.
func New(
	cfg *config.Config,
	batches repository.BatchStore,
	outcomes repository.OutcomeStore,
	store storage.Store,
	q *queue.Queue,
	tracker *progress.Tracker,
) *Service {
	return &Service{
		batches:  batches,
		outcomes: outcomes,
		store:    store,
		queue:    q,
		tracker:  tracker,
		cfg:      cfg.Docmint.Generation,
	}
}

// Submit validates the request, stages the template and data set in artifact
// storage, persists the batch, and enqueues its execution. It returns as soon
// as the batch is admitted; all heavy work happens in the queue task.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if len(req.TemplateBytes) == 0 {
		return nil, exception.New(moduleName, "template is required", exception.ErrValidation, false)
	}
	if !req.OutputFormat.Valid() {
		return nil, exception.Newf(moduleName, "unsupported output format %q", req.OutputFormat)
	}

	datasetBytes, datasetFormat, err := s.stageableDataset(req)
	if err != nil {
		return nil, err
	}
	priority := req.Priority
	if priority == "" {
		priority = model.JobPriorityNormal
	}

	batch := model.NewBatch(req.TemplateName, req.OutputFormat, req.NotifyEmail)
	batch.DatasetFormat = string(datasetFormat)

	if err := s.store.Upload(ctx, storage.BatchTemplateRef(batch.ID), bytes.NewReader(req.TemplateBytes), "text/plain"); err != nil {
		return nil, exception.New(moduleName, "failed to stage template", err, true)
	}
	if err := s.store.Upload(ctx, storage.BatchDatasetRef(batch.ID), bytes.NewReader(datasetBytes), "application/octet-stream"); err != nil {
		return nil, exception.New(moduleName, "failed to stage data set", err, true)
	}
	if err := s.batches.SaveBatch(ctx, batch); err != nil {
		return nil, exception.New(moduleName, "failed to persist batch", err, true)
	}

	payload := model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: batch.ID}
	job, err := s.queue.Submit(ctx, payload, priority)
	if err != nil {
		// The batch record exists but will never run; finalize it so status
		// queries do not report a forever-created batch.
		batch.MarkAsFailed(err)
		if uerr := s.batches.UpdateBatch(ctx, batch); uerr != nil {
			logger.Errorf("service: failed to finalize unadmitted batch %s: %v", batch.ID, uerr)
		}
		return nil, err
	}
	batch.JobID = job.ID
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		logger.Errorf("service: failed to link job %s to batch %s: %v", job.ID, batch.ID, err)
	}

	estimate := s.estimateDuration(req.TemplateBytes, datasetFormat, datasetBytes)
	s.tracker.Update(batch.ID, model.StageCreated, progress.Percent(model.StageCreated, 0, 0), "batch accepted", nil)
	logger.Infof("service: accepted batch %s (template=%s format=%s estimate=%s)",
		batch.ID, batch.TemplateName, batch.OutputFormat, estimate)
	return &SubmitResult{BatchID: batch.ID, EstimatedDuration: estimate}, nil
}

// stageableDataset reduces both submission shapes to storable bytes. A
// structurally broken data set is not rejected here; the parsing stage fails
// the batch with the proper terminal state.
func (s *Service) stageableDataset(req SubmitRequest) ([]byte, dataset.Format, error) {
	switch {
	case len(req.DataRows) > 0:
		data, err := dataset.EncodeRows(req.DataRows)
		if err != nil {
			return nil, "", err
		}
		return data, dataset.FormatRows, nil
	case len(req.DatasetBytes) > 0:
		if req.DatasetFormat == "" {
			return nil, "", exception.New(moduleName, "data set format is required", exception.ErrValidation, false)
		}
		return req.DatasetBytes, req.DatasetFormat, nil
	default:
		return nil, "", exception.New(moduleName, "data set is required", exception.ErrValidation, false)
	}
}

// estimateDuration predicts the batch runtime from row count and template
// complexity. Rows that cannot be counted yet contribute zero; the estimate
// is informational only.
func (s *Service) estimateDuration(templateBytes []byte, format dataset.Format, datasetBytes []byte) time.Duration {
	rows, err := dataset.Parse(format, datasetBytes)
	if err != nil {
		return 0
	}
	fields := template.Extract(string(templateBytes))
	factor := template.EstimateFactor(template.Classify(len(fields)))
	perRow := time.Duration(s.cfg.RowEstimateMillis) * time.Millisecond
	return time.Duration(float64(len(rows)) * factor * float64(perRow))
}

// Status returns the durable batch record.
func (s *Service) Status(ctx context.Context, batchID string) (*model.Batch, error) {
	batch, err := s.batches.FindBatchByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, exception.New(moduleName, "batch not found", exception.ErrNotFound, false)
		}
		return nil, exception.New(moduleName, "failed to load batch", err, true)
	}
	return batch, nil
}

// Progress returns the live progress snapshot. When the snapshot has been
// evicted (restart, retention sweep) it is rebuilt from the batch record so
// polling clients never get a hard miss for a known batch.
func (s *Service) Progress(ctx context.Context, batchID string) (progress.Snapshot, error) {
	if snap, ok := s.tracker.Read(batchID); ok {
		return snap, nil
	}
	batch, err := s.Status(ctx, batchID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	percent := progress.Percent(batch.Stage, batch.CompletedCount+batch.FailedCount, batch.TotalRows)
	message := fmt.Sprintf("batch is %s", batch.Status)
	if batch.LastError != "" {
		message = batch.LastError
	}
	return progress.Snapshot{
		BatchID:   batch.ID,
		Stage:     batch.Stage,
		Percent:   percent,
		Message:   message,
		UpdatedAt: batch.UpdatedAt,
	}, nil
}

// Archive opens the finished batch's zip for reading. Requesting the archive
// of an unfinished batch returns exception.ErrNotReady.
func (s *Service) Archive(ctx context.Context, batchID string) (io.ReadCloser, error) {
	batch, err := s.Status(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != model.BatchStatusCompleted || batch.ArchiveRef == "" {
		return nil, exception.New(moduleName,
			fmt.Sprintf("archive not ready, batch is %s", batch.Status), exception.ErrNotReady, false)
	}
	rc, err := s.store.Download(ctx, batch.ArchiveRef)
	if err != nil {
		return nil, exception.New(moduleName, "failed to open archive", err, true)
	}
	return rc, nil
}

// Cancel aborts a batch that has not yet passed the parsing stage. Later
// stages run to completion; cancellation requests for them are rejected.
func (s *Service) Cancel(ctx context.Context, batchID string) error {
	batch, err := s.Status(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.IsTerminal() {
		return exception.Newf(moduleName, "batch is already %s", batch.Status)
	}
	if !model.CancellableStage(batch.Stage) {
		return exception.Newf(moduleName, "batch can no longer be cancelled in stage %s", batch.Stage)
	}
	// Dequeue the execution while it is still pending so it never consumes a
	// concurrency slot. A job already dispatched is caught by the
	// orchestrator's cancellation check at the parse boundary.
	if batch.JobID != "" {
		if s.queue.Cancel(ctx, batch.JobID) {
			logger.Debugf("service: dequeued pending job %s of batch %s", batch.JobID, batchID)
		}
	}
	batch.MarkAsCancelled()
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		return exception.New(moduleName, "failed to persist cancellation", err, true)
	}
	s.tracker.Update(batch.ID, model.StageCancelled, 0, "batch cancelled", nil)
	logger.Infof("service: cancelled batch %s", batchID)
	return nil
}

// RetryFailedRows creates a new batch covering only the failed rows of a
// finished batch, reusing its staged template. The original batch and its
// outcomes are left untouched.
func (s *Service) RetryFailedRows(ctx context.Context, batchID string) (*SubmitResult, error) {
	source, err := s.Status(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !source.Status.IsTerminal() {
		return nil, exception.Newf(moduleName, "batch %s is still %s", batchID, source.Status)
	}
	if source.FailedCount == 0 {
		return nil, exception.New(moduleName, "batch has no failed rows", exception.ErrValidation, false)
	}

	outcomes, err := s.outcomes.FindOutcomesByBatchID(ctx, batchID)
	if err != nil {
		return nil, exception.New(moduleName, "failed to load outcomes", err, true)
	}
	var rows []model.DataRow
	for _, o := range outcomes {
		if o.Outcome == model.RowOutcomeFailed {
			rows = append(rows, o.Data)
		}
	}
	if len(rows) == 0 {
		return nil, exception.New(moduleName, "batch has no failed rows", exception.ErrValidation, false)
	}

	tmpl, err := s.readObject(ctx, storage.BatchTemplateRef(batchID))
	if err != nil {
		return nil, exception.New(moduleName, "staged template is no longer available", err, true)
	}

	return s.Submit(ctx, SubmitRequest{
		TemplateBytes: tmpl,
		TemplateName:  source.TemplateName,
		DataRows:      rows,
		OutputFormat:  source.OutputFormat,
		NotifyEmail:   source.NotifyEmail,
		Priority:      model.JobPriorityHigh,
	})
}

func (s *Service) readObject(ctx context.Context, objectName string) ([]byte, error) {
	rc, err := s.store.Download(ctx, objectName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
