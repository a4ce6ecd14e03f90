// Package orchestrator drives a batch through the fixed pipeline stages:
// parsing the staged data set, analyzing the template, validating rows,
// rendering documents with a bounded worker pool, archiving, and notifying.
// All stages of one batch run inside the single queue task invocation; the
// Batch record is updated on every stage entry so status queries and crash
// recovery always see the latest durable state.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/docmint/docmint/pkg/docgen/archive"
	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/dataset"
	"github.com/docmint/docmint/pkg/docgen/export"
	"github.com/docmint/docmint/pkg/docgen/metrics"
	"github.com/docmint/docmint/pkg/docgen/notification"
	"github.com/docmint/docmint/pkg/docgen/progress"
	"github.com/docmint/docmint/pkg/docgen/render"
	"github.com/docmint/docmint/pkg/docgen/repository"
	"github.com/docmint/docmint/pkg/docgen/storage"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
	"github.com/docmint/docmint/pkg/docgen/template"
	"github.com/docmint/docmint/pkg/docgen/validate"
)

const moduleName = "orchestrator"

// errCancelled aborts the pipeline when a cancellation is observed at a stage
// boundary. The batch record was already finalized by the cancelling caller.
var errCancelled = errors.New("batch cancelled")

// Orchestrator executes one batch end to end.
type Orchestrator struct {
	batches  repository.BatchStore
	outcomes repository.OutcomeStore
	store    storage.Store
	renderer render.Renderer
	archiver *archive.Builder
	tracker  *progress.Tracker
	notifier notification.Notifier
	recorder metrics.Recorder
	tracer   metrics.Tracer
	reporter *export.Reporter
	cfg      config.GenerationConfig
}

// New assembles an orchestrator from its collaborators.
func New(
	cfg *config.Config,
	batches repository.BatchStore,
	outcomes repository.OutcomeStore,
	store storage.Store,
	renderer render.Renderer,
	tracker *progress.Tracker,
	notifier notification.Notifier,
	recorder metrics.Recorder,
	tracer metrics.Tracer,
	reporter *export.Reporter,
) *Orchestrator {
	return &Orchestrator{
		batches:  batches,
		outcomes: outcomes,
		store:    store,
		renderer: renderer,
		archiver: archive.NewBuilder(store),
		tracker:  tracker,
		notifier: notifier,
		recorder: recorder,
		tracer:   tracer,
		reporter: reporter,
		cfg:      cfg.Docmint.Generation,
	}
}

// Run dispatches a queue payload. It is the queue's task entry point; each
// execution is covered by a job span.
func (o *Orchestrator) Run(ctx context.Context, payload model.JobPayload) error {
	switch payload.Kind {
	case model.JobKindExecuteBatch:
		sctx, end := o.tracer.StartJobSpan(ctx, payload.Kind, payload.BatchID)
		err := o.ExecuteBatch(sctx, payload.BatchID)
		end(err)
		return err
	default:
		return exception.Newf(moduleName, "unknown job kind %q", payload.Kind)
	}
}

// ExecuteBatch runs the pipeline for one batch. Domain failures (validation,
// render, archive) finalize the batch as failed and complete the job; only
// transient infrastructure errors propagate so the queue can retry, leaving
// the batch resumable.
func (o *Orchestrator) ExecuteBatch(parent context.Context, batchID string) error {
	batch, err := o.batches.FindBatchByID(parent, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			logger.Warnf("orchestrator: batch %s no longer exists, dropping task", batchID)
			return nil
		}
		return exception.New(moduleName, "failed to load batch", err, true)
	}
	if batch.Status.IsTerminal() {
		logger.Debugf("orchestrator: batch %s already %s, nothing to do", batchID, batch.Status)
		return nil
	}

	started := time.Now()
	ctx := parent
	if o.cfg.BatchTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, time.Duration(o.cfg.BatchTimeoutSeconds)*time.Second)
		defer cancel()
	}

	execErr := o.runPipeline(ctx, batch)
	switch {
	case execErr == nil:
		o.recorder.RecordBatchFinished(model.BatchStatusCompleted, time.Since(started))
		logger.Infof("orchestrator: batch %s completed (completed=%d failed=%d of %d)",
			batch.ID, batch.CompletedCount, batch.FailedCount, batch.TotalRows)
		return nil
	case errors.Is(execErr, errCancelled):
		o.recorder.RecordBatchFinished(model.BatchStatusCancelled, time.Since(started))
		logger.Infof("orchestrator: batch %s cancelled during %s", batch.ID, batch.Stage)
		return nil
	case errors.Is(execErr, context.DeadlineExceeded):
		o.failBatch(parent, batch, exception.New(moduleName, "timeout", exception.ErrTimeout, false))
		o.recorder.RecordBatchFinished(model.BatchStatusFailed, time.Since(started))
		return nil
	case errors.Is(execErr, context.Canceled):
		// An interrupted run (shutdown, external context cancel) is not a
		// batch failure. The batch stays in its current stage and the
		// persisted job re-runs it, skipping already-written outcomes.
		logger.Warnf("orchestrator: batch %s interrupted during %s, leaving resumable", batch.ID, batch.Stage)
		return execErr
	case exception.IsTemporary(execErr):
		// Leave the batch in its current stage; already-written outcomes are
		// skipped on the retry run.
		logger.Warnf("orchestrator: batch %s hit a transient error, handing back for retry: %v", batch.ID, execErr)
		return execErr
	default:
		o.failBatch(parent, batch, execErr)
		o.recorder.RecordBatchFinished(model.BatchStatusFailed, time.Since(started))
		return nil
	}
}

// runPipeline executes the sequential stages, each inside its own trace
// span. The returned error is nil only after the batch reached completed.
func (o *Orchestrator) runPipeline(ctx context.Context, batch *model.Batch) error {
	prior, err := o.loadPriorOutcomes(ctx, batch)
	if err != nil {
		return err
	}

	sctx, end := o.tracer.StartStageSpan(ctx, batch.ID, model.StageParsingData)
	rows, err := o.stageParseData(sctx, batch)
	end(err)
	if err != nil {
		return err
	}

	// Last cancellation point: once template analysis begins the batch runs
	// to completion.
	cancelled, err := o.refreshCancelled(ctx, batch)
	if err != nil {
		return err
	}
	if cancelled {
		return errCancelled
	}

	sctx, end = o.tracer.StartStageSpan(ctx, batch.ID, model.StageAnalyzingTemplate)
	tmpl, fields, err := o.stageAnalyzeTemplate(sctx, batch)
	end(err)
	if err != nil {
		return err
	}

	sctx, end = o.tracer.StartStageSpan(ctx, batch.ID, model.StageValidatingRows)
	validRows, err := o.stageValidateRows(sctx, batch, rows, fields, prior)
	end(err)
	if err != nil {
		return err
	}

	sctx, end = o.tracer.StartStageSpan(ctx, batch.ID, model.StageGeneratingDocuments)
	err = o.stageGenerateDocuments(sctx, batch, tmpl, validRows, prior)
	end(err)
	if err != nil {
		return err
	}

	sctx, end = o.tracer.StartStageSpan(ctx, batch.ID, model.StageCreatingArchive)
	err = o.stageCreateArchive(sctx, batch)
	end(err)
	if err != nil {
		return err
	}

	sctx, end = o.tracer.StartStageSpan(ctx, batch.ID, model.StageSendingNotification)
	err = o.stageNotifyAndComplete(sctx, batch)
	end(err)
	return err
}

// loadPriorOutcomes rebuilds the batch counters from already-persisted
// outcomes so a retried run never double-counts a row.
func (o *Orchestrator) loadPriorOutcomes(ctx context.Context, batch *model.Batch) (map[int]*model.RowOutcome, error) {
	existing, err := o.outcomes.FindOutcomesByBatchID(ctx, batch.ID)
	if err != nil {
		return nil, exception.New(moduleName, "failed to load prior outcomes", err, true)
	}
	prior := make(map[int]*model.RowOutcome, len(existing))
	completed, failed := 0, 0
	for _, oc := range existing {
		prior[oc.RowNumber] = oc
		if oc.Outcome == model.RowOutcomeSuccess {
			completed++
		} else {
			failed++
		}
	}
	batch.CompletedCount = completed
	batch.FailedCount = failed
	return prior, nil
}

func (o *Orchestrator) stageParseData(ctx context.Context, batch *model.Batch) ([]model.DataRow, error) {
	o.enterStage(ctx, batch, model.StageParsingData, "parsing data set", nil)

	data, err := o.readObject(ctx, storage.BatchDatasetRef(batch.ID))
	if err != nil {
		return nil, exception.New(moduleName, "failed to read staged data set", err, true)
	}
	rows, err := dataset.Parse(dataset.Format(batch.DatasetFormat), data)
	if err != nil {
		return nil, err
	}

	batch.TotalRows = len(rows)
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		return nil, exception.New(moduleName, "failed to persist row count", err, true)
	}
	o.updateProgress(batch, model.StageParsingData, 0, 0, fmt.Sprintf("parsed %d rows", len(rows)),
		map[string]interface{}{"rowsParsed": len(rows)})
	return rows, nil
}

func (o *Orchestrator) stageAnalyzeTemplate(ctx context.Context, batch *model.Batch) (render.Template, []string, error) {
	o.enterStage(ctx, batch, model.StageAnalyzingTemplate, "analyzing template", nil)

	text, err := o.readObject(ctx, storage.BatchTemplateRef(batch.ID))
	if err != nil {
		return render.Template{}, nil, exception.New(moduleName, "failed to read staged template", err, true)
	}
	tmpl := render.Template{Name: batch.TemplateName, Text: string(text)}

	fields := template.Extract(tmpl.Text)
	complexity := template.Classify(len(fields))

	batch.RequiredFields = model.FieldList(fields)
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		return render.Template{}, nil, exception.New(moduleName, "failed to persist required fields", err, true)
	}
	o.updateProgress(batch, model.StageAnalyzingTemplate, 0, 0,
		fmt.Sprintf("found %d placeholders (%s)", len(fields), complexity),
		map[string]interface{}{"placeholders": len(fields), "complexity": string(complexity)})
	return tmpl, fields, nil
}

// stageValidateRows partitions rows by required-field presence and records an
// immediate failed outcome for each invalid row. Invalid rows never reach the
// renderer.
func (o *Orchestrator) stageValidateRows(
	ctx context.Context,
	batch *model.Batch,
	rows []model.DataRow,
	fields []string,
	prior map[int]*model.RowOutcome,
) ([]validate.ValidRow, error) {
	o.enterStage(ctx, batch, model.StageValidatingRows, "validating rows", nil)

	validRows, invalidRows := validate.Validate(rows, fields)
	for _, iv := range invalidRows {
		if _, done := prior[iv.RowNumber]; done {
			continue
		}
		outcome := model.NewRowOutcome(batch.ID, iv.RowNumber, iv.Data)
		outcome.MarkFailed(exception.New(moduleName, iv.Reason(), exception.ErrValidation, false))
		if err := o.outcomes.SaveRowOutcome(ctx, outcome); err != nil {
			return nil, exception.New(moduleName, "failed to persist row outcome", err, true)
		}
		prior[iv.RowNumber] = outcome
		if err := batch.RecordRowResult(false); err != nil {
			return nil, err
		}
		o.recorder.RecordRowProcessed(model.RowOutcomeFailed)
	}
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		return nil, exception.New(moduleName, "failed to persist validation counters", err, true)
	}
	// Zero valid rows fails the batch here; no render workers are started and
	// the batch never enters the generation stage.
	if len(validRows) == 0 {
		return nil, exception.New(moduleName, "no valid rows", exception.ErrValidation, false)
	}
	o.updateProgress(batch, model.StageValidatingRows, 0, 0,
		fmt.Sprintf("%d valid, %d invalid rows", len(validRows), len(invalidRows)),
		map[string]interface{}{"validRows": len(validRows), "invalidRows": len(invalidRows)})
	return validRows, nil
}

// rowResult carries one finished render from the worker pool to the collector.
type rowResult struct {
	outcome *model.RowOutcome
}

// stageGenerateDocuments renders every valid row through a bounded worker
// pool. Row failures are isolated: each failed row is recorded and the batch
// carries on. Progress scales continuously with processed rows.
func (o *Orchestrator) stageGenerateDocuments(
	ctx context.Context,
	batch *model.Batch,
	tmpl render.Template,
	validRows []validate.ValidRow,
	prior map[int]*model.RowOutcome,
) error {
	o.enterStage(ctx, batch, model.StageGeneratingDocuments, "generating documents", nil)

	pending := make([]validate.ValidRow, 0, len(validRows))
	for _, vr := range validRows {
		if _, done := prior[vr.RowNumber]; !done {
			pending = append(pending, vr)
		}
	}

	concurrency := o.cfg.RowConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make(chan rowResult, concurrency)
	var workers sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	go func() {
		for _, vr := range pending {
			if ctx.Err() != nil {
				break
			}
			sem <- struct{}{}
			workers.Add(1)
			go func(vr validate.ValidRow) {
				defer workers.Done()
				defer func() { <-sem }()
				results <- rowResult{outcome: o.renderRow(ctx, batch, tmpl, vr)}
			}(vr)
		}
		workers.Wait()
		close(results)
	}()

	var persistErr error
	for res := range results {
		// A nil outcome is a row interrupted by context expiry; it carries no
		// result and is rendered again on a resumed run.
		if res.outcome == nil {
			continue
		}
		if err := o.outcomes.SaveRowOutcome(ctx, res.outcome); err != nil {
			persistErr = multierror.Append(persistErr, err)
			continue
		}
		succeeded := res.outcome.Outcome == model.RowOutcomeSuccess
		if err := batch.RecordRowResult(succeeded); err != nil {
			persistErr = multierror.Append(persistErr, err)
			continue
		}
		o.recorder.RecordRowProcessed(res.outcome.Outcome)

		processed := batch.CompletedCount + batch.FailedCount
		o.updateProgress(batch, model.StageGeneratingDocuments, processed, batch.TotalRows,
			fmt.Sprintf("generated %d of %d documents", processed, batch.TotalRows),
			map[string]interface{}{"processed": processed, "total": batch.TotalRows})
	}

	if persistErr != nil {
		return exception.New(moduleName, "failed to persist render results", persistErr, true)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		return exception.New(moduleName, "failed to persist generation counters", err, true)
	}
	return nil
}

// renderRow renders one row and uploads the artifact. All failure modes,
// panics included, end as a failed outcome for this row only. A failure
// caused by context expiry returns nil instead: the row was not processed.
func (o *Orchestrator) renderRow(ctx context.Context, batch *model.Batch, tmpl render.Template, vr validate.ValidRow) (outcome *model.RowOutcome) {
	outcome = model.NewRowOutcome(batch.ID, vr.RowNumber, vr.Data)
	defer func() {
		if r := recover(); r != nil {
			outcome.MarkFailed(exception.Newf(moduleName, "renderer panicked on row %d: %v", vr.RowNumber, r))
		}
	}()

	doc, err := o.renderer.Render(ctx, tmpl, vr.Data)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		outcome.MarkFailed(err)
		return outcome
	}

	name := render.ArtifactName(vr.RowNumber, batch.OutputFormat)
	ref := storage.BatchArtifactRef(batch.ID, name)
	if err := o.store.Upload(ctx, ref, bytes.NewReader(doc), contentType(batch.OutputFormat)); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		outcome.MarkFailed(exception.New(moduleName,
			fmt.Sprintf("failed to store artifact for row %d", vr.RowNumber), err, false))
		return outcome
	}
	outcome.MarkSuccess(ref)
	return outcome
}

// stageCreateArchive assembles the zip from all successful outcomes. A batch
// with zero generated documents fails here rather than producing an empty
// archive. Row artifacts are removed once the archive holds them.
func (o *Orchestrator) stageCreateArchive(ctx context.Context, batch *model.Batch) error {
	o.enterStage(ctx, batch, model.StageCreatingArchive, "creating archive", nil)

	if batch.CompletedCount == 0 {
		return exception.New(moduleName, "no documents generated", exception.ErrArchive, false)
	}

	all, err := o.outcomes.FindOutcomesByBatchID(ctx, batch.ID)
	if err != nil {
		return exception.New(moduleName, "failed to load outcomes for archive", err, true)
	}
	entries := archive.EntriesFromOutcomes(all, batch.OutputFormat)
	ref, err := o.archiver.Build(ctx, batch.ID, entries)
	if err != nil {
		return err
	}
	batch.ArchiveRef = ref
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		return exception.New(moduleName, "failed to persist archive reference", err, true)
	}

	if o.reporter.Enabled() {
		if rerr := o.reporter.WriteOutcomeReport(ctx, batch.ID, all); rerr != nil {
			logger.Warnf("orchestrator: outcome report for batch %s failed: %v", batch.ID, rerr)
		}
	}
	o.cleanupArtifacts(ctx, batch.ID)

	o.updateProgress(batch, model.StageCreatingArchive, 0, 0,
		fmt.Sprintf("archived %d documents", len(entries)),
		map[string]interface{}{"archived": len(entries)})
	return nil
}

// stageNotifyAndComplete finalizes the batch and sends the best-effort
// completion notice. A notification failure never demotes a completed batch.
func (o *Orchestrator) stageNotifyAndComplete(ctx context.Context, batch *model.Batch) error {
	o.enterStage(ctx, batch, model.StageSendingNotification, "sending notification", nil)

	batch.MarkAsCompleted()
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		return exception.New(moduleName, "failed to persist completion", err, true)
	}

	if err := o.notifier.NotifyBatchCompletion(ctx, batch.NotifyEmail, batch); err != nil {
		logger.Warnf("orchestrator: completion notification for batch %s failed: %v", batch.ID, err)
	}

	o.updateProgress(batch, model.StageCompleted, 0, 0, "batch completed", map[string]interface{}{
		"completed": batch.CompletedCount,
		"failed":    batch.FailedCount,
	})
	return nil
}

// failBatch finalizes the batch as failed and notifies best-effort. Uses the
// parent context: the stage context may already be expired.
func (o *Orchestrator) failBatch(ctx context.Context, batch *model.Batch, cause error) {
	batch.MarkAsFailed(cause)
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		logger.Errorf("orchestrator: failed to persist failure of batch %s: %v", batch.ID, err)
	}
	// Keep the last reported percentage; Update never lets it decrease.
	o.tracker.Update(batch.ID, model.StageFailed, 0, batch.LastError, nil)
	if err := o.notifier.NotifyBatchCompletion(ctx, batch.NotifyEmail, batch); err != nil {
		logger.Warnf("orchestrator: failure notification for batch %s failed: %v", batch.ID, err)
	}
	logger.Errorf("orchestrator: batch %s failed: %s", batch.ID, batch.LastError)
}

// enterStage persists the stage transition and publishes the stage's base
// progress.
func (o *Orchestrator) enterStage(ctx context.Context, batch *model.Batch, stage model.Stage, message string, details map[string]interface{}) {
	batch.EnterStage(stage)
	if err := o.batches.UpdateBatch(ctx, batch); err != nil {
		logger.Errorf("orchestrator: failed to persist stage %s of batch %s: %v", stage, batch.ID, err)
	}
	o.updateProgress(batch, stage, 0, 0, message, details)
}

func (o *Orchestrator) updateProgress(batch *model.Batch, stage model.Stage, processed, total int, message string, details map[string]interface{}) {
	o.tracker.Update(batch.ID, stage, progress.Percent(stage, processed, total), message, details)
}

// refreshCancelled reloads the batch record to observe a cancellation issued
// while parsing was running. On cancellation the local copy adopts the
// terminal state so no later update resurrects the batch.
func (o *Orchestrator) refreshCancelled(ctx context.Context, batch *model.Batch) (bool, error) {
	current, err := o.batches.FindBatchByID(ctx, batch.ID)
	if err != nil {
		return false, exception.New(moduleName, "failed to refresh batch", err, true)
	}
	if current.Status == model.BatchStatusCancelled {
		*batch = *current
		o.tracker.Update(batch.ID, model.StageCancelled, 0, "batch cancelled", nil)
		return true, nil
	}
	return false, nil
}

// cleanupArtifacts removes per-row artifacts and the staged data set after
// archiving. Failures are logged; leftover objects only cost storage.
func (o *Orchestrator) cleanupArtifacts(ctx context.Context, batchID string) {
	var merr error
	err := o.store.List(ctx, storage.BatchArtifactPrefix(batchID), func(objectName string) error {
		if derr := o.store.Delete(ctx, objectName); derr != nil {
			merr = multierror.Append(merr, derr)
		}
		return nil
	})
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	if derr := o.store.Delete(ctx, storage.BatchDatasetRef(batchID)); derr != nil {
		merr = multierror.Append(merr, derr)
	}
	if merr != nil {
		logger.Warnf("orchestrator: artifact cleanup for batch %s incomplete: %v", batchID, merr)
	}
}

// contentType maps the output format to the artifact MIME type.
func contentType(format model.OutputFormat) string {
	switch format {
	case model.OutputFormatPDF:
		return "application/pdf"
	case model.OutputFormatDocx:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

func (o *Orchestrator) readObject(ctx context.Context, objectName string) ([]byte, error) {
	rc, err := o.store.Download(ctx, objectName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
