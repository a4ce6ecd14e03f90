package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmint/docmint/pkg/docgen/core/model"
)

func TestBatchStatusTransitions(t *testing.T) {
	b := model.NewBatch("invoice.docx", model.OutputFormatPDF, "ops@example.com")
	assert.Equal(t, model.BatchStatusCreated, b.Status)
	assert.Equal(t, model.StageCreated, b.Stage)

	require.NoError(t, b.TransitionTo(model.BatchStatusProcessing))
	require.NoError(t, b.TransitionTo(model.BatchStatusCompleted))

	// Terminal states admit no further transitions.
	assert.Error(t, b.TransitionTo(model.BatchStatusProcessing))
	assert.Error(t, b.TransitionTo(model.BatchStatusFailed))
}

func TestBatchTransition_CreatedCanFailOrCancel(t *testing.T) {
	b := model.NewBatch("t", model.OutputFormatDocx, "")
	require.NoError(t, b.TransitionTo(model.BatchStatusFailed))

	b2 := model.NewBatch("t", model.OutputFormatDocx, "")
	require.NoError(t, b2.TransitionTo(model.BatchStatusCancelled))
}

func TestEnterStage_MovesCreatedToProcessing(t *testing.T) {
	b := model.NewBatch("t", model.OutputFormatPDF, "")

	b.EnterStage(model.StageParsingData)

	assert.Equal(t, model.BatchStatusProcessing, b.Status)
	assert.Equal(t, model.StageParsingData, b.Stage)
}

func TestMarkAsFailed_RecordsReason(t *testing.T) {
	b := model.NewBatch("t", model.OutputFormatPDF, "")
	b.EnterStage(model.StageValidatingRows)

	b.MarkAsFailed(errors.New("no documents generated"))

	assert.Equal(t, model.BatchStatusFailed, b.Status)
	assert.Equal(t, model.StageFailed, b.Stage)
	assert.Equal(t, "no documents generated", b.LastError)
	require.NotNil(t, b.CompletedAt)
}

func TestStageOrder(t *testing.T) {
	next, ok := model.NextStage(model.StageCreated)
	require.True(t, ok)
	assert.Equal(t, model.StageParsingData, next)

	next, ok = model.NextStage(model.StageSendingNotification)
	require.True(t, ok)
	assert.Equal(t, model.StageCompleted, next)

	_, ok = model.NextStage(model.StageCompleted)
	assert.False(t, ok)
	_, ok = model.NextStage(model.StageFailed)
	assert.False(t, ok)

	assert.Equal(t, -1, model.StageIndex(model.StageCancelled))
	assert.Less(t, model.StageIndex(model.StageParsingData), model.StageIndex(model.StageGeneratingDocuments))
}

func TestCancellableStage(t *testing.T) {
	assert.True(t, model.CancellableStage(model.StageCreated))
	assert.True(t, model.CancellableStage(model.StageParsingData))
	assert.False(t, model.CancellableStage(model.StageAnalyzingTemplate))
	assert.False(t, model.CancellableStage(model.StageGeneratingDocuments))
}

func TestRecordRowResult_EnforcesCounterInvariant(t *testing.T) {
	b := model.NewBatch("t", model.OutputFormatPDF, "")
	b.TotalRows = 2

	require.NoError(t, b.RecordRowResult(true))
	require.NoError(t, b.RecordRowResult(false))
	assert.Equal(t, 1, b.CompletedCount)
	assert.Equal(t, 1, b.FailedCount)

	// completedCount + failedCount never exceeds totalRows.
	assert.Error(t, b.RecordRowResult(true))
}

func TestOutputFormatValid(t *testing.T) {
	assert.True(t, model.OutputFormatPDF.Valid())
	assert.True(t, model.OutputFormatDocx.Valid())
	assert.True(t, model.OutputFormatBoth.Valid())
	assert.False(t, model.OutputFormat("xls").Valid())
}

func TestJobStatusTransitions(t *testing.T) {
	job := model.NewJob(model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b1"}, model.JobPriorityNormal)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, model.MaxJobRetries, job.MaxRetries)

	require.NoError(t, job.MarkAsStarted())
	assert.NotNil(t, job.StartedAt)
	require.NoError(t, job.MarkAsCompleted())
	assert.Equal(t, 100, job.Progress)

	// Completed is terminal.
	assert.Error(t, job.TransitionTo(model.JobStatusPending))
}

func TestJobCancel_OnlyPending(t *testing.T) {
	job := model.NewJob(model.JobPayload{Kind: model.JobKindExecuteBatch}, model.JobPriorityNormal)
	require.NoError(t, job.MarkAsStarted())

	assert.Error(t, job.MarkAsCancelled())
}

func TestJobBackoffDelay_DoublesPerRetry(t *testing.T) {
	job := model.NewJob(model.JobPayload{}, model.JobPriorityNormal)

	assert.Equal(t, time.Second, job.BackoffDelay(time.Second))
	job.RetryCount = 1
	assert.Equal(t, 2*time.Second, job.BackoffDelay(time.Second))
	job.RetryCount = 2
	assert.Equal(t, 4*time.Second, job.BackoffDelay(time.Second))
}

func TestJobMarkForRetry(t *testing.T) {
	job := model.NewJob(model.JobPayload{}, model.JobPriorityNormal)
	require.NoError(t, job.MarkAsStarted())

	require.True(t, job.CanRetry())
	require.NoError(t, job.MarkForRetry(errors.New("boom"), time.Millisecond))

	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "boom", job.Error)
	assert.False(t, job.Eligible(time.Now().Add(-time.Hour)))
	assert.True(t, job.Eligible(time.Now().Add(time.Hour)))
}

func TestJobRetryBudget(t *testing.T) {
	job := model.NewJob(model.JobPayload{}, model.JobPriorityNormal)
	for i := 0; i < model.MaxJobRetries; i++ {
		require.NoError(t, job.MarkAsStarted())
		require.True(t, job.CanRetry())
		require.NoError(t, job.MarkForRetry(errors.New("boom"), time.Millisecond))
	}

	require.NoError(t, job.MarkAsStarted())
	assert.False(t, job.CanRetry())
	require.NoError(t, job.MarkAsFailed(errors.New("boom")))
	assert.Equal(t, model.JobStatusFailed, job.Status)
}

func TestJobResetForRetry(t *testing.T) {
	job := model.NewJob(model.JobPayload{}, model.JobPriorityHigh)
	require.NoError(t, job.MarkAsStarted())
	require.NoError(t, job.MarkAsFailed(errors.New("boom")))

	require.NoError(t, job.ResetForRetry())

	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Zero(t, job.RetryCount)
	assert.Empty(t, job.Error)
	assert.True(t, job.Eligible(time.Now()))
}

func TestJobMarkForRetry_WaitsOutBackoff(t *testing.T) {
	job := model.NewJob(model.JobPayload{}, model.JobPriorityNormal)
	require.NoError(t, job.MarkAsStarted())
	require.NoError(t, job.MarkForRetry(errors.New("boom"), time.Minute))

	assert.False(t, job.Eligible(time.Now()))
}
