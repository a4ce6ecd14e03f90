// Package repository defines the persistence interfaces for batches, row
// outcomes, and jobs, plus the errors shared by all implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/docmint/docmint/pkg/docgen/core/model"
)

// ErrBatchNotFound indicates a lookup for an unknown batch ID.
var ErrBatchNotFound = errors.New("batch not found")

// ErrJobNotFound indicates a lookup for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// BatchStore persists Batch records. The batch record is the single source of
// truth for client-visible status.
type BatchStore interface {
	// SaveBatch persists a new batch. Saving an existing ID is an error.
	SaveBatch(ctx context.Context, batch *model.Batch) error
	// UpdateBatch overwrites an existing batch.
	UpdateBatch(ctx context.Context, batch *model.Batch) error
	// FindBatchByID returns the batch or ErrBatchNotFound.
	FindBatchByID(ctx context.Context, id string) (*model.Batch, error)
}

// OutcomeStore persists RowOutcome records. Outcomes are immutable once
// written.
type OutcomeStore interface {
	// SaveRowOutcome persists one outcome.
	SaveRowOutcome(ctx context.Context, outcome *model.RowOutcome) error
	// FindOutcomesByBatchID returns a batch's outcomes sorted by ascending
	// row number.
	FindOutcomesByBatchID(ctx context.Context, batchID string) ([]*model.RowOutcome, error)
}

// JobStore persists Job records on every state change so in-flight work can
// be recovered after a restart.
type JobStore interface {
	// SaveJob persists a new job.
	SaveJob(ctx context.Context, job *model.Job) error
	// UpdateJob overwrites an existing job.
	UpdateJob(ctx context.Context, job *model.Job) error
	// FindJobByID returns the job or ErrJobNotFound.
	FindJobByID(ctx context.Context, id string) (*model.Job, error)
	// FindResumableJobs returns jobs left in pending or processing state,
	// oldest first. Used once at startup.
	FindResumableJobs(ctx context.Context) ([]*model.Job, error)
	// DeleteTerminalJobsBefore removes completed/failed/cancelled jobs whose
	// last update is older than the cutoff, returning how many were removed.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}
