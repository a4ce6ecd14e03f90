// Package inmemory provides an in-memory implementation of the repository
// interfaces. It stores all records in maps and suits tests and deployments
// that accept losing pipeline state on restart.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/repository"
)

// Repository implements BatchStore, OutcomeStore, and JobStore in memory.
type Repository struct {
	mu       sync.RWMutex
	batches  map[string]*model.Batch
	outcomes map[string][]*model.RowOutcome // keyed by batch ID
	jobs     map[string]*model.Job
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		batches:  make(map[string]*model.Batch),
		outcomes: make(map[string][]*model.RowOutcome),
		jobs:     make(map[string]*model.Job),
	}
}

// SaveBatch persists a new batch. Saving an existing ID is an error.
func (r *Repository) SaveBatch(ctx context.Context, batch *model.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	clone := *batch
	r.batches[batch.ID] = &clone
	return nil
}

// UpdateBatch overwrites an existing batch.
func (r *Repository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[batch.ID]; !exists {
		return fmt.Errorf("batch %s not found for update", batch.ID)
	}
	clone := *batch
	r.batches[batch.ID] = &clone
	return nil
}

// FindBatchByID returns a copy of the batch, preventing callers from mutating
// internal state.
func (r *Repository) FindBatchByID(ctx context.Context, id string) (*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, repository.ErrBatchNotFound
	}
	clone := *batch
	return &clone, nil
}

// SaveRowOutcome persists one outcome.
func (r *Repository) SaveRowOutcome(ctx context.Context, outcome *model.RowOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *outcome
	r.outcomes[outcome.BatchID] = append(r.outcomes[outcome.BatchID], &clone)
	return nil
}

// FindOutcomesByBatchID returns copies of a batch's outcomes sorted by
// ascending row number.
func (r *Repository) FindOutcomesByBatchID(ctx context.Context, batchID string) ([]*model.RowOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.outcomes[batchID]
	out := make([]*model.RowOutcome, 0, len(stored))
	for _, o := range stored {
		clone := *o
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out, nil
}

// SaveJob persists a new job.
func (r *Repository) SaveJob(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

// UpdateJob overwrites an existing job.
func (r *Repository) UpdateJob(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; !exists {
		return fmt.Errorf("job %s not found for update", job.ID)
	}
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

// FindJobByID returns a copy of the job or ErrJobNotFound.
func (r *Repository) FindJobByID(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

// FindResumableJobs returns pending and processing jobs, oldest first.
func (r *Repository) FindResumableJobs(ctx context.Context) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Job
	for _, job := range r.jobs {
		if job.Status == model.JobStatusPending || job.Status == model.JobStatusProcessing {
			clone := *job
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteTerminalJobsBefore removes terminal jobs last updated before cutoff.
func (r *Repository) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, job := range r.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

var (
	_ repository.BatchStore   = (*Repository)(nil)
	_ repository.OutcomeStore = (*Repository)(nil)
	_ repository.JobStore     = (*Repository)(nil)
)
