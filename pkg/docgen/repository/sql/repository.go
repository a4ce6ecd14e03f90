package sql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/repository"
)

// Repository implements the repository interfaces on a gorm database handle.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps an open gorm handle. Schema management happens in Open.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveBatch persists a new batch.
func (r *Repository) SaveBatch(ctx context.Context, batch *model.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// UpdateBatch overwrites an existing batch record.
func (r *Repository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	res := r.db.WithContext(ctx).Model(&model.Batch{}).Where("id = ?", batch.ID).Select("*").Updates(batch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrBatchNotFound
	}
	return nil
}

// FindBatchByID returns a batch or ErrBatchNotFound.
func (r *Repository) FindBatchByID(ctx context.Context, id string) (*model.Batch, error) {
	var batch model.Batch
	err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// SaveRowOutcome persists one immutable row outcome.
func (r *Repository) SaveRowOutcome(ctx context.Context, outcome *model.RowOutcome) error {
	return r.db.WithContext(ctx).Create(outcome).Error
}

// FindOutcomesByBatchID returns a batch's outcomes ordered by row number.
func (r *Repository) FindOutcomesByBatchID(ctx context.Context, batchID string) ([]*model.RowOutcome, error) {
	var outcomes []*model.RowOutcome
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("row_number ASC").
		Find(&outcomes).Error
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// SaveJob persists a new job.
func (r *Repository) SaveJob(ctx context.Context, job *model.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// UpdateJob overwrites an existing job record.
func (r *Repository) UpdateJob(ctx context.Context, job *model.Job) error {
	res := r.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", job.ID).Select("*").Updates(job)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// FindJobByID returns a job or ErrJobNotFound.
func (r *Repository) FindJobByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindResumableJobs returns pending and processing jobs, oldest first.
func (r *Repository) FindResumableJobs(ctx context.Context) ([]*model.Job, error) {
	var jobs []*model.Job
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteTerminalJobsBefore removes terminal jobs last updated before cutoff.
func (r *Repository) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled},
			cutoff).
		Delete(&model.Job{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

var (
	_ repository.BatchStore   = (*Repository)(nil)
	_ repository.OutcomeStore = (*Repository)(nil)
	_ repository.JobStore     = (*Repository)(nil)
)
