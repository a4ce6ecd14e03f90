package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the state of a queued job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the job has finished for good.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobPriority is the two-tier scheduling priority of a job.
type JobPriority string

const (
	JobPriorityHigh   JobPriority = "high"
	JobPriorityNormal JobPriority = "normal"
)

// JobKind enumerates the task kinds the queue runs. Keeping the payload a
// closed union retains type safety while leaving room for new kinds.
type JobKind string

const (
	// JobKindExecuteBatch runs the full stage pipeline for one batch.
	JobKindExecuteBatch JobKind = "execute_batch"
)

// JobPayload is the tagged task description carried by a job.
type JobPayload struct {
	Kind    JobKind `json:"kind"`
	BatchID string  `json:"batchId,omitempty"`
}

// Value implements driver.Valuer, storing the payload as JSON.
func (p JobPayload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *JobPayload) Scan(value interface{}) error {
	if value == nil {
		*p = JobPayload{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobPayload: %T", value)
	}
	if len(b) == 0 {
		*p = JobPayload{}
		return nil
	}
	if err := json.Unmarshal(b, p); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload JSON: %w", err)
	}
	return nil
}

// MaxJobRetries is the fixed retry ceiling for a queued job.
const MaxJobRetries = 3

// Job is the queue's internal unit of schedulable work. Every state change is
// persisted through the JobStore so in-flight jobs survive a process restart.
type Job struct {
	ID          string      `gorm:"primaryKey;size:36"`
	Payload     JobPayload  `gorm:"type:text"`
	Status      JobStatus   `gorm:"size:16;index"`
	Priority    JobPriority `gorm:"size:8"`
	Progress    int         // 0-100
	RetryCount  int
	MaxRetries  int
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	// NotBefore delays scheduling until the backoff window has passed.
	// Zero means eligible immediately.
	NotBefore time.Time
}

// NewJob creates a pending job for the given payload and priority.
func NewJob(payload JobPayload, priority JobPriority) *Job {
	now := time.Now()
	return &Job{
		ID:         NewID(),
		Payload:    payload,
		Status:     JobStatusPending,
		Priority:   priority,
		MaxRetries: MaxJobRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// isValidJobTransition checks whether a job status transition is allowed.
func isValidJobTransition(current, next JobStatus) bool {
	switch current {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCancelled
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusPending
	case JobStatusFailed:
		// A permanently failed job may be re-enqueued by an explicit Retry.
		return next == JobStatusPending
	case JobStatusCompleted, JobStatusCancelled:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the job status.
func (j *Job) TransitionTo(next JobStatus) error {
	if !isValidJobTransition(j.Status, next) {
		return fmt.Errorf("job %s: invalid status transition: %s -> %s", j.ID, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

// MarkAsStarted records that a worker has picked up the job.
func (j *Job) MarkAsStarted() error {
	if err := j.TransitionTo(JobStatusProcessing); err != nil {
		return err
	}
	now := time.Now()
	j.StartedAt = &now
	return nil
}

// MarkAsCompleted records successful execution.
func (j *Job) MarkAsCompleted() error {
	if err := j.TransitionTo(JobStatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// CanRetry reports whether another automatic retry attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// BackoffDelay returns the exponential backoff delay before the next attempt:
// 2^retryCount units (seconds in production; tests shrink the unit).
func (j *Job) BackoffDelay(unit time.Duration) time.Duration {
	return unit * time.Duration(1<<uint(j.RetryCount))
}

// MarkForRetry re-enqueues the job after a failure, incrementing retryCount
// and setting the NotBefore backoff gate.
func (j *Job) MarkForRetry(err error, unit time.Duration) error {
	delay := j.BackoffDelay(unit)
	if terr := j.TransitionTo(JobStatusPending); terr != nil {
		return terr
	}
	j.RetryCount++
	j.NotBefore = time.Now().Add(delay)
	if err != nil {
		j.Error = err.Error()
	}
	return nil
}

// MarkAsFailed records a permanent failure.
func (j *Job) MarkAsFailed(err error) error {
	if terr := j.TransitionTo(JobStatusFailed); terr != nil {
		return terr
	}
	now := time.Now()
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
	return nil
}

// MarkAsCancelled removes a still-pending job from scheduling.
func (j *Job) MarkAsCancelled() error {
	if err := j.TransitionTo(JobStatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// ResetForRetry resets a permanently failed job for a fresh run, clearing
// retryCount. Only valid from the failed state.
func (j *Job) ResetForRetry() error {
	if err := j.TransitionTo(JobStatusPending); err != nil {
		return err
	}
	j.RetryCount = 0
	j.Error = ""
	j.Progress = 0
	j.NotBefore = time.Time{}
	j.StartedAt = nil
	j.CompletedAt = nil
	return nil
}

// Eligible reports whether the job may be scheduled at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == JobStatusPending && !now.Before(j.NotBefore)
}
