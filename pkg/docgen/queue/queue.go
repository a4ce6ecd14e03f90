// Package queue implements the concurrency-bounded, priority-aware, retrying
// job queue that admits batch executions. Queue state lives in an owned,
// mutex-guarded container mutated only by the public API and the scheduler
// loop; every job state change is persisted through the JobStore so that
// in-flight work survives a process restart.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/metrics"
	"github.com/docmint/docmint/pkg/docgen/repository"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

const moduleName = "queue"

// Runner executes a job's payload. The orchestrator implements it for
// execute_batch jobs.
type Runner interface {
	Run(ctx context.Context, payload model.JobPayload) error
}

// Queue schedules jobs with two-tier priority, a concurrency ceiling, and
// exponential-backoff retries.
type Queue struct {
	cfg      config.QueueConfig
	store    repository.JobStore
	runner   Runner
	recorder metrics.Recorder

	mu            sync.Mutex
	jobs          map[string]*model.Job
	pendingHigh   []string
	pendingNormal []string
	active        map[string]struct{}

	// signal wakes the scheduler on queue-state changes; the ticker is the
	// fallback for backoff expiry.
	signal chan struct{}
	// taskCtx is the Start context. Tasks and persistence run on it, not on
	// the scheduler loop's context, so Stop halts dispatching without
	// cancelling in-flight work.
	taskCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped queue. Call Start before submitting.
func New(cfg config.QueueConfig, store repository.JobStore, runner Runner, recorder metrics.Recorder) *Queue {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 2
	}
	if cfg.TickIntervalSeconds <= 0 {
		cfg.TickIntervalSeconds = 1
	}
	if cfg.BackoffUnitMillis <= 0 {
		cfg.BackoffUnitMillis = 1000
	}
	return &Queue{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		recorder: recorder,
		jobs:     make(map[string]*model.Job),
		active:   make(map[string]struct{}),
		signal:   make(chan struct{}, 1),
	}
}

// Start reloads resumable jobs from the store and launches the scheduler
// loop. Jobs found in processing state were interrupted by a crash and are
// re-enqueued without consuming a retry attempt.
func (q *Queue) Start(ctx context.Context) error {
	resumable, err := q.store.FindResumableJobs(ctx)
	if err != nil {
		return exception.New(moduleName, "failed to reload jobs at startup", err, false)
	}

	q.mu.Lock()
	for _, job := range resumable {
		if job.Status == model.JobStatusProcessing {
			if terr := job.TransitionTo(model.JobStatusPending); terr != nil {
				logger.Warnf("queue: cannot resume job %s: %v", job.ID, terr)
				continue
			}
			if uerr := q.store.UpdateJob(ctx, job); uerr != nil {
				logger.Errorf("queue: failed to persist resumed job %s: %v", job.ID, uerr)
			}
		}
		q.jobs[job.ID] = job
		q.enqueueLocked(job)
	}
	n := len(q.jobs)
	q.mu.Unlock()
	if n > 0 {
		logger.Infof("queue: reloaded %d resumable job(s)", n)
	}

	q.taskCtx = ctx
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.schedulerLoop(loopCtx)
	return nil
}

// Stop halts scheduling and waits for in-flight jobs to finish. Running tasks
// keep their context; they are bounded by their own timeouts, not by Stop.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit enqueues a task. High-priority jobs are scheduled ahead of normal
// ones. Submissions beyond the backlog cap are rejected with
// exception.ErrQueueSaturated.
func (q *Queue) Submit(ctx context.Context, payload model.JobPayload, priority model.JobPriority) (*model.Job, error) {
	job := model.NewJob(payload, priority)

	q.mu.Lock()
	if q.cfg.MaxPendingJobs > 0 && len(q.pendingHigh)+len(q.pendingNormal) >= q.cfg.MaxPendingJobs {
		q.mu.Unlock()
		return nil, exception.New(moduleName,
			fmt.Sprintf("queue backlog is at capacity (%d)", q.cfg.MaxPendingJobs),
			exception.ErrQueueSaturated, false)
	}
	q.mu.Unlock()

	if err := q.store.SaveJob(ctx, job); err != nil {
		return nil, exception.New(moduleName, "failed to persist job", err, false)
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.enqueueLocked(job)
	q.recorder.SetQueueDepth(len(q.pendingHigh) + len(q.pendingNormal))
	q.mu.Unlock()

	q.kick()
	logger.Debugf("queue: submitted job %s (%s, priority=%s)", job.ID, job.Payload.Kind, job.Priority)
	return q.snapshot(job.ID)
}

// Cancel removes a still-pending job from scheduling. A job already
// processing cannot be cancelled and must run to completion or failure.
func (q *Queue) Cancel(ctx context.Context, jobID string) bool {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.Status != model.JobStatusPending {
		q.mu.Unlock()
		return false
	}
	if err := job.MarkAsCancelled(); err != nil {
		q.mu.Unlock()
		logger.Warnf("queue: cancel of job %s rejected: %v", jobID, err)
		return false
	}
	q.removePendingLocked(jobID)
	q.recorder.SetQueueDepth(len(q.pendingHigh) + len(q.pendingNormal))
	q.mu.Unlock()

	if err := q.store.UpdateJob(ctx, job); err != nil {
		logger.Errorf("queue: failed to persist cancellation of job %s: %v", jobID, err)
	}
	return true
}

// Retry re-enqueues a permanently failed job with a reset retry budget.
func (q *Queue) Retry(ctx context.Context, jobID string) bool {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.Status != model.JobStatusFailed {
		q.mu.Unlock()
		return false
	}
	if err := job.ResetForRetry(); err != nil {
		q.mu.Unlock()
		logger.Warnf("queue: retry of job %s rejected: %v", jobID, err)
		return false
	}
	q.enqueueLocked(job)
	q.mu.Unlock()

	if err := q.store.UpdateJob(ctx, job); err != nil {
		logger.Errorf("queue: failed to persist retry of job %s: %v", jobID, err)
	}
	q.kick()
	return true
}

// Job returns a copy of the job's current state.
func (q *Queue) Job(jobID string) (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, false
	}
	clone := *job
	return &clone, true
}

// ActiveCount returns the number of jobs currently processing.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// PendingCount returns the backlog size across both priority tiers.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pendingHigh) + len(q.pendingNormal)
}

// Sweep deletes terminal jobs past the retention window from memory and the
// store, returning how many were removed.
func (q *Queue) Sweep(ctx context.Context, cutoff time.Time) int {
	q.mu.Lock()
	for id, job := range q.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
	q.mu.Unlock()

	n, err := q.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		logger.Errorf("queue: retention sweep failed: %v", err)
	}
	return n
}

func (q *Queue) snapshot(jobID string) (*model.Job, error) {
	job, ok := q.Job(jobID)
	if !ok {
		return nil, exception.New(moduleName, "job vanished after submit", exception.ErrNotFound, false)
	}
	return job, nil
}

// kick signals the scheduler without blocking; a pending signal is enough.
func (q *Queue) kick() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) enqueueLocked(job *model.Job) {
	if job.Priority == model.JobPriorityHigh {
		q.pendingHigh = append(q.pendingHigh, job.ID)
		return
	}
	q.pendingNormal = append(q.pendingNormal, job.ID)
}

func (q *Queue) removePendingLocked(jobID string) {
	q.pendingHigh = removeID(q.pendingHigh, jobID)
	q.pendingNormal = removeID(q.pendingNormal, jobID)
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// schedulerLoop dispatches eligible jobs whenever the queue state changes,
// with a tick fallback so backoff expiry is observed without busy polling.
func (q *Queue) schedulerLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Duration(q.cfg.TickIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		q.dispatch()
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		case <-ticker.C:
		}
	}
}

// dispatch starts eligible jobs while there is capacity. High priority is
// drained before normal; within a tier, FIFO among eligible jobs.
func (q *Queue) dispatch() {
	now := time.Now()
	for {
		q.mu.Lock()
		if len(q.active) >= q.cfg.MaxConcurrentJobs {
			q.mu.Unlock()
			return
		}
		job := q.takeEligibleLocked(now)
		if job == nil {
			q.recorder.SetQueueDepth(len(q.pendingHigh) + len(q.pendingNormal))
			q.mu.Unlock()
			return
		}
		if err := job.MarkAsStarted(); err != nil {
			logger.Warnf("queue: cannot start job %s: %v", job.ID, err)
			q.mu.Unlock()
			continue
		}
		q.active[job.ID] = struct{}{}
		q.recorder.SetActiveJobs(len(q.active))
		q.recorder.SetQueueDepth(len(q.pendingHigh) + len(q.pendingNormal))
		q.mu.Unlock()

		if err := q.store.UpdateJob(q.taskCtx, job); err != nil {
			logger.Errorf("queue: failed to persist start of job %s: %v", job.ID, err)
		}

		q.wg.Add(1)
		go q.execute(q.taskCtx, job.ID)
	}
}

// takeEligibleLocked removes and returns the next schedulable job, or nil.
// Jobs still inside their backoff window stay queued.
func (q *Queue) takeEligibleLocked(now time.Time) *model.Job {
	for _, tier := range []*[]string{&q.pendingHigh, &q.pendingNormal} {
		kept := (*tier)[:0]
		var picked *model.Job
		for i, id := range *tier {
			if picked != nil {
				kept = append(kept, (*tier)[i:]...)
				break
			}
			job, ok := q.jobs[id]
			if !ok {
				continue
			}
			if job.Eligible(now) {
				picked = job
				continue
			}
			kept = append(kept, id)
		}
		*tier = kept
		if picked != nil {
			return picked
		}
	}
	return nil
}

// execute runs one job to completion with bulkhead isolation: a panic or
// error in the task is contained here and never reaches the scheduler loop
// or sibling jobs.
func (q *Queue) execute(ctx context.Context, jobID string) {
	defer q.wg.Done()

	q.mu.Lock()
	job, ok := q.jobs[jobID]
	q.mu.Unlock()
	if !ok {
		return
	}

	err := q.runSafely(ctx, job.Payload)

	q.mu.Lock()
	delete(q.active, jobID)
	if err == nil {
		if terr := job.MarkAsCompleted(); terr != nil {
			logger.Warnf("queue: cannot complete job %s: %v", jobID, terr)
		}
	} else if job.CanRetry() {
		if terr := job.MarkForRetry(err, time.Duration(q.cfg.BackoffUnitMillis)*time.Millisecond); terr != nil {
			logger.Warnf("queue: cannot requeue job %s: %v", jobID, terr)
		} else {
			q.enqueueLocked(job)
			q.recorder.RecordJobRetry()
			logger.Warnf("queue: job %s failed (attempt %d/%d), retrying after backoff: %v",
				jobID, job.RetryCount, job.MaxRetries, err)
		}
	} else {
		if terr := job.MarkAsFailed(err); terr != nil {
			logger.Warnf("queue: cannot fail job %s: %v", jobID, terr)
		}
		logger.Errorf("queue: job %s failed permanently after %d retries: %v", jobID, job.RetryCount, err)
	}
	q.recorder.SetActiveJobs(len(q.active))
	clone := *job
	q.mu.Unlock()

	if uerr := q.store.UpdateJob(ctx, &clone); uerr != nil {
		logger.Errorf("queue: failed to persist final state of job %s: %v", jobID, uerr)
	}
	q.kick()
}

// runSafely invokes the runner, converting panics into errors.
func (q *Queue) runSafely(ctx context.Context, payload model.JobPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.Newf(moduleName, "task panicked: %v", r)
		}
	}()
	return q.runner.Run(ctx, payload)
}
