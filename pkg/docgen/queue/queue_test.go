package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/metrics"
	"github.com/docmint/docmint/pkg/docgen/queue"
	"github.com/docmint/docmint/pkg/docgen/repository/inmemory"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
)

// stubRunner records executions and delegates to a configurable function.
type stubRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(payload model.JobPayload) error
}

func (r *stubRunner) Run(ctx context.Context, payload model.JobPayload) error {
	r.mu.Lock()
	r.calls = append(r.calls, payload.BatchID)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(payload)
	}
	return nil
}

func (r *stubRunner) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxConcurrentJobs:   2,
		MaxPendingJobs:      100,
		TickIntervalSeconds: 1,
		BackoffUnitMillis:   1,
	}
}

func startQueue(t *testing.T, cfg config.QueueConfig, store *inmemory.Repository, runner queue.Runner) *queue.Queue {
	t.Helper()
	q := queue.New(cfg, store, runner, metrics.NewNoopRecorder())
	require.NoError(t, q.Start(context.Background()))
	return q
}

func TestQueue_RunsSubmittedJob(t *testing.T) {
	runner := &stubRunner{}
	q := startQueue(t, testQueueConfig(), inmemory.NewRepository(), runner)
	defer q.Stop()

	job, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b1"}, model.JobPriorityNormal)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		j, ok := q.Job(job.ID)
		return ok && j.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"b1"}, runner.callOrder())
}

func TestQueue_ConcurrencyNeverExceedsCap(t *testing.T) {
	gate := make(chan struct{})
	var active, peak int64
	runner := &stubRunner{fn: func(model.JobPayload) error {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		<-gate
		atomic.AddInt64(&active, -1)
		return nil
	}}

	q := startQueue(t, testQueueConfig(), inmemory.NewRepository(), runner)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		job, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b"}, model.JobPriorityNormal)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	assert.Eventually(t, func() bool { return q.ActiveCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	// Give the scheduler a chance to overshoot before checking the cap held.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), atomic.LoadInt64(&peak))

	close(gate)
	assert.Eventually(t, func() bool {
		for _, id := range ids {
			j, ok := q.Job(id)
			if !ok || j.Status != model.JobStatusCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), atomic.LoadInt64(&peak))
	q.Stop()
}

func TestQueue_RetriesWithBackoffThenFailsPermanently(t *testing.T) {
	runner := &stubRunner{fn: func(model.JobPayload) error {
		return errors.New("boom")
	}}
	q := startQueue(t, testQueueConfig(), inmemory.NewRepository(), runner)
	defer q.Stop()

	job, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b1"}, model.JobPriorityNormal)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		j, ok := q.Job(job.ID)
		return ok && j.Status == model.JobStatusFailed
	}, 15*time.Second, 20*time.Millisecond)

	j, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.MaxJobRetries, j.RetryCount)
	assert.Equal(t, "boom", j.Error)
	// One initial attempt plus maxRetries re-runs.
	assert.Len(t, runner.callOrder(), model.MaxJobRetries+1)
}

func TestQueue_PanicIsContained(t *testing.T) {
	runner := &stubRunner{fn: func(p model.JobPayload) error {
		if p.BatchID == "bad" {
			panic("kaboom")
		}
		return nil
	}}
	q := startQueue(t, testQueueConfig(), inmemory.NewRepository(), runner)
	defer q.Stop()

	bad, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "bad"}, model.JobPriorityNormal)
	require.NoError(t, err)
	good, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "good"}, model.JobPriorityNormal)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		g, okG := q.Job(good.ID)
		b, okB := q.Job(bad.ID)
		return okG && okB && g.Status == model.JobStatusCompleted && b.Status == model.JobStatusFailed
	}, 15*time.Second, 20*time.Millisecond)

	b, _ := q.Job(bad.ID)
	assert.Contains(t, b.Error, "panicked")
}

func TestQueue_HighPriorityDispatchedFirst(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxConcurrentJobs = 1

	gate := make(chan struct{})
	var once sync.Once
	runner := &stubRunner{}
	runner.fn = func(p model.JobPayload) error {
		if p.BatchID == "blocker" {
			<-gate
		}
		return nil
	}

	q := startQueue(t, cfg, inmemory.NewRepository(), runner)
	defer q.Stop()

	_, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "blocker"}, model.JobPriorityNormal)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.ActiveCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "normal"}, model.JobPriorityNormal)
	require.NoError(t, err)
	_, err = q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "urgent"}, model.JobPriorityHigh)
	require.NoError(t, err)

	once.Do(func() { close(gate) })

	assert.Eventually(t, func() bool {
		return len(runner.callOrder()) == 3
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"blocker", "urgent", "normal"}, runner.callOrder())
}

func TestQueue_SubmitRejectedWhenSaturated(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.MaxPendingJobs = 1

	gate := make(chan struct{})
	runner := &stubRunner{fn: func(model.JobPayload) error {
		<-gate
		return nil
	}}
	q := startQueue(t, cfg, inmemory.NewRepository(), runner)

	_, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "a"}, model.JobPriorityNormal)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.ActiveCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b"}, model.JobPriorityNormal)
	require.NoError(t, err)

	_, err = q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "c"}, model.JobPriorityNormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrQueueSaturated)

	close(gate)
	q.Stop()
}

func TestQueue_CancelPendingOnly(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxConcurrentJobs = 1

	gate := make(chan struct{})
	runner := &stubRunner{fn: func(model.JobPayload) error {
		<-gate
		return nil
	}}
	q := startQueue(t, cfg, inmemory.NewRepository(), runner)

	running, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "a"}, model.JobPriorityNormal)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.ActiveCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	waiting, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b"}, model.JobPriorityNormal)
	require.NoError(t, err)

	// A pending job can be cancelled; a processing one cannot.
	assert.True(t, q.Cancel(context.Background(), waiting.ID))
	assert.False(t, q.Cancel(context.Background(), running.ID))

	cancelled, ok := q.Job(waiting.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)

	close(gate)
	assert.Eventually(t, func() bool {
		j, ok := q.Job(running.ID)
		return ok && j.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	// The cancelled job never ran.
	assert.Equal(t, []string{"a"}, runner.callOrder())
	q.Stop()
}

// ctxProbeRunner blocks until released, then reports the task context's error
// state at completion time.
type ctxProbeRunner struct {
	release  chan struct{}
	observed chan error
}

func (r *ctxProbeRunner) Run(ctx context.Context, _ model.JobPayload) error {
	<-r.release
	r.observed <- ctx.Err()
	return nil
}

func TestQueue_StopDoesNotCancelInFlightJob(t *testing.T) {
	runner := &ctxProbeRunner{release: make(chan struct{}), observed: make(chan error, 1)}
	q := startQueue(t, testQueueConfig(), inmemory.NewRepository(), runner)

	job, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b1"}, model.JobPriorityNormal)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.ActiveCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	// Let Stop cancel the scheduler loop before the task is released.
	time.Sleep(50 * time.Millisecond)
	close(runner.release)

	select {
	case ctxErr := <-runner.observed:
		assert.NoError(t, ctxErr, "in-flight task keeps an uncancelled context across Stop")
	case <-time.After(5 * time.Second):
		t.Fatal("runner never finished")
	}
	<-stopped

	j, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCompleted, j.Status)
}

func TestQueue_RetryResetsFailedJob(t *testing.T) {
	var attempts int64
	runner := &stubRunner{fn: func(model.JobPayload) error {
		if atomic.AddInt64(&attempts, 1) <= int64(model.MaxJobRetries)+1 {
			return errors.New("boom")
		}
		return nil
	}}
	q := startQueue(t, testQueueConfig(), inmemory.NewRepository(), runner)
	defer q.Stop()

	job, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b1"}, model.JobPriorityNormal)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		j, ok := q.Job(job.ID)
		return ok && j.Status == model.JobStatusFailed
	}, 15*time.Second, 20*time.Millisecond)

	// An explicit retry gets a fresh budget and succeeds this time.
	require.True(t, q.Retry(context.Background(), job.ID))
	assert.Eventually(t, func() bool {
		j, ok := q.Job(job.ID)
		return ok && j.Status == model.JobStatusCompleted
	}, 15*time.Second, 20*time.Millisecond)

	j, _ := q.Job(job.ID)
	assert.Zero(t, j.RetryCount)
}

func TestQueue_RecoversPersistedJobsAtStartup(t *testing.T) {
	store := inmemory.NewRepository()
	ctx := context.Background()

	pending := model.NewJob(model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "p"}, model.JobPriorityNormal)
	require.NoError(t, store.SaveJob(ctx, pending))

	// A job left in processing state by a crash is re-enqueued.
	interrupted := model.NewJob(model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "i"}, model.JobPriorityNormal)
	require.NoError(t, interrupted.MarkAsStarted())
	require.NoError(t, store.SaveJob(ctx, interrupted))

	runner := &stubRunner{}
	q := startQueue(t, testQueueConfig(), store, runner)
	defer q.Stop()

	assert.Eventually(t, func() bool {
		p, okP := q.Job(pending.ID)
		i, okI := q.Job(interrupted.ID)
		return okP && okI && p.Status == model.JobStatusCompleted && i.Status == model.JobStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"p", "i"}, runner.callOrder())
}

func TestQueue_SweepRemovesTerminalJobs(t *testing.T) {
	store := inmemory.NewRepository()
	runner := &stubRunner{}
	q := startQueue(t, testQueueConfig(), store, runner)
	defer q.Stop()

	job, err := q.Submit(context.Background(), model.JobPayload{Kind: model.JobKindExecuteBatch, BatchID: "b1"}, model.JobPriorityNormal)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		j, ok := q.Job(job.ID)
		return ok && j.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	n := q.Sweep(context.Background(), time.Now().Add(time.Minute))
	assert.Equal(t, 1, n)
	_, ok := q.Job(job.ID)
	assert.False(t, ok)
}
