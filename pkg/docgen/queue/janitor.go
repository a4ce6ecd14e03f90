package queue

import (
	"context"
	"time"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/progress"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// Janitor periodically evicts terminal jobs and stale progress snapshots past
// the retention window.
type Janitor struct {
	queue     *Queue
	tracker   *progress.Tracker
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor builds a janitor from the queue retention settings. A retention
// of zero disables sweeping.
func NewJanitor(cfg config.QueueConfig, q *Queue, tracker *progress.Tracker) *Janitor {
	return &Janitor{
		queue:     q,
		tracker:   tracker,
		retention: time.Duration(cfg.RetentionMinutes) * time.Minute,
		interval:  time.Minute,
	}
}

// Start launches the sweep loop.
func (j *Janitor) Start(ctx context.Context) {
	if j.retention <= 0 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(loopCtx)
}

// Stop halts the sweep loop.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-j.retention)
			removed := j.queue.Sweep(ctx, cutoff)
			evicted := j.tracker.Sweep(cutoff)
			if removed > 0 || evicted > 0 {
				logger.Debugf("janitor: swept %d job(s), %d progress snapshot(s)", removed, evicted)
			}
		}
	}
}
