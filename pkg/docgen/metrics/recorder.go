// Package metrics defines the pipeline's metric recording boundary with noop
// and Prometheus implementations.
package metrics

import (
	"time"

	"github.com/docmint/docmint/pkg/docgen/core/model"
)

// Recorder receives pipeline measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordBatchFinished observes one finished batch.
	RecordBatchFinished(status model.BatchStatus, duration time.Duration)
	// RecordRowProcessed counts one processed row by outcome.
	RecordRowProcessed(outcome model.RowOutcomeResult)
	// RecordJobRetry counts one automatic retry attempt.
	RecordJobRetry()
	// SetQueueDepth gauges the pending backlog size.
	SetQueueDepth(n int)
	// SetActiveJobs gauges the number of jobs currently processing.
	SetActiveJobs(n int)
}

// NoopRecorder discards all measurements.
type NoopRecorder struct{}

// NewNoopRecorder creates a recorder that does nothing.
func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

func (NoopRecorder) RecordBatchFinished(model.BatchStatus, time.Duration) {}
func (NoopRecorder) RecordRowProcessed(model.RowOutcomeResult)           {}
func (NoopRecorder) RecordJobRetry()                                     {}
func (NoopRecorder) SetQueueDepth(int)                                   {}
func (NoopRecorder) SetActiveJobs(int)                                   {}

var _ Recorder = (*NoopRecorder)(nil)
