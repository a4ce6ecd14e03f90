package metrics

import (
	"context"

	"github.com/docmint/docmint/pkg/docgen/core/model"
)

// Tracer starts trace spans around pipeline work. Each Start method returns a
// context carrying the span and an end function the caller invokes with the
// operation's final error.
type Tracer interface {
	// StartJobSpan opens a span covering one queue task execution.
	StartJobSpan(ctx context.Context, kind model.JobKind, batchID string) (context.Context, func(error))
	// StartStageSpan opens a span covering one pipeline stage of a batch.
	StartStageSpan(ctx context.Context, batchID string, stage model.Stage) (context.Context, func(error))
}

// NoopTracer records nothing. It is wired when tracing is disabled.
type NoopTracer struct{}

// NewNoopTracer creates a tracer that does nothing.
func NewNoopTracer() *NoopTracer {
	return &NoopTracer{}
}

func (NoopTracer) StartJobSpan(ctx context.Context, _ model.JobKind, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NoopTracer) StartStageSpan(ctx context.Context, _ string, _ model.Stage) (context.Context, func(error)) {
	return ctx, func(error) {}
}

var _ Tracer = (*NoopTracer)(nil)
