package queue

import (
	"context"

	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/metrics"
	"github.com/docmint/docmint/pkg/docgen/progress"
	"github.com/docmint/docmint/pkg/docgen/repository"
)

// Module wires the queue and its retention janitor into the application
// lifecycle. The scheduler loop starts on app start and drains on stop.
var Module = fx.Options(
	fx.Provide(func(cfg *config.Config, store repository.JobStore, runner Runner, recorder metrics.Recorder) *Queue {
		return New(cfg.Docmint.Queue, store, runner, recorder)
	}),
	fx.Provide(func(cfg *config.Config, q *Queue, tracker *progress.Tracker) *Janitor {
		return NewJanitor(cfg.Docmint.Queue, q, tracker)
	}),
	fx.Invoke(func(lc fx.Lifecycle, q *Queue, j *Janitor) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := q.Start(context.Background()); err != nil {
					return err
				}
				j.Start(context.Background())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				j.Stop()
				q.Stop()
				return nil
			},
		})
	}),
)
