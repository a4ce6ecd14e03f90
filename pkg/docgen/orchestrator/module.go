package orchestrator

import (
	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/queue"
)

// Module provides the orchestrator as the queue's task runner.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		New,
		fx.As(new(queue.Runner)),
	)),
)
