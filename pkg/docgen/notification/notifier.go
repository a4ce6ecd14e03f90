// Package notification defines the completion-notification boundary. Sending
// is best-effort: a notification failure is logged and never changes a
// batch's terminal status.
package notification

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// Notifier delivers batch-completion notices to an external channel.
type Notifier interface {
	// NotifyBatchCompletion reports a batch reaching a terminal state. The
	// email address may be empty, in which case implementations should no-op.
	NotifyBatchCompletion(ctx context.Context, email string, batch *model.Batch) error
}

// LogNotifier only logs notifications. It stands in for the mail/webhook
// transport, which is an external collaborator.
type LogNotifier struct{}

// NewLogNotifier creates a notifier that writes to the application log.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// NotifyBatchCompletion logs the completion summary.
func (n *LogNotifier) NotifyBatchCompletion(ctx context.Context, email string, batch *model.Batch) error {
	if email == "" {
		return nil
	}
	msg := fmt.Sprintf(
		"notification to %s: batch %s finished with status %s (completed=%d failed=%d of %d), archive=%s",
		email, batch.ID, batch.Status, batch.CompletedCount, batch.FailedCount, batch.TotalRows, batch.ArchiveRef,
	)
	if batch.Status == model.BatchStatusCompleted {
		logger.Infof("%s", msg)
	} else {
		logger.Warnf("%s", msg)
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)

// Module provides the default notifier.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLogNotifier,
		fx.As(new(Notifier)),
	)),
)
