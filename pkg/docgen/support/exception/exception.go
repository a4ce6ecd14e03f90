// Package exception defines the error types used throughout the docmint
// pipeline. It standardizes errors into a small taxonomy so that the job queue
// can decide whether a failure is worth retrying and the orchestrator can
// report a meaningful terminal reason on the batch record.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel errors forming the pipeline error taxonomy. They are matched with
// errors.Is across package boundaries.
var (
	// ErrValidation marks a bad upload shape or a data set with zero valid
	// rows. The batch fails before any rendering; re-submission recovers.
	ErrValidation = errors.New("validation error")
	// ErrRowRender marks a per-row rendering failure. It is recorded on the
	// row outcome and never fails the batch on its own.
	ErrRowRender = errors.New("row render error")
	// ErrArchive marks a failure to produce the output archive. Fatal to the
	// batch once no valid archive can be written.
	ErrArchive = errors.New("archive error")
	// ErrNotification marks a completion-notification failure. Logged, never
	// surfaced to the batch's terminal status.
	ErrNotification = errors.New("notification error")
	// ErrTimeout marks a batch exceeding its wall-clock budget.
	ErrTimeout = errors.New("timeout")
	// ErrQueueSaturated marks a submission rejected because the queue backlog
	// is at capacity. Callers should retry later.
	ErrQueueSaturated = errors.New("queue saturated")
	// ErrNotFound marks a lookup for an unknown or expired identifier.
	ErrNotFound = errors.New("not found")
	// ErrNotReady marks an archive request made before the batch completed.
	ErrNotReady = errors.New("not ready")
)

// PipelineError is the structured error type raised inside the pipeline.
// It records the module where the error occurred, a concise message, the
// wrapped cause, and whether the failure is considered transient.
type PipelineError struct {
	// Module indicates where the error occurred (e.g. "queue", "orchestrator",
	// "dataset", "archive").
	Module string
	// Message is a concise, human-readable description.
	Message string
	// Err is the wrapped cause, possibly one of the taxonomy sentinels.
	Err error
	// retryable indicates whether the job queue may retry the work.
	retryable bool
	// Stack holds the stack trace captured at construction, for debugging.
	Stack string
}

// New creates a PipelineError.
func New(module, message string, cause error, retryable bool) *PipelineError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return &PipelineError{
		Module:    module,
		Message:   message,
		Err:       cause,
		retryable: retryable,
		Stack:     string(buf[:n]),
	}
}

// Newf creates a non-retryable PipelineError with a formatted message.
func Newf(module, format string, a ...interface{}) *PipelineError {
	return New(module, fmt.Sprintf(format, a...), nil, false)
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the queue may retry work failing with this error.
func (e *PipelineError) IsRetryable() bool {
	return e.retryable
}

// IsTemporary reports whether an error should be treated as transient by the
// retry logic. The PipelineError retryable flag takes precedence; otherwise a
// small set of well-known transient failure strings are recognized.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "temporarily unavailable")
}

// Message extracts the cleaner message from an error: the Message field for a
// PipelineError, the plain Error() string otherwise. Used when recording
// lastError on a batch or a row outcome.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
