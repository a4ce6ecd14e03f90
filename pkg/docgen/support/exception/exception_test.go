package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmint/docmint/pkg/docgen/support/exception"
)

func TestPipelineError_WrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := exception.New("archive", "failed to write archive", cause, false)

	assert.Equal(t, "[archive] failed to write archive: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, err.Stack)
}

func TestPipelineError_SentinelMatching(t *testing.T) {
	err := exception.New("dataset", "data set is empty", exception.ErrValidation, false)
	wrapped := fmt.Errorf("stage failed: %w", err)

	assert.ErrorIs(t, wrapped, exception.ErrValidation)

	var pe *exception.PipelineError
	require.ErrorAs(t, wrapped, &pe)
	assert.Equal(t, "dataset", pe.Module)
}

func TestIsTemporary_RetryableFlagTakesPrecedence(t *testing.T) {
	retryable := exception.New("storage", "upload interrupted", errors.New("boom"), true)
	permanent := exception.New("dataset", "timeout parsing", errors.New("timeout"), false)

	assert.True(t, exception.IsTemporary(retryable))
	// The flag wins even when the message smells transient.
	assert.False(t, exception.IsTemporary(permanent))
}

func TestIsTemporary_RecognizesTransientStrings(t *testing.T) {
	assert.True(t, exception.IsTemporary(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsTemporary(errors.New("i/o timeout")))
	assert.True(t, exception.IsTemporary(errors.New("resource temporarily unavailable")))
	assert.False(t, exception.IsTemporary(errors.New("no such template")))
	assert.False(t, exception.IsTemporary(nil))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", exception.Message(nil))
	assert.Equal(t, "plain", exception.Message(errors.New("plain")))

	pe := exception.New("queue", "queue backlog is at capacity (100)", exception.ErrQueueSaturated, false)
	assert.Equal(t, "queue backlog is at capacity (100)", exception.Message(pe))
	assert.Equal(t, "queue backlog is at capacity (100)", exception.Message(fmt.Errorf("wrap: %w", pe)))
}

func TestNewf(t *testing.T) {
	err := exception.Newf("render", "row %d has no value for %q", 7, "email")

	assert.Equal(t, "[render] row 7 has no value for \"email\"", err.Error())
	assert.False(t, err.IsRetryable())
}
