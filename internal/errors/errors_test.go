package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundMessage(t *testing.T) {
	err := NewNotFoundError("repository")
	assert.Equal(t, "repository not found (or insufficient access)", err.Message)
	assert.Equal(t, "repository", err.ResourceType)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestAsFindsWrappedError(t *testing.T) {
	cause := stderrors.New("UNIQUE constraint failed: crons.branch_id")
	wrapped := fmt.Errorf("create cron: %w", NewConflictError("cron already exists for branch", cause))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeConflict, appErr.Code)
	assert.True(t, IsConflict(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestInsufficientAccess(t *testing.T) {
	err := NewInsufficientAccessError("repository", "create_cron")
	assert.True(t, IsInsufficientAccess(err))
	assert.Equal(t, "create_cron", err.Permission)
	assert.Equal(t, "INSUFFICIENT_ACCESS: operation requires create_cron access to repository", err.Error())
}

func TestAsPlainError(t *testing.T) {
	_, ok := As(stderrors.New("boom"))
	assert.False(t, ok)
	assert.False(t, IsUnprocessable(nil))
}
