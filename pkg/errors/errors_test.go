package errors

import (
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsKind(t *testing.T) {
	err := Clone(ErrInvalidTransition, "cannot skip to Case Completed")
	require.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(err, ErrAuthorizationDenied))
	assert.Equal(t, "cannot skip to Case Completed", err.Message)
	assert.Equal(t, http.StatusConflict, err.Status)
}

func TestPersistenceIsRetryable(t *testing.T) {
	err := Persistence(sql.ErrConnDone, "failed to save case")
	assert.True(t, Retryable(err))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.False(t, Retryable(ErrAuthorizationDenied))
	assert.False(t, Retryable(Clone(ErrValidation, "bad file")))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Nil(t, FromError(nil))

	typed := FromError(Clone(ErrNotFound, "case not found"))
	assert.Equal(t, ErrNotFound.Code, typed.Code)
}
