package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheErrorMessage(t *testing.T) {
	err := NewValidation("store", "prompt cannot be empty")
	assert.Equal(t, "[validation_error] store: prompt cannot be empty", err.Error())

	wrapped := NewStorage("insert", "insert entry", errors.New("connection refused"))
	assert.Contains(t, wrapped.Error(), "storage_error")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewProvider("embed", "request failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		err       error
		predicate func(error) bool
		retryable bool
	}{
		{NewValidation("op", "m"), IsValidation, false},
		{NewRateLimited("op", "m", nil), IsRateLimited, true},
		{NewUnauthorized("op", "m", nil), IsUnauthorized, false},
		{NewUnavailable("op", "m", nil), IsUnavailable, true},
		{NewStorage("op", "m", nil), IsStorage, false},
	}

	for _, tt := range tests {
		assert.True(t, tt.predicate(tt.err))
		assert.Equal(t, tt.retryable, IsRetryable(tt.err))
	}
}

func TestKindPredicatesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewRateLimited("embed", "too many requests", nil))
	assert.True(t, IsRateLimited(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
