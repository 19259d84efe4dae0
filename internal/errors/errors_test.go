package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityFatal},
		{"io", ErrCodeExtractFailed, CategoryIO, SeverityError},
		{"network", ErrCodeVectorStore, CategoryNetwork, SeverityError},
		{"validation", ErrCodeTransform, CategoryValidation, SeverityWarning},
		{"internal", ErrCodeInternal, CategoryInternal, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := Wrap(ErrCodeVectorStore, cause)

	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), ErrCodeVectorStore)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestNormalize_NonErrorValue(t *testing.T) {
	// Given: a recovered non-error value
	err := Normalize("something broke")

	// Then: it becomes a coded error with a message and a cause
	require.Error(t, err)
	we, ok := err.(*WatchError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInternal, we.Code)
	assert.Equal(t, "something broke", we.Message)
	assert.Error(t, we.Cause)
}

func TestNormalize_PassesThroughWatchError(t *testing.T) {
	orig := New(ErrCodeEmbedFailed, "embed", nil)
	assert.Same(t, orig, Normalize(orig))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeVectorStore, "t", nil)))
	assert.False(t, IsRetryable(New(ErrCodeRetryExhaust, "t", nil)))
	assert.False(t, IsRetryable(New(ErrCodeConfigInvalid, "t", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: 1, MaxDelay: 10, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustionReturnsCodedError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: 1, MaxDelay: 10, Multiplier: 2}

	cause := fmt.Errorf("still broken")
	err := Retry(context.Background(), cfg, func() error { return cause })

	require.Error(t, err)
	assert.Equal(t, ErrCodeRetryExhaust, GetCode(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestIsCode_SeesThroughWrapping(t *testing.T) {
	inner := New(ErrCodeRetryExhaust, "failed after 5 attempts", nil)
	outer := New(ErrCodeVectorStore, "upsert points", inner)

	assert.True(t, IsCode(outer, ErrCodeRetryExhaust))
	assert.True(t, IsCode(outer, ErrCodeVectorStore))
	assert.False(t, IsCode(outer, ErrCodeEmbedFailed))
	assert.False(t, IsCode(nil, ErrCodeRetryExhaust))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrCodeRetryExhaust))
}
