package health

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackoff_MonotonicUntilReset(t *testing.T) {
	s := New(Config{
		BaseDelay:  time.Second,
		MaxBackoff: 60 * time.Second,
	}, discardLogger())

	assert.Equal(t, time.Duration(0), s.CurrentBackoff())

	// k-th consecutive failure yields min(max, base * 2^(k-1))
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second,
	}
	for i, expected := range want {
		require.True(t, s.RecordFailure(assert.AnError), "failure %d", i+1)
		assert.Equal(t, expected, s.CurrentBackoff(), "failure %d", i+1)
	}

	s.RecordSuccess()
	assert.Equal(t, time.Duration(0), s.CurrentBackoff())
	assert.Equal(t, 0, s.Failures())
}

func TestRecordFailure_FatalAtThreshold(t *testing.T) {
	var fatal error
	s := New(Config{
		MaxRetries: 3,
		OnFatal:    func(err error) { fatal = err },
	}, discardLogger())

	assert.True(t, s.RecordFailure(assert.AnError))
	assert.True(t, s.RecordFailure(assert.AnError))
	assert.False(t, s.RecordFailure(assert.AnError))
	assert.Equal(t, assert.AnError, fatal)
}

func TestRecordFailure_UnboundedByDefault(t *testing.T) {
	s := New(Config{}, discardLogger())
	for i := 0; i < 100; i++ {
		assert.True(t, s.RecordFailure(assert.AnError))
	}
}

func TestBackoff_HealthyIsImmediate(t *testing.T) {
	s := New(Config{}, discardLogger())

	start := time.Now()
	require.NoError(t, s.Backoff(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBackoff_HonorsCancellation(t *testing.T) {
	s := New(Config{BaseDelay: 10 * time.Second}, discardLogger())
	s.RecordFailure(assert.AnError)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Backoff(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
