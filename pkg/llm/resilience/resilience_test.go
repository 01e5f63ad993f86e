package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/lexica/pkg/errors"
)

func TestDecideBackoffGrowth(t *testing.T) {
	p := &Policy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt   int
		wantDelay time.Duration
		wantRetry bool
	}{
		{1, 100 * time.Millisecond, true},
		{2, 200 * time.Millisecond, true},
		{3, 400 * time.Millisecond, true},
		{4, 500 * time.Millisecond, true}, // capped at MaxDelay
		{5, 0, false},                     // attempts exhausted
		{6, 0, false},
	}

	for _, tt := range tests {
		delay, retry := p.Decide(tt.attempt, errors.ErrEmbeddingUnavailable)
		assert.Equal(t, tt.wantRetry, retry, "attempt %d", tt.attempt)
		assert.Equal(t, tt.wantDelay, delay, "attempt %d", tt.attempt)
	}
}

func TestDecideTerminalErrorsNeverRetried(t *testing.T) {
	p := DefaultPolicy()

	for _, err := range []error{
		errors.ErrUnsupportedFormat,
		errors.ErrCorruptDocument,
		errors.ErrEmptyDocument,
		errors.ErrDimensionMismatch,
		fmt.Errorf("plain error"),
	} {
		_, retry := p.Decide(1, err)
		assert.False(t, retry, "error %v must not be retried", err)
	}
}

func TestDecideIsPure(t *testing.T) {
	p := DefaultPolicy()

	d1, r1 := p.Decide(2, errors.ErrVectorTimeout)
	d2, r2 := p.Decide(2, errors.ErrVectorTimeout)
	assert.Equal(t, d1, d2)
	assert.Equal(t, r1, r2)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := &Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.ErrEmbeddingUnavailable
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	p := &Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		return errors.ErrVectorTimeout
	})

	assert.ErrorIs(t, err, errors.ErrVectorTimeout)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	p := DefaultPolicy()

	calls := 0
	err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		return errors.ErrCorruptDocument
	})

	assert.ErrorIs(t, err, errors.ErrCorruptDocument)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	p := &Policy{MaxAttempts: 100, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, p, func(context.Context) error {
			return errors.ErrEmbeddingUnavailable
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrEmbeddingUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("Retry did not return after context cancellation")
	}
}

func TestOncePolicy(t *testing.T) {
	p := OncePolicy()

	_, retry := p.Decide(1, errors.ErrGenerationUnavailable)
	assert.True(t, retry)

	_, retry = p.Decide(2, errors.ErrGenerationUnavailable)
	assert.False(t, retry)
}
