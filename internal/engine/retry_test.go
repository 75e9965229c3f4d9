package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/orgimpact/pkg/schema"
)

// --- Classification ---

func TestIsRetryableError_Nil(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
}

func TestIsRetryableError_Context(t *testing.T) {
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(fmt.Errorf("generate: %w", context.Canceled)))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
}

func TestIsRetryableError_ImpactError(t *testing.T) {
	for _, code := range []string{schema.ErrCodeGenerationFailed, schema.ErrCodeTimeout, schema.ErrCodeStore} {
		assert.True(t, IsRetryableError(schema.NewError(code, "x")), code)
	}
	for _, code := range []string{
		schema.ErrCodeValidation,
		schema.ErrCodeNotFound,
		schema.ErrCodeConflict,
		schema.ErrCodeInvalidTransition,
		schema.ErrCodeCircuitOpen,
		schema.ErrCodeCancelled,
		schema.ErrCodeRateLimited,
	} {
		assert.False(t, IsRetryableError(schema.NewError(code, "x")), code)
	}
}

func TestIsRetryableError_WrappedImpactError(t *testing.T) {
	err := fmt.Errorf("run r1: %w", schema.NewError(schema.ErrCodeValidation, "bad payload"))
	assert.False(t, IsRetryableError(err))
}

func TestIsRetryableError_PlainErrors(t *testing.T) {
	for _, msg := range []string{"connection refused", "unexpected EOF", "502 bad gateway", "something odd"} {
		assert.True(t, IsRetryableError(errors.New(msg)), msg)
	}
}

// --- Backoff ---

func TestComputeBackoff_ZeroDelay(t *testing.T) {
	assert.Zero(t, ComputeBackoff(RetryPolicy{Max: 3, Backoff: BackoffExponential}, 0))
	assert.Zero(t, ComputeBackoff(RetryPolicy{Delay: time.Second}, -1))
}

func TestComputeBackoff_Strategies(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		name    string
		backoff string
		want    []time.Duration
	}{
		{"none", BackoffNone, []time.Duration{10 * ms, 10 * ms, 10 * ms}},
		{"constant", BackoffConstant, []time.Duration{10 * ms, 10 * ms, 10 * ms}},
		{"linear", BackoffLinear, []time.Duration{10 * ms, 20 * ms, 30 * ms}},
		{"exponential", BackoffExponential, []time.Duration{10 * ms, 20 * ms, 40 * ms}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := RetryPolicy{Max: 3, Backoff: tt.backoff, Delay: 10 * ms}
			for attempt, want := range tt.want {
				assert.Equal(t, want, ComputeBackoff(policy, attempt), "attempt %d", attempt)
			}
		})
	}
}

func TestComputeBackoff_MaxDelay(t *testing.T) {
	policy := RetryPolicy{Max: 10, Backoff: BackoffExponential, Delay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}

	assert.Equal(t, 40*time.Millisecond, ComputeBackoff(policy, 2))
	assert.Equal(t, 50*time.Millisecond, ComputeBackoff(policy, 3))
	assert.Equal(t, 50*time.Millisecond, ComputeBackoff(policy, 60))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.Max)
	assert.Equal(t, BackoffExponential, p.Backoff)
	assert.LessOrEqual(t, ComputeBackoff(p, 10), p.MaxDelay)
}

// --- Waiting ---

func TestWaitForBackoff_ZeroDelay(t *testing.T) {
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
	assert.NoError(t, WaitForBackoff(context.Background(), -1))
}

func TestWaitForBackoff_Waits(t *testing.T) {
	start := time.Now()
	assert.NoError(t, WaitForBackoff(context.Background(), 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitForBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := WaitForBackoff(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForBackoff_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, 0), context.Canceled)
}
