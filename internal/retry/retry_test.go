package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpufleet/internal/cloud"
)

func testPolicy() Policy {
	return Policy{
		Attempts:   5,
		BaseDelay:  time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   4 * time.Millisecond,
		Jitter:     0,
	}
}

func providerError(kind cloud.Kind) error {
	return &cloud.Error{Kind: kind, Op: "test", Name: "a", Err: errors.New(string(kind))}
}

func TestBackoffProgression(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second, Jitter: 0}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(4), "capped at MaxDelay")
	assert.Equal(t, time.Second, p.Backoff(20), "stays capped")
}

func TestBackoffJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Minute, Jitter: 0.2}

	for n := uint(0); n < 5; n++ {
		base := 100 * time.Millisecond << n

		for i := 0; i < 50; i++ {
			d := p.Backoff(n)
			assert.True(t, d >= base, "attempt %d: %s below %s", n, d, base)
			assert.True(t, float64(d) <= float64(base)*1.2, "attempt %d: %s above jitter bound", n, d)
		}
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		return nil
	}, testPolicy())

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return providerError(cloud.KindRateLimited)
		}
		return nil
	}, testPolicy())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		return providerError(cloud.KindUnavailable)
	}, testPolicy())

	require.Error(t, err)
	assert.Equal(t, 5, attempts, "exactly Attempts tries")
	assert.Equal(t, cloud.KindUnavailable, cloud.KindOf(err), "last error surfaces as a value")
}

func TestDoFatalNotRetried(t *testing.T) {
	for _, kind := range []cloud.Kind{cloud.KindUnauthorized, cloud.KindInvalidArgument, cloud.KindUnknown} {
		attempts := 0

		err := Do(context.Background(), func() error {
			attempts++
			return providerError(kind)
		}, testPolicy())

		require.Error(t, err)
		assert.Equal(t, 1, attempts, "kind %s must not be retried", kind)
	}
}

func TestDoConflictRetriedOnce(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		return providerError(cloud.KindConflict)
	}, testPolicy())

	require.Error(t, err)
	assert.Equal(t, 2, attempts, "conflict absorbed once, then surfaced")
	assert.Equal(t, cloud.KindConflict, cloud.KindOf(err))
}

func TestDoConflictThenSuccess(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return providerError(cloud.KindConflict)
		}
		return nil
	}, testPolicy())

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0

	err := Do(ctx, func() error {
		attempts++
		return providerError(cloud.KindRateLimited)
	}, testPolicy())

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "no further attempts after cancellation")
}
