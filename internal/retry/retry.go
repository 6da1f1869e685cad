// Package retry executes provider calls with bounded exponential backoff.
//
// Retry decisions follow the error classification from the cloud package:
// rate limits and transient unavailability are retried, authorization and
// argument errors fail immediately, and conflicts are retried exactly once
// to absorb races with in-flight provider operations.
package retry

import (
	"context"
	"math/rand"
	"time"

	retrygo "github.com/avast/retry-go"

	"gpufleet/internal/cloud"
)

// Policy bounds the retry loop.
type Policy struct {
	Attempts   uint
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     float64
}

// DefaultPolicy returns the policy used for all provider calls unless
// overridden by configuration.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   5,
		BaseDelay:  500 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   16 * time.Second,
		Jitter:     0.2,
	}
}

// Backoff returns the delay to sleep after the n-th failed attempt
// (0-based): BaseDelay*Multiplier^n plus up to Jitter of itself, capped at
// MaxDelay.
func (p Policy) Backoff(n uint) time.Duration {
	delay := float64(p.BaseDelay)

	for i := uint(0); i < n; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			break
		}
	}

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	delay += rand.Float64() * p.Jitter * delay

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}

// Do runs op under the policy and returns the last error once attempts are
// exhausted or a fatal error is hit. Failures are always returned as
// values, never panics. A cancelled context stops further attempts but
// never interrupts one already in flight.
func Do(ctx context.Context, op func() error, p Policy) error {
	conflicts := 0

	return retrygo.Do(
		op,
		retrygo.Attempts(p.Attempts),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(n uint, _ *retrygo.Config) time.Duration {
			return p.Backoff(n)
		}),
		retrygo.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}

			if cloud.IsConflict(err) {
				conflicts++
				return conflicts <= 1
			}

			return cloud.IsRetryable(err)
		}),
	)
}
