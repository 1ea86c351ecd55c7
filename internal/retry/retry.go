// Package retry implements the attempt loop shared by the sync and async
// run paths: same delay computation, same exception matching, same
// cancellation behavior.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/legout/flowerpower/pkg/engine"
	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// Policy configures the attempt loop.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt;
	// total attempts are always MaxRetries+1.
	MaxRetries int

	// Delay is the base delay between attempts.
	Delay time.Duration

	// Jitter randomizes each delay by ±Jitter (0.0-1.0).
	Jitter float64

	// Retryable reports whether an error should trigger a retry.
	// Nil retries nothing.
	Retryable fperrors.Predicate
}

// Attempt is one engine execution try.
type Attempt func(ctx context.Context) (engine.Result, error)

// Do runs attempt up to MaxRetries+1 times. Non-retryable errors and
// context cancellation surface immediately; the pending delay is
// interrupted by cancellation. Each scheduled retry emits one structured
// log line with the attempt number, elapsed time, next delay, and the
// truncated cause.
func Do(ctx context.Context, logger *slog.Logger, policy Policy, attempt Attempt) (engine.Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	var lastErr error
	for k := 0; k <= policy.MaxRetries; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.Retryable == nil || !policy.Retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if k == policy.MaxRetries {
			break
		}

		delay := jitteredDelay(policy.Delay, policy.Jitter)
		logger.Warn("pipeline attempt failed, retrying",
			"attempt", k+1,
			"max_attempts", policy.MaxRetries+1,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"next_delay_ms", delay.Milliseconds(),
			"cause", truncate(err.Error(), 200),
		)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}

// jitteredDelay computes base * (1 ± jitter), clamped at zero.
func jitteredDelay(base time.Duration, jitter float64) time.Duration {
	if base <= 0 {
		return 0
	}
	d := float64(base)
	if jitter > 0 {
		amount := d * jitter
		d += (rand.Float64() * 2 * amount) - amount
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// truncate shortens an error message for log lines.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
