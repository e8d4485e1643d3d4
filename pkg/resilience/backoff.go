// Package resilience carries the retry and timeout policies shared by the
// background parts of the service: webhook delivery and the reconciliation
// sweep.
package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy yields the delay to wait before retry attempt n.
// Attempt numbering is zero-based: NextDelay(0) is the wait before the
// first retry.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier each attempt, capped at
// MaxDelay. Jitter spreads concurrent retries so endpoints recovering from
// an outage are not hit by every queued delivery at once.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the fraction of the delay randomized in both directions;
	// 0.1 means the final delay lands within ±10% of the curve.
	Jitter float64
}

// WebhookBackoff is the delivery retry policy: 1s, 2s, 4s, 8s, 16s, then
// capped at 30s, each ±10%. Endpoints get about half a minute of slack per
// attempt before the dispatcher abandons the delivery.
func WebhookBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NextDelay returns the wait before retry attempt (zero-based). Negative
// attempts fall back to BaseDelay.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return b.BaseDelay
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt))
	delay = math.Min(delay, float64(b.MaxDelay))

	if b.Jitter > 0 {
		spread := delay * b.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}

	if delay < 0 {
		return b.BaseDelay
	}
	return time.Duration(delay)
}

// FixedBackoff waits the same delay between every attempt. Tests use it to
// keep retry loops fast and deterministic.
type FixedBackoff struct {
	Delay time.Duration
}

// NextDelay returns the fixed delay regardless of attempt.
func (b *FixedBackoff) NextDelay(int) time.Duration {
	return b.Delay
}
