package resilience

import (
	"context"
	"time"
)

// TimeoutConfig is the timeout ladder for background settlement work. Each
// rung must finish inside the one above it:
//
//	reconciliation sweep (5m)
//	  provider call (30s)
//	    webhook delivery attempt (10s)
//
// A sweep that verifies a full batch of stale payments therefore never
// overruns its slot even when every provider call runs to its own limit.
type TimeoutConfig struct {
	// Sweep bounds one full reconciliation pass over stale payments.
	Sweep time.Duration
	// Provider bounds a single status, charge, or refund call to a
	// payment provider, retries included.
	Provider time.Duration
	// Delivery bounds one webhook delivery attempt. The dispatcher retries
	// on top of this, so the total per delivery is Delivery times attempts
	// plus backoff.
	Delivery time.Duration
}

// DefaultTimeoutConfig returns the production ladder.
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Sweep:    5 * time.Minute,
		Provider: 30 * time.Second,
		Delivery: 10 * time.Second,
	}
}

// SweepContext bounds one reconciliation sweep.
func (tc *TimeoutConfig) SweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Sweep)
}

// ProviderContext bounds one payment provider call.
func (tc *TimeoutConfig) ProviderContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Provider)
}

// DeliveryContext bounds one webhook delivery attempt.
func (tc *TimeoutConfig) DeliveryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Delivery)
}
