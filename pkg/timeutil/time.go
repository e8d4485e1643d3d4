// Package timeutil pins every timestamp the service records to UTC. Rows,
// webhook markers, and published events all carry times produced here, so
// they compare without timezone conversion.
package timeutil

import "time"

// Now returns the current time in UTC.
// Always use this instead of time.Now() so persisted timestamps never carry
// a local offset.
func Now() time.Time {
	return time.Now().UTC()
}

// Cutoff returns the UTC instant age before now. Rows last touched before
// the cutoff count as stale for reconciliation purposes.
func Cutoff(age time.Duration) time.Time {
	return Now().Add(-age)
}
