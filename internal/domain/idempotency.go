package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Operation names used as idempotency key components.
const (
	OperationRelease = "release"
	OperationSplit   = "split"
	OperationRefund  = "refund"
)

// DeriveIdempotencyKey builds a deterministic key from the logical identity
// of an operation. Derived transactions (payouts, refunds) are keyed by what
// they do rather than when they run, so a retried call lands on the same key
// and is deduplicated instead of paying twice.
func DeriveIdempotencyKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}
