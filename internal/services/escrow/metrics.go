package escrow

import "github.com/kevin07696/escrow-service/internal/domain"

// Operation labels recorded on escrow metrics.
const (
	opHold    = "hold"
	opRelease = "release"
	opSplit   = "split"
	opCancel  = "cancel"
)

// Status labels recorded on escrow metrics.
const (
	statusSucceeded = "succeeded"
	statusConflict  = "conflict"
	statusRejected  = "rejected"
)

// escrowStatus maps an operation error to its metrics status label. Version
// conflicts get their own label because they are retryable races, not
// rejections of the request.
func escrowStatus(err error) string {
	switch {
	case err == nil:
		return statusSucceeded
	case domain.IsDomainError(err, domain.ErrorCodeVersionConflict):
		return statusConflict
	default:
		return statusRejected
	}
}
