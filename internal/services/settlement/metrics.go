package settlement

import "github.com/kevin07696/escrow-service/internal/domain"

// Metric label values for settlement operations.
const (
	opInitiate = "initiate"
	opVerify   = "verify"
	opRefund   = "refund"
	opWebhook  = "webhook"

	statusSucceeded        = "succeeded"
	statusFailed           = "failed"
	statusRejected         = "rejected"
	statusAlreadyProcessed = "already_processed"

	// gatewayUnknown labels operations that never resolved a provider.
	gatewayUnknown = "unknown"
)

// settlementStatus maps an operation result onto a metric label. Provider,
// database, and internal failures count as failed; a DomainError with any
// other code means the service refused the request itself. Infrastructure
// errors reach here unwrapped, so a missing code also counts as failed.
func settlementStatus(err error) string {
	if err == nil {
		return statusSucceeded
	}
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeAlreadyProcessed:
		return statusAlreadyProcessed
	case domain.ErrorCodeProviderError, domain.ErrorCodeDatabaseError, domain.ErrorCodeInternalError, "":
		return statusFailed
	default:
		return statusRejected
	}
}
