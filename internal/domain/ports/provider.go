package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Capabilities declares which optional operations a payment provider
// supports. Services check these before dispatching so unsupported calls
// fail fast instead of reaching the provider.
type Capabilities struct {
	SupportsWebhooks       bool
	SupportsRefunds        bool
	SupportsPartialRefunds bool

	// RequiresManualVerification marks providers that never push webhooks;
	// their payments stay payment_initiated until someone calls verify.
	RequiresManualVerification bool
}

// CreateIntentRequest asks the provider to open a payment for collection.
type CreateIntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	OrganizationID string
	CustomerID     string
	ReferenceID    string
	IdempotencyKey string
	Metadata       map[string]string
}

// IntentResult is the provider's handle for a newly opened payment.
type IntentResult struct {
	PaymentIntentID string
	SessionID       string
	Status          string
	RawData         map[string]interface{}
}

// VerifyPaymentRequest asks the provider for the authoritative state of an
// intent or checkout session.
type VerifyPaymentRequest struct {
	PaymentIntentID string
	SessionID       string
}

// VerificationResult reports what the provider actually collected. Amount
// and Currency come from the provider, never from the caller; verification
// compares them against the ledger.
type VerificationResult struct {
	Verified        bool
	PaymentIntentID string
	Status          string
	Amount          decimal.Decimal
	Currency        string
	FailureReason   string
	RawData         map[string]interface{}
}

// ProviderRefundRequest asks the provider to return funds for an intent.
type ProviderRefundRequest struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
	IdempotencyKey  string
}

// RefundResult is the provider's acknowledgement of a refund.
type RefundResult struct {
	ProviderRefundID string
	Status           string
	Amount           decimal.Decimal
	Timestamp        time.Time
}

// StatusResult is a point-in-time provider status for an intent.
type StatusResult struct {
	PaymentIntentID string
	Status          string
	Amount          decimal.Decimal
	Currency        string
	RawData         map[string]interface{}
}

// WebhookPayload is the raw notification as received from the wire, before
// authenticity has been established.
type WebhookPayload struct {
	Body      []byte
	Signature string
	Headers   map[string]string
}

// WebhookEvent is a provider notification after signature verification.
// EventID is the provider's unique id for the delivery attempt family and
// drives at-most-once application.
type WebhookEvent struct {
	EventID         string
	Type            string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	ReceivedAt      time.Time
	RawData         map[string]interface{}
}

// Webhook event types every provider normalizes to.
const (
	WebhookEventPaymentSucceeded = "payment.succeeded"
	WebhookEventPaymentFailed    = "payment.failed"
	WebhookEventRefundSucceeded  = "refund.succeeded"
)

// Provider payment statuses every adapter normalizes to.
const (
	ProviderStatusSucceeded  = "succeeded"
	ProviderStatusFailed     = "failed"
	ProviderStatusProcessing = "processing"
)

// Provider is the contract a payment provider adapter implements. Name is a
// stable registry key stored on transactions; implementations must be safe
// for concurrent use.
type Provider interface {
	Name() string
	Capabilities() Capabilities

	// CreateIntent opens a payment with the provider.
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*IntentResult, error)

	// VerifyPayment fetches the authoritative result for an intent.
	VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (*VerificationResult, error)

	// GetStatus polls the provider-side status of an intent.
	GetStatus(ctx context.Context, paymentIntentID string) (*StatusResult, error)

	// Refund returns funds for a previously collected intent.
	Refund(ctx context.Context, req *ProviderRefundRequest) (*RefundResult, error)

	// ParseWebhook verifies payload authenticity and normalizes it into a
	// WebhookEvent. Tampered or unparseable payloads return an error.
	ParseWebhook(ctx context.Context, payload *WebhookPayload) (*WebhookEvent, error)
}
