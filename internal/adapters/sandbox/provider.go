// Package sandbox implements a deterministic payment provider for
// development and testing. Intents settle instantly according to a metadata
// convention, refunds are tracked against the collected amount, and webhook
// payloads are verified with the same HMAC scheme a real provider would use.
package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Metadata convention controlling how an intent settles. Absent or
// unrecognized values collect successfully.
const (
	MetadataOutcomeKey = "sandbox_outcome"

	OutcomeSucceed    = "succeed"
	OutcomeFail       = "fail"
	OutcomeProcessing = "processing"
)

const defaultFailureReason = "card_declined"

// Config configures the sandbox provider.
type Config struct {
	// Name is the registry key. Defaults to "sandbox".
	Name string

	// WebhookSecret signs and verifies webhook payloads. Defaults to
	// "whsec_sandbox".
	WebhookSecret string
}

// intentState is the provider-side record of an opened payment.
type intentState struct {
	id            string
	sessionID     string
	amount        decimal.Decimal
	currency      string
	status        string
	failureReason string
	refunded      decimal.Decimal
}

// Provider is an in-memory ports.Provider. Safe for concurrent use.
type Provider struct {
	name   string
	secret string

	mu           sync.RWMutex
	intents      map[string]*intentState
	intentsByKey map[string]string
	refundsByKey map[string]*ports.RefundResult
}

// New creates a sandbox provider.
func New(cfg Config) *Provider {
	name := cfg.Name
	if name == "" {
		name = "sandbox"
	}
	secret := cfg.WebhookSecret
	if secret == "" {
		secret = "whsec_sandbox"
	}
	return &Provider{
		name:         name,
		secret:       secret,
		intents:      make(map[string]*intentState),
		intentsByKey: make(map[string]string),
		refundsByKey: make(map[string]*ports.RefundResult),
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Capabilities() ports.Capabilities {
	return ports.Capabilities{
		SupportsWebhooks:       true,
		SupportsRefunds:        true,
		SupportsPartialRefunds: true,
	}
}

// CreateIntent opens a payment that settles instantly according to the
// sandbox_outcome metadata convention. Repeated calls with the same
// idempotency key return the original intent.
func (p *Provider) CreateIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.IntentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", req.Amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := p.intentsByKey[req.IdempotencyKey]; ok {
			return p.intentResultLocked(p.intents[id]), nil
		}
	}

	status := ports.ProviderStatusSucceeded
	failureReason := ""
	switch req.Metadata[MetadataOutcomeKey] {
	case OutcomeFail:
		status = ports.ProviderStatusFailed
		failureReason = defaultFailureReason
	case OutcomeProcessing:
		status = ports.ProviderStatusProcessing
	}

	suffix := uuid.New().String()
	intent := &intentState{
		id:            "pi_" + suffix,
		sessionID:     "sess_" + suffix,
		amount:        req.Amount,
		currency:      req.Currency,
		status:        status,
		failureReason: failureReason,
		refunded:      decimal.Zero,
	}
	p.intents[intent.id] = intent
	if req.IdempotencyKey != "" {
		p.intentsByKey[req.IdempotencyKey] = intent.id
	}

	return p.intentResultLocked(intent), nil
}

// VerifyPayment reports the authoritative state of an intent.
func (p *Provider) VerifyPayment(ctx context.Context, req *ports.VerifyPaymentRequest) (*ports.VerificationResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	intent, err := p.findLocked(req.PaymentIntentID, req.SessionID)
	if err != nil {
		return nil, err
	}

	return &ports.VerificationResult{
		Verified:        intent.status == ports.ProviderStatusSucceeded,
		PaymentIntentID: intent.id,
		Status:          intent.status,
		Amount:          intent.amount,
		Currency:        intent.currency,
		FailureReason:   intent.failureReason,
		RawData: map[string]interface{}{
			"charge_id": chargeID(intent.id),
		},
	}, nil
}

// GetStatus polls the provider-side status of an intent.
func (p *Provider) GetStatus(ctx context.Context, paymentIntentID string) (*ports.StatusResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	intent, err := p.findLocked(paymentIntentID, "")
	if err != nil {
		return nil, err
	}

	return &ports.StatusResult{
		PaymentIntentID: intent.id,
		Status:          intent.status,
		Amount:          intent.amount,
		Currency:        intent.currency,
		RawData: map[string]interface{}{
			"refunded": intent.refunded.String(),
		},
	}, nil
}

// Refund returns funds for a collected intent. Refunds accumulate; the
// total can never exceed what was collected. Repeated calls with the same
// idempotency key replay the original result without moving money twice.
func (p *Provider) Refund(ctx context.Context, req *ports.ProviderRefundRequest) (*ports.RefundResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive, got %s", req.Amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.IdempotencyKey != "" {
		if res, ok := p.refundsByKey[req.IdempotencyKey]; ok {
			cp := *res
			return &cp, nil
		}
	}

	intent, err := p.findLocked(req.PaymentIntentID, "")
	if err != nil {
		return nil, err
	}
	if intent.status != ports.ProviderStatusSucceeded {
		return nil, fmt.Errorf("intent %s is %s, only succeeded intents can be refunded", intent.id, intent.status)
	}

	remaining := intent.amount.Sub(intent.refunded)
	if req.Amount.GreaterThan(remaining) {
		return nil, fmt.Errorf("refund %s exceeds remaining collected amount %s", req.Amount, remaining)
	}

	intent.refunded = intent.refunded.Add(req.Amount)

	result := &ports.RefundResult{
		ProviderRefundID: "re_" + uuid.New().String(),
		Status:           ports.ProviderStatusSucceeded,
		Amount:           req.Amount,
		Timestamp:        timeutil.Now(),
	}
	if req.IdempotencyKey != "" {
		cp := *result
		p.refundsByKey[req.IdempotencyKey] = &cp
	}
	return result, nil
}

// webhookEnvelope is the sandbox wire format:
// {"id":"evt_1","type":"payment.succeeded","data":{"payment_intent_id":"pi_1"}}
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentIntentID string          `json:"payment_intent_id"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
	} `json:"data"`
}

// ParseWebhook verifies the payload signature and normalizes the envelope.
func (p *Provider) ParseWebhook(ctx context.Context, payload *ports.WebhookPayload) (*ports.WebhookEvent, error) {
	if payload == nil || len(payload.Body) == 0 {
		return nil, fmt.Errorf("empty webhook payload")
	}
	if payload.Signature == "" {
		return nil, fmt.Errorf("missing webhook signature")
	}
	if !p.verifySignature(payload.Body, payload.Signature) {
		return nil, fmt.Errorf("invalid webhook signature")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload.Body, &envelope); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(payload.Body, &raw); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	return &ports.WebhookEvent{
		EventID:         envelope.ID,
		Type:            envelope.Type,
		PaymentIntentID: envelope.Data.PaymentIntentID,
		Amount:          envelope.Data.Amount,
		Currency:        envelope.Data.Currency,
		ReceivedAt:      timeutil.Now(),
		RawData:         raw,
	}, nil
}

// FailIntent flips an existing intent to failed, simulating an asynchronous
// decline after creation.
func (p *Provider) FailIntent(paymentIntentID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	intent, err := p.findLocked(paymentIntentID, "")
	if err != nil {
		return err
	}
	if reason == "" {
		reason = defaultFailureReason
	}
	intent.status = ports.ProviderStatusFailed
	intent.failureReason = reason
	return nil
}

// SignWebhook computes the signature a genuine sandbox notification would
// carry, so tests and simulators can craft valid payloads.
func (p *Provider) SignWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *Provider) verifySignature(body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func (p *Provider) intentResultLocked(intent *intentState) *ports.IntentResult {
	return &ports.IntentResult{
		PaymentIntentID: intent.id,
		SessionID:       intent.sessionID,
		Status:          intent.status,
		RawData: map[string]interface{}{
			"sandbox": true,
		},
	}
}

// findLocked resolves an intent by intent id or session id. Callers hold
// the mutex.
func (p *Provider) findLocked(paymentIntentID, sessionID string) (*intentState, error) {
	if paymentIntentID != "" {
		if intent, ok := p.intents[paymentIntentID]; ok {
			return intent, nil
		}
		return nil, fmt.Errorf("intent not found: %s", paymentIntentID)
	}
	if sessionID != "" {
		for _, intent := range p.intents {
			if intent.sessionID == sessionID {
				return intent, nil
			}
		}
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return nil, fmt.Errorf("payment intent id or session id required")
}

func chargeID(intentID string) string {
	return "ch_" + strings.TrimPrefix(intentID, "pi_")
}
