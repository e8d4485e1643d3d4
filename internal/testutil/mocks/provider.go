package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// MockProvider is a configurable Provider implementation for testing.
// Responses are set up front; calls and last requests are captured.
type MockProvider struct {
	mu sync.Mutex

	name         string
	capabilities ports.Capabilities

	createIntentResult *ports.IntentResult
	createIntentErr    error
	verifyResult       *ports.VerificationResult
	verifyErr          error
	statusResult       *ports.StatusResult
	statusErr          error
	refundResult       *ports.RefundResult
	refundErr          error
	webhookEvent       *ports.WebhookEvent
	webhookErr         error

	CreateIntentCalls int
	VerifyCalls       int
	GetStatusCalls    int
	RefundCalls       int
	ParseWebhookCalls int

	LastCreateIntentReq *ports.CreateIntentRequest
	LastVerifyReq       *ports.VerifyPaymentRequest
	LastStatusIntentID  string
	LastRefundReq       *ports.ProviderRefundRequest
	LastWebhookPayload  *ports.WebhookPayload
}

// NewMockProvider creates a provider with full capabilities.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name: name,
		capabilities: ports.Capabilities{
			SupportsWebhooks:       true,
			SupportsRefunds:        true,
			SupportsPartialRefunds: true,
		},
	}
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Capabilities() ports.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capabilities
}

// SetCapabilities overrides the advertised capabilities.
func (m *MockProvider) SetCapabilities(c ports.Capabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capabilities = c
}

// SetCreateIntentResponse sets the response returned from CreateIntent.
func (m *MockProvider) SetCreateIntentResponse(res *ports.IntentResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createIntentResult = res
	m.createIntentErr = err
}

// SetVerifyResponse sets the response returned from VerifyPayment.
func (m *MockProvider) SetVerifyResponse(res *ports.VerificationResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyResult = res
	m.verifyErr = err
}

// SetStatusResponse sets the response returned from GetStatus.
func (m *MockProvider) SetStatusResponse(res *ports.StatusResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusResult = res
	m.statusErr = err
}

// SetRefundResponse sets the response returned from Refund.
func (m *MockProvider) SetRefundResponse(res *ports.RefundResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refundResult = res
	m.refundErr = err
}

// SetWebhookResponse sets the response returned from ParseWebhook.
func (m *MockProvider) SetWebhookResponse(evt *ports.WebhookEvent, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookEvent = evt
	m.webhookErr = err
}

func (m *MockProvider) CreateIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.IntentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateIntentCalls++
	m.LastCreateIntentReq = req
	return m.createIntentResult, m.createIntentErr
}

func (m *MockProvider) VerifyPayment(ctx context.Context, req *ports.VerifyPaymentRequest) (*ports.VerificationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifyCalls++
	m.LastVerifyReq = req
	return m.verifyResult, m.verifyErr
}

func (m *MockProvider) GetStatus(ctx context.Context, paymentIntentID string) (*ports.StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetStatusCalls++
	m.LastStatusIntentID = paymentIntentID
	return m.statusResult, m.statusErr
}

func (m *MockProvider) Refund(ctx context.Context, req *ports.ProviderRefundRequest) (*ports.RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefundCalls++
	m.LastRefundReq = req
	return m.refundResult, m.refundErr
}

func (m *MockProvider) ParseWebhook(ctx context.Context, payload *ports.WebhookPayload) (*ports.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ParseWebhookCalls++
	m.LastWebhookPayload = payload
	return m.webhookEvent, m.webhookErr
}
