package sandbox_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kevin07696/escrow-service/internal/adapters/sandbox"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider() *sandbox.Provider {
	return sandbox.New(sandbox.Config{WebhookSecret: "whsec_test"})
}

func createIntent(t *testing.T, p *sandbox.Provider, outcome string) *ports.IntentResult {
	t.Helper()

	req := &ports.CreateIntentRequest{
		Amount:         decimal.RequireFromString("125.50"),
		Currency:       "USD",
		OrganizationID: "org_1",
	}
	if outcome != "" {
		req.Metadata = map[string]string{sandbox.MetadataOutcomeKey: outcome}
	}

	result, err := p.CreateIntent(context.Background(), req)
	require.NoError(t, err)
	return result
}

func TestProvider_CreateIntent(t *testing.T) {
	t.Run("returns_instant_success_by_default", func(t *testing.T) {
		p := newProvider()

		result := createIntent(t, p, "")

		assert.Contains(t, result.PaymentIntentID, "pi_")
		assert.Contains(t, result.SessionID, "sess_")
		assert.Equal(t, ports.ProviderStatusSucceeded, result.Status)
	})

	t.Run("honors_idempotency_key", func(t *testing.T) {
		p := newProvider()
		req := &ports.CreateIntentRequest{
			Amount:         decimal.RequireFromString("50"),
			Currency:       "USD",
			IdempotencyKey: "idem_1",
		}

		first, err := p.CreateIntent(context.Background(), req)
		require.NoError(t, err)
		second, err := p.CreateIntent(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, first.PaymentIntentID, second.PaymentIntentID)
		assert.Equal(t, first.SessionID, second.SessionID)
	})

	t.Run("fail_outcome_declines_the_intent", func(t *testing.T) {
		p := newProvider()

		result := createIntent(t, p, sandbox.OutcomeFail)

		assert.Equal(t, ports.ProviderStatusFailed, result.Status)
	})

	t.Run("processing_outcome_stays_pending", func(t *testing.T) {
		p := newProvider()

		result := createIntent(t, p, sandbox.OutcomeProcessing)

		assert.Equal(t, ports.ProviderStatusProcessing, result.Status)
	})

	t.Run("rejects_non_positive_amount", func(t *testing.T) {
		p := newProvider()

		_, err := p.CreateIntent(context.Background(), &ports.CreateIntentRequest{
			Amount:   decimal.Zero,
			Currency: "USD",
		})

		assert.Error(t, err)
	})
}

func TestProvider_VerifyPayment(t *testing.T) {
	t.Run("verifies_collected_intent", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		result, err := p.VerifyPayment(context.Background(), &ports.VerifyPaymentRequest{
			PaymentIntentID: intent.PaymentIntentID,
		})

		require.NoError(t, err)
		assert.True(t, result.Verified)
		assert.Equal(t, ports.ProviderStatusSucceeded, result.Status)
		assert.True(t, result.Amount.Equal(decimal.RequireFromString("125.50")))
		assert.Equal(t, "USD", result.Currency)
		assert.Contains(t, result.RawData["charge_id"], "ch_")
	})

	t.Run("reports_declined_intent", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, sandbox.OutcomeFail)

		result, err := p.VerifyPayment(context.Background(), &ports.VerifyPaymentRequest{
			PaymentIntentID: intent.PaymentIntentID,
		})

		require.NoError(t, err)
		assert.False(t, result.Verified)
		assert.Equal(t, ports.ProviderStatusFailed, result.Status)
		assert.Equal(t, "card_declined", result.FailureReason)
	})

	t.Run("finds_intent_by_session_id", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		result, err := p.VerifyPayment(context.Background(), &ports.VerifyPaymentRequest{
			SessionID: intent.SessionID,
		})

		require.NoError(t, err)
		assert.Equal(t, intent.PaymentIntentID, result.PaymentIntentID)
	})

	t.Run("unknown_intent_errors", func(t *testing.T) {
		p := newProvider()

		_, err := p.VerifyPayment(context.Background(), &ports.VerifyPaymentRequest{
			PaymentIntentID: "pi_missing",
		})

		assert.Error(t, err)
	})

	t.Run("requires_an_identifier", func(t *testing.T) {
		p := newProvider()

		_, err := p.VerifyPayment(context.Background(), &ports.VerifyPaymentRequest{})

		assert.Error(t, err)
	})
}

func TestProvider_GetStatus(t *testing.T) {
	t.Run("reports_current_state", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		status, err := p.GetStatus(context.Background(), intent.PaymentIntentID)

		require.NoError(t, err)
		assert.Equal(t, intent.PaymentIntentID, status.PaymentIntentID)
		assert.Equal(t, ports.ProviderStatusSucceeded, status.Status)
		assert.True(t, status.Amount.Equal(decimal.RequireFromString("125.50")))
	})

	t.Run("unknown_intent_errors", func(t *testing.T) {
		p := newProvider()

		_, err := p.GetStatus(context.Background(), "pi_missing")

		assert.Error(t, err)
	})
}

func TestProvider_Refund(t *testing.T) {
	t.Run("refunds_collected_intent", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		result, err := p.Refund(context.Background(), &ports.ProviderRefundRequest{
			PaymentIntentID: intent.PaymentIntentID,
			Amount:          decimal.RequireFromString("25.50"),
			Currency:        "USD",
		})

		require.NoError(t, err)
		assert.Contains(t, result.ProviderRefundID, "re_")
		assert.Equal(t, ports.ProviderStatusSucceeded, result.Status)
		assert.True(t, result.Amount.Equal(decimal.RequireFromString("25.50")))
		assert.False(t, result.Timestamp.IsZero())
	})

	t.Run("partial_refunds_accumulate", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		_, err := p.Refund(context.Background(), &ports.ProviderRefundRequest{
			PaymentIntentID: intent.PaymentIntentID,
			Amount:          decimal.RequireFromString("100"),
		})
		require.NoError(t, err)

		_, err = p.Refund(context.Background(), &ports.ProviderRefundRequest{
			PaymentIntentID: intent.PaymentIntentID,
			Amount:          decimal.RequireFromString("25.50"),
		})
		require.NoError(t, err)

		status, err := p.GetStatus(context.Background(), intent.PaymentIntentID)
		require.NoError(t, err)
		assert.Equal(t, "125.5", status.RawData["refunded"])
	})

	t.Run("rejects_over_refund", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		_, err := p.Refund(context.Background(), &ports.ProviderRefundRequest{
			PaymentIntentID: intent.PaymentIntentID,
			Amount:          decimal.RequireFromString("200"),
		})

		assert.ErrorContains(t, err, "exceeds remaining collected amount")
	})

	t.Run("replays_idempotent_refund", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")
		req := &ports.ProviderRefundRequest{
			PaymentIntentID: intent.PaymentIntentID,
			Amount:          decimal.RequireFromString("125.50"),
			IdempotencyKey:  "refund_1",
		}

		first, err := p.Refund(context.Background(), req)
		require.NoError(t, err)

		// A replay with the same key must not move money twice, so the
		// full-amount refund succeeds a second time.
		second, err := p.Refund(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first.ProviderRefundID, second.ProviderRefundID)
	})

	t.Run("rejects_unsettled_intent", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, sandbox.OutcomeProcessing)

		_, err := p.Refund(context.Background(), &ports.ProviderRefundRequest{
			PaymentIntentID: intent.PaymentIntentID,
			Amount:          decimal.RequireFromString("10"),
		})

		assert.ErrorContains(t, err, "only succeeded intents can be refunded")
	})

	t.Run("rejects_non_positive_amount", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		_, err := p.Refund(context.Background(), &ports.ProviderRefundRequest{
			PaymentIntentID: intent.PaymentIntentID,
			Amount:          decimal.Zero,
		})

		assert.Error(t, err)
	})
}

func TestProvider_ParseWebhook(t *testing.T) {
	signedBody := func(t *testing.T, p *sandbox.Provider, event map[string]interface{}) *ports.WebhookPayload {
		t.Helper()
		body, err := json.Marshal(event)
		require.NoError(t, err)
		return &ports.WebhookPayload{Body: body, Signature: p.SignWebhook(body)}
	}

	t.Run("parses_signed_payload", func(t *testing.T) {
		p := newProvider()
		payload := signedBody(t, p, map[string]interface{}{
			"id":   "evt_1",
			"type": ports.WebhookEventPaymentSucceeded,
			"data": map[string]interface{}{
				"payment_intent_id": "pi_1",
				"amount":            "125.50",
				"currency":          "USD",
			},
		})

		event, err := p.ParseWebhook(context.Background(), payload)

		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.EventID)
		assert.Equal(t, ports.WebhookEventPaymentSucceeded, event.Type)
		assert.Equal(t, "pi_1", event.PaymentIntentID)
		assert.True(t, event.Amount.Equal(decimal.RequireFromString("125.50")))
		assert.Equal(t, "USD", event.Currency)
		assert.False(t, event.ReceivedAt.IsZero())
		assert.Equal(t, "evt_1", event.RawData["id"])
	})

	t.Run("rejects_tampered_body", func(t *testing.T) {
		p := newProvider()
		payload := signedBody(t, p, map[string]interface{}{
			"id":   "evt_1",
			"type": ports.WebhookEventPaymentSucceeded,
		})
		payload.Body = append(payload.Body, ' ')

		_, err := p.ParseWebhook(context.Background(), payload)

		assert.ErrorContains(t, err, "invalid webhook signature")
	})

	t.Run("rejects_missing_signature", func(t *testing.T) {
		p := newProvider()

		_, err := p.ParseWebhook(context.Background(), &ports.WebhookPayload{
			Body: []byte(`{"id":"evt_1"}`),
		})

		assert.ErrorContains(t, err, "missing webhook signature")
	})

	t.Run("rejects_wrong_secret", func(t *testing.T) {
		p := newProvider()
		other := sandbox.New(sandbox.Config{WebhookSecret: "whsec_other"})
		body := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)

		_, err := p.ParseWebhook(context.Background(), &ports.WebhookPayload{
			Body:      body,
			Signature: other.SignWebhook(body),
		})

		assert.ErrorContains(t, err, "invalid webhook signature")
	})

	t.Run("rejects_malformed_json", func(t *testing.T) {
		p := newProvider()
		body := []byte(`not json`)

		_, err := p.ParseWebhook(context.Background(), &ports.WebhookPayload{
			Body:      body,
			Signature: p.SignWebhook(body),
		})

		assert.ErrorContains(t, err, "parse webhook payload")
	})

	t.Run("rejects_empty_payload", func(t *testing.T) {
		p := newProvider()

		_, err := p.ParseWebhook(context.Background(), &ports.WebhookPayload{})

		assert.Error(t, err)
	})
}

func TestProvider_FailIntent(t *testing.T) {
	t.Run("flips_intent_to_failed", func(t *testing.T) {
		p := newProvider()
		intent := createIntent(t, p, "")

		require.NoError(t, p.FailIntent(intent.PaymentIntentID, "issuer_unavailable"))

		result, err := p.VerifyPayment(context.Background(), &ports.VerifyPaymentRequest{
			PaymentIntentID: intent.PaymentIntentID,
		})
		require.NoError(t, err)
		assert.False(t, result.Verified)
		assert.Equal(t, "issuer_unavailable", result.FailureReason)
	})

	t.Run("unknown_intent_errors", func(t *testing.T) {
		p := newProvider()

		assert.Error(t, p.FailIntent("pi_missing", ""))
	})
}

func TestProvider_Capabilities(t *testing.T) {
	p := sandbox.New(sandbox.Config{})

	assert.Equal(t, "sandbox", p.Name())
	caps := p.Capabilities()
	assert.True(t, caps.SupportsWebhooks)
	assert.True(t, caps.SupportsRefunds)
	assert.True(t, caps.SupportsPartialRefunds)
	assert.False(t, caps.RequiresManualVerification)
}
