// Package settlement drives payments through verification, refunds, and
// webhook-driven transitions against pluggable payment providers. Provider
// calls are the only suspension points; every ledger mutation is a
// version-guarded read-modify-write, so racing deliveries and manual calls
// cannot apply the same transition twice.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/providers"
	"github.com/kevin07696/escrow-service/internal/services/splits"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Audit values recorded in VerifiedBy.
const (
	verifiedByManual  = "manual"
	verifiedByWebhook = "webhook"
)

// Service implements the payment settlement pipeline over the transaction
// ledger and a provider registry.
type Service struct {
	db        ports.DBPort
	ledger    ports.LedgerRepository
	providers *providers.Registry
	publisher ports.EventPublisher
	logger    ports.Logger
}

// NewService creates a new settlement service.
func NewService(db ports.DBPort, ledger ports.LedgerRepository, registry *providers.Registry, publisher ports.EventPublisher, logger ports.Logger) *Service {
	return &Service{
		db:        db,
		ledger:    ledger,
		providers: registry,
		publisher: publisher,
		logger:    logger,
	}
}

// InitiateRequest opens a payment for collection with a provider.
type InitiateRequest struct {
	Provider       string
	OrganizationID string
	CustomerID     string
	ReferenceID    string
	ReferenceModel string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// VerifyOptions carries optional verification audit fields.
type VerifyOptions struct {
	VerifiedBy string
}

// RefundRequest returns collected funds to the payer. A nil Amount refunds
// everything still refundable.
type RefundRequest struct {
	TransactionID string
	Amount        *decimal.Decimal
	Reason        string
}

// RefundResult carries the updated origin transaction and the expense row
// recording the refund.
type RefundResult struct {
	Transaction *domain.Transaction
	Refund      *domain.Transaction
}

// Webhook handling outcomes.
const (
	WebhookOutcomeProcessed        = "processed"
	WebhookOutcomeAlreadyProcessed = "already_processed"
	WebhookOutcomeIgnored          = "ignored"
)

// WebhookResult reports what a provider notification did to the ledger.
type WebhookResult struct {
	Outcome       string
	TransactionID string
	EventID       string
	EventType     string
	Status        domain.TransactionStatus
}

// PaymentStatus is the settlement projection of a transaction.
type PaymentStatus struct {
	TransactionID    string
	Status           domain.TransactionStatus
	Amount           decimal.Decimal
	Currency         string
	RefundedAmount   decimal.Decimal
	RefundableAmount decimal.Decimal
	Provider         string
	PaymentIntentID  string
	VerifiedAt       *time.Time
	VerifiedBy       string
	FailureReason    string
	Version          int64
}

// webhookTransitions maps normalized provider event types to the ledger
// status they drive. Unlisted types are acknowledged and ignored.
var webhookTransitions = map[string]domain.TransactionStatus{
	ports.WebhookEventPaymentSucceeded: domain.StatusVerified,
	ports.WebhookEventPaymentFailed:    domain.StatusFailed,
	ports.WebhookEventRefundSucceeded:  domain.StatusRefunded,
}

// Initiate records a pending income transaction and opens a payment intent
// with the provider. The pending row commits before the provider call so a
// crash between the two leaves a reconcilable ledger record instead of an
// orphaned provider intent; a provider refusal marks the row failed.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (txn *domain.Transaction, err error) {
	start := time.Now()
	gateway := gatewayUnknown
	var duplicate bool
	defer func() {
		var amount float64
		currency := ""
		// A replayed initiate returns the existing row without opening a new
		// intent, so duplicates keep the volume counter at zero.
		if err == nil && txn != nil && !duplicate {
			amount, _ = txn.Amount.Float64()
			currency = txn.Currency
		}
		observability.RecordSettlementOperation(opInitiate, gateway, settlementStatus(err), amount, currency, time.Since(start).Seconds())
	}()

	if req.Provider == "" {
		return nil, domain.NewMissingFieldError("provider")
	}
	if req.OrganizationID == "" {
		return nil, domain.NewMissingFieldError("organization_id")
	}
	if req.Currency == "" {
		return nil, domain.NewMissingFieldError("currency")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.NewAmountError("amount", req.Amount.String(), "amount must be positive")
	}

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	gateway = provider.Name()

	if req.IdempotencyKey != "" {
		existing, err := s.ledger.GetByIdempotencyKey(ctx, s.db.GetDB(), req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			duplicate = true
			s.logger.Info("returning existing transaction for idempotency key",
				ports.String("idempotency_key", req.IdempotencyKey),
				ports.String("transaction_id", existing.ID))
			return existing, nil
		}
	}

	now := timeutil.Now()
	txn = &domain.Transaction{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		CustomerID:     req.CustomerID,
		ReferenceID:    req.ReferenceID,
		ReferenceModel: req.ReferenceModel,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		Type:           domain.TypeIncome,
		Status:         domain.StatusPending,
		Gateway:        domain.GatewayDetails{Type: provider.Name()},
		RefundedAmount: decimal.Zero,
		Hold:           domain.NewHoldDetails(),
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.ledger.Create(ctx, tx, txn)
	})
	if err != nil {
		s.logger.Error("initiate failed",
			ports.String("transaction_id", txn.ID),
			ports.Err(err))
		return nil, err
	}

	intentKey := req.IdempotencyKey
	if intentKey == "" {
		intentKey = domain.DeriveIdempotencyKey(txn.ID, "intent")
	}
	intent, perr := provider.CreateIntent(ctx, &ports.CreateIntentRequest{
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		OrganizationID: txn.OrganizationID,
		CustomerID:     txn.CustomerID,
		ReferenceID:    txn.ReferenceID,
		IdempotencyKey: intentKey,
		Metadata:       req.Metadata,
	})
	if perr != nil {
		s.logger.Error("initiate failed",
			ports.String("transaction_id", txn.ID),
			ports.String("provider", provider.Name()),
			ports.Err(perr))
		s.markFailed(ctx, txn.ID, provider.Name(), fmt.Sprintf("create intent: %v", perr))
		return nil, domain.NewProviderError(provider.Name(), perr, true)
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.ledger.GetByID(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		expectedVersion := txn.Version
		if err := txn.MarkPaymentInitiated(intent.PaymentIntentID, intent.SessionID); err != nil {
			return err
		}
		return s.ledger.Update(ctx, tx, txn, expectedVersion)
	})
	if err != nil {
		s.logger.Error("initiate failed",
			ports.String("transaction_id", txn.ID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("payment initiated",
		ports.String("transaction_id", txn.ID),
		ports.String("provider", provider.Name()),
		ports.String("payment_intent_id", intent.PaymentIntentID))
	return txn, nil
}

// Verify asks the provider for the authoritative payment result and settles
// the transaction. The provider-reported amount and currency must equal the
// ledger's exactly; a mismatch is rejected without touching the record. A
// provider failure marks the transaction failed before the error surfaces,
// so the row never lingers as pending.
func (s *Service) Verify(ctx context.Context, paymentIntentID string, opts VerifyOptions) (txn *domain.Transaction, err error) {
	start := time.Now()
	gateway := gatewayUnknown
	defer func() {
		var amount float64
		currency := ""
		if err == nil && txn != nil {
			amount, _ = txn.Amount.Float64()
			currency = txn.Currency
		}
		observability.RecordSettlementOperation(opVerify, gateway, settlementStatus(err), amount, currency, time.Since(start).Seconds())
	}()

	if paymentIntentID == "" {
		return nil, domain.NewMissingFieldError("payment_intent_id")
	}

	txn, err = s.findByIntentOrID(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	if txn.IsVerified() {
		return nil, domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "transaction already verified").
			WithDetail("transaction_id", txn.ID).
			WithDetail("status", string(txn.Status))
	}
	if !txn.Status.CanTransitionTo(domain.StatusVerified) {
		return nil, domain.NewIllegalStateError(string(txn.Status), string(domain.StatusVerified))
	}
	if txn.Gateway.PaymentIntentID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeIllegalState, "transaction has no payment intent").
			WithDetail("transaction_id", txn.ID)
	}

	provider, err := s.providers.Get(txn.Gateway.Type)
	if err != nil {
		return nil, err
	}
	gateway = provider.Name()

	result, perr := provider.VerifyPayment(ctx, &ports.VerifyPaymentRequest{
		PaymentIntentID: txn.Gateway.PaymentIntentID,
		SessionID:       txn.Gateway.SessionID,
	})
	if perr != nil {
		s.logger.Error("verify failed",
			ports.String("transaction_id", txn.ID),
			ports.String("provider", provider.Name()),
			ports.Err(perr))
		s.markFailed(ctx, txn.ID, provider.Name(), fmt.Sprintf("verification failed: %v", perr))
		return nil, domain.NewProviderError(provider.Name(), perr, true)
	}

	if !result.Verified {
		// A payment still in flight is not a failure; leave the row alone so
		// a later verify or the provider webhook can finish the job.
		if result.Status == ports.ProviderStatusProcessing {
			return nil, domain.NewProviderError(provider.Name(), errors.New("payment still processing"), true)
		}
		reason := result.FailureReason
		if reason == "" {
			reason = fmt.Sprintf("provider reported status %q", result.Status)
		}
		s.logger.Error("verify failed",
			ports.String("transaction_id", txn.ID),
			ports.String("provider", provider.Name()),
			ports.String("reason", reason))
		s.markFailed(ctx, txn.ID, provider.Name(), reason)
		return nil, domain.NewProviderError(provider.Name(), errors.New(reason), false)
	}

	// The provider is authoritative for what was collected, the ledger for
	// what was owed. Anything but exact agreement is treated as tampering.
	if !result.Amount.Equal(txn.Amount) || !strings.EqualFold(result.Currency, txn.Currency) {
		s.logger.Warn("verify rejected on provider mismatch",
			ports.String("transaction_id", txn.ID),
			ports.String("expected_amount", txn.Amount.String()),
			ports.String("provider_amount", result.Amount.String()),
			ports.String("expected_currency", txn.Currency),
			ports.String("provider_currency", result.Currency))
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMismatch, "provider result does not match transaction").
			WithDetail("transaction_id", txn.ID).
			WithDetail("expected_amount", txn.Amount.String()).
			WithDetail("provider_amount", result.Amount.String()).
			WithDetail("expected_currency", txn.Currency).
			WithDetail("provider_currency", result.Currency)
	}

	verifiedBy := opts.VerifiedBy
	if verifiedBy == "" {
		verifiedBy = verifiedByManual
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.ledger.GetByID(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		if txn.IsVerified() {
			return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "transaction already verified").
				WithDetail("transaction_id", txn.ID)
		}
		expectedVersion := txn.Version
		if err := txn.MarkVerified(verifiedBy); err != nil {
			return err
		}
		if len(result.RawData) > 0 {
			txn.Gateway.VerificationData = result.RawData
		}
		return s.ledger.Update(ctx, tx, txn, expectedVersion)
	})
	if err != nil {
		s.logger.Error("verify failed",
			ports.String("transaction_id", txn.ID),
			ports.Err(err))
		return nil, err
	}

	s.publish(ctx, domain.PaymentVerifiedEvent{
		TransactionID:  txn.ID,
		OrganizationID: txn.OrganizationID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Provider:       provider.Name(),
		VerifiedBy:     verifiedBy,
		At:             txn.UpdatedAt,
	})
	s.logger.Info("payment verified",
		ports.String("transaction_id", txn.ID),
		ports.String("provider", provider.Name()),
		ports.String("amount", txn.Amount.String()),
		ports.String("currency", txn.Currency))
	return txn, nil
}

// Refund returns part or all of a settled payment to the payer. The refund
// is recorded as a separate expense row keyed by the cumulative refunded
// amount it moves the origin to, so a retried full refund replays
// idempotently while distinct partial refunds get distinct keys. The
// provider call sits inside the write transaction: a refused refund rolls
// everything back and the ledger never records money the provider kept.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (res *RefundResult, err error) {
	start := time.Now()
	gateway := gatewayUnknown
	var duplicate bool
	defer func() {
		var recorded float64
		currency := ""
		// A replayed refund returns the original expense row without another
		// provider call, so duplicates keep the volume counter at zero.
		if err == nil && res != nil && !duplicate {
			recorded, _ = res.Refund.Amount.Float64()
			currency = res.Refund.Currency
		}
		observability.RecordSettlementOperation(opRefund, gateway, settlementStatus(err), recorded, currency, time.Since(start).Seconds())
	}()

	if req.TransactionID == "" {
		return nil, domain.NewMissingFieldError("transaction_id")
	}

	var (
		origin *domain.Transaction
		refund *domain.Transaction
		amount decimal.Decimal
	)
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		origin, err = s.ledger.GetByID(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}

		amount = origin.RefundableAmount()
		if req.Amount != nil {
			amount = *req.Amount
		}

		cumulative := origin.RefundedAmount.Add(amount)
		key := domain.DeriveIdempotencyKey(origin.ID, domain.OperationRefund, cumulative.String())
		existing, err := s.ledger.GetByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			refund = existing
			duplicate = true
			return nil
		}

		switch origin.Status {
		case domain.StatusVerified, domain.StatusCompleted, domain.StatusPartiallyRefunded:
		default:
			return domain.NewIllegalStateError(string(origin.Status), "verified or completed")
		}
		if origin.Hold.Status == domain.HoldStatusHeld || origin.Hold.Status == domain.HoldStatusPartiallyReleased {
			return domain.NewDomainError(domain.ErrorCodeIllegalState, "held funds must be released or cancelled before refunding").
				WithDetail("transaction_id", origin.ID).
				WithDetail("hold_status", string(origin.Hold.Status))
		}
		if !amount.IsPositive() {
			return domain.NewAmountError("amount", amount.String(), "refund amount must be positive")
		}
		if amount.GreaterThan(origin.RefundableAmount()) {
			return domain.NewAmountError("amount", amount.String(), "refund exceeds refundable amount").
				WithDetail("refundable", origin.RefundableAmount().String())
		}

		provider, err := s.providers.Get(origin.Gateway.Type)
		if err != nil {
			return err
		}
		gateway = provider.Name()
		caps := provider.Capabilities()
		if !caps.SupportsRefunds {
			return domain.NewDomainError(domain.ErrorCodeProviderCapability, "provider does not support refunds").
				WithDetail("provider", provider.Name())
		}
		if cumulative.LessThan(origin.Amount) && !caps.SupportsPartialRefunds {
			return domain.NewDomainError(domain.ErrorCodeProviderCapability, "provider does not support partial refunds").
				WithDetail("provider", provider.Name())
		}

		providerRes, perr := provider.Refund(ctx, &ports.ProviderRefundRequest{
			PaymentIntentID: origin.Gateway.PaymentIntentID,
			Amount:          amount,
			Currency:        origin.Currency,
			Reason:          req.Reason,
			IdempotencyKey:  key,
		})
		if perr != nil {
			return domain.NewProviderError(provider.Name(), perr, true)
		}

		now := timeutil.Now()
		refund = s.newRefundRow(origin, amount, key, req.Reason, providerRes, now)
		if len(origin.Splits) > 0 {
			reversed, err := splits.Reverse(origin.Splits, origin.Amount, amount)
			if err != nil {
				return err
			}
			refund.Splits = reversed
		}

		expectedVersion := origin.Version
		if err := origin.ApplyRefund(amount); err != nil {
			return err
		}
		if err := s.ledger.Update(ctx, tx, origin, expectedVersion); err != nil {
			return err
		}
		if err := s.ledger.Create(ctx, tx, refund); err != nil {
			return fmt.Errorf("failed to create refund transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("refund failed",
			ports.String("transaction_id", req.TransactionID),
			ports.Err(err))
		return nil, err
	}

	if duplicate {
		s.logger.Info("returning existing refund for idempotency key",
			ports.String("transaction_id", origin.ID),
			ports.String("refund_id", refund.ID))
		return &RefundResult{Transaction: origin, Refund: refund}, nil
	}

	s.publish(ctx, domain.PaymentRefundedEvent{
		TransactionID:       origin.ID,
		RefundTransactionID: refund.ID,
		OrganizationID:      origin.OrganizationID,
		Amount:              amount,
		TotalRefunded:       origin.RefundedAmount,
		Partial:             origin.Status == domain.StatusPartiallyRefunded,
		At:                  origin.UpdatedAt,
	})
	s.logger.Info("refund completed",
		ports.String("transaction_id", origin.ID),
		ports.String("refund_id", refund.ID),
		ports.String("amount", amount.String()),
		ports.String("total_refunded", origin.RefundedAmount.String()))
	return &RefundResult{Transaction: origin, Refund: refund}, nil
}

// HandleWebhook applies a provider notification to the ledger. Authenticity
// checking belongs to the provider adapter; this layer owns idempotency. The
// event id is claimed atomically before any transition, so the second
// delivery of the same event reports already_processed with zero mutation.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload *ports.WebhookPayload) (res *WebhookResult, err error) {
	start := time.Now()
	gateway := gatewayUnknown
	defer func() {
		status := settlementStatus(err)
		// The handling outcome is more precise than plain success when the
		// event was a duplicate or an unhandled type.
		if err == nil && res != nil {
			status = res.Outcome
		}
		observability.RecordSettlementOperation(opWebhook, gateway, status, 0, "", time.Since(start).Seconds())
	}()

	if providerName == "" {
		return nil, domain.NewMissingFieldError("provider")
	}
	if payload == nil || len(payload.Body) == 0 {
		return nil, domain.NewMissingFieldError("payload")
	}

	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	gateway = provider.Name()
	if !provider.Capabilities().SupportsWebhooks {
		return nil, domain.NewDomainError(domain.ErrorCodeProviderCapability, "provider does not support webhooks").
			WithDetail("provider", providerName)
	}

	event, perr := provider.ParseWebhook(ctx, payload)
	if perr != nil {
		s.logger.Warn("webhook rejected",
			ports.String("provider", providerName),
			ports.Err(perr))
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "failed to parse webhook", perr)
	}
	if event.PaymentIntentID == "" {
		return nil, domain.NewMissingFieldError("payment_intent_id")
	}
	if event.EventID == "" {
		return nil, domain.NewMissingFieldError("event_id")
	}

	target, known := webhookTransitions[event.Type]
	if !known {
		s.logger.Info("ignoring unhandled webhook event type",
			ports.String("provider", providerName),
			ports.String("event_type", event.Type))
		return &WebhookResult{Outcome: WebhookOutcomeIgnored, EventID: event.EventID, EventType: event.Type}, nil
	}

	txn, err := s.ledger.GetByPaymentIntentID(ctx, s.db.GetDB(), event.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	if txn.HasProcessedWebhookEvent(event.EventID) {
		s.logger.Info("webhook already processed",
			ports.String("transaction_id", txn.ID),
			ports.String("event_id", event.EventID))
		return &WebhookResult{
			Outcome:       WebhookOutcomeAlreadyProcessed,
			TransactionID: txn.ID,
			EventID:       event.EventID,
			EventType:     event.Type,
			Status:        txn.Status,
		}, nil
	}

	var (
		alreadyProcessed bool
		refunded         decimal.Decimal
	)
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		claimed, err := s.ledger.ClaimWebhookEvent(ctx, tx, txn.ID, event.EventID)
		if err != nil {
			return err
		}
		if !claimed {
			alreadyProcessed = true
			return nil
		}

		txn, err = s.ledger.GetByID(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		expectedVersion := txn.Version

		// A manual call or an earlier event may already have landed the
		// transaction where this event points; record the event and stop.
		if txn.Status == target {
			alreadyProcessed = true
			txn.RecordWebhook(event.EventID, event.Type, event.ReceivedAt)
			return s.ledger.Update(ctx, tx, txn, expectedVersion)
		}

		refunded, err = applyWebhookTransition(txn, event, target)
		if err != nil {
			return err
		}
		txn.RecordWebhook(event.EventID, event.Type, event.ReceivedAt)
		return s.ledger.Update(ctx, tx, txn, expectedVersion)
	})
	if err != nil {
		s.logger.Error("webhook failed",
			ports.String("transaction_id", txn.ID),
			ports.String("event_id", event.EventID),
			ports.Err(err))
		return nil, err
	}

	if alreadyProcessed {
		s.logger.Info("webhook already processed",
			ports.String("transaction_id", txn.ID),
			ports.String("event_id", event.EventID))
		return &WebhookResult{
			Outcome:       WebhookOutcomeAlreadyProcessed,
			TransactionID: txn.ID,
			EventID:       event.EventID,
			EventType:     event.Type,
			Status:        txn.Status,
		}, nil
	}

	if target == domain.StatusRefunded &&
		(txn.Hold.Status == domain.HoldStatusHeld || txn.Hold.Status == domain.HoldStatusPartiallyReleased) {
		s.logger.Warn("refund webhook applied while funds were held",
			ports.String("transaction_id", txn.ID),
			ports.String("hold_status", string(txn.Hold.Status)))
	}

	s.publish(ctx, domain.WebhookProcessedEvent{
		TransactionID: txn.ID,
		EventID:       event.EventID,
		EventType:     event.Type,
		NewStatus:     string(txn.Status),
		At:            txn.UpdatedAt,
	})
	switch target {
	case domain.StatusVerified:
		s.publish(ctx, domain.PaymentVerifiedEvent{
			TransactionID:  txn.ID,
			OrganizationID: txn.OrganizationID,
			Amount:         txn.Amount,
			Currency:       txn.Currency,
			Provider:       providerName,
			VerifiedBy:     verifiedByWebhook,
			At:             txn.UpdatedAt,
		})
	case domain.StatusFailed:
		s.publish(ctx, domain.PaymentFailedEvent{
			TransactionID:  txn.ID,
			OrganizationID: txn.OrganizationID,
			Provider:       providerName,
			Reason:         txn.FailureReason,
			At:             txn.UpdatedAt,
		})
	case domain.StatusRefunded:
		s.publish(ctx, domain.PaymentRefundedEvent{
			TransactionID:  txn.ID,
			OrganizationID: txn.OrganizationID,
			Amount:         refunded,
			TotalRefunded:  txn.RefundedAmount,
			Partial:        txn.Status == domain.StatusPartiallyRefunded,
			At:             txn.UpdatedAt,
		})
	}
	s.logger.Info("webhook processed",
		ports.String("transaction_id", txn.ID),
		ports.String("event_type", event.Type),
		ports.String("new_status", string(txn.Status)))
	return &WebhookResult{
		Outcome:       WebhookOutcomeProcessed,
		TransactionID: txn.ID,
		EventID:       event.EventID,
		EventType:     event.Type,
		Status:        txn.Status,
	}, nil
}

// Get returns the full ledger record.
func (s *Service) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	if transactionID == "" {
		return nil, domain.NewMissingFieldError("transaction_id")
	}
	return s.ledger.GetByID(ctx, s.db.GetDB(), transactionID)
}

// GetStatus returns the settlement projection of a transaction.
func (s *Service) GetStatus(ctx context.Context, transactionID string) (*PaymentStatus, error) {
	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &PaymentStatus{
		TransactionID:    txn.ID,
		Status:           txn.Status,
		Amount:           txn.Amount,
		Currency:         txn.Currency,
		RefundedAmount:   txn.RefundedAmount,
		RefundableAmount: txn.RefundableAmount(),
		Provider:         txn.Gateway.Type,
		PaymentIntentID:  txn.Gateway.PaymentIntentID,
		VerifiedAt:       txn.VerifiedAt,
		VerifiedBy:       txn.VerifiedBy,
		FailureReason:    txn.FailureReason,
		Version:          txn.Version,
	}, nil
}

// List pages through ledger transactions matching the filter. The page and
// its total count read from one snapshot, so they never disagree.
func (s *Service) List(ctx context.Context, filter ports.ListTransactionsFilter) ([]*domain.Transaction, int64, error) {
	var (
		txns  []*domain.Transaction
		total int64
	)
	err := s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txns, total, err = s.ledger.List(ctx, tx, filter)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ProviderStatus polls the provider for its current view of the payment.
// Read-only; reconciliation uses it to spot drift between the ledger and the
// provider without mutating either.
func (s *Service) ProviderStatus(ctx context.Context, transactionID string) (*ports.StatusResult, error) {
	txn, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Gateway.PaymentIntentID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeIllegalState, "transaction has no payment intent").
			WithDetail("transaction_id", txn.ID)
	}
	provider, err := s.providers.Get(txn.Gateway.Type)
	if err != nil {
		return nil, err
	}
	result, perr := provider.GetStatus(ctx, txn.Gateway.PaymentIntentID)
	if perr != nil {
		return nil, domain.NewProviderError(provider.Name(), perr, true)
	}
	return result, nil
}

// findByIntentOrID locates a transaction by provider payment intent id,
// falling back to the ledger id so callers can address rows that never got a
// provider handle.
func (s *Service) findByIntentOrID(ctx context.Context, id string) (*domain.Transaction, error) {
	txn, err := s.ledger.GetByPaymentIntentID(ctx, s.db.GetDB(), id)
	if err == nil {
		return txn, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}
	return s.ledger.GetByID(ctx, s.db.GetDB(), id)
}

// markFailed moves a transaction to failed in its own write transaction.
// Only provider failure paths call it; the primary error still propagates,
// so a failure here is logged, not returned.
func (s *Service) markFailed(ctx context.Context, transactionID, providerName, reason string) {
	var txn *domain.Transaction
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.ledger.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		expectedVersion := txn.Version
		if err := txn.MarkFailed(reason); err != nil {
			return err
		}
		return s.ledger.Update(ctx, tx, txn, expectedVersion)
	})
	if err != nil {
		s.logger.Error("failed to mark transaction failed",
			ports.String("transaction_id", transactionID),
			ports.Err(err))
		return
	}

	s.publish(ctx, domain.PaymentFailedEvent{
		TransactionID:  txn.ID,
		OrganizationID: txn.OrganizationID,
		Provider:       providerName,
		Reason:         reason,
		At:             txn.UpdatedAt,
	})
}

// newRefundRow builds the expense row recording one provider refund.
func (s *Service) newRefundRow(origin *domain.Transaction, amount decimal.Decimal, key, reason string, res *ports.RefundResult, now time.Time) *domain.Transaction {
	refund := &domain.Transaction{
		ID:             uuid.New().String(),
		OrganizationID: origin.OrganizationID,
		CustomerID:     origin.CustomerID,
		ReferenceID:    origin.ReferenceID,
		ReferenceModel: origin.ReferenceModel,
		Amount:         amount,
		Currency:       origin.Currency,
		Type:           domain.TypeExpense,
		Status:         domain.StatusCompleted,
		Gateway: domain.GatewayDetails{
			Type:            origin.Gateway.Type,
			PaymentIntentID: origin.Gateway.PaymentIntentID,
		},
		RefundedAmount: decimal.Zero,
		Hold:           domain.NewHoldDetails(),
		IdempotencyKey: key,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	refund.SetMetadata(domain.MetaOriginalTransactionID, origin.ID)
	refund.SetMetadata(domain.MetaOperation, domain.OperationRefund)
	if reason != "" {
		refund.SetMetadata(domain.MetaReason, reason)
	}
	if res != nil && res.ProviderRefundID != "" {
		refund.SetMetadata(domain.MetaProviderRefundID, res.ProviderRefundID)
	}
	return refund
}

// publish sends a domain event to post-commit subscribers. Handler failures
// are logged, never propagated; the ledger write already committed.
func (s *Service) publish(ctx context.Context, evt ports.Event) {
	if errs := s.publisher.Publish(ctx, evt); len(errs) > 0 {
		s.logger.Warn("event handlers failed",
			ports.String("event", evt.Name()),
			ports.Int("errors", len(errs)))
	}
}

// applyWebhookTransition mutates the transaction per the normalized event and
// returns the refund amount it applied, when any. Refund events honor the
// provider-reported amount when it fits; absent or oversized amounts fall
// back to everything still refundable.
func applyWebhookTransition(txn *domain.Transaction, event *ports.WebhookEvent, target domain.TransactionStatus) (decimal.Decimal, error) {
	switch target {
	case domain.StatusVerified:
		return decimal.Zero, txn.MarkVerified(verifiedByWebhook)
	case domain.StatusFailed:
		return decimal.Zero, txn.MarkFailed("payment failed at provider")
	case domain.StatusRefunded:
		amount := txn.RefundableAmount()
		if event.Amount.IsPositive() && event.Amount.LessThanOrEqual(amount) {
			amount = event.Amount
		}
		return amount, txn.ApplyRefund(amount)
	default:
		return decimal.Zero, domain.NewValidationError("event_type", event.Type, "unsupported webhook event type")
	}
}
