// Package escrow drives the hold, release, split, and cancel lifecycle on
// verified incoming payments. Money never leaves the ledger here: each
// disbursement becomes a derived expense transaction created in the same
// database transaction that advances the origin's hold state, so the hold
// accounting and the payout rows cannot disagree.
package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/splits"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Service implements escrow operations over the transaction ledger.
type Service struct {
	db        ports.DBPort
	ledger    ports.LedgerRepository
	publisher ports.EventPublisher
	logger    ports.Logger
}

// NewService creates a new escrow service.
func NewService(db ports.DBPort, ledger ports.LedgerRepository, publisher ports.EventPublisher, logger ports.Logger) *Service {
	return &Service{
		db:        db,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
	}
}

// ReleaseRequest describes one disbursement out of a hold. A nil Amount
// releases the remaining held balance.
type ReleaseRequest struct {
	TransactionID string
	RecipientID   string
	RecipientType string
	Reason        string
	Amount        *decimal.Decimal
}

// ReleaseResult carries the updated origin transaction and the expense row
// recording the disbursement.
type ReleaseResult struct {
	Transaction *domain.Transaction
	Payout      *domain.Transaction
}

// SplitRequest distributes the held balance across commission recipients.
// GatewayFeeRate is deducted from the first rule's share.
type SplitRequest struct {
	TransactionID  string
	Rules          []domain.SplitRule
	GatewayFeeRate decimal.Decimal
}

// SplitResult carries the completed origin transaction and every payout row
// the split created, organization remainder last.
type SplitResult struct {
	Transaction *domain.Transaction
	Payouts     []*domain.Transaction
}

// Status is the escrow projection of a transaction.
type Status struct {
	TransactionID string
	Status        domain.TransactionStatus
	Hold          domain.HoldDetails
	Splits        []domain.Split
	Version       int64
}

// Hold places the full verified amount in escrow.
func (s *Service) Hold(ctx context.Context, transactionID, reason string) (txn *domain.Transaction, err error) {
	defer func() {
		var amount float64
		currency := ""
		if err == nil && txn != nil {
			amount, _ = txn.Hold.HeldAmount.Float64()
			currency = txn.Currency
		}
		observability.RecordEscrowOperation(opHold, escrowStatus(err), amount, currency)
	}()

	if transactionID == "" {
		return nil, domain.NewMissingFieldError("transaction_id")
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.ledger.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		expectedVersion := txn.Version
		if err := txn.BeginHold(reason); err != nil {
			return err
		}
		return s.ledger.Update(ctx, tx, txn, expectedVersion)
	})
	if err != nil {
		s.logger.Error("hold failed",
			ports.String("transaction_id", transactionID),
			ports.Err(err))
		return nil, err
	}

	s.publish(ctx, domain.EscrowHeldEvent{
		TransactionID:  txn.ID,
		OrganizationID: txn.OrganizationID,
		Amount:         txn.Hold.HeldAmount,
		Reason:         reason,
		At:             txn.UpdatedAt,
	})
	s.logger.Info("hold placed",
		ports.String("transaction_id", txn.ID),
		ports.String("amount", txn.Hold.HeldAmount.String()),
		ports.String("currency", txn.Currency))
	return txn, nil
}

// Release disburses part or all of the held balance to one recipient. The
// payout row's idempotency key derives from the origin, the operation, and
// the recipient, so a retried release returns the original payout instead of
// paying the recipient twice.
func (s *Service) Release(ctx context.Context, req ReleaseRequest) (res *ReleaseResult, err error) {
	var duplicate bool
	defer func() {
		var amount float64
		currency := ""
		// A replayed release returns the original payout without moving money
		// again, so duplicates keep the volume counter at zero.
		if err == nil && res != nil && !duplicate {
			amount, _ = res.Payout.Amount.Float64()
			currency = res.Payout.Currency
		}
		observability.RecordEscrowOperation(opRelease, escrowStatus(err), amount, currency)
	}()

	if req.TransactionID == "" {
		return nil, domain.NewMissingFieldError("transaction_id")
	}
	if req.RecipientID == "" {
		return nil, domain.NewMissingFieldError("recipient_id")
	}
	if req.RecipientType == "" {
		return nil, domain.NewMissingFieldError("recipient_type")
	}

	var (
		origin *domain.Transaction
		payout *domain.Transaction
	)
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		origin, err = s.ledger.GetByID(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}

		key := domain.DeriveIdempotencyKey(origin.ID, domain.OperationRelease, req.RecipientType, req.RecipientID)
		existing, err := s.ledger.GetByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			payout = existing
			duplicate = true
			return nil
		}

		amount := origin.Hold.RemainingBalance()
		if req.Amount != nil {
			amount = *req.Amount
		}

		now := timeutil.Now()
		payout = s.newPayout(origin, amount, key, domain.OperationRelease, req.RecipientID, req.RecipientType, req.Reason, now)

		expectedVersion := origin.Version
		if err := origin.AppendRelease(domain.ReleaseRecord{
			TransactionID: payout.ID,
			RecipientID:   req.RecipientID,
			RecipientType: req.RecipientType,
			Amount:        amount,
			Reason:        req.Reason,
			ReleasedAt:    now,
		}); err != nil {
			return err
		}

		// Updating the origin first makes the version check the gate for the
		// whole write set; a losing writer stops before inserting anything.
		if err := s.ledger.Update(ctx, tx, origin, expectedVersion); err != nil {
			return err
		}
		if err := s.ledger.Create(ctx, tx, payout); err != nil {
			return fmt.Errorf("failed to create payout transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("release failed",
			ports.String("transaction_id", req.TransactionID),
			ports.String("recipient_id", req.RecipientID),
			ports.Err(err))
		return nil, err
	}

	if duplicate {
		s.logger.Info("returning existing payout for idempotency key",
			ports.String("transaction_id", origin.ID),
			ports.String("payout_id", payout.ID))
		return &ReleaseResult{Transaction: origin, Payout: payout}, nil
	}

	s.publish(ctx, domain.EscrowReleasedEvent{
		TransactionID:        origin.ID,
		ReleaseTransactionID: payout.ID,
		RecipientID:          req.RecipientID,
		RecipientType:        req.RecipientType,
		Amount:               payout.Amount,
		RemainingBalance:     origin.Hold.RemainingBalance(),
		Final:                origin.Hold.Status == domain.HoldStatusReleased,
		At:                   origin.UpdatedAt,
	})
	s.logger.Info("release completed",
		ports.String("transaction_id", origin.ID),
		ports.String("payout_id", payout.ID),
		ports.String("amount", payout.Amount.String()),
		ports.String("remaining", origin.Hold.RemainingBalance().String()))
	return &ReleaseResult{Transaction: origin, Payout: payout}, nil
}

// Split disburses the entire held balance in one atomic operation:
// commission lines per the rules, then the organization remainder. It
// requires an intact hold, creates one expense row per recipient with a
// positive net, and closes the hold exactly because the release records
// carry gross amounts while the payout rows carry nets.
func (s *Service) Split(ctx context.Context, req SplitRequest) (res *SplitResult, err error) {
	defer func() {
		var amount float64
		currency := ""
		if err == nil && res != nil {
			amount, _ = res.Transaction.Hold.HeldAmount.Float64()
			currency = res.Transaction.Currency
		}
		observability.RecordEscrowOperation(opSplit, escrowStatus(err), amount, currency)
	}()

	if req.TransactionID == "" {
		return nil, domain.NewMissingFieldError("transaction_id")
	}
	if err := validateDistinctRecipients(req.Rules); err != nil {
		return nil, err
	}

	var (
		origin  *domain.Transaction
		payouts []*domain.Transaction
	)
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		origin, err = s.ledger.GetByID(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}
		if origin.Hold.Status != domain.HoldStatusHeld {
			return domain.NewDomainError(domain.ErrorCodeIllegalState, "split requires an intact hold").
				WithDetail("hold_status", string(origin.Hold.Status))
		}

		computed, err := splits.Calculate(origin.Hold.HeldAmount, req.Rules, req.GatewayFeeRate)
		if err != nil {
			return err
		}

		expectedVersion := origin.Version
		now := timeutil.Now()

		for i := range computed {
			line := &computed[i]
			if !line.GrossAmount.IsPositive() {
				line.Status = domain.SplitStatusWaived
				continue
			}

			var payoutID string
			if line.NetAmount.IsPositive() {
				key := domain.DeriveIdempotencyKey(origin.ID, domain.OperationSplit, string(line.Type), line.RecipientID)
				p := s.newPayout(origin, line.NetAmount, key, domain.OperationSplit, line.RecipientID, line.RecipientType, "", now)
				p.SetMetadata(domain.MetaSplitType, string(line.Type))
				payouts = append(payouts, p)
				payoutID = p.ID
				line.Status = domain.SplitStatusPaid
				line.PaidTransactionID = p.ID
				line.PaidAt = &now
			} else {
				// Fee consumed the whole share; the gross still leaves the hold.
				line.Status = domain.SplitStatusWaived
			}

			if err := origin.AppendRelease(domain.ReleaseRecord{
				TransactionID: payoutID,
				RecipientID:   line.RecipientID,
				RecipientType: line.RecipientType,
				Amount:        line.GrossAmount,
				Reason:        "split",
				ReleasedAt:    now,
			}); err != nil {
				return err
			}
		}

		if remainder := splits.OrganizationPayout(origin.Hold.HeldAmount, computed); remainder.IsPositive() {
			key := domain.DeriveIdempotencyKey(origin.ID, domain.OperationSplit, domain.RecipientTypeOrganization, origin.OrganizationID)
			p := s.newPayout(origin, remainder, key, domain.OperationSplit, origin.OrganizationID, domain.RecipientTypeOrganization, "", now)
			payouts = append(payouts, p)

			if err := origin.AppendRelease(domain.ReleaseRecord{
				TransactionID: p.ID,
				RecipientID:   origin.OrganizationID,
				RecipientType: domain.RecipientTypeOrganization,
				Amount:        remainder,
				Reason:        "split",
				ReleasedAt:    now,
			}); err != nil {
				return err
			}
		}

		origin.Splits = computed
		if err := s.ledger.Update(ctx, tx, origin, expectedVersion); err != nil {
			return err
		}
		for _, p := range payouts {
			if err := s.ledger.Create(ctx, tx, p); err != nil {
				return fmt.Errorf("failed to create split payout: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("split failed",
			ports.String("transaction_id", req.TransactionID),
			ports.Int("rules", len(req.Rules)),
			ports.Err(err))
		return nil, err
	}

	s.publish(ctx, domain.EscrowSplitEvent{
		TransactionID:    origin.ID,
		Recipients:       len(payouts),
		TotalReleased:    origin.Hold.ReleasedAmount,
		RemainingBalance: origin.Hold.RemainingBalance(),
		At:               origin.UpdatedAt,
	})
	s.logger.Info("split completed",
		ports.String("transaction_id", origin.ID),
		ports.Int("payouts", len(payouts)),
		ports.String("total_released", origin.Hold.ReleasedAmount.String()))
	return &SplitResult{Transaction: origin, Payouts: payouts}, nil
}

// Cancel voids an intact hold and cancels the transaction. Funds that were
// already partially released cannot be recalled; those holds can only be
// driven forward to full release.
func (s *Service) Cancel(ctx context.Context, transactionID, reason string) (txn *domain.Transaction, err error) {
	// Cancel moves no money, so only the operation outcome is recorded.
	defer func() {
		observability.RecordEscrowOperation(opCancel, escrowStatus(err), 0, "")
	}()

	if transactionID == "" {
		return nil, domain.NewMissingFieldError("transaction_id")
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.ledger.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		expectedVersion := txn.Version
		if err := txn.CancelHold(reason); err != nil {
			return err
		}
		return s.ledger.Update(ctx, tx, txn, expectedVersion)
	})
	if err != nil {
		s.logger.Error("cancel failed",
			ports.String("transaction_id", transactionID),
			ports.Err(err))
		return nil, err
	}

	s.publish(ctx, domain.EscrowCancelledEvent{
		TransactionID:    txn.ID,
		OrganizationID:   txn.OrganizationID,
		RemainingBalance: txn.Hold.RemainingBalance(),
		Reason:           reason,
		At:               txn.UpdatedAt,
	})
	s.logger.Info("hold cancelled",
		ports.String("transaction_id", txn.ID),
		ports.String("amount", txn.Hold.HeldAmount.String()))
	return txn, nil
}

// GetStatus returns the escrow projection of a transaction.
func (s *Service) GetStatus(ctx context.Context, transactionID string) (*Status, error) {
	if transactionID == "" {
		return nil, domain.NewMissingFieldError("transaction_id")
	}

	txn, err := s.ledger.GetByID(ctx, s.db.GetDB(), transactionID)
	if err != nil {
		return nil, err
	}
	return &Status{
		TransactionID: txn.ID,
		Status:        txn.Status,
		Hold:          txn.Hold,
		Splits:        txn.Splits,
		Version:       txn.Version,
	}, nil
}

// newPayout builds the expense row recording one disbursement. The origin's
// currency and reference carry over; the row is born completed because no
// provider leg is involved.
func (s *Service) newPayout(origin *domain.Transaction, amount decimal.Decimal, key, operation, recipientID, recipientType, reason string, now time.Time) *domain.Transaction {
	payout := &domain.Transaction{
		ID:             uuid.New().String(),
		OrganizationID: origin.OrganizationID,
		ReferenceID:    origin.ReferenceID,
		ReferenceModel: origin.ReferenceModel,
		Amount:         amount,
		Currency:       origin.Currency,
		Type:           domain.TypeExpense,
		Status:         domain.StatusCompleted,
		Gateway:        domain.GatewayDetails{Type: origin.Gateway.Type},
		RefundedAmount: decimal.Zero,
		Hold:           domain.NewHoldDetails(),
		IdempotencyKey: key,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	payout.SetMetadata(domain.MetaHeldTransactionID, origin.ID)
	payout.SetMetadata(domain.MetaOperation, operation)
	payout.SetMetadata(domain.MetaRecipientID, recipientID)
	payout.SetMetadata(domain.MetaRecipientType, recipientType)
	if reason != "" {
		payout.SetMetadata(domain.MetaReason, reason)
	}
	return payout
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

// validateDistinctRecipients rejects rule sets naming the same recipient
// twice under the same split type; the payout idempotency key could not tell
// the two lines apart.
func validateDistinctRecipients(rules []domain.SplitRule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		k := string(r.Type) + ":" + r.RecipientID
		if _, ok := seen[k]; ok {
			return domain.NewValidationError("rules", k, "duplicate split recipient")
		}
		seen[k] = struct{}{}
	}
	return nil
}
