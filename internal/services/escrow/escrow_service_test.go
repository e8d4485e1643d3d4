package escrow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-service/internal/adapters/memory"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/services/escrow"
	"github.com/kevin07696/escrow-service/internal/testutil/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type testEnv struct {
	svc  *escrow.Service
	repo *memory.LedgerRepository
	pub  *mocks.MockPublisher
	log  *mocks.MockLogger
}

func newTestEnv() *testEnv {
	repo := memory.NewLedgerRepository()
	pub := mocks.NewMockPublisher()
	log := mocks.NewMockLogger()
	return &testEnv{
		svc:  escrow.NewService(mocks.NewMockDB(), repo, pub, log),
		repo: repo,
		pub:  pub,
		log:  log,
	}
}

func (e *testEnv) seedTransaction(t *testing.T, amount string, status domain.TransactionStatus) *domain.Transaction {
	t.Helper()
	txn := &domain.Transaction{
		ID:             uuid.New().String(),
		OrganizationID: "org_1",
		CustomerID:     "cust_1",
		Amount:         dec(amount),
		Currency:       "USD",
		Type:           domain.TypeIncome,
		Status:         status,
		Gateway: domain.GatewayDetails{
			Type:            "sandbox",
			PaymentIntentID: "pi_" + uuid.New().String(),
		},
		RefundedAmount: decimal.Zero,
		Hold:           domain.NewHoldDetails(),
	}
	require.NoError(t, e.repo.Create(context.Background(), nil, txn))
	return txn
}

func (e *testEnv) seedVerified(t *testing.T, amount string) *domain.Transaction {
	t.Helper()
	return e.seedTransaction(t, amount, domain.StatusVerified)
}

func (e *testEnv) seedHeld(t *testing.T, amount string) *domain.Transaction {
	t.Helper()
	txn := e.seedVerified(t, amount)
	held, err := e.svc.Hold(context.Background(), txn.ID, "order fulfillment")
	require.NoError(t, err)
	e.pub.Reset()
	return held
}

func TestService_Hold(t *testing.T) {
	ctx := context.Background()

	t.Run("holds_verified_transaction", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedVerified(t, "250.00")

		held, err := env.svc.Hold(ctx, txn.ID, "dispute window")
		require.NoError(t, err)
		assert.Equal(t, domain.HoldStatusHeld, held.Hold.Status)
		assert.True(t, held.Hold.HeldAmount.Equal(dec("250.00")))
		assert.Equal(t, "dispute window", held.Hold.Reason)
		assert.Equal(t, int64(2), held.Version)

		stored, err := env.repo.GetByID(ctx, nil, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HoldStatusHeld, stored.Hold.Status)

		names := env.pub.EventNames()
		require.Len(t, names, 1)
		assert.Equal(t, "escrow.held", names[0])
		evt := env.pub.Events()[0].(domain.EscrowHeldEvent)
		assert.Equal(t, txn.ID, evt.TransactionID)
		assert.True(t, evt.Amount.Equal(dec("250.00")))
	})

	t.Run("rejects_unverified_transaction", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedTransaction(t, "100", domain.StatusPending)

		_, err := env.svc.Hold(ctx, txn.ID, "")
		assert.True(t, domain.IsIllegalState(err))
		assert.Empty(t, env.pub.Events())
	})

	t.Run("rejects_double_hold", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100")

		_, err := env.svc.Hold(ctx, txn.ID, "")
		assert.True(t, domain.IsIllegalState(err))
	})

	t.Run("missing_transaction", func(t *testing.T) {
		env := newTestEnv()

		_, err := env.svc.Hold(ctx, "does-not-exist", "")
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("empty_id_rejected", func(t *testing.T) {
		env := newTestEnv()

		_, err := env.svc.Hold(ctx, "", "")
		assert.True(t, domain.IsValidation(err))
	})
}

func TestService_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("partial_release_keeps_hold_open", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		res, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_9",
			RecipientType: domain.RecipientTypeAffiliate,
			Reason:        "commission",
			Amount:        decPtr("30.00"),
		})
		require.NoError(t, err)

		assert.Equal(t, domain.HoldStatusPartiallyReleased, res.Transaction.Hold.Status)
		assert.True(t, res.Transaction.Hold.RemainingBalance().Equal(dec("70.00")))
		assert.Equal(t, domain.StatusVerified, res.Transaction.Status)

		require.NotNil(t, res.Payout)
		assert.Equal(t, domain.TypeExpense, res.Payout.Type)
		assert.Equal(t, domain.StatusCompleted, res.Payout.Status)
		assert.True(t, res.Payout.Amount.Equal(dec("30.00")))
		assert.Equal(t, txn.ID, res.Payout.GetMetadata(domain.MetaHeldTransactionID))
		assert.Equal(t, "aff_9", res.Payout.GetMetadata(domain.MetaRecipientID))

		require.Len(t, res.Transaction.Hold.Releases, 1)
		assert.Equal(t, res.Payout.ID, res.Transaction.Hold.Releases[0].TransactionID)

		stored, err := env.repo.GetByID(ctx, nil, res.Payout.ID)
		require.NoError(t, err)
		assert.True(t, stored.Amount.Equal(dec("30.00")))

		evt := env.pub.Events()[0].(domain.EscrowReleasedEvent)
		assert.False(t, evt.Final)
		assert.True(t, evt.RemainingBalance.Equal(dec("70.00")))
	})

	t.Run("default_amount_releases_remaining_and_completes", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		res, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "org_1",
			RecipientType: domain.RecipientTypeOrganization,
		})
		require.NoError(t, err)

		assert.Equal(t, domain.HoldStatusReleased, res.Transaction.Hold.Status)
		assert.Equal(t, domain.StatusCompleted, res.Transaction.Status)
		assert.True(t, res.Payout.Amount.Equal(dec("100.00")))
		assert.NotNil(t, res.Transaction.Hold.ClosedAt)

		evt := env.pub.Events()[0].(domain.EscrowReleasedEvent)
		assert.True(t, evt.Final)
		assert.True(t, evt.RemainingBalance.IsZero())
	})

	t.Run("exceeding_remaining_rejected_without_side_effects", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_9",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("130.00"),
		})
		assert.True(t, domain.IsValidation(err))

		stored, err := env.repo.GetByID(ctx, nil, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.HoldStatusHeld, stored.Hold.Status)
		assert.Equal(t, int64(2), stored.Version)
		assert.Equal(t, 1, env.repo.Len(), "no payout row may exist")
		assert.Empty(t, env.pub.Events())
	})

	t.Run("zero_amount_rejected", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_9",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("0"),
		})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("retry_returns_existing_payout", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		first, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_9",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("30.00"),
		})
		require.NoError(t, err)

		retry, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_9",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("30.00"),
		})
		require.NoError(t, err)

		assert.Equal(t, first.Payout.ID, retry.Payout.ID)
		assert.Equal(t, 2, env.repo.Len(), "retry must not add rows")

		stored, err := env.repo.GetByID(ctx, nil, txn.ID)
		require.NoError(t, err)
		require.Len(t, stored.Hold.Releases, 1)
		assert.True(t, stored.Hold.RemainingBalance().Equal(dec("70.00")))

		names := env.pub.EventNames()
		assert.Equal(t, []string{"escrow.released"}, names, "duplicate must not publish")
	})

	t.Run("sequential_releases_to_different_recipients", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_1",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("30.00"),
		})
		require.NoError(t, err)

		res, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "org_1",
			RecipientType: domain.RecipientTypeOrganization,
		})
		require.NoError(t, err)

		assert.Equal(t, domain.HoldStatusReleased, res.Transaction.Hold.Status)
		assert.Equal(t, domain.StatusCompleted, res.Transaction.Status)
		assert.True(t, res.Payout.Amount.Equal(dec("70.00")))
		require.Len(t, res.Transaction.Hold.Releases, 2)
	})

	t.Run("missing_recipient_rejected", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{TransactionID: txn.ID})
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("rejects_without_hold", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedVerified(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "org_1",
			RecipientType: domain.RecipientTypeOrganization,
		})
		assert.True(t, domain.IsIllegalState(err))
	})
}

// TestService_Release_ConcurrentCallers races callers releasing the full
// balance to distinct recipients. The conditional update must let exactly
// one disbursement through.
func TestService_Release_ConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	txn := env.seedHeld(t, "500.00")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
				TransactionID: txn.ID,
				RecipientID:   fmt.Sprintf("rcpt_%d", n),
				RecipientType: domain.RecipientTypePartner,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	stored, err := env.repo.GetByID(ctx, nil, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldStatusReleased, stored.Hold.Status)
	assert.True(t, stored.Hold.ReleasedAmount.Equal(dec("500.00")))
	require.Len(t, stored.Hold.Releases, 1)
	assert.Equal(t, 2, env.repo.Len(), "exactly one payout row")
}

func TestService_Split(t *testing.T) {
	ctx := context.Background()

	t.Run("distributes_commissions_and_remainder", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "1000.00")

		res, err := env.svc.Split(ctx, escrow.SplitRequest{
			TransactionID: txn.ID,
			Rules: []domain.SplitRule{
				{Type: domain.SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.10")},
				{Type: domain.SplitTypeAffiliate, RecipientID: "aff_1", Rate: dec("0.05")},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, domain.StatusCompleted, res.Transaction.Status)
		assert.Equal(t, domain.HoldStatusReleased, res.Transaction.Hold.Status)
		assert.True(t, res.Transaction.Hold.RemainingBalance().IsZero())

		require.Len(t, res.Payouts, 3)
		assert.True(t, res.Payouts[0].Amount.Equal(dec("100")))
		assert.True(t, res.Payouts[1].Amount.Equal(dec("50")))
		assert.True(t, res.Payouts[2].Amount.Equal(dec("850")))
		assert.Equal(t, "org_1", res.Payouts[2].GetMetadata(domain.MetaRecipientID))
		assert.Equal(t, domain.RecipientTypeOrganization, res.Payouts[2].GetMetadata(domain.MetaRecipientType))

		require.Len(t, res.Transaction.Splits, 2)
		for _, line := range res.Transaction.Splits {
			assert.Equal(t, domain.SplitStatusPaid, line.Status)
			assert.NotEmpty(t, line.PaidTransactionID)
			assert.NotNil(t, line.PaidAt)
		}

		require.Len(t, res.Transaction.Hold.Releases, 3)
		total := decimal.Zero
		for _, rec := range res.Transaction.Hold.Releases {
			total = total.Add(rec.Amount)
		}
		assert.True(t, total.Equal(dec("1000.00")), "releases must account for the full hold, got %s", total)

		names := env.pub.EventNames()
		require.Equal(t, []string{"escrow.split"}, names)
		evt := env.pub.Events()[0].(domain.EscrowSplitEvent)
		assert.Equal(t, 3, evt.Recipients)
		assert.True(t, evt.TotalReleased.Equal(dec("1000.00")))
	})

	t.Run("gateway_fee_reduces_first_recipient_net", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		res, err := env.svc.Split(ctx, escrow.SplitRequest{
			TransactionID: txn.ID,
			Rules: []domain.SplitRule{
				{Type: domain.SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.10")},
			},
			GatewayFeeRate: dec("0.029"),
		})
		require.NoError(t, err)

		require.Len(t, res.Transaction.Splits, 1)
		line := res.Transaction.Splits[0]
		assert.True(t, line.GrossAmount.Equal(dec("10")))
		assert.True(t, line.GatewayFeeAmount.Equal(dec("2.90")))
		assert.True(t, line.NetAmount.Equal(dec("7.10")))

		require.Len(t, res.Payouts, 2)
		assert.True(t, res.Payouts[0].Amount.Equal(dec("7.10")), "payout carries net, not gross")
		assert.True(t, res.Payouts[1].Amount.Equal(dec("90")))

		assert.Equal(t, domain.HoldStatusReleased, res.Transaction.Hold.Status)
	})

	t.Run("fee_swallowing_share_waives_line_but_releases_gross", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		res, err := env.svc.Split(ctx, escrow.SplitRequest{
			TransactionID: txn.ID,
			Rules: []domain.SplitRule{
				{Type: domain.SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.02")},
			},
			GatewayFeeRate: dec("0.05"),
		})
		require.NoError(t, err)

		line := res.Transaction.Splits[0]
		assert.Equal(t, domain.SplitStatusWaived, line.Status)
		assert.Empty(t, line.PaidTransactionID)

		// Only the organization got a payout row; the waived gross still
		// left the hold.
		require.Len(t, res.Payouts, 1)
		assert.True(t, res.Payouts[0].Amount.Equal(dec("98")))
		require.Len(t, res.Transaction.Hold.Releases, 2)
		assert.Equal(t, domain.HoldStatusReleased, res.Transaction.Hold.Status)
	})

	t.Run("empty_rules_send_everything_to_organization", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		res, err := env.svc.Split(ctx, escrow.SplitRequest{TransactionID: txn.ID})
		require.NoError(t, err)

		require.Len(t, res.Payouts, 1)
		assert.True(t, res.Payouts[0].Amount.Equal(dec("100.00")))
		assert.Equal(t, domain.StatusCompleted, res.Transaction.Status)
		assert.Empty(t, res.Transaction.Splits)
	})

	t.Run("zero_rate_line_waived_without_release", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		res, err := env.svc.Split(ctx, escrow.SplitRequest{
			TransactionID: txn.ID,
			Rules: []domain.SplitRule{
				{Type: domain.SplitTypeAffiliate, RecipientID: "aff_1", Rate: dec("0")},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, domain.SplitStatusWaived, res.Transaction.Splits[0].Status)
		require.Len(t, res.Transaction.Hold.Releases, 1, "zero gross adds no release record")
		require.Len(t, res.Payouts, 1)
	})

	t.Run("requires_intact_hold", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_1",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("10.00"),
		})
		require.NoError(t, err)

		_, err = env.svc.Split(ctx, escrow.SplitRequest{
			TransactionID: txn.ID,
			Rules: []domain.SplitRule{
				{Type: domain.SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.10")},
			},
		})
		assert.True(t, domain.IsIllegalState(err))
	})

	t.Run("requires_hold_at_all", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedVerified(t, "100.00")

		_, err := env.svc.Split(ctx, escrow.SplitRequest{TransactionID: txn.ID})
		assert.True(t, domain.IsIllegalState(err))
	})

	t.Run("duplicate_recipients_rejected", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Split(ctx, escrow.SplitRequest{
			TransactionID: txn.ID,
			Rules: []domain.SplitRule{
				{Type: domain.SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.10")},
				{Type: domain.SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.05")},
			},
		})
		assert.True(t, domain.IsValidation(err))

		stored, err := env.repo.GetByID(ctx, nil, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
		assert.Empty(t, env.pub.Events())
	})

	t.Run("rules_over_hundred_percent_rejected", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Split(ctx, escrow.SplitRequest{
			TransactionID: txn.ID,
			Rules: []domain.SplitRule{
				{Type: domain.SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.70")},
				{Type: domain.SplitTypeAffiliate, RecipientID: "aff_1", Rate: dec("0.50")},
			},
		})
		assert.True(t, domain.IsValidation(err))
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels_intact_hold", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		cancelled, err := env.svc.Cancel(ctx, txn.ID, "buyer backed out")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, cancelled.Status)
		assert.Equal(t, domain.HoldStatusCancelled, cancelled.Hold.Status)
		assert.NotNil(t, cancelled.Hold.ClosedAt)

		names := env.pub.EventNames()
		require.Equal(t, []string{"escrow.cancelled"}, names)
		evt := env.pub.Events()[0].(domain.EscrowCancelledEvent)
		assert.True(t, evt.RemainingBalance.Equal(dec("100.00")))
		assert.Equal(t, "buyer backed out", evt.Reason)
	})

	t.Run("rejected_after_partial_release", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_1",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("10.00"),
		})
		require.NoError(t, err)

		_, err = env.svc.Cancel(ctx, txn.ID, "")
		assert.True(t, domain.IsIllegalState(err))
	})

	t.Run("rejected_without_hold", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedVerified(t, "100.00")

		_, err := env.svc.Cancel(ctx, txn.ID, "")
		assert.True(t, domain.IsIllegalState(err))
	})
}

func TestService_GetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("projects_hold_and_splits", func(t *testing.T) {
		env := newTestEnv()
		txn := env.seedHeld(t, "100.00")

		_, err := env.svc.Release(ctx, escrow.ReleaseRequest{
			TransactionID: txn.ID,
			RecipientID:   "aff_1",
			RecipientType: domain.RecipientTypeAffiliate,
			Amount:        decPtr("25.00"),
		})
		require.NoError(t, err)

		status, err := env.svc.GetStatus(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, txn.ID, status.TransactionID)
		assert.Equal(t, domain.StatusVerified, status.Status)
		assert.Equal(t, domain.HoldStatusPartiallyReleased, status.Hold.Status)
		assert.True(t, status.Hold.ReleasedAmount.Equal(dec("25.00")))
		assert.Equal(t, int64(3), status.Version)
	})

	t.Run("missing_transaction", func(t *testing.T) {
		env := newTestEnv()

		_, err := env.svc.GetStatus(ctx, "does-not-exist")
		assert.True(t, domain.IsNotFound(err))
	})
}
