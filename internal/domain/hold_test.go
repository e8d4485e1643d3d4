package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTransaction_BeginHold covers placing funds in escrow.
func TestTransaction_BeginHold(t *testing.T) {
	t.Run("verified_transaction_holds_full_amount", func(t *testing.T) {
		tx := verifiedTransaction("250")
		err := tx.BeginHold("marketplace order")
		require.NoError(t, err)
		assert.Equal(t, HoldStatusHeld, tx.Hold.Status)
		assert.True(t, tx.Hold.HeldAmount.Equal(dec("250")))
		assert.True(t, tx.Hold.ReleasedAmount.IsZero())
		assert.True(t, tx.Hold.RemainingBalance().Equal(dec("250")))
		assert.NotNil(t, tx.Hold.HeldAt)
		assert.Equal(t, "marketplace order", tx.Hold.Reason)
		assert.Equal(t, StatusVerified, tx.Status)
	})

	t.Run("pending_transaction_rejected", func(t *testing.T) {
		tx := verifiedTransaction("250")
		tx.Status = StatusPending
		err := tx.BeginHold("")
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
	})

	t.Run("double_hold_rejected", func(t *testing.T) {
		tx := verifiedTransaction("250")
		require.NoError(t, tx.BeginHold(""))
		err := tx.BeginHold("")
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
	})

	t.Run("cancelled_hold_cannot_be_reopened", func(t *testing.T) {
		tx := verifiedTransaction("250")
		require.NoError(t, tx.BeginHold(""))
		require.NoError(t, tx.CancelHold("buyer backed out"))
		err := tx.BeginHold("")
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
	})
}

// TestTransaction_AppendRelease covers partial and final disbursements.
func TestTransaction_AppendRelease(t *testing.T) {
	release := func(amount, recipient string) ReleaseRecord {
		return ReleaseRecord{
			TransactionID: "txn_rel_" + recipient,
			RecipientID:   recipient,
			RecipientType: RecipientTypeOrganization,
			Amount:        dec(amount),
			ReleasedAt:    time.Now(),
		}
	}

	t.Run("partial_release_keeps_hold_open", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))

		err := tx.AppendRelease(release("30", "org_1"))
		require.NoError(t, err)
		assert.Equal(t, HoldStatusPartiallyReleased, tx.Hold.Status)
		assert.True(t, tx.Hold.RemainingBalance().Equal(dec("70")))
		assert.Len(t, tx.Hold.Releases, 1)
		assert.Equal(t, StatusVerified, tx.Status)
	})

	t.Run("final_release_closes_hold_and_completes_transaction", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))

		require.NoError(t, tx.AppendRelease(release("60", "org_1")))
		require.NoError(t, tx.AppendRelease(release("40", "aff_1")))

		assert.Equal(t, HoldStatusReleased, tx.Hold.Status)
		assert.True(t, tx.Hold.RemainingBalance().IsZero())
		assert.Equal(t, StatusCompleted, tx.Status)
		assert.NotNil(t, tx.Hold.ClosedAt)
		assert.Len(t, tx.Hold.Releases, 2)
	})

	t.Run("release_exceeding_balance_rejected", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))
		require.NoError(t, tx.AppendRelease(release("80", "org_1")))

		err := tx.AppendRelease(release("30", "org_1"))
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.True(t, tx.Hold.RemainingBalance().Equal(dec("20")))
	})

	t.Run("zero_release_rejected", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))
		err := tx.AppendRelease(release("0", "org_1"))
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("release_without_hold_rejected", func(t *testing.T) {
		tx := verifiedTransaction("100")
		err := tx.AppendRelease(release("10", "org_1"))
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
	})

	t.Run("release_after_full_release_rejected", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))
		require.NoError(t, tx.AppendRelease(release("100", "org_1")))

		err := tx.AppendRelease(release("1", "org_1"))
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
	})
}

// TestTransaction_CancelHold covers voiding escrow before payout.
func TestTransaction_CancelHold(t *testing.T) {
	t.Run("active_hold_cancelled", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))

		err := tx.CancelHold("order cancelled")
		require.NoError(t, err)
		assert.Equal(t, HoldStatusCancelled, tx.Hold.Status)
		assert.Equal(t, StatusCancelled, tx.Status)
		assert.NotNil(t, tx.Hold.ClosedAt)
		assert.Equal(t, "order cancelled", tx.Hold.Reason)
	})

	t.Run("partially_released_hold_rejected", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))
		require.NoError(t, tx.AppendRelease(ReleaseRecord{
			TransactionID: "txn_rel_1",
			RecipientID:   "org_1",
			RecipientType: RecipientTypeOrganization,
			Amount:        dec("25"),
			ReleasedAt:    time.Now(),
		}))

		err := tx.CancelHold("")
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
		assert.Equal(t, HoldStatusPartiallyReleased, tx.Hold.Status)
	})

	t.Run("no_hold_rejected", func(t *testing.T) {
		tx := verifiedTransaction("100")
		err := tx.CancelHold("")
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
	})

	t.Run("released_hold_rejected", func(t *testing.T) {
		tx := verifiedTransaction("100")
		require.NoError(t, tx.BeginHold(""))
		require.NoError(t, tx.AppendRelease(ReleaseRecord{
			TransactionID: "txn_rel_1",
			RecipientID:   "org_1",
			RecipientType: RecipientTypeOrganization,
			Amount:        dec("100"),
			ReleasedAt:    time.Now(),
		}))

		err := tx.CancelHold("")
		require.Error(t, err)
		assert.True(t, IsIllegalState(err))
	})
}

// TestTransaction_CanHold checks hold preconditions.
func TestTransaction_CanHold(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Transaction)
		expected bool
	}{
		{"verified_without_hold", func(tx *Transaction) {}, true},
		{"pending_rejected", func(tx *Transaction) { tx.Status = StatusPending }, false},
		{"completed_rejected", func(tx *Transaction) { tx.Status = StatusCompleted }, false},
		{"existing_hold_rejected", func(tx *Transaction) { tx.Hold.Status = HoldStatusHeld }, false},
		{"cancelled_hold_rejected", func(tx *Transaction) { tx.Hold.Status = HoldStatusCancelled }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := verifiedTransaction("100")
			tt.mutate(tx)
			assert.Equal(t, tt.expected, tx.CanHold())
		})
	}
}

// TestValidateSplitRules checks per-rule and aggregate validation.
func TestValidateSplitRules(t *testing.T) {
	tests := []struct {
		name      string
		rules     []SplitRule
		expectErr bool
	}{
		{
			name: "valid_rules",
			rules: []SplitRule{
				{Type: SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.10")},
				{Type: SplitTypeAffiliate, RecipientID: "aff_1", Rate: dec("0.05")},
			},
			expectErr: false,
		},
		{
			name:      "empty_rules_valid",
			rules:     nil,
			expectErr: false,
		},
		{
			name: "rate_above_one_rejected",
			rules: []SplitRule{
				{Type: SplitTypePlatform, RecipientID: "plat_1", Rate: dec("1.5")},
			},
			expectErr: true,
		},
		{
			name: "negative_rate_rejected",
			rules: []SplitRule{
				{Type: SplitTypeAffiliate, RecipientID: "aff_1", Rate: dec("-0.05")},
			},
			expectErr: true,
		},
		{
			name: "missing_type_rejected",
			rules: []SplitRule{
				{RecipientID: "aff_1", Rate: dec("0.05")},
			},
			expectErr: true,
		},
		{
			name: "combined_rates_over_one_rejected",
			rules: []SplitRule{
				{Type: SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.60")},
				{Type: SplitTypeAffiliate, RecipientID: "aff_1", Rate: dec("0.50")},
			},
			expectErr: true,
		},
		{
			name: "combined_rates_exactly_one_valid",
			rules: []SplitRule{
				{Type: SplitTypePlatform, RecipientID: "plat_1", Rate: dec("0.60")},
				{Type: SplitTypePartner, RecipientID: "part_1", Rate: dec("0.40")},
			},
			expectErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSplitRules(tt.rules)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}
