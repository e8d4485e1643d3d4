package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kevin07696/escrow-service/internal/config"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/settlement"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/kevin07696/escrow-service/pkg/shutdown"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

// Audit value recorded on rows the sweep verifies.
const verifiedByReconciler = "reconciler"

// startReconciler launches the periodic sweep that re-verifies payments stuck
// in payment_initiated. A payment lands there when the provider accepted the
// intent but neither a webhook nor a manual verification ever settled it,
// typically after a crash or a dropped notification.
func startReconciler(cfg config.ReconcilerConfig, svc *settlement.Service, zapLogger *zap.Logger, logger ports.Logger) *shutdown.PeriodicWorker {
	worker := shutdown.NewPeriodicWorker("settlement-reconciler", cfg.Interval, zapLogger)
	timeouts := resilience.DefaultTimeoutConfig()

	worker.Start(func(ctx context.Context) {
		sweepCtx, cancel := timeouts.SweepContext(ctx)
		defer cancel()
		reconcileStalePayments(sweepCtx, svc, cfg, timeouts, logger)
	})

	logger.Info("settlement reconciler started",
		ports.Duration("interval", cfg.Interval),
		ports.Duration("stale_after", cfg.StaleAfter))
	return worker
}

// reconcileStalePayments runs one sweep. Verification is idempotent and
// version guarded, so racing a late webhook or a manual call is safe: one of
// them wins, the others observe ALREADY_PROCESSED.
func reconcileStalePayments(ctx context.Context, svc *settlement.Service, cfg config.ReconcilerConfig, timeouts *resilience.TimeoutConfig, logger ports.Logger) {
	candidates, _, err := svc.List(ctx, ports.ListTransactionsFilter{
		Status: domain.StatusPaymentInitiated,
		Limit:  cfg.BatchSize,
	})
	if err != nil {
		logger.Error("reconciler listing failed", ports.Err(err))
		return
	}

	cutoff := timeutil.Cutoff(cfg.StaleAfter)
	var verified, settling, failed int
	for _, txn := range candidates {
		if txn.UpdatedAt.After(cutoff) {
			continue
		}
		if txn.Gateway.PaymentIntentID == "" {
			continue
		}

		callCtx, cancel := timeouts.ProviderContext(ctx)
		_, err := svc.Verify(callCtx, txn.Gateway.PaymentIntentID, settlement.VerifyOptions{
			VerifiedBy: verifiedByReconciler,
		})
		cancel()

		switch {
		case err == nil:
			verified++
		case domain.IsDomainError(err, domain.ErrorCodeAlreadyProcessed):
			// Settled between the listing and the call.
		case isStillSettling(err):
			settling++
		default:
			// Includes payments the provider declined; Verify already moved
			// those rows to failed.
			failed++
			logger.Warn("reconciler verification failed",
				ports.String("transaction_id", txn.ID),
				ports.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	if len(candidates) > 0 {
		logger.Info("reconciliation sweep finished",
			ports.Int("candidates", len(candidates)),
			ports.Int("verified", verified),
			ports.Int("still_settling", settling),
			ports.Int("failed", failed))
	}
}

// isStillSettling reports whether the provider said the payment is in
// flight, which the next sweep retries without touching the row.
func isStillSettling(err error) bool {
	var derr *domain.DomainError
	return errors.As(err, &derr) && derr.Code == domain.ErrorCodeProviderError && derr.Retryable
}
