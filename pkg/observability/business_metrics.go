package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Settlement pipeline metrics
	settlementOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_operations_total",
		Help: "Total settlement pipeline operations",
	}, []string{
		"operation",    // initiate, verify, refund, webhook
		"gateway_type", // provider registry key
		"status",       // succeeded, failed, rejected, already_processed
	})

	settlementAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_amount_total",
		Help: "Sum of amounts moved by settlement operations, in currency units",
	}, []string{
		"operation",
		"currency",
	})

	settlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_operation_duration_seconds",
		Help:    "End-to-end duration of settlement operations",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"operation",
		"status",
	})

	// Escrow state machine metrics
	escrowOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_total",
		Help: "Total escrow operations",
	}, []string{
		"operation", // hold, release, split, cancel
		"status",    // succeeded, rejected, conflict
	})

	escrowAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_amount_total",
		Help: "Sum of amounts held or disbursed by escrow operations, in currency units",
	}, []string{
		"operation",
		"currency",
	})

	// Hook delivery metrics
	hookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hook_deliveries_total",
		Help: "Total webhook delivery outcomes",
	}, []string{
		"endpoint",
		"event_type",
		"status", // delivered, abandoned, dropped
	})

	hookDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hook_delivery_duration_seconds",
		Help:    "Time from dequeue to delivery outcome, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{
		"endpoint",
	})
)

// Hook delivery outcomes recorded by the dispatcher.
const (
	HookDelivered = "delivered"
	HookAbandoned = "abandoned"
	HookDropped   = "dropped"
)

// RecordSettlementOperation records one settlement pipeline outcome. Amount
// contributes to the volume counter only when positive; callers pass zero for
// rejected operations so revenue counters stay truthful.
func RecordSettlementOperation(operation, gatewayType, status string, amount float64, currency string, seconds float64) {
	settlementOperationsTotal.WithLabelValues(operation, gatewayType, status).Inc()
	settlementDuration.WithLabelValues(operation, status).Observe(seconds)
	if amount > 0 {
		settlementAmountTotal.WithLabelValues(operation, currency).Add(amount)
	}
}

// RecordEscrowOperation records one escrow state machine outcome.
func RecordEscrowOperation(operation, status string, amount float64, currency string) {
	escrowOperationsTotal.WithLabelValues(operation, status).Inc()
	if amount > 0 {
		escrowAmountTotal.WithLabelValues(operation, currency).Add(amount)
	}
}

// RecordHookDelivery records one webhook delivery outcome.
func RecordHookDelivery(endpoint, eventType, status string, seconds float64) {
	hookDeliveriesTotal.WithLabelValues(endpoint, eventType, status).Inc()
	if status != HookDropped {
		hookDeliveryDuration.WithLabelValues(endpoint).Observe(seconds)
	}
}
