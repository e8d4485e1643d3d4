package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	// dbPingBudget bounds the health-check ping so a wedged pool reports
	// unhealthy instead of hanging the probe.
	dbPingBudget = 2 * time.Second
)

// Pinger is the slice of a connection pool that health checks need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the JSON body served on the health endpoints.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker reports whether the service can do useful work. The ledger
// database is the only hard dependency: payment providers are checked per
// call and hook endpoints are best-effort, so neither gates health.
type HealthChecker struct {
	db Pinger
}

// NewHealthChecker builds a checker over the ledger pool. A nil db marks the
// database check as not configured without failing health, which keeps the
// endpoint usable in library-only test rigs.
func NewHealthChecker(db Pinger) *HealthChecker {
	return &HealthChecker{db: db}
}

// Check runs every probe and aggregates the result.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	checks := make(map[string]string)
	overall := statusHealthy

	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, dbPingBudget)
		defer cancel()

		if err := h.db.Ping(pingCtx); err != nil {
			checks["database"] = statusUnhealthy + ": " + err.Error()
			overall = statusUnhealthy
		} else {
			checks["database"] = statusHealthy
		}
	} else {
		checks["database"] = "not configured"
	}

	return HealthStatus{
		Status:    overall,
		Timestamp: timeutil.Now(),
		Checks:    checks,
	}
}

// Handler serves the check result, 503 when unhealthy so load balancers and
// Kubernetes probes can act on the status code alone.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status != statusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
