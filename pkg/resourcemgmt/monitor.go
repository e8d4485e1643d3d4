// Package resourcemgmt watches process-level resource usage. The only
// monitor today is goroutine growth: settlement load holds the count roughly
// flat, so sustained growth above the startup baseline usually means a
// leaked worker or an abandoned provider call.
package resourcemgmt

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	goroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goroutines_count",
		Help: "Current number of goroutines in the process",
	})

	goroutineLeaksDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goroutine_leaks_detected_total",
		Help: "Total number of checks where goroutine growth exceeded the threshold",
	})
)

// MonitorConfig tunes the goroutine monitor.
type MonitorConfig struct {
	// CheckInterval is how often the goroutine count is sampled.
	CheckInterval time.Duration
	// LeakThreshold is how far above the startup baseline the count may
	// grow before a check is flagged as a suspected leak.
	LeakThreshold int
}

// DefaultMonitorConfig samples every 30 seconds and tolerates 100 goroutines
// of growth, which leaves headroom for the hook worker pool plus transient
// pgx and HTTP client internals.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		CheckInterval: 30 * time.Second,
		LeakThreshold: 100,
	}
}

// GoroutineMonitor compares the live goroutine count against a baseline
// captured at construction, so build it after the long-lived pools have
// started or accept the pools being counted as growth.
type GoroutineMonitor struct {
	logger    *zap.Logger
	baseline  int
	peak      int
	interval  time.Duration
	threshold int
}

// NewGoroutineMonitor captures the current goroutine count as the baseline.
// A nil cfg takes DefaultMonitorConfig.
func NewGoroutineMonitor(logger *zap.Logger, cfg *MonitorConfig) *GoroutineMonitor {
	if cfg == nil {
		cfg = DefaultMonitorConfig()
	}

	baseline := runtime.NumGoroutine()
	logger.Info("goroutine monitor initialized",
		zap.Int("baseline", baseline),
		zap.Duration("check_interval", cfg.CheckInterval),
		zap.Int("leak_threshold", cfg.LeakThreshold),
	)

	return &GoroutineMonitor{
		logger:    logger,
		baseline:  baseline,
		peak:      baseline,
		interval:  cfg.CheckInterval,
		threshold: cfg.LeakThreshold,
	}
}

// Run samples the goroutine count on the configured interval until ctx is
// cancelled.
func (m *GoroutineMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("goroutine monitor stopped",
				zap.Int("baseline", m.baseline),
				zap.Int("peak", m.peak),
			)
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check samples the goroutine count once, updates the gauge, and reports
// growth beyond the threshold. Not safe for concurrent use; Run is the only
// production caller.
func (m *GoroutineMonitor) Check() {
	current := runtime.NumGoroutine()
	goroutineCount.Set(float64(current))

	if current > m.peak {
		m.peak = current
	}

	growth := current - m.baseline
	if growth > m.threshold {
		goroutineLeaksDetected.Inc()
		m.logger.Warn("goroutine count exceeds leak threshold",
			zap.Int("current", current),
			zap.Int("baseline", m.baseline),
			zap.Int("growth", growth),
			zap.Int("threshold", m.threshold),
			zap.Int("peak", m.peak),
		)
		return
	}

	m.logger.Debug("goroutine count sampled",
		zap.Int("current", current),
		zap.Int("growth", growth),
	)
}
