// Package shutdown coordinates orderly teardown of the service. Components
// register in startup order and stop one at a time in reverse, so producers
// stop before the queues they feed and servers close before the pool under
// them.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time taken to shut down gracefully",
		Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
	})

	componentShutdownDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "component_shutdown_duration_seconds",
		Help:    "Time taken to shut down individual components",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 20, 25, 30},
	}, []string{"component"})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Total number of shutdown errors by component",
	}, []string{"component"})
)

// StopFunc tears one component down. It must return once the component has
// stopped or the context expires, whichever comes first.
type StopFunc func(context.Context) error

type component struct {
	name string
	stop StopFunc
}

// Manager stops registered components in reverse registration order, each in
// turn, under a single deadline. Register producers before consumers: the
// reconciler before the dispatcher it feeds, the dispatcher before the
// metrics server reporting on it.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	components []component
	stopped    bool
}

// NewManager returns a manager that allows timeout for the whole teardown.
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a component. Later registrations stop earlier.
func (m *Manager) Register(name string, stop StopFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components = append(m.components, component{name: name, stop: stop})

	m.logger.Debug("registered shutdown component",
		zap.String("component", name),
		zap.Int("position", len(m.components)),
	)
}

// RegisterHTTPServer registers anything with an http.Server style
// Shutdown(ctx) method.
func (m *Manager) RegisterHTTPServer(name string, server interface {
	Shutdown(context.Context) error
}) {
	m.Register(name, server.Shutdown)
}

// RegisterNoErr registers a stop function that cannot fail, such as a
// context cancel.
func (m *Manager) RegisterNoErr(name string, stop func()) {
	m.Register(name, func(context.Context) error {
		stop()
		return nil
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM arrives, then runs Shutdown.
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	m.logger.Info("shutdown signal received",
		zap.String("signal", sig.String()),
		zap.Duration("timeout", m.timeout),
	)

	m.Shutdown()
}

// Shutdown stops every registered component, newest first, sharing one
// deadline across all of them. A component that overruns eats into the time
// left for the ones after it; once the deadline passes the remaining stop
// functions still run, with an already-expired context, so close-style
// teardown is not skipped. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	components := make([]component, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("starting graceful shutdown",
		zap.Int("components", len(components)),
		zap.Duration("timeout", m.timeout),
	)

	var failures int
	for i := len(components) - 1; i >= 0; i-- {
		if m.stopComponent(ctx, components[i]) != nil {
			failures++
		}
	}

	elapsed := time.Since(start)
	shutdownDuration.Observe(elapsed.Seconds())

	if failures > 0 {
		m.logger.Error("graceful shutdown finished with errors",
			zap.Int("failed", failures),
			zap.Duration("elapsed", elapsed),
		)
		return
	}
	m.logger.Info("graceful shutdown complete", zap.Duration("elapsed", elapsed))
}

func (m *Manager) stopComponent(ctx context.Context, c component) error {
	start := time.Now()
	m.logger.Info("stopping component", zap.String("component", c.name))

	err := c.stop(ctx)
	elapsed := time.Since(start)
	componentShutdownDuration.WithLabelValues(c.name).Observe(elapsed.Seconds())

	if err != nil {
		shutdownErrors.WithLabelValues(c.name).Inc()
		m.logger.Error("component shutdown failed",
			zap.String("component", c.name),
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
		)
		return err
	}

	m.logger.Info("component stopped",
		zap.String("component", c.name),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}
