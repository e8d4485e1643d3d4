// Package hooks delivers committed domain events to subscriber endpoints as
// signed JSON webhooks. Delivery is asynchronous and best-effort: events are
// queued to a bounded channel and pushed by a fixed worker pool, each
// endpoint is rate limited, and failed deliveries are retried with
// exponential backoff before being dropped. A slow or broken endpoint can
// never stall or fail the operation that produced the event.
package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/events"
	"github.com/kevin07696/escrow-service/pkg/encoding"
	pkghttp "github.com/kevin07696/escrow-service/pkg/http"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"golang.org/x/time/rate"
)

// Delivery headers. The signature is an HMAC-SHA256 hex digest of the raw
// request body keyed by the endpoint secret.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventType = "X-Webhook-Event-Type"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderDelivery  = "X-Webhook-Delivery"
)

const (
	defaultWorkers       = 4
	defaultQueueSize     = 256
	defaultMaxAttempts   = 5
	defaultRatePerSecond = 10
	defaultBurst         = 20
)

// Endpoint is one webhook subscriber.
type Endpoint struct {
	// ID identifies the endpoint in logs. Defaults to the URL.
	ID string
	// URL receives POSTed event payloads.
	URL string
	// Secret keys the HMAC signature.
	Secret string
	// Events filters which event names are delivered. Empty means all.
	Events []string
	// RatePerSecond and Burst bound the delivery rate to this endpoint.
	RatePerSecond float64
	Burst         int
}

// Config tunes the dispatcher. Zero values take defaults.
type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	RequestTimeout time.Duration
	// Backoff sets the delay between retry attempts. Defaults to the
	// webhook-tuned exponential backoff.
	Backoff resilience.BackoffStrategy
}

// envelope is the JSON body delivered to endpoints.
type envelope struct {
	EventType string      `json:"event_type"`
	Data      ports.Event `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// delivery is one endpoint-bound payload in the queue.
type delivery struct {
	id        string
	endpoint  Endpoint
	eventType string
	payload   []byte
}

// Dispatcher fans committed domain events out to webhook endpoints.
type Dispatcher struct {
	cfg       Config
	endpoints []Endpoint
	limiters  map[string]*rate.Limiter
	client    ports.HTTPClient
	logger    ports.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the given endpoints. A nil client
// gets the pooled webhook-tuned HTTP client.
func NewDispatcher(cfg Config, endpoints []Endpoint, client ports.HTTPClient, logger ports.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = resilience.DefaultTimeoutConfig().Delivery
	}
	if cfg.Backoff == nil {
		cfg.Backoff = resilience.WebhookBackoff()
	}
	if client == nil {
		client = pkghttp.NewWebhookClient(cfg.RequestTimeout)
	}

	limiters := make(map[string]*rate.Limiter, len(endpoints))
	prepared := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.URL == "" {
			logger.Warn("skipping hook endpoint without url", ports.String("endpoint", ep.ID))
			continue
		}
		if ep.ID == "" {
			ep.ID = ep.URL
		}
		rps := ep.RatePerSecond
		if rps <= 0 {
			rps = defaultRatePerSecond
		}
		burst := ep.Burst
		if burst <= 0 {
			burst = defaultBurst
		}
		limiters[ep.ID] = rate.NewLimiter(rate.Limit(rps), burst)
		prepared = append(prepared, ep)
	}

	return &Dispatcher{
		cfg:       cfg,
		endpoints: prepared,
		limiters:  limiters,
		client:    client,
		logger:    logger,
		queue:     make(chan delivery, cfg.QueueSize),
	}
}

// Attach subscribes the dispatcher to the given event names on the bus.
func (d *Dispatcher) Attach(bus *events.Bus, eventNames ...string) {
	for _, name := range eventNames {
		bus.Subscribe(name, d.HandleEvent)
	}
}

// Start launches the delivery workers. Workers run until the context is
// cancelled or Shutdown closes the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("hook dispatcher started",
		ports.Int("workers", d.cfg.Workers),
		ports.Int("endpoints", len(d.endpoints)))
}

// Shutdown stops accepting deliveries and waits for in-flight ones to finish
// or the context to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent is the bus handler: it serializes the event once and queues a
// delivery per subscribed endpoint. A full queue drops the delivery with a
// warning; the publisher is never blocked.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt ports.Event) error {
	if len(d.endpoints) == 0 {
		return nil
	}

	payload, err := encoding.EncodeJSON(envelope{
		EventType: evt.Name(),
		Data:      evt,
		Timestamp: timeutil.Now(),
	})
	if err != nil {
		d.logger.Error("failed to encode hook payload",
			ports.String("event", evt.Name()),
			ports.Err(err))
		return fmt.Errorf("encode hook payload: %w", err)
	}

	for _, ep := range d.endpoints {
		if !wantsEvent(ep, evt.Name()) {
			continue
		}
		dl := delivery{
			id:        uuid.New().String(),
			endpoint:  ep,
			eventType: evt.Name(),
			payload:   payload,
		}

		d.mu.RLock()
		if d.closed {
			d.mu.RUnlock()
			observability.RecordHookDelivery(ep.ID, evt.Name(), observability.HookDropped, 0)
			d.logger.Warn("hook dispatcher stopped, dropping delivery",
				ports.String("endpoint", ep.ID),
				ports.String("event", evt.Name()))
			continue
		}
		select {
		case d.queue <- dl:
			d.mu.RUnlock()
		default:
			d.mu.RUnlock()
			observability.RecordHookDelivery(ep.ID, evt.Name(), observability.HookDropped, 0)
			d.logger.Warn("hook queue full, dropping delivery",
				ports.String("endpoint", ep.ID),
				ports.String("event", evt.Name()))
		}
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case dl, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, dl)
		}
	}
}

// deliver pushes one payload to one endpoint, retrying transient failures.
func (d *Dispatcher) deliver(ctx context.Context, dl delivery) {
	start := time.Now()

	if lim := d.limiters[dl.endpoint.ID]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			observability.RecordHookDelivery(dl.endpoint.ID, dl.eventType, observability.HookDropped, 0)
			d.logger.Warn("hook delivery cancelled while rate limited",
				ports.String("endpoint", dl.endpoint.ID),
				ports.String("delivery_id", dl.id))
			return
		}
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.Backoff.NextDelay(attempt - 1)):
			}
		}

		status, err := d.send(ctx, dl)
		if err == nil {
			observability.RecordHookDelivery(dl.endpoint.ID, dl.eventType, observability.HookDelivered, time.Since(start).Seconds())
			d.logger.Info("hook delivered",
				ports.String("endpoint", dl.endpoint.ID),
				ports.String("event", dl.eventType),
				ports.String("delivery_id", dl.id),
				ports.Int("status", status),
				ports.Int("attempts", attempt+1))
			return
		}
		lastErr = err
		d.logger.Warn("hook delivery attempt failed",
			ports.String("endpoint", dl.endpoint.ID),
			ports.String("event", dl.eventType),
			ports.String("delivery_id", dl.id),
			ports.Int("attempt", attempt+1),
			ports.Err(err))
	}

	observability.RecordHookDelivery(dl.endpoint.ID, dl.eventType, observability.HookAbandoned, time.Since(start).Seconds())
	d.logger.Error("hook delivery abandoned",
		ports.String("endpoint", dl.endpoint.ID),
		ports.String("event", dl.eventType),
		ports.String("delivery_id", dl.id),
		ports.Int("attempts", d.cfg.MaxAttempts),
		ports.Err(lastErr))
}

// send performs one signed POST. Any non-2xx response is an error carrying a
// bounded slice of the response body.
func (d *Dispatcher) send(ctx context.Context, dl delivery) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, dl.endpoint.URL, bytes.NewReader(dl.payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(dl.payload, dl.endpoint.Secret))
	req.Header.Set(HeaderEventType, dl.eventType)
	req.Header.Set(HeaderTimestamp, timeutil.Now().Format(time.RFC3339))
	req.Header.Set(HeaderDelivery, dl.id)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(body))
}

// Sign computes the hex HMAC-SHA256 digest receivers verify deliveries with.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func wantsEvent(ep Endpoint, name string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, e := range ep.Events {
		if e == name {
			return true
		}
	}
	return false
}
