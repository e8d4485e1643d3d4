package hooks_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/events"
	"github.com/kevin07696/escrow-service/internal/services/hooks"
	"github.com/kevin07696/escrow-service/internal/testutil/mocks"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	body   []byte
	header http.Header
}

func verifiedEvent() domain.PaymentVerifiedEvent {
	return domain.PaymentVerifiedEvent{
		TransactionID:  "txn_1",
		OrganizationID: "org_1",
		Amount:         decimal.RequireFromString("100"),
		Currency:       "USD",
		Provider:       "sandbox",
		VerifiedBy:     "manual",
		At:             timeutil.Now(),
	}
}

func fastConfig() hooks.Config {
	return hooks.Config{
		Workers:     2,
		QueueSize:   16,
		MaxAttempts: 3,
		Backoff:     &resilience.FixedBackoff{Delay: time.Millisecond},
	}
}

func TestDispatcher_DeliversSignedPayload(t *testing.T) {
	received := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- capturedRequest{body: body, header: r.Header.Clone()}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := mocks.NewMockLogger()
	d := hooks.NewDispatcher(fastConfig(), []hooks.Endpoint{
		{ID: "org_1_hooks", URL: srv.URL, Secret: "whsec_1"},
	}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Shutdown(context.Background())

	require.NoError(t, d.HandleEvent(ctx, verifiedEvent()))

	var got capturedRequest
	select {
	case got = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("hook was not delivered")
	}

	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "payment.verified", got.header.Get(hooks.HeaderEventType))
	assert.NotEmpty(t, got.header.Get(hooks.HeaderDelivery))
	assert.Equal(t, hooks.Sign(got.body, "whsec_1"), got.header.Get(hooks.HeaderSignature))

	_, err := time.Parse(time.RFC3339, got.header.Get(hooks.HeaderTimestamp))
	assert.NoError(t, err)

	var body struct {
		EventType string `json:"event_type"`
		Data      struct {
			TransactionID  string `json:"transaction_id"`
			OrganizationID string `json:"organization_id"`
		} `json:"data"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.Equal(t, "payment.verified", body.EventType)
	assert.Equal(t, "txn_1", body.Data.TransactionID)
	assert.Equal(t, "org_1", body.Data.OrganizationID)
	assert.False(t, body.Timestamp.IsZero())
}

func TestDispatcher_FiltersByEventSubscription(t *testing.T) {
	subscribed := make(chan capturedRequest, 1)
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		subscribed <- capturedRequest{body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srvA.Close()

	var otherHits int32
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&otherHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srvB.Close()

	log := mocks.NewMockLogger()
	d := hooks.NewDispatcher(fastConfig(), []hooks.Endpoint{
		{ID: "wants_payments", URL: srvA.URL, Secret: "s1", Events: []string{"payment.verified"}},
		{ID: "wants_escrow", URL: srvB.URL, Secret: "s2", Events: []string{"escrow.held"}},
	}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Shutdown(context.Background())

	require.NoError(t, d.HandleEvent(ctx, verifiedEvent()))

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed endpoint did not receive the event")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&otherHits))
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	var hits int32
	succeeded := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := atomic.AddInt32(&hits, 1); n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		succeeded <- struct{}{}
	}))
	defer srv.Close()

	log := mocks.NewMockLogger()
	d := hooks.NewDispatcher(fastConfig(), []hooks.Endpoint{
		{ID: "flaky", URL: srv.URL, Secret: "s1"},
	}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Shutdown(context.Background())

	require.NoError(t, d.HandleEvent(ctx, verifiedEvent()))

	select {
	case <-succeeded:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDispatcher_AbandonsAfterMaxAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log := mocks.NewMockLogger()
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	d := hooks.NewDispatcher(cfg, []hooks.Endpoint{
		{ID: "down", URL: srv.URL, Secret: "s1"},
	}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Shutdown(context.Background())

	require.NoError(t, d.HandleEvent(ctx, verifiedEvent()))

	require.Eventually(t, func() bool {
		return log.HasMessage("hook delivery abandoned")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	log := mocks.NewMockLogger()
	cfg := fastConfig()
	cfg.QueueSize = 1
	// No workers started, so the queue never drains.
	d := hooks.NewDispatcher(cfg, []hooks.Endpoint{
		{ID: "idle", URL: "http://localhost:0", Secret: "s1"},
	}, nil, log)

	ctx := context.Background()
	require.NoError(t, d.HandleEvent(ctx, verifiedEvent()))
	require.NoError(t, d.HandleEvent(ctx, verifiedEvent()))

	assert.True(t, log.HasMessage("hook queue full, dropping delivery"))
}

func TestDispatcher_ShutdownStopsIntake(t *testing.T) {
	log := mocks.NewMockLogger()
	d := hooks.NewDispatcher(fastConfig(), []hooks.Endpoint{
		{ID: "gone", URL: "http://localhost:0", Secret: "s1"},
	}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Shutdown(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))

	require.NoError(t, d.HandleEvent(ctx, verifiedEvent()))
	assert.True(t, log.HasMessage("hook dispatcher stopped, dropping delivery"))
}

func TestDispatcher_AttachSubscribesToBus(t *testing.T) {
	received := make(chan capturedRequest, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- capturedRequest{header: r.Header.Clone()}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := mocks.NewMockLogger()
	bus := events.NewBus(log)
	d := hooks.NewDispatcher(fastConfig(), []hooks.Endpoint{
		{ID: "all", URL: srv.URL, Secret: "s1"},
	}, nil, log)
	d.Attach(bus, "payment.verified", "escrow.held")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Shutdown(context.Background())

	require.Empty(t, bus.Publish(ctx, verifiedEvent()))
	require.Empty(t, bus.Publish(ctx, domain.EscrowHeldEvent{
		TransactionID:  "txn_1",
		OrganizationID: "org_1",
		Amount:         decimal.RequireFromString("100"),
		At:             timeutil.Now(),
	}))

	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case got := <-received:
			types[got.header.Get(hooks.HeaderEventType)] = true
		case <-time.After(2 * time.Second):
			t.Fatal("expected two deliveries")
		}
	}
	assert.True(t, types["payment.verified"])
	assert.True(t, types["escrow.held"])
}

func TestSign(t *testing.T) {
	payload := []byte(`{"event_type":"payment.verified"}`)

	first := hooks.Sign(payload, "secret_a")
	assert.Len(t, first, 64)
	assert.Equal(t, first, hooks.Sign(payload, "secret_a"))
	assert.NotEqual(t, first, hooks.Sign(payload, "secret_b"))
	assert.NotEqual(t, first, hooks.Sign([]byte(`{}`), "secret_a"))
}
