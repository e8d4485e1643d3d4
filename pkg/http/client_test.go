package http

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"
)

func TestNewWebhookClient(t *testing.T) {
	client := NewWebhookClient(10 * time.Second)

	if client.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", client.Timeout, 10*time.Second)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport is %T, want *http.Transport", client.Transport)
	}
	if !transport.ForceAttemptHTTP2 {
		t.Error("ForceAttemptHTTP2 should be set")
	}
	if transport.MaxIdleConnsPerHost != maxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", transport.MaxIdleConnsPerHost, maxIdleConnsPerHost)
	}
	if transport.MaxConnsPerHost != maxConnsPerHost {
		t.Errorf("MaxConnsPerHost = %d, want %d", transport.MaxConnsPerHost, maxConnsPerHost)
	}
	if got := transport.TLSClientConfig.MinVersion; got != tls.VersionTLS12 {
		t.Errorf("TLS MinVersion = %x, want %x", got, tls.VersionTLS12)
	}
}

func TestNewWebhookClient_IndependentPools(t *testing.T) {
	a := NewWebhookClient(time.Second)
	b := NewWebhookClient(time.Second)

	if a.Transport == b.Transport {
		t.Error("each client should get its own connection pool")
	}
}
