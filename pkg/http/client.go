// Package http builds the pooled HTTP client the service's outbound traffic
// runs on. Hook delivery is the only outbound path; provider calls stay
// in-process through the registry.
package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Pool tuning for hook fan-out. Deliveries spread across many subscriber
// hosts, so the pool is wide overall but shallow per host, and a slow
// subscriber cannot hold connections the rest of the queue needs.
const (
	maxIdleConns        = 200
	maxIdleConnsPerHost = 2
	maxConnsPerHost     = 5
	idleConnTimeout     = 30 * time.Second

	dialTimeout           = 5 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	responseHeaderTimeout = 10 * time.Second
	expectContinueTimeout = 1 * time.Second

	keepAlive = 30 * time.Second
)

// NewWebhookClient returns the client hook deliveries go out on. The
// transport reuses keep-alive connections, attempts HTTP/2, and requires
// TLS 1.2 or newer. timeout caps the whole request including the body read;
// per-attempt deadlines come from the delivery context on top of it.
func NewWebhookClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}

	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,

		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: expectContinueTimeout,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
