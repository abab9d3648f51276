package download

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Connectivity reports whether the network is currently reachable.
type Connectivity interface {
	Online() bool
}

// NewHTTPClient returns an instrumented client whose connection establishment
// (dial, TLS handshake, response headers) is bounded by connectTimeout. The
// body has no client-side deadline; callers bound it through the context.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: connectTimeout,
		ExpectContinueTimeout: time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          16,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}
