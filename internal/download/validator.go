package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/telemetry"
)

// DefaultProbeTimeout bounds the pre-flight HEAD request.
const DefaultProbeTimeout = 10 * time.Second

// Validator checks that a download URL is well formed and reachable before a
// potentially large transfer is started.
type Validator struct {
	client    *http.Client
	conn      Connectivity
	timeout   time.Duration
	telemetry *telemetry.Telemetry
}

func NewValidator(client *http.Client, conn Connectivity, timeout time.Duration, tel *telemetry.Telemetry) *Validator {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &Validator{client: client, conn: conn, timeout: timeout, telemetry: tel}
}

// Validate parses rawURL and probes it with a HEAD request. Every failure is
// returned as an *Error.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := v.validate(ctx, rawURL)

	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}

	v.telemetry.RecordValidation(result)

	return u, err
}

func (v *Validator) validate(ctx context.Context, rawURL string) (*url.URL, error) {
	logger := logctx.LoggerFromContext(ctx)

	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	if !v.conn.Online() {
		return nil, &Error{Kind: KindNetworkUnavailable, Reason: "offline"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, Err: err}
	}

	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCancelled, Err: ctx.Err()}
		}

		logger.WarnContext(ctx, "download probe failed", "url", u.Redacted(), "err", err)

		return nil, Classify(err)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.DebugContext(ctx, "download probe succeeded", "url", u.Redacted(), "status", resp.StatusCode, "content_length", resp.ContentLength)

		return u, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindFileNotFound, StatusCode: resp.StatusCode}
	default:
		return nil, &Error{Kind: KindServerError, StatusCode: resp.StatusCode}
	}
}

// ParseURL accepts absolute http and https URLs only.
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, Err: err}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: KindInvalidURL, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	if u.Host == "" {
		return nil, &Error{Kind: KindInvalidURL, Reason: "missing host"}
	}

	return u, nil
}
