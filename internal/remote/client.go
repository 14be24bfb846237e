// Package remote is the HTTP client for the recall backend API. It
// treats the backend as a remote key-value store over three resources
// (recalls, makes, models) with get/patch/delete semantics, transparent
// continuation-token pagination on reads and fixed-size chunking on
// writes.
//
// Transient failures (transport errors, 5xx, 429) are retried with
// exponential backoff; any other non-2xx status is a hard error. Every
// request carries a fresh random request id and the caller's job name
// for cross-service tracing.
package remote

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Correlation headers attached to every backend request.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderCaller    = "X-Caller"
)

// Config configures the backend client. Zero values get defaults:
// Timeout 30s, MaxRetries 3, InitialBackoff 200ms, MaxBackoff 5s,
// PageSize 500.
type Config struct {
	// BaseURL is the backend root, e.g. "http://recalls-backend:8080".
	BaseURL string

	// Caller identifies the issuing job in the X-Caller header.
	Caller string

	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// PageSize caps the number of entities per PATCH request. Larger
	// payloads are split into consecutive chunks.
	PageSize int

	// Transport is an optional custom RoundTripper for tests.
	Transport http.RoundTripper
}

// Client issues JSON requests against the backend with retry/backoff.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	caller         string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	pageSize       int

	// sleep is injectable to keep retry tests fast.
	sleep func(time.Duration)
}

// NewClient constructs a Client from Config, applying defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		caller:         cfg.Caller,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		pageSize:       cfg.PageSize,
		sleep:          time.Sleep,
	}
}

// requestID returns a fresh hex-encoded random request id.
func requestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// do sends one JSON request, retrying transient failures, and decodes a
// 2xx response body into out (when out is non-nil). Non-2xx statuses
// that are not retryable return an error immediately; retryable ones
// (5xx, 429) error once attempts are exhausted.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: marshal %s %s: %w", method, path, err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	attempts := c.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("remote: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set(HeaderRequestID, requestID())
		req.Header.Set(HeaderCaller, c.caller)

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			defer resp.Body.Close()
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
			}
			return nil
		case isRetryableStatus(resp.StatusCode):
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("remote: status %d from %s %s", resp.StatusCode, method, u)
		default:
			// 4xx and any other non-retryable status: equivalent to a
			// transport failure for the caller.
			_ = resp.Body.Close()
			return fmt.Errorf("remote: status %d from %s %s", resp.StatusCode, method, u)
		}

		if attempt+1 >= attempts {
			return lastErr
		}
		if err := sleepWithContext(ctx, c.sleep, backoffDuration(c.initialBackoff, attempt, c.maxBackoff)); err != nil {
			return err
		}
	}
	return lastErr
}

// isRetryableStatus reports whether a status should trigger a retry.
// 5xx and 429 are transient; everything else is final.
func isRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// backoffDuration is the exponential backoff for the given 0-based
// retry index, clamped to max.
func backoffDuration(initial time.Duration, attempt int, max time.Duration) time.Duration {
	d := initial << attempt
	if d > max || d <= 0 {
		return max
	}
	return d
}

// sleepWithContext waits for d, aborting early when ctx is canceled.
func sleepWithContext(ctx context.Context, sleep func(time.Duration), d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
