// Package httputil provides the JSON-over-HTTP client the relay uses to
// reach read-only REST services such as the mirror node.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/whistlenet/hcs-relay/internal/logging"
)

// ErrBodyTooLarge is returned by ReadAllStrict when the body exceeds its limit.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// =============================================================================
// Client
// =============================================================================

// Client issues requests against one base URL. Transient upstream failures
// (429, 502, 503, 504) are retried with a short linear backoff.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	backoff    time.Duration
	userAgent  string
}

// Config configures the client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the delay before the first retry; later retries wait
	// proportionally longer.
	Backoff   time.Duration
	UserAgent string
}

// NewClient creates a new client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 250 * time.Millisecond
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: maxRetries,
		backoff:    backoff,
		userAgent:  cfg.UserAgent,
	}
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Do executes a request. pathOrURL may be a path relative to the base URL
// or an absolute URL (as returned in pagination links).
func (c *Client) Do(ctx context.Context, method, pathOrURL string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
	}

	url := pathOrURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + pathOrURL
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		if traceID := logging.TraceID(ctx); traceID != "" {
			req.Header.Set(logging.TraceHeader, traceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		if !retryable(resp.StatusCode) || attempt >= c.maxRetries {
			return resp, nil
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt+1)):
		}
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, pathOrURL string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, pathOrURL, nil)
}

// GetBody performs a GET and returns the body of a successful response.
// Non-2xx responses become *StatusError.
func (c *Client) GetBody(ctx context.Context, pathOrURL string, limit int64) ([]byte, error) {
	resp, err := c.Get(ctx, pathOrURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}
	body, err := ReadAllStrict(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func errorFromResponse(resp *http.Response) error {
	body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
	if err != nil {
		return fmt.Errorf("read error response body: %w", err)
	}
	msg := strings.TrimSpace(string(body))
	if truncated {
		msg += "...(truncated)"
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: msg}
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Body helpers
// =============================================================================

// ReadAllWithLimit reads at most limit bytes and reports whether more
// remained.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads the whole body, failing if it exceeds limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}
