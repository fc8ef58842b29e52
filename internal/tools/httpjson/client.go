// Package httpjson is the small JSON-over-HTTP client shared by tools that
// call external services.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/quill/internal/retry"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = int64(1 << 20)
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := e.Body
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, msg)
}

// Config configures a Client.
type Config struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
	Retry            retry.Policy
	UserAgent        string
}

// Client issues JSON requests with a response size limit and retries
// transient failures.
type Client struct {
	client    *http.Client
	maxBytes  int64
	retry     retry.Policy
	userAgent string
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	cfg.Retry.Retryable = Transient
	return &Client{
		client:    cfg.HTTPClient,
		maxBytes:  cfg.MaxResponseBytes,
		retry:     cfg.Retry,
		userAgent: cfg.UserAgent,
	}
}

// Get fetches endpoint.
func (c *Client) Get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, endpoint, nil)
}

// PostJSON posts payload encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.Do(ctx, http.MethodPost, endpoint, body)
}

// Do sends the request, retrying transient failures, and returns the
// response body, which must be valid JSON.
func (c *Client) Do(ctx context.Context, method, endpoint string, body []byte) (json.RawMessage, error) {
	return retry.DoValue(ctx, c.retry, func(ctx context.Context) (json.RawMessage, error) {
		return c.once(ctx, method, endpoint, body)
	})
}

func (c *Client) once(ctx context.Context, method, endpoint string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, retry.Permanent(fmt.Errorf("%s %s: response larger than %d bytes", method, endpoint, c.maxBytes))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, URL: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if !json.Valid(data) {
		return nil, retry.Permanent(fmt.Errorf("%s %s: response is not JSON", method, endpoint))
	}
	return json.RawMessage(data), nil
}

// Transient reports whether err is worth retrying: network failures,
// timeouts, 429 and 5xx responses.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}
