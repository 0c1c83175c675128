// Package provider holds the HTTP plumbing shared by the vendor balance
// adapters: a rate-limited, retrying JSON client.
package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrz1836/balancewatch/internal/balance"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

const (
	httpTimeout     = 15 * time.Second
	maxResponseBody = 1 << 20
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// RateLimiter overrides the shared per-host limiter.
	RateLimiter *RateLimiter
	// Retry overrides DefaultRetryConfig.
	Retry *RetryConfig
	// UserAgent is sent on every request.
	UserAgent string
}

// Client performs authenticated JSON GETs against one vendor base URL.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	rateLimiter *RateLimiter
	retry       RetryConfig
	userAgent   string
}

//nolint:gochecknoglobals // shared across adapters so per-host limits hold between refreshes
var sharedLimiter = DefaultRateLimiter()

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts *ClientOptions) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, bwerr.WithDetails(bwerr.ErrInvalidInput, map[string]string{"base_url": baseURL})
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		rateLimiter: sharedLimiter,
		retry:       DefaultRetryConfig(),
		userAgent:   "balancewatch",
	}

	if opts != nil {
		if opts.HTTPClient != nil {
			c.httpClient = opts.HTTPClient
		}
		if opts.RateLimiter != nil {
			c.rateLimiter = opts.RateLimiter
		}
		if opts.Retry != nil {
			c.retry = *opts.Retry
		}
		if opts.UserAgent != "" {
			c.userAgent = opts.UserAgent
		}
	}
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// RequestOption mutates an outgoing request.
type RequestOption func(*http.Request)

// WithHeader sets a header on the request.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// GetJSON fetches path relative to the base URL and decodes the body into out.
// Rate limiting (429) and server errors are retried.
func (c *Client) GetJSON(ctx context.Context, path string, cred *balance.Credential, out any, opts ...RequestOption) error {
	_, err := Retry(ctx, c.retry, func() (struct{}, error) {
		return struct{}{}, c.getOnce(ctx, path, cred, out, opts)
	})
	return err
}

func (c *Client) getOnce(ctx context.Context, path string, cred *balance.Credential, out any, opts []RequestOption) error {
	if err := c.rateLimiter.Wait(ctx, c.baseURL.Host); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if !cred.IsNone() {
		req.Header.Set("Authorization", "Bearer "+cred.Value)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL is built from provider config
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %w", bwerr.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", bwerr.ErrNetworkError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if err := statusError(resp, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	details := map[string]string{
		"status": fmt.Sprintf("%d", code),
	}
	if msg := vendorMessage(body); msg != "" {
		details["message"] = msg
	}

	switch {
	case code == http.StatusTooManyRequests:
		return &rateLimitError{
			err:        bwerr.WithDetails(bwerr.ErrRateLimited, details),
			retryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return bwerr.WithDetails(bwerr.ErrAuthentication, details)
	case code >= http.StatusInternalServerError:
		return WrapRetryable(bwerr.WithDetails(bwerr.ErrUnexpectedStatus, details))
	default:
		return bwerr.WithDetails(bwerr.ErrUnexpectedStatus, details)
	}
}

// vendorMessage extracts a human-readable message from common error bodies.
func vendorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return truncate(strings.TrimSpace(string(body)), 200)
	}
	if parsed.Message != "" {
		return truncate(parsed.Message, 200)
	}
	switch e := parsed.Error.(type) {
	case string:
		return truncate(e, 200)
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return truncate(m, 200)
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
