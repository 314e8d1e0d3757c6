// Package downstream performs JSON HTTP calls to third-party APIs through the
// resilience service.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/resilience/internal/resilience/retry"
)

const maxBodyBytes = 1 << 20

// Runner executes an operation under a retry policy and circuit breaker.
type Runner interface {
	ExecuteWithRetry(ctx context.Context, opts retry.Options, op func(ctx context.Context) error) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status int
	Body   string
	Retry  time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d: %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// StatusCode exposes the HTTP status to the classifier.
func (e *StatusError) StatusCode() int { return e.Status }

// RetryAfter exposes the server's Retry-After hint to the classifier.
func (e *StatusError) RetryAfter() time.Duration { return e.Retry }

// Client calls one downstream dependency.
type Client struct {
	name       string
	baseURL    string
	policy     string
	headers    http.Header
	httpClient *http.Client
	runner     Runner
	now        func() time.Time
}

// NewClient creates a client for the dependency name rooted at baseURL. The
// timeout applies per attempt.
func NewClient(name, baseURL string, timeout time.Duration, runner Runner) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(http.Header),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		runner: runner,
		now:    time.Now,
	}
}

// SetPolicy selects the retry policy used for every call.
func (c *Client) SetPolicy(name string) {
	c.policy = name
}

// SetHeader adds a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.headers.Set(key, value)
}

// Get decodes the JSON response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Do performs one logical call. in and out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	opts := retry.Options{
		Dependency: c.name,
		Policy:     c.policy,
		Operation:  method + " " + path,
		Context:    map[string]any{"method": method, "path": path},
	}
	return c.runner.ExecuteWithRetry(ctx, opts, func(ctx context.Context) error {
		return c.attempt(ctx, method, path, payload, out)
	})
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
			Retry:  parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
