package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/failsafe-go/failsafe-go"
)

// APIError is returned when a service answers with a non-success status
// that is not retried.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return common.ErrExternalService }

// Option customizes a client.
type Option func(*client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithExecutorConfig replaces the retry and breaker settings.
func WithExecutorConfig(cfg ExecutorConfig) Option {
	return func(c *client) {
		c.executor = NewHTTPExecutor(cfg)
		c.shouldRetry = normalize(cfg).ShouldRetry
	}
}

// client is the JSON-over-HTTP plumbing shared by Submitter and JobClient.
type client struct {
	service     string
	baseURL     string
	apiKey      string
	http        *http.Client
	executor    failsafe.Executor[*http.Response]
	shouldRetry func(*http.Response, error) bool
}

func newClient(service, baseURL, apiKey string, opts ...Option) *client {
	cfg := DefaultExecutorConfig(service)
	c := &client{
		service:     service,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		http:        &http.Client{Timeout: 10 * time.Second},
		executor:    NewHTTPExecutor(cfg),
		shouldRetry: cfg.ShouldRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a JSON request and decodes a JSON response into out. The body is
// marshalled once and replayed on every attempt.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", c.service, err)
		}
	}

	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if c.shouldRetry(resp, err) && resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrExternalService, c.service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &APIError{Service: c.service, StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", common.ErrExternalService, c.service, err)
	}
	return nil
}
