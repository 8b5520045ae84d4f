package backend

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// ErrUnavailable is returned when no backend URL is configured.
var ErrUnavailable = errors.New("backend unavailable")

// Caller invokes a named remote procedure. Components depend on this
// interface instead of a shared client so tests can substitute a fake.
type Caller interface {
	RPC(ctx context.Context, fn string, params any, out any) error
}

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Function string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc %s: http %d: %s", e.Function, e.Status, e.Body)
}

// Client calls stored procedures exposed by the backend-as-a-service over
// its REST gateway (POST {base}/rest/v1/rpc/{fn}).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Caller = (*Client)(nil)

// NewClient creates a backend client. The transport is instrumented with
// OpenTelemetry so every procedure call shows up as a client span.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// RPC posts params as JSON to the named procedure and decodes the response
// into out. out may be nil when the result is not needed.
func (c *Client) RPC(ctx context.Context, fn string, params any, out any) error {
	if c == nil || c.baseURL == "" {
		return ErrUnavailable
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", fn, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/rpc/"+fn, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", fn, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err), zap.String("rpc", fn))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Function: fn, Status: resp.StatusCode, Body: string(msg)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", fn, err)
	}
	return nil
}

// HealthCheck verifies the REST gateway answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.baseURL == "" {
		return ErrUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/v1/", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Nullable converts an empty string to a JSON null.
func Nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
