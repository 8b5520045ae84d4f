package adfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/patrickwarner/adrotator/internal/models"
)

// ErrFallbackDisabled is returned when no fallback endpoint is configured.
var ErrFallbackDisabled = errors.New("fallback source not configured")

// maxFallbackBody bounds how much of the provider's response is read.
const maxFallbackBody = 1 << 20

// FallbackSource queries the secondary external ad network. Its response
// shape is provider specific and goes through Normalize.
type FallbackSource struct {
	endpoint   string
	httpClient *http.Client
}

// NewFallbackSource returns a source for the fixed provider endpoint.
func NewFallbackSource(endpoint string, timeout time.Duration) *FallbackSource {
	return &FallbackSource{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Fetch implements Source. Only placement and limit are forwarded.
func (s *FallbackSource) Fetch(ctx context.Context, req Request) ([]models.Creative, error) {
	if s == nil || s.endpoint == "" {
		return nil, ErrFallbackDisabled
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse fallback endpoint: %w", err)
	}
	q := u.Query()
	q.Set("placement", string(req.Placement))
	q.Set("limit", strconv.Itoa(req.limit()))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create fallback request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fallback request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fallback http %d", resp.StatusCode)
	}

	var raw any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFallbackBody)).Decode(&raw); err != nil {
		// malformed payloads count as zero usable creatives, not a failure
		return nil, nil
	}
	out := Normalize(req.Placement, raw)
	if len(out) > req.limit() {
		out = out[:req.limit()]
	}
	return out, nil
}
