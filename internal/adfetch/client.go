package adfetch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var tracer = observability.Tracer("adfetch")

// Client retrieves candidates from the primary source and, on failure,
// makes exactly one attempt against the fallback source. Ads are best
// effort: Fetch never returns an error, only a possibly empty list.
type Client struct {
	primary  Source
	fallback Source
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
}

// NewClient wires a fetch client. fallback may be nil.
func NewClient(primary, fallback Source, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Client{primary: primary, fallback: fallback, logger: logger, metrics: metrics}
}

// Fetch returns up to req.Limit creatives in source order.
func (c *Client) Fetch(ctx context.Context, req Request) []models.Creative {
	ctx, span := tracer.Start(ctx, "adfetch.Fetch",
		trace.WithAttributes(
			attribute.String("placement", string(req.Placement)),
			attribute.String("device", string(req.Device)),
			attribute.Int("limit", req.limit()),
		))
	defer span.End()

	creatives, err := c.try(ctx, "primary", c.primary, req)
	if err == nil {
		span.SetAttributes(attribute.String("ad.source", "primary"), attribute.Int("ad.count", len(creatives)))
		return creatives
	}
	span.RecordError(err)
	c.logger.Warn("primary ad fetch failed",
		zap.Error(err),
		zap.String("placement", string(req.Placement)))

	if c.fallback == nil {
		span.SetStatus(codes.Error, "no fallback configured")
		c.metrics.RecordCandidates(0)
		return []models.Creative{}
	}

	creatives, err = c.try(ctx, "fallback", c.fallback, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "all ad sources failed")
		c.logger.Warn("fallback ad fetch failed",
			zap.Error(err),
			zap.String("placement", string(req.Placement)))
		c.metrics.RecordCandidates(0)
		return []models.Creative{}
	}
	span.SetAttributes(attribute.String("ad.source", "fallback"), attribute.Int("ad.count", len(creatives)))
	return creatives
}

func (c *Client) try(ctx context.Context, name string, src Source, req Request) ([]models.Creative, error) {
	start := time.Now()
	creatives, err := src.Fetch(ctx, req)
	c.metrics.RecordFetchLatency(name, time.Since(start))
	if err != nil {
		c.metrics.IncrementFetch(name, "error")
		return nil, err
	}
	if creatives == nil {
		creatives = []models.Creative{}
	}
	if len(creatives) > req.limit() {
		creatives = creatives[:req.limit()]
	}
	c.metrics.IncrementFetch(name, "success")
	c.metrics.RecordCandidates(len(creatives))
	return creatives, nil
}
