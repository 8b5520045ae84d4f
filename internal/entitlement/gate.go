package entitlement

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var tracer = observability.Tracer("entitlement")

// Gate decides whether the ad pipeline may run for a viewer. Premium
// viewers and viewers whose status cannot be resolved see no ads.
type Gate struct {
	checker Checker
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewGate returns a Gate backed by checker.
func NewGate(checker Checker, logger *zap.Logger, metrics observability.MetricsRegistry) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Gate{checker: checker, logger: logger, metrics: metrics}
}

// Resolve returns the viewer's entitlement. Anonymous viewers cannot hold a
// subscription and resolve to free without a lookup.
func (g *Gate) Resolve(ctx context.Context, viewerID string) models.Entitlement {
	status := g.resolve(ctx, viewerID)
	g.metrics.IncrementGateDecision(status.String())
	return status
}

func (g *Gate) resolve(ctx context.Context, viewerID string) models.Entitlement {
	if viewerID == "" {
		return models.EntitlementFree
	}
	ctx, span := tracer.Start(ctx, "entitlement.Resolve")
	defer span.End()

	premium, err := g.checker.HasActivePremium(ctx, viewerID)
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("entitlement lookup failed, withholding ads",
			zap.Error(err),
			zap.String("viewer_id", viewerID))
		return models.EntitlementUnknown
	}
	span.SetAttributes(attribute.Bool("premium", premium))
	if premium {
		return models.EntitlementPremium
	}
	return models.EntitlementFree
}

// Allows reports whether ads may be shown for status.
func Allows(status models.Entitlement) bool {
	return status == models.EntitlementFree
}
