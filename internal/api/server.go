package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/geoip"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/ratelimit"
)

var tracer = observability.Tracer("api")

// HealthChecker reports whether an upstream dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger     *zap.Logger
	Slots      *Registry
	Placements map[models.PlacementName]models.Placement
	GeoIP      *geoip.GeoIP
	Backend    HealthChecker
	Metrics    observability.MetricsRegistry
	Config     config.Config
	// Clicks throttles click reporting per session. Nil disables it.
	Clicks *ratelimit.Limiter
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, slots *Registry, placements map[models.PlacementName]models.Placement, geo *geoip.GeoIP, backend HealthChecker, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if placements == nil {
		placements = config.DefaultPlacements(cfg)
	}
	return &Server{
		Logger:     logger,
		Slots:      slots,
		Placements: placements,
		GeoIP:      geo,
		Backend:    backend,
		Metrics:    metrics,
		Config:     cfg,
	}
}

// Router registers every route on a gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))
	r.HandleFunc("/placements/{placement}", s.PlacementHandler).Methods(http.MethodGet)
	r.HandleFunc("/placements/{placement}", s.UnmountHandler).Methods(http.MethodDelete)
	r.HandleFunc("/placements/{placement}/click", s.ClickHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler wraps the router with server-side tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), s.Config.ServiceName)
}
