package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/middleware"
)

// HealthHandler reports liveness and, when configured, backend reachability.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	status := http.StatusOK
	body := `{"status":"ok"}`
	if s.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Backend.HealthCheck(ctx); err != nil {
			middleware.LoggerFromRequest(r, s.Logger).Warn("backend health check failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body = `{"status":"degraded"}`
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))

	s.Metrics.IncrementRequests(endpoint, method, statusLabel(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
