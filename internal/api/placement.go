package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/render"
	"github.com/patrickwarner/adrotator/internal/rotation"
	"github.com/patrickwarner/adrotator/internal/targeting"
)

const (
	SessionCookie  = "ad_session"
	ViewerHeader   = "X-Viewer-ID"
	UserRoleHeader = "X-User-Role"
)

// PlacementResponse is the view model for one slot.
type PlacementResponse struct {
	Placement models.PlacementName `json:"placement"`
	State     string               `json:"state"`
	Index     int                  `json:"index"`
	Count     int                  `json:"count"`
	RotateMs  int64                `json:"rotate_ms"`
	Creative  *models.Creative     `json:"creative"`
	HTML      *string              `json:"html"`
}

// PlacementHandler handles GET /placements/{placement}. It mounts the
// caller's slot, or reuses it when the parameters are unchanged, waits for
// the initial load and returns the creative currently on screen.
func (s *Server) PlacementHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "PlacementHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/placements/{placement}"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/placements"
	const method = "GET"

	name, ok := s.placementFromRequest(w, r)
	if !ok {
		s.finish(endpoint, method, http.StatusNotFound, start)
		return
	}
	span.SetAttributes(attribute.String("placement", string(name)))

	q := r.URL.Query()
	width, err := optionalInt(q.Get("width"))
	if err != nil {
		logger.Warn("invalid width", zap.String("width", q.Get("width")))
		s.finish(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid width", http.StatusBadRequest)
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil || limit < 0 {
		logger.Warn("invalid limit", zap.String("limit", q.Get("limit")))
		s.finish(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	// The placement's limit is a ceiling; a query may only ask for fewer.
	pl := s.Placements[name]
	if limit == 0 || (pl.Limit > 0 && limit > pl.Limit) {
		limit = pl.Limit
	}
	category := strings.TrimSpace(q.Get("category"))
	if category == "" {
		category = pl.Category
	}
	device, country := targeting.Resolve(r, s.GeoIP, width, s.Config.MobileBreakpoint)

	params := rotation.Params{
		Placement:   name,
		Category:    category,
		Device:      device,
		Country:     country,
		ViewerID:    strings.TrimSpace(r.Header.Get(ViewerHeader)),
		UserRole:    strings.TrimSpace(r.Header.Get(UserRoleHeader)),
		Limit:       limit,
		RotateEvery: time.Duration(pl.RotateMs) * time.Millisecond,
	}

	session := s.session(w, r)
	slot, ready := s.Slots.Acquire(ctx, session, name, params)
	select {
	case <-ready:
	case <-ctx.Done():
		span.SetStatus(codes.Error, "request cancelled before slot settled")
		logger.Debug("request ended before slot load settled", zap.String("placement", string(name)))
	}

	view := slot.View()
	resp := PlacementResponse{
		Placement: name,
		State:     view.State.String(),
		Index:     view.Index,
		Count:     view.Count,
		RotateMs:  slot.Params().RotateEvery.Milliseconds(),
		Creative:  view.Creative,
	}
	if view.Creative != nil {
		markup := render.CreativeHTML(*view.Creative, clickPath(name, view.Creative.ID))
		resp.HTML = &markup
		span.SetAttributes(attribute.String("creative_id", view.Creative.ID))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("encode placement response", zap.Error(err))
	}
	s.finish(endpoint, method, http.StatusOK, start)
}

// ClickHandler handles GET /placements/{placement}/click?creative=. It
// reports one click and redirects to the creative's link when it has one.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "ClickHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/placements/{placement}/click"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/placements/click"
	const method = "GET"

	name, ok := s.placementFromRequest(w, r)
	if !ok {
		s.finish(endpoint, method, http.StatusNotFound, start)
		return
	}
	creativeID := r.URL.Query().Get("creative")
	if creativeID == "" {
		s.finish(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "creative required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("placement", string(name)),
		attribute.String("creative_id", creativeID),
	)

	session := s.session(w, r)
	if !s.Clicks.Allow(session) {
		logger.Warn("click throttled",
			zap.String("placement", string(name)),
			zap.String("creative_id", creativeID))
		s.Metrics.IncrementEvent(string(models.EventClick), "throttled")
		s.finish(endpoint, method, http.StatusTooManyRequests, start)
		http.Error(w, "too many clicks", http.StatusTooManyRequests)
		return
	}
	slot, ok := s.Slots.Lookup(session, name)
	if !ok {
		s.finish(endpoint, method, http.StatusNotFound, start)
		http.Error(w, "slot not mounted", http.StatusNotFound)
		return
	}
	cr, err := slot.Click(creativeID)
	if err != nil {
		if errors.Is(err, rotation.ErrNotDisplayed) {
			logger.Info("click on creative not displayed",
				zap.String("placement", string(name)),
				zap.String("creative_id", creativeID))
			s.finish(endpoint, method, http.StatusNotFound, start)
			http.Error(w, "creative not displayed", http.StatusNotFound)
			return
		}
		span.RecordError(err)
		logger.Error("click", zap.Error(err))
		s.finish(endpoint, method, http.StatusInternalServerError, start)
		http.Error(w, "click failed", http.StatusInternalServerError)
		return
	}

	if link := render.SafeLink(cr.LinkURL); link != "" {
		http.Redirect(w, r, link, http.StatusFound)
		s.finish(endpoint, method, http.StatusFound, start)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.finish(endpoint, method, http.StatusNoContent, start)
}

// UnmountHandler handles DELETE /placements/{placement}. Unmounting a slot
// that does not exist is not an error.
func (s *Server) UnmountHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/placements"
	const method = "DELETE"

	name, ok := s.placementFromRequest(w, r)
	if !ok {
		s.finish(endpoint, method, http.StatusNotFound, start)
		return
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.Slots.Remove(c.Value, name)
	}
	w.WriteHeader(http.StatusNoContent)
	s.finish(endpoint, method, http.StatusNoContent, start)
}

func (s *Server) placementFromRequest(w http.ResponseWriter, r *http.Request) (models.PlacementName, bool) {
	name, err := models.ParsePlacement(mux.Vars(r)["placement"])
	if err != nil {
		http.Error(w, "unknown placement", http.StatusNotFound)
		return "", false
	}
	return name, true
}

// session returns the caller's session id, issuing a new cookie when the
// request carries none or an invalid one.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (s *Server) finish(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, statusLabel(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

func clickPath(name models.PlacementName, creativeID string) string {
	return "/placements/" + url.PathEscape(string(name)) + "/click?creative=" + url.QueryEscape(creativeID)
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
