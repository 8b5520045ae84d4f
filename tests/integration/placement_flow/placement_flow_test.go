package placement_flow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/api"
	"github.com/patrickwarner/adrotator/internal/backend"
	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/devbackend"
	"github.com/patrickwarner/adrotator/internal/entitlement"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/rotation"
	"github.com/patrickwarner/adrotator/internal/telemetry"
)

type stack struct {
	dev     *devbackend.Backend
	handler http.Handler
	clock   *rotation.ManualScheduler
	emitter *telemetry.Emitter
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewNoOpRegistry()

	dev := devbackend.New(logger)
	upstream := httptest.NewServer(dev.Handler())
	t.Cleanup(upstream.Close)

	client := backend.NewClient(upstream.URL, "test-key", 2*time.Second, logger)
	gate := entitlement.NewGate(&entitlement.RPCChecker{Backend: client}, logger, metrics)
	fetcher := adfetch.NewClient(
		adfetch.NewRPCSource(client),
		adfetch.NewFallbackSource(upstream.URL+"/ads", 2*time.Second),
		logger, metrics)
	emitter := telemetry.NewEmitter(&telemetry.RPCSink{Backend: client}, 64, time.Second, logger, metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = emitter.Close(ctx)
	})

	clock := rotation.NewManualScheduler()
	slots := api.NewRegistry(func() *rotation.Slot {
		return rotation.NewSlot(gate, fetcher, emitter, clock, logger, metrics)
	}, metrics)
	t.Cleanup(slots.Close)

	cfg := config.Config{
		ServiceName:      "adrotator-it",
		RotateInterval:   rotation.DefaultInterval,
		AdLimit:          5,
		MobileBreakpoint: 768,
	}
	srv := api.NewServer(logger, slots, nil, nil, client, metrics, cfg)
	return &stack{dev: dev, handler: srv.Router(), clock: clock, emitter: emitter}
}

func (s *stack) get(t *testing.T, path, viewer string, cookie *http.Cookie) (*httptest.ResponseRecorder, api.PlacementResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if viewer != "" {
		req.Header.Set(api.ViewerHeader, viewer)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var resp api.PlacementResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func cookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == api.SessionCookie {
			return c
		}
	}
	return nil
}

func (s *stack) impressionIDs() []string {
	var ids []string
	for _, ev := range s.dev.Events("log_ad_impression") {
		ids = append(ids, ev.CreativeID)
	}
	return ids
}

func ads(ids ...string) []models.Creative {
	out := make([]models.Creative, len(ids))
	for i, id := range ids {
		out[i] = models.Creative{
			ID:         id,
			CampaignID: "camp-" + id,
			MediaType:  models.MediaImage,
			MediaURL:   "https://cdn.example.com/" + id + ".png",
			LinkURL:    "https://example.com/" + id,
		}
	}
	return out
}

func TestRotationLogsEveryDisplay(t *testing.T) {
	s := newStack(t)
	s.dev.SetAds(models.PlacementSidebar, ads("A", "B", "C"))

	rec, resp := s.get(t, "/placements/sidebar?width=1280", "student-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Creative)
	assert.Equal(t, "A", resp.Creative.ID)
	assert.Equal(t, "displaying", resp.State)
	assert.Equal(t, 3, resp.Count)
	cookie := cookieFrom(rec)
	require.NotNil(t, cookie)

	for i := 0; i < 3; i++ {
		s.clock.Advance(rotation.DefaultInterval)
	}

	_, resp = s.get(t, "/placements/sidebar?width=1280", "student-1", cookie)
	require.NotNil(t, resp.Creative)
	assert.Equal(t, "A", resp.Creative.ID, "reusing the slot keeps the rotation position")

	assert.Eventually(t, func() bool { return len(s.impressionIDs()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C", "A"}, s.impressionIDs())

	events := s.dev.Events("log_ad_impression")
	require.NotNil(t, events[0].ViewerID)
	assert.Equal(t, "student-1", *events[0].ViewerID)
	assert.Equal(t, "desktop", events[0].Device)
	require.NotNil(t, events[0].CampaignID)
	assert.Equal(t, "camp-A", *events[0].CampaignID)
}

func TestPremiumViewerSeesNothing(t *testing.T) {
	s := newStack(t)
	s.dev.SetAds(models.PlacementHeader, ads("A", "B"))
	s.dev.SetPremium("paid", true)

	rec, resp := s.get(t, "/placements/header", "paid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "empty", resp.State)
	assert.Nil(t, resp.Creative)
	assert.Nil(t, resp.HTML)

	s.clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.dev.Events(""))
}

func TestRankingOutageFallsBack(t *testing.T) {
	s := newStack(t)
	s.dev.SetRankingDown(true)
	s.dev.SetFallbackAds(models.PlacementFooter, ads("F1"))

	_, resp := s.get(t, "/placements/footer?width=400", "", nil)
	require.NotNil(t, resp.Creative)
	assert.Equal(t, "F1", resp.Creative.ID)
	assert.Equal(t, 1, resp.Count)

	assert.Eventually(t, func() bool { return len(s.impressionIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := s.dev.Events("log_ad_impression")[0]
	assert.Nil(t, ev.ViewerID)
	assert.Equal(t, "mobile", ev.Device)
}

func TestBothSourcesDownLeavesSlotEmpty(t *testing.T) {
	s := newStack(t)
	s.dev.SetRankingDown(true)

	rec, resp := s.get(t, "/placements/inline", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "empty", resp.State)
	assert.Nil(t, resp.Creative)
}

func TestClickIsLoggedAndRedirects(t *testing.T) {
	s := newStack(t)
	s.dev.SetAds(models.PlacementSidebar, ads("A", "B"))

	rec, _ := s.get(t, "/placements/sidebar", "student-2", nil)
	cookie := cookieFrom(rec)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/placements/sidebar/click?creative=A", nil)
	req.AddCookie(cookie)
	click := httptest.NewRecorder()
	s.handler.ServeHTTP(click, req)
	assert.Equal(t, http.StatusFound, click.Code)
	assert.Equal(t, "https://example.com/A", click.Header().Get("Location"))

	assert.Eventually(t, func() bool { return len(s.dev.Events("log_ad_click")) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := s.dev.Events("log_ad_click")[0]
	assert.Equal(t, "A", ev.CreativeID)
	require.NotNil(t, ev.ViewerID)
	assert.Equal(t, "student-2", *ev.ViewerID)
}

func TestUnmountStopsRotation(t *testing.T) {
	s := newStack(t)
	s.dev.SetAds(models.PlacementSidebar, ads("A", "B"))

	rec, _ := s.get(t, "/placements/sidebar", "", nil)
	cookie := cookieFrom(rec)

	req := httptest.NewRequest(http.MethodDelete, "/placements/sidebar", nil)
	req.AddCookie(cookie)
	del := httptest.NewRecorder()
	s.handler.ServeHTTP(del, req)
	assert.Equal(t, http.StatusNoContent, del.Code)
	assert.Equal(t, 0, s.clock.Active())

	s.clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return len(s.impressionIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"A"}, s.impressionIDs())
}
