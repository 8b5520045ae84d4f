package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/rotation"
	"github.com/patrickwarner/adrotator/internal/telemetry"
)

type fakeGate struct{ status models.Entitlement }

func (g fakeGate) Resolve(ctx context.Context, viewerID string) models.Entitlement {
	return g.status
}

type fakeFetcher struct {
	mu       sync.Mutex
	list     []models.Creative
	requests []adfetch.Request
}

func (f *fakeFetcher) Fetch(ctx context.Context, req adfetch.Request) []models.Creative {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.list
}

func (f *fakeFetcher) Last() adfetch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type reporter struct {
	mu     sync.Mutex
	kinds  []models.EventKind
	ids    []string
	viewer []string
}

func (r *reporter) Impression(c models.Creative, a telemetry.Attribution) bool {
	r.add(models.EventImpression, c, a)
	return true
}

func (r *reporter) Click(c models.Creative, a telemetry.Attribution) bool {
	r.add(models.EventClick, c, a)
	return true
}

func (r *reporter) add(k models.EventKind, c models.Creative, a telemetry.Attribution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, k)
	r.ids = append(r.ids, c.ID)
	r.viewer = append(r.viewer, a.ViewerID)
}

func (r *reporter) Count(k models.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.kinds {
		if got == k {
			n++
		}
	}
	return n
}

type fakeHealth struct{ err error }

func (h fakeHealth) HealthCheck(ctx context.Context) error { return h.err }

var errBackendDown = errors.New("backend down")

type testEnv struct {
	srv      *Server
	handler  http.Handler
	fetcher  *fakeFetcher
	reporter *reporter
	clock    *rotation.ManualScheduler
	metrics  *observability.MockMetricsRegistry
}

func newTestEnv(t *testing.T, status models.Entitlement, list []models.Creative) *testEnv {
	t.Helper()
	env := &testEnv{
		fetcher:  &fakeFetcher{list: list},
		reporter: &reporter{},
		clock:    rotation.NewManualScheduler(),
		metrics:  observability.NewMockMetricsRegistry(),
	}
	slots := NewRegistry(func() *rotation.Slot {
		return rotation.NewSlot(fakeGate{status: status}, env.fetcher, env.reporter, env.clock, zap.NewNop(), env.metrics)
	}, env.metrics)
	t.Cleanup(slots.Close)

	cfg := config.Config{
		ServiceName:      "adrotator-test",
		RotateInterval:   7 * time.Second,
		AdLimit:          5,
		MobileBreakpoint: 768,
	}
	env.srv = NewServer(zap.NewNop(), slots, nil, nil, nil, env.metrics, cfg)
	env.handler = env.srv.Router()
	return env
}

// do serves req and returns the recorder, carrying over cookie when set.
func (e *testEnv) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

func creatives(ids ...string) []models.Creative {
	out := make([]models.Creative, len(ids))
	for i, id := range ids {
		out[i] = models.Creative{
			ID:        id,
			MediaType: models.MediaImage,
			MediaURL:  "https://cdn.example.com/" + id + ".png",
			LinkURL:   "https://example.com/" + id,
		}
	}
	return out
}
