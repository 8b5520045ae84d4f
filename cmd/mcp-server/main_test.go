package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/analytics"
	"github.com/patrickwarner/adrotator/internal/entitlement"
	"github.com/patrickwarner/adrotator/internal/models"
)

type stubSource struct {
	got  adfetch.Request
	list []models.Creative
}

func (s *stubSource) Fetch(ctx context.Context, req adfetch.Request) ([]models.Creative, error) {
	s.got = req
	return s.list, nil
}

type stubChecker struct {
	premium bool
	err     error
}

func (c stubChecker) HasActivePremium(ctx context.Context, viewerID string) (bool, error) {
	return c.premium, c.err
}

type stubEvents struct{ rows []analytics.EventRecord }

func (s stubEvents) GetEventsByCreative(ctx context.Context, creativeID string, limit int) ([]analytics.EventRecord, error) {
	return s.rows, nil
}

func newDiagnostics(src adfetch.Source, checker entitlement.Checker) *DiagnosticsServer {
	return &DiagnosticsServer{
		fetcher: adfetch.NewClient(src, nil, zap.NewNop(), nil),
		gate:    entitlement.NewGate(checker, zap.NewNop(), nil),
		defLim:  5,
		logger:  zap.NewNop(),
	}
}

func TestFetchPlacementAds(t *testing.T) {
	src := &stubSource{list: []models.Creative{{ID: "c1"}}}
	d := newDiagnostics(src, stubChecker{})

	_, out, err := d.FetchPlacementAds(context.Background(), nil, FetchPlacementAdsInput{
		Placement: "Sidebar",
		Device:    "MOBILE",
		Country:   "de",
	})
	require.NoError(t, err)
	assert.Equal(t, "sidebar", out.Placement)
	require.Len(t, out.Creatives, 1)
	assert.Equal(t, models.DeviceMobile, src.got.Device)
	assert.Equal(t, "DE", src.got.Country)
	assert.Equal(t, 5, src.got.Limit)
}

func TestFetchPlacementAdsUnknownPlacement(t *testing.T) {
	d := newDiagnostics(&stubSource{}, stubChecker{})
	_, _, err := d.FetchPlacementAds(context.Background(), nil, FetchPlacementAdsInput{Placement: "billboard"})
	assert.ErrorIs(t, err, models.ErrUnknownPlacement)
}

func TestCheckEntitlement(t *testing.T) {
	_, out, err := newDiagnostics(&stubSource{}, stubChecker{premium: true}).
		CheckEntitlement(context.Background(), nil, CheckEntitlementInput{ViewerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "premium", out.Entitlement)
	assert.False(t, out.ShowsAds)

	_, out, _ = newDiagnostics(&stubSource{}, stubChecker{err: errors.New("down")}).
		CheckEntitlement(context.Background(), nil, CheckEntitlementInput{ViewerID: "u1"})
	assert.Equal(t, "unknown", out.Entitlement)
	assert.False(t, out.ShowsAds)

	_, out, _ = newDiagnostics(&stubSource{}, stubChecker{premium: true}).
		CheckEntitlement(context.Background(), nil, CheckEntitlementInput{})
	assert.Equal(t, "free", out.Entitlement)
	assert.True(t, out.ShowsAds)
}

func TestCreativeEvents(t *testing.T) {
	d := newDiagnostics(&stubSource{}, stubChecker{})
	_, _, err := d.CreativeEvents(context.Background(), nil, CreativeEventsInput{CreativeID: "c1"})
	assert.ErrorIs(t, err, analytics.ErrUnavailable)

	d.events = stubEvents{rows: []analytics.EventRecord{{EventType: "click", CreativeID: "c1", Timestamp: time.Now()}}}
	_, out, err := d.CreativeEvents(context.Background(), nil, CreativeEventsInput{CreativeID: "c1"})
	require.NoError(t, err)
	assert.Len(t, out.Events, 1)

	_, _, err = d.CreativeEvents(context.Background(), nil, CreativeEventsInput{})
	assert.Error(t, err)
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, newMCPServer(newDiagnostics(&stubSource{}, stubChecker{})))
}
