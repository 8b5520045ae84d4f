package devbackend

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/backend"
	"github.com/patrickwarner/adrotator/internal/entitlement"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/telemetry"
)

func TestBackendServesRanking(t *testing.T) {
	b := New(nil)
	b.SetAds(models.PlacementSidebar, []models.Creative{
		{ID: "a", CampaignID: "c", MediaType: models.MediaImage, MediaURL: "https://cdn/a.png"},
		{ID: "b", MediaType: models.MediaMarkup, MediaURL: "<p>b</p>", LinkURL: "https://x"},
	})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	src := adfetch.NewRPCSource(backend.NewClient(srv.URL, "key", time.Second, nil))
	got, err := src.Fetch(context.Background(), adfetch.Request{Placement: models.PlacementSidebar})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, models.MediaMarkup, got[1].MediaType)
	assert.Equal(t, "https://x", got[1].LinkURL)

	b.SetRankingDown(true)
	_, err = src.Fetch(context.Background(), adfetch.Request{Placement: models.PlacementSidebar})
	assert.Error(t, err)
}

func TestBackendFallbackShapeNormalizes(t *testing.T) {
	b := New(nil)
	b.SetFallbackAds(models.PlacementFooter, []models.Creative{
		{ID: "f1", Title: "One", MediaType: models.MediaImage, MediaURL: "https://cdn/1.png", LinkURL: "https://l/1"},
		{ID: "f2", MediaType: models.MediaMarkup, MediaURL: "<b>two</b>"},
	})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	got, err := adfetch.NewFallbackSource(srv.URL+"/ads", time.Second).
		Fetch(context.Background(), adfetch.Request{Placement: models.PlacementFooter, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[0].ID)
	assert.Equal(t, "One", got[0].Title)
	assert.Equal(t, models.MediaImage, got[0].MediaType)
	assert.Equal(t, "https://l/1", got[0].LinkURL)
	assert.Equal(t, models.MediaMarkup, got[1].MediaType)
}

func TestBackendEntitlementAndLogging(t *testing.T) {
	b := New(nil)
	b.SetPremium("paid", true)
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	client := backend.NewClient(srv.URL, "", time.Second, nil)

	checker := &entitlement.RPCChecker{Backend: client}
	premium, err := checker.HasActivePremium(context.Background(), "paid")
	require.NoError(t, err)
	assert.True(t, premium)
	premium, err = checker.HasActivePremium(context.Background(), "other")
	require.NoError(t, err)
	assert.False(t, premium)

	sink := &telemetry.RPCSink{Backend: client}
	require.NoError(t, sink.Send(context.Background(), models.Event{Kind: models.EventClick, CreativeID: "a", ViewerID: "paid", Device: models.DeviceMobile}))
	events := b.Events("log_ad_click")
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].CreativeID)
	require.NotNil(t, events[0].ViewerID)
	assert.Equal(t, "paid", *events[0].ViewerID)
	assert.Nil(t, events[0].Country)

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestGenerate(t *testing.T) {
	ads := Generate(rand.New(rand.NewSource(1)), 4)
	assert.Len(t, ads, len(models.AllPlacements))
	seen := map[string]bool{}
	for _, list := range ads {
		assert.Len(t, list, 4)
		for _, c := range list {
			assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
			seen[c.ID] = true
			assert.NotEmpty(t, c.MediaURL)
		}
	}
}
