package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/rotation"
)

func TestRegistrySweepRemovesIdleSlots(t *testing.T) {
	env := newTestEnv(t, models.EntitlementFree, creatives("A", "B"))
	reg := env.srv.Slots

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	p := rotation.Params{Placement: models.PlacementSidebar}
	_, ready := reg.Acquire(context.Background(), "s1", models.PlacementSidebar, p)
	<-ready
	now = now.Add(10 * time.Minute)
	_, ready = reg.Acquire(context.Background(), "s2", models.PlacementSidebar, p)
	<-ready
	require.Equal(t, 2, reg.Len())
	assert.Equal(t, 2, env.metrics.Gauge("active_slots"))

	now = now.Add(25 * time.Minute)
	assert.Equal(t, 1, reg.Sweep(30*time.Minute))

	_, ok := reg.Lookup("s1", models.PlacementSidebar)
	assert.False(t, ok)
	_, ok = reg.Lookup("s2", models.PlacementSidebar)
	assert.True(t, ok)
	assert.Equal(t, 1, env.metrics.Gauge("active_slots"))
	assert.Equal(t, 1, env.clock.Active())
}

func TestRegistryIsolatesSessions(t *testing.T) {
	env := newTestEnv(t, models.EntitlementFree, creatives("A"))
	reg := env.srv.Slots

	p := rotation.Params{Placement: models.PlacementHeader}
	a, readyA := reg.Acquire(context.Background(), "s1", models.PlacementHeader, p)
	b, readyB := reg.Acquire(context.Background(), "s2", models.PlacementHeader, p)
	<-readyA
	<-readyB
	assert.NotSame(t, a, b)

	again, ready := reg.Acquire(context.Background(), "s1", models.PlacementHeader, p)
	<-ready
	assert.Same(t, a, again)
	assert.Equal(t, 2, env.fetcher.Calls())

	assert.True(t, reg.Remove("s1", models.PlacementHeader))
	assert.False(t, reg.Remove("s1", models.PlacementHeader))
}

func TestRegistryRetriesEmptySlot(t *testing.T) {
	env := newTestEnv(t, models.EntitlementFree, nil)
	reg := env.srv.Slots

	p := rotation.Params{Placement: models.PlacementFooter}
	first, ready := reg.Acquire(context.Background(), "s1", models.PlacementFooter, p)
	<-ready
	assert.Equal(t, rotation.StateEmpty, first.State())

	env.fetcher.mu.Lock()
	env.fetcher.list = creatives("A")
	env.fetcher.mu.Unlock()

	again, ready := reg.Acquire(context.Background(), "s1", models.PlacementFooter, p)
	<-ready
	assert.Same(t, first, again)
	assert.Equal(t, rotation.StateDisplaying, again.State())
	assert.Equal(t, 2, env.fetcher.Calls())
}
