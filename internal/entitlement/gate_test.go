package entitlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

type stubChecker struct {
	mu      sync.Mutex
	premium bool
	err     error
	calls   int
}

func (s *stubChecker) HasActivePremium(ctx context.Context, viewerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.premium, s.err
}

func TestGateResolve(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()

	premium := NewGate(&stubChecker{premium: true}, zap.NewNop(), metrics)
	assert.Equal(t, models.EntitlementPremium, premium.Resolve(context.Background(), "u1"))

	free := NewGate(&stubChecker{}, zap.NewNop(), metrics)
	assert.Equal(t, models.EntitlementFree, free.Resolve(context.Background(), "u1"))

	broken := NewGate(&stubChecker{err: errors.New("timeout")}, zap.NewNop(), metrics)
	assert.Equal(t, models.EntitlementUnknown, broken.Resolve(context.Background(), "u1"))

	assert.Equal(t, 1, metrics.Count("gate", "premium"))
	assert.Equal(t, 1, metrics.Count("gate", "free"))
	assert.Equal(t, 1, metrics.Count("gate", "unknown"))
}

func TestGateAnonymousSkipsLookup(t *testing.T) {
	checker := &stubChecker{premium: true}
	g := NewGate(checker, nil, nil)
	assert.Equal(t, models.EntitlementFree, g.Resolve(context.Background(), ""))
	assert.Equal(t, 0, checker.calls)
}

func TestAllows(t *testing.T) {
	assert.True(t, Allows(models.EntitlementFree))
	assert.False(t, Allows(models.EntitlementPremium))
	assert.False(t, Allows(models.EntitlementUnknown))
}

type premiumCaller struct{ result string }

func (p premiumCaller) RPC(ctx context.Context, fn string, params any, out any) error {
	if fn != "has_active_premium" {
		return errors.New("unexpected rpc " + fn)
	}
	b, ok := out.(*bool)
	if !ok {
		return errors.New("unexpected out type")
	}
	*b = p.result == "true"
	return nil
}

func TestRPCChecker(t *testing.T) {
	c := &RPCChecker{Backend: premiumCaller{result: "true"}}
	premium, err := c.HasActivePremium(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, premium)
}

func TestCachedChecker(t *testing.T) {
	ms, err := miniredis.Run()
	require.NoError(t, err)
	defer ms.Close()
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: ms.Addr()})}

	inner := &stubChecker{premium: true}
	c := &CachedChecker{Inner: inner, Store: store, TTL: time.Minute, Logger: zap.NewNop()}

	for i := 0; i < 3; i++ {
		premium, err := c.HasActivePremium(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, premium)
	}
	assert.Equal(t, 1, inner.calls)

	ms.FastForward(2 * time.Minute)
	_, _ = c.HasActivePremium(context.Background(), "u1")
	assert.Equal(t, 2, inner.calls)
}

func TestCachedCheckerRedisDown(t *testing.T) {
	ms, err := miniredis.Run()
	require.NoError(t, err)
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: ms.Addr()})}
	ms.Close()

	c := &CachedChecker{Inner: &stubChecker{}, Store: store, TTL: time.Minute}
	premium, err := c.HasActivePremium(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, premium)
}

func TestCachedCheckerDoesNotCacheErrors(t *testing.T) {
	ms, err := miniredis.Run()
	require.NoError(t, err)
	defer ms.Close()
	store := &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: ms.Addr()})}

	inner := &stubChecker{err: errors.New("down")}
	c := &CachedChecker{Inner: inner, Store: store, TTL: time.Minute}
	_, err = c.HasActivePremium(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, ms.Exists("entitlement:premium:u1"))
}
