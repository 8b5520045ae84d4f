package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/backend"
	"github.com/patrickwarner/adrotator/internal/db"
)

// Checker answers whether a viewer currently holds an active premium
// subscription.
type Checker interface {
	HasActivePremium(ctx context.Context, viewerID string) (bool, error)
}

// RPCChecker asks the backend's has_active_premium procedure.
type RPCChecker struct {
	Backend backend.Caller
}

// HasActivePremium implements Checker.
func (c *RPCChecker) HasActivePremium(ctx context.Context, viewerID string) (bool, error) {
	var premium bool
	params := map[string]string{"p_user_id": viewerID}
	if err := c.Backend.RPC(ctx, "has_active_premium", params, &premium); err != nil {
		return false, fmt.Errorf("has_active_premium: %w", err)
	}
	return premium, nil
}

// premiumQuery matches an unexpired, active premium subscription.
const premiumQuery = `SELECT EXISTS (
    SELECT 1 FROM subscriptions
    WHERE user_id = $1
      AND status = 'active'
      AND plan = 'premium'
      AND (expires_at IS NULL OR expires_at > $2)
)`

// PostgresChecker reads subscriptions straight from the backend database.
type PostgresChecker struct {
	DB  *sql.DB
	Now func() time.Time
}

// HasActivePremium implements Checker.
func (c *PostgresChecker) HasActivePremium(ctx context.Context, viewerID string) (bool, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	var premium bool
	if err := c.DB.QueryRowContext(ctx, premiumQuery, viewerID, now().UTC()).Scan(&premium); err != nil {
		return false, fmt.Errorf("query subscriptions: %w", err)
	}
	return premium, nil
}

// CachedChecker fronts another Checker with a Redis cache. Cache failures
// are logged and fall through to the inner checker.
type CachedChecker struct {
	Inner  Checker
	Store  *db.RedisStore
	TTL    time.Duration
	Logger *zap.Logger
}

// HasActivePremium implements Checker.
func (c *CachedChecker) HasActivePremium(ctx context.Context, viewerID string) (bool, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	premium, err := c.Store.GetPremium(ctx, viewerID)
	if err == nil {
		return premium, nil
	}
	if !errors.Is(err, db.ErrCacheMiss) {
		logger.Warn("entitlement cache read failed", zap.Error(err))
	}

	premium, err = c.Inner.HasActivePremium(ctx, viewerID)
	if err != nil {
		return false, err
	}
	if err := c.Store.SetPremium(ctx, viewerID, premium, c.TTL); err != nil {
		logger.Warn("entitlement cache write failed", zap.Error(err))
	}
	return premium, nil
}
