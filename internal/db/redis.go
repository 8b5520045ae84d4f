package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned when a key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// RedisStore wraps a redis client used as a short-lived lookup cache.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func entitlementKey(viewerID string) string {
	return fmt.Sprintf("entitlement:premium:%s", viewerID)
}

// GetPremium returns the cached premium flag for a viewer, or ErrCacheMiss.
func (r *RedisStore) GetPremium(ctx context.Context, viewerID string) (bool, error) {
	val, err := r.Client.Get(ctx, entitlementKey(viewerID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrCacheMiss
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

// SetPremium caches the premium flag for a viewer for ttl.
func (r *RedisStore) SetPremium(ctx context.Context, viewerID string, premium bool, ttl time.Duration) error {
	val := "0"
	if premium {
		val = "1"
	}
	return r.Client.Set(ctx, entitlementKey(viewerID), val, ttl).Err()
}

// InvalidatePremium drops a viewer's cached flag, e.g. after checkout.
func (r *RedisStore) InvalidatePremium(ctx context.Context, viewerID string) error {
	return r.Client.Del(ctx, entitlementKey(viewerID)).Err()
}

// FlushPremium deletes every cached entitlement and returns how many keys
// were removed.
func (r *RedisStore) FlushPremium(ctx context.Context) (int, error) {
	var deleted int
	iter := r.Client.Scan(ctx, 0, entitlementKey("*"), 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := r.Client.Del(ctx, batch...).Err(); err != nil {
				return deleted, fmt.Errorf("delete entitlement keys: %w", err)
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan entitlement keys: %w", err)
	}
	if len(batch) > 0 {
		if err := r.Client.Del(ctx, batch...).Err(); err != nil {
			return deleted, fmt.Errorf("delete entitlement keys: %w", err)
		}
		deleted += len(batch)
	}
	return deleted, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
