package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the per-key bucket shape.
type Config struct {
	Capacity   int     // burst allowance
	RefillRate float64 // tokens added per second
}

// Enabled reports whether the configuration limits anything.
func (c Config) Enabled() bool {
	return c.Capacity > 0
}

// Limiter keeps one token bucket per key, created lazily on first use.
//
//	limiter := ratelimit.NewLimiter(ratelimit.Config{Capacity: 10, RefillRate: 0.5})
//	if !limiter.Allow(sessionID) {
//	    // too many clicks from this session
//	}
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*TokenBucket
	config  Config
	now     func() time.Time
}

// NewLimiter creates a limiter. A zero capacity disables limiting.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		now:     time.Now,
	}
}

// Allow consumes a token for key. A nil or disabled limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil || !l.config.Enabled() {
		return true
	}
	now := l.now()

	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		bucket, ok = l.buckets[key]
		if !ok {
			bucket = NewTokenBucket(l.config.Capacity, l.config.RefillRate, now)
			l.buckets[key] = bucket
		}
		l.mu.Unlock()
	}
	return bucket.Allow(now)
}

// Prune drops buckets untouched for longer than idle and returns how many
// were removed. A dropped bucket is recreated full on next use.
func (l *Limiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, bucket := range l.buckets {
		if bucket.idleSince().Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Stats returns a snapshot of per-key statistics. A nil limiter has none.
func (l *Limiter) Stats() map[string]Stats {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Stats, len(l.buckets))
	for key, bucket := range l.buckets {
		hits, total := bucket.Stats()
		s := Stats{Key: key, Hits: hits, Total: total}
		if total > 0 {
			s.HitRate = float64(hits) / float64(total)
		}
		out[key] = s
	}
	return out
}

// Stats describes limiting activity for one key.
type Stats struct {
	Key     string  `json:"key"`
	Hits    int64   `json:"hits"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
}

func (s Stats) String() string {
	return fmt.Sprintf("%s: %d/%d limited (%.2f%%)", s.Key, s.Hits, s.Total, s.HitRate*100)
}
