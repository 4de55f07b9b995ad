// Package ratelimit implements the per-API-key sliding window limiter
// guarding the ingestion endpoint. With a Redis client it coordinates
// across instances via a sorted-set window; without one (or on Redis
// error) an in-process window takes over, so a Redis outage degrades to
// per-instance limiting instead of an open gate.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Limiter is a sliding-window rate limiter keyed by caller identity.
type Limiter struct {
	rdb      *redis.Client
	capacity int
	window   time.Duration

	mu    sync.Mutex
	local map[string][]time.Time
}

// New builds a limiter allowing capacity requests per window per key.
// rdb may be nil for purely local operation.
func New(rdb *redis.Client, capacity int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:      rdb,
		capacity: capacity,
		window:   window,
		local:    make(map[string][]time.Time),
	}
}

// slidingWindowScript atomically prunes expired entries, counts the
// window, and records the request if capacity remains.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < capacity then
	redis.call('ZADD', key, now, now .. ':' .. redis.call('INCR', key .. ':seq'))
	redis.call('PEXPIRE', key, window_ms + 1000)
	redis.call('PEXPIRE', key .. ':seq', window_ms + 1000)
	return {1, capacity - count - 1}
else
	return {0, 0}
end
`

// Allow reports whether a request under key may proceed, with the
// remaining allowance and the window reset time (for Retry-After).
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, time.Time) {
	now := time.Now()
	resetAt := now.Add(l.window)

	if l.rdb == nil {
		allowed, remaining := l.allowLocal(key, now)
		return allowed, remaining, resetAt
	}

	result, err := l.rdb.Eval(ctx, slidingWindowScript, []string{l.redisKey(key)},
		float64(now.UnixMicro())/1e6,
		float64(now.Add(-l.window).UnixMicro())/1e6,
		l.capacity,
		l.window.Milliseconds(),
	).Result()
	if err != nil {
		allowed, remaining := l.allowLocal(key, now)
		return allowed, remaining, resetAt
	}

	res := result.([]interface{})
	return res[0].(int64) == 1, int(res[1].(int64)), resetAt
}

// allowLocal is the in-process sliding window fallback.
func (l *Limiter) allowLocal(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	entries := l.local[key]
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.capacity {
		l.local[key] = kept
		return false, 0
	}

	kept = append(kept, now)
	l.local[key] = kept
	return true, l.capacity - len(kept)
}

func (l *Limiter) redisKey(key string) string {
	return fmt.Sprintf("ratelimit:ingest:%s", key)
}
