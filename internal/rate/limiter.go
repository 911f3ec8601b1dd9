// Package rate implements the per-IP fixed-window counters that protect
// login, registration and password-reset independently of account lockout.
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	Hits       int64
}

// Limiter counts hits per (key, window) pair. Limits are passed per call so
// one limiter serves every endpoint.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// RedisLimiter: fixed window on INCR + EXPIRE. The window boundary is the
// wall clock truncated to the window size, so all replicas agree on it.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
}

func NewRedisLimiter(client *rdb.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{Client: client, Prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	if incr.Val() == 1 {
		_ = l.Client.Expire(ctx, redisKey, window).Err()
	}

	hits := incr.Val()
	remaining := int64(limit) - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   hits <= int64(limit),
		Remaining: remaining,
		Hits:      hits,
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(winStart.Add(window))
		if res.RetryAfter < 0 {
			res.RetryAfter = window
		}
	}
	return res, nil
}
