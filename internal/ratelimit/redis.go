package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// RedisWindow shares one request budget between processes. Each window is a
// counter key named after the window's start; the first increment sets its
// expiry.
type RedisWindow struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisClient parses url, connects and pings. Commands are traced through
// the global OpenTelemetry provider.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis: %w", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewRedisWindow returns a limiter storing its counters under prefix.
func NewRedisWindow(client *redis.Client, prefix string, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Wait increments the current window's counter and sleeps until the next
// window when the budget is spent.
func (w *RedisWindow) Wait(ctx context.Context) error {
	for {
		now := w.now()
		start := now.Truncate(w.window)
		key := w.prefix + ":" + strconv.FormatInt(start.UnixMilli(), 10)

		n, err := w.client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("rate limit incr: %w", err)
		}
		if n == 1 {
			if err := w.client.PExpire(ctx, key, 2*w.window).Err(); err != nil {
				return fmt.Errorf("rate limit expire: %w", err)
			}
		}
		if n <= int64(w.limit) {
			return nil
		}

		timer := time.NewTimer(start.Add(w.window).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
