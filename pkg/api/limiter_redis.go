package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWindowScript implements a fixed-window counter atomically in Redis.
// KEYS[1] = window key, ARGV[1] = limit, ARGV[2] = window seconds.
var redisWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
    return 0
end
return 1
`)

// RedisLimiter is a Limiter shared across service instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit requests per caller per window.
func NewRedisLimiter(addr string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := redisWindowScript.Run(ctx, l.client,
		[]string{"rate_limit:" + key},
		l.limit, int(l.window.Seconds()),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Close releases the underlying Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
