package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, then admits the event
// if the remaining count is under the limit.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local counter_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	if redis.call('ZCARD', key) >= limit then
		return 0
	end
	local n = redis.call('INCR', counter_key)
	redis.call('ZADD', key, now, now .. ':' .. n)
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', counter_key, window_ms)
	return 1
`)

// Redis is a sliding window limiter shared by every gateway process that
// points at the same Redis.
type Redis struct {
	client   *redis.Client
	limit    int
	interval time.Duration
	prefix   string
}

func NewRedis(client *redis.Client, limit int, interval time.Duration, prefix string) *Redis {
	return &Redis{client: client, limit: limit, interval: interval, prefix: prefix}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	k := l.prefix + key
	res, err := slidingWindow.Run(ctx, l.client, []string{k, k + ":n"},
		now.UnixMilli(),
		now.Add(-l.interval).UnixMilli(),
		l.limit,
		l.interval.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}
