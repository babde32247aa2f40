package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting keys:
// - ratelimit:{user_id}:messages - per-window REST send limit
// - ratelimit:{user_id}:ws - per-window live connection attempts

type RateLimitConfig struct {
	MessageLimit  int
	MessageWindow time.Duration
	ConnectLimit  int
	ConnectWindow time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessageLimit:  60,
		MessageWindow: 60 * time.Second,
		ConnectLimit:  20,
		ConnectWindow: 60 * time.Second,
	}
}

// RateLimiter is a fixed window counter shared by every relay node.
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

func (r *RateLimiter) AllowMessage(ctx context.Context, userID int64) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%d:messages", userID)
	return r.checkLimit(ctx, key, r.config.MessageLimit, r.config.MessageWindow)
}

func (r *RateLimiter) AllowConnect(ctx context.Context, userID int64) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%d:ws", userID)
	return r.checkLimit(ctx, key, r.config.ConnectLimit, r.config.ConnectWindow)
}

var limitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if ttl == window then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	else
		return {0, 0, ttl}
	end
`)

func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	result, err := limitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	return &RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetIn:   time.Duration(result[2]) * time.Second,
		Limit:     limit,
	}, nil
}

// ResetUser clears both counters of a user.
func (r *RateLimiter) ResetUser(ctx context.Context, userID int64) error {
	keys := []string{
		fmt.Sprintf("ratelimit:%d:messages", userID),
		fmt.Sprintf("ratelimit:%d:ws", userID),
	}
	return r.client.Del(ctx, keys...).Err()
}
