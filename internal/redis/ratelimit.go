package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chessarcade/leaderboard/internal/config"
	"github.com/chessarcade/leaderboard/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter for KEYS[1], starting a window of
// ARGV[1] milliseconds on first use, and returns {count, remaining ms}.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if current == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter provides Redis-based fixed-window rate limiting shared
// across server instances
type RateLimiter struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRateLimiter connects to Redis and creates a rate limiter
func NewRateLimiter(cfg *config.RedisConfig, logger *slog.Logger) (*RateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newRateLimiter(client, cfg.KeyPrefix, logger), nil
}

func newRateLimiter(client *redis.Client, prefix string, logger *slog.Logger) *RateLimiter {
	if prefix == "" {
		prefix = "chess-arcade"
	}
	return &RateLimiter{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (l *RateLimiter) Close() error {
	return l.client.Close()
}

// rateKey returns the Redis key for a client's counter
func (l *RateLimiter) rateKey(key string) string {
	return fmt.Sprintf("%s:ratelimit:%s", l.prefix, key)
}

// Allow implements ratelimit.Limiter
func (l *RateLimiter) Allow(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Decision, error) {
	res, err := fixedWindow.Run(ctx, l.client, []string{l.rateKey(key)}, policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("incrementing rate counter: %w", err)
	}
	if len(res) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("unexpected rate counter reply: %v", res)
	}

	count, ttl := res[0], res[1]
	if count <= int64(policy.Requests) {
		return ratelimit.Decision{Allowed: true}, nil
	}

	l.logger.Debug("rate limit exceeded", "key", key, "count", count)
	return ratelimit.Decision{
		Allowed:    false,
		RetryAfter: time.Duration(ttl) * time.Millisecond,
	}, nil
}
