// Package ratelimit bounds per-client request rates ahead of validation and storage.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/chessarcade/leaderboard/internal/domain"
)

// Policy names
const (
	Read  = "read"
	Write = "write"
)

// Policy allows Requests per Window for each key
type Policy struct {
	Requests int           `yaml:"requests" env:"REQUESTS"`
	Window   time.Duration `yaml:"window" env:"WINDOW"`
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts requests per key within fixed windows
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

// RetryAfterSeconds rounds a retry delay up to whole seconds, never below one
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Guard applies named policies to client addresses
type Guard struct {
	limiter  Limiter
	policies map[string]Policy
	logger   *slog.Logger
}

// NewGuard creates a guard using read and write policies
func NewGuard(limiter Limiter, read, write Policy, logger *slog.Logger) *Guard {
	return &Guard{
		limiter: limiter,
		policies: map[string]Policy{
			Read:  read,
			Write: write,
		},
		logger: logger,
	}
}

// Check returns a *domain.RateLimitError when client exceeded the named policy.
// Limiter backend failures let the request through.
func (g *Guard) Check(ctx context.Context, policyName, client string) error {
	policy, ok := g.policies[policyName]
	if !ok || policy.Requests <= 0 || policy.Window <= 0 {
		return nil
	}

	decision, err := g.limiter.Allow(ctx, policyName+":"+client, policy)
	if err != nil {
		g.logger.Warn("rate limiter unavailable, allowing request",
			"policy", policyName,
			"error", err,
		)
		return nil
	}
	if decision.Allowed {
		return nil
	}

	return &domain.RateLimitError{
		Message:    "Too many requests, please try again later",
		RetryAfter: RetryAfterSeconds(decision.RetryAfter),
	}
}
