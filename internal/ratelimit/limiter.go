// Package ratelimit throttles hub admissions with fixed Redis windows
// (INCR + EXPIRE). Redis errors fail open.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a limit of Limit hits per Window for keys under Prefix.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// ConnectRule returns the per-IP connection rule with the given limit per
// minute.
func ConnectRule(perMinute int) Rule {
	return Rule{Prefix: "rl:conn:", Limit: perMinute, Window: time.Minute}
}

// Limiter checks rules against Redis.
type Limiter struct {
	client *redis.Client
	rule   Rule
}

// NewLimiter creates a Limiter enforcing rule.
func NewLimiter(client *redis.Client, rule Rule) *Limiter {
	return &Limiter{client: client, rule: rule}
}

// Allow records a hit for identifier and reports whether it is within the
// limit.
func (l *Limiter) Allow(ctx context.Context, identifier string) bool {
	key := l.rule.Prefix + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true
	}

	// The first hit opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= l.rule.Limit
}
