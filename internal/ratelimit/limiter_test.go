package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupTestLimiter(t *testing.T, rule Rule) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, rule)
}

func TestAllow_EnforcesLimit(t *testing.T) {
	rule := Rule{Prefix: "rl:test:" + uuid.NewString()[:8] + ":", Limit: 3, Window: time.Minute}
	l := setupTestLimiter(t, rule)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if !l.Allow(ctx, "10.0.0.1") {
			t.Fatalf("hit %d should be allowed", i)
		}
	}
	if l.Allow(ctx, "10.0.0.1") {
		t.Error("fourth hit should be limited")
	}
	if !l.Allow(ctx, "10.0.0.2") {
		t.Error("other identifiers have their own window")
	}
	l.client.Del(ctx, rule.Prefix+"10.0.0.1", rule.Prefix+"10.0.0.2")
}

func TestAllow_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewLimiter(client, ConnectRule(1))

	for i := 0; i < 3; i++ {
		if !l.Allow(context.Background(), "ip") {
			t.Fatal("limiter must allow when redis is unreachable")
		}
	}
}
