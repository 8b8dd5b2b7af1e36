package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, srv
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	limiter, _ := newLimiter(t, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "ip-1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v %v", i+1, d, err)
		}
	}
	d, err := limiter.Allow(ctx, "ip-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.Remaining != 0 || d.RetryAfter <= 0 {
		t.Fatalf("third request should be blocked with retry hint: %+v", d)
	}
	if d, _ := limiter.Allow(ctx, "ip-2"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("other keys have their own budget: %+v", d)
	}
}

func TestFixedWindowLimiterReportsRedisErrors(t *testing.T) {
	limiter, srv := newLimiter(t, 1)
	srv.Close()
	if _, err := limiter.Allow(context.Background(), "ip-1"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}

func TestFixedWindowLimiterValidatesArguments(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
