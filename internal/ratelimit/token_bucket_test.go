package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/postloop/postloop/internal/config"
	redis "github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewTokenBucket(client), mr
}

func TestAllowConsumesBurst(t *testing.T) {
	bucket, _ := newTestBucket(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "k", 0.01, 2)
		if err != nil {
			t.Fatalf("Allow failed on attempt %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d should be within burst", i)
		}
	}

	res, err := bucket.Allow(ctx, "k", 0.01, 2)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("third attempt should exceed burst")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", res.RetryAfter)
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	bucket, mr := newTestBucket(t)
	ctx := context.Background()

	res, err := bucket.Allow(ctx, "k", 1, 1)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("first attempt should be allowed")
	}

	res, err = bucket.Allow(ctx, "k", 1, 1)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("drained bucket should deny")
	}

	mr.FastForward(2 * time.Second)

	res, err = bucket.Allow(ctx, "k", 1, 1)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("bucket should refill after the rate interval")
	}
}

func TestAllowValidatesArguments(t *testing.T) {
	bucket, _ := newTestBucket(t)
	ctx := context.Background()

	if _, err := bucket.Allow(ctx, "", 1, 1); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := bucket.Allow(ctx, "k", 0, 1); err == nil {
		t.Fatal("expected error for zero rate")
	}
	if _, err := bucket.Allow(ctx, "k", 1, 0); err == nil {
		t.Fatal("expected error for zero burst")
	}
}

func TestConnectLimiterDisabled(t *testing.T) {
	limiter, err := NewConnectLimiter(config.Config{})
	if err != nil {
		t.Fatalf("NewConnectLimiter failed: %v", err)
	}
	if limiter != nil {
		t.Fatal("disabled config should yield a nil limiter")
	}

	res, err := limiter.Allow(context.Background(), "42", "x")
	if err != nil {
		t.Fatalf("nil limiter Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("nil limiter must allow everything")
	}
}

func TestConnectLimiterKeysPerWorkspacePlatform(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewConnectLimiter(config.Config{
		RateLimit: config.RateLimitConfig{
			Enabled:      true,
			RedisAddr:    mr.Addr(),
			ConnectRate:  0.01,
			ConnectBurst: 1,
		},
	})
	if err != nil {
		t.Fatalf("NewConnectLimiter failed: %v", err)
	}
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "42", "x")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("first attempt should be allowed")
	}

	res, err = limiter.Allow(ctx, "42", "x")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("second attempt for the same pair should be denied")
	}

	res, err = limiter.Allow(ctx, "42", "tiktok")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("a different platform must have its own bucket")
	}

	res, err = limiter.Allow(ctx, "77", "x")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("a different workspace must have its own bucket")
	}
}
