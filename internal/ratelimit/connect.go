package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/postloop/postloop/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyConnectAttempt = "connect:attempt:%s:%s"

// ConnectLimiter bounds how fast a single workspace can start
// authorization flows against one platform, so a misbehaving client
// cannot flood the state table.
type ConnectLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewConnectLimiter(cfg config.Config) (*ConnectLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ConnectRate <= 0 || limitCfg.ConnectBurst <= 0 {
		return nil, errors.New("connect rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ConnectLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.ConnectRate,
		burst:   limitCfg.ConnectBurst,
	}, nil
}

func (l *ConnectLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow consumes one attempt for the workspace/platform pair. A nil or
// disabled limiter allows everything.
func (l *ConnectLimiter) Allow(ctx context.Context, workspaceID, platform string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyConnectAttempt, strings.TrimSpace(workspaceID), strings.TrimSpace(platform))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
