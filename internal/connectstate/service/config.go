package service

import (
	"time"

	"github.com/postloop/postloop/internal/config"
	"github.com/postloop/postloop/internal/connectstate/token"
)

// Config holds connect-state lifecycle settings.
type Config struct {
	TTL          time.Duration
	EntropyBytes int
}

func NewConfig(cfg config.Config) Config {
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return Config{
		TTL:          ttl,
		EntropyBytes: cfg.StateEntropyBytes,
	}
}

func NewTokenGenerator(cfg Config) token.Generator {
	return token.NewGenerator(cfg.EntropyBytes)
}
