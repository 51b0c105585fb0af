// Package kv provides the Redis connection used as the shared key-value store.
// This is part of the platform layer and contains no business logic.
package kv

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"booking_sync_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

// ParseOptions turns a redis:// or rediss:// URL into client options,
// optionally relaxing TLS verification for managed providers with private CAs.
func ParseOptions(redisURL string, tlsInsecure bool) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if tlsInsecure {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return opt, nil
}

// NewClient connects to Redis and verifies the connection with a PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := ParseOptions(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Keyspace builds namespaced keys so several deployments can share one Redis.
type Keyspace struct {
	prefix string
}

// NewKeyspace creates a keyspace with the given prefix (e.g. "bsync:").
func NewKeyspace(prefix string) Keyspace {
	return Keyspace{prefix: prefix}
}

// Key joins the prefix with the given parts separated by ':'.
func (k Keyspace) Key(parts ...string) string {
	key := k.prefix
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}

// PoolAdapter exposes Ping for readiness checks.
type PoolAdapter struct {
	client *redis.Client
}

// NewPoolAdapter wraps a Redis client for health checks.
func NewPoolAdapter(client *redis.Client) *PoolAdapter {
	return &PoolAdapter{client: client}
}

// Ping reports whether Redis answers.
func (p *PoolAdapter) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
