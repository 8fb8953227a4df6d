package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grcops/compliance-core/internal/infrastructure/config"
	"github.com/grcops/compliance-core/internal/service/orchestrator"
)

const (
	dashboardKey      = "grc:dashboard"
	fingerprintPrefix = "grc:alert:fp:"
)

// Cache is the Redis-backed cache for dashboard snapshots and alert
// fingerprint dedupe. All operations are best-effort: a Redis failure
// degrades to a cache miss, never an error surfaced to callers.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects a Redis client and verifies it with a ping.
func New(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return &Cache{client: client, logger: logger}, nil
}

// NewWithClient wraps an existing client, for tests.
func NewWithClient(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// GetDashboard returns the cached dashboard snapshot, if any.
func (c *Cache) GetDashboard(ctx context.Context) (*orchestrator.Dashboard, bool) {
	data, err := c.client.Get(ctx, dashboardKey).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("dashboard cache read failed", zap.Error(err))
		return nil, false
	}
	var d orchestrator.Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		c.logger.Warn("dashboard cache decode failed", zap.Error(err))
		return nil, false
	}
	return &d, true
}

// SetDashboard caches a dashboard snapshot for the given TTL.
func (c *Cache) SetDashboard(ctx context.Context, d *orchestrator.Dashboard, ttl time.Duration) {
	data, err := json.Marshal(d)
	if err != nil {
		c.logger.Warn("dashboard cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, dashboardKey, data, ttl).Err(); err != nil {
		c.logger.Warn("dashboard cache write failed", zap.Error(err))
	}
}

// SeenFingerprint records an alert fingerprint and reports whether it was
// already present inside the TTL window. Used to suppress duplicate alerts
// re-raised by evaluation cycles over an unchanged snapshot.
func (c *Cache) SeenFingerprint(ctx context.Context, fingerprint string, ttl time.Duration) bool {
	set, err := c.client.SetNX(ctx, fingerprintPrefix+fingerprint, 1, ttl).Result()
	if err != nil {
		c.logger.Warn("fingerprint dedupe failed", zap.Error(err))
		return false
	}
	return !set
}
