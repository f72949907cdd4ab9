package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is a read-through cache over Store for the gate's hot path.
// The gate runs on every privileged request, so app and enablement rows
// are served as redis point-lookups; a cache failure falls through to
// postgres rather than failing the read.
type RedisCache struct {
	store *Store
	redis *redis.Client
	ttl   map[string]time.Duration
}

// NewRedisCache creates a new cache layer over the apps store
func NewRedisCache(store *Store, client *redis.Client) (*RedisCache, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		store: store,
		redis: client,
		ttl: map[string]time.Duration{
			"app":        15 * time.Minute,
			"tenant_app": 1 * time.Minute,
		},
	}, nil
}

func appCacheKey(key string) string {
	return "apps:app:" + key
}

func tenantAppCacheKey(tenantID, appKey string) string {
	return "apps:tenant_app:" + tenantID + ":" + appKey
}

// GetAppByKey implements AppCatalog with a read-through cache
func (c *RedisCache) GetAppByKey(ctx context.Context, key string) (*App, error) {
	cacheKey := appCacheKey(key)

	if data, err := c.redis.Get(ctx, cacheKey).Bytes(); err == nil {
		var app App
		if err := json.Unmarshal(data, &app); err == nil {
			return &app, nil
		}
	}

	app, err := c.store.GetAppByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(app); err == nil {
		c.redis.Set(ctx, cacheKey, data, c.ttl["app"])
	}

	return app, nil
}

// GetTenantApp implements AppCatalog with a read-through cache
func (c *RedisCache) GetTenantApp(ctx context.Context, tenantID, appKey string) (*TenantApp, error) {
	cacheKey := tenantAppCacheKey(tenantID, appKey)

	if data, err := c.redis.Get(ctx, cacheKey).Bytes(); err == nil {
		var row TenantApp
		if err := json.Unmarshal(data, &row); err == nil {
			return &row, nil
		}
	}

	row, err := c.store.GetTenantApp(ctx, tenantID, appKey)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(row); err == nil {
		c.redis.Set(ctx, cacheKey, data, c.ttl["tenant_app"])
	}

	return row, nil
}

// UpsertTenantApp writes through the store and invalidates the cached row
func (c *RedisCache) UpsertTenantApp(ctx context.Context, row *TenantApp, appKey string) error {
	if err := c.store.UpsertTenantApp(ctx, row); err != nil {
		return err
	}

	c.redis.Del(ctx, tenantAppCacheKey(row.TenantID, appKey))
	return nil
}

// UpdateAppStatus writes through the store and invalidates the cached app
func (c *RedisCache) UpdateAppStatus(ctx context.Context, appID string, status AppStatus, appKey string) error {
	if err := c.store.UpdateAppStatus(ctx, appID, status); err != nil {
		return err
	}

	c.redis.Del(ctx, appCacheKey(appKey))
	return nil
}

// Close releases the redis connection
func (c *RedisCache) Close() error {
	return c.redis.Close()
}
