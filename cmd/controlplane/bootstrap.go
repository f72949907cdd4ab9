package main

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/mtaha-9646/schedules-covers/pkg/api"
	"github.com/mtaha-9646/schedules-covers/pkg/apps"
	"github.com/mtaha-9646/schedules-covers/pkg/config"
	"github.com/mtaha-9646/schedules-covers/pkg/storage"
)

// connectRedis connects the enablement cache when configured. Without
// an address the gate reads Postgres directly.
func connectRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured, enablement gate reads postgres directly")
		return nil, nil
	}
	return storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}

// seedPortalApp registers the admin portal app on first boot so tenant
// admin actions have an app to be gated against
func seedPortalApp(ctx context.Context, store *apps.Store) error {
	_, err := store.GetAppByKey(ctx, api.PortalAppKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apps.ErrNotFound) {
		return err
	}

	return store.CreateApp(ctx, &apps.App{
		Key:    api.PortalAppKey,
		Name:   "Admin Portal",
		Status: apps.AppStatusActive,
	})
}
