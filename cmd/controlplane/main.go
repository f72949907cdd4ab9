package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mtaha-9646/schedules-covers/pkg/api"
	"github.com/mtaha-9646/schedules-covers/pkg/apps"
	"github.com/mtaha-9646/schedules-covers/pkg/audit"
	"github.com/mtaha-9646/schedules-covers/pkg/catalog"
	"github.com/mtaha-9646/schedules-covers/pkg/config"
	"github.com/mtaha-9646/schedules-covers/pkg/decision"
	"github.com/mtaha-9646/schedules-covers/pkg/flags"
	"github.com/mtaha-9646/schedules-covers/pkg/grants"
	"github.com/mtaha-9646/schedules-covers/pkg/identity"
	"github.com/mtaha-9646/schedules-covers/pkg/middleware"
	"github.com/mtaha-9646/schedules-covers/pkg/observability"
	"github.com/mtaha-9646/schedules-covers/pkg/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	logger.SetLevel(cfg.Telemetry.LogLevel)

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Telemetry.OTelEnabled,
		Endpoint:       cfg.Telemetry.OTelEndpoint,
		ServiceName:    cfg.Telemetry.OTelServiceName,
		ServiceVersion: cfg.Telemetry.OTelServiceVersion,
		Insecure:       cfg.Telemetry.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize tracing")
	}

	db, err := storage.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}

	// catalog first: the grant tables reference roles
	if err := catalog.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Fatal("failed to run catalog migrations")
	}
	if err := storage.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Fatal("failed to run core migrations")
	}

	catalogStore, err := catalog.NewStore(db)
	if err != nil {
		logger.WithError(err).Fatal("failed to create catalog store")
	}
	if err := catalog.SeedBuiltIns(ctx, catalogStore); err != nil {
		logger.WithError(err).Fatal("failed to seed built-in roles")
	}

	identityStore := identity.NewStore(db)
	appStore := apps.NewStore(db)
	grantStore := grants.NewStore(db)
	flagStore := flags.NewStore(db)

	if err := seedPortalApp(ctx, appStore); err != nil {
		logger.WithError(err).Fatal("failed to seed portal app")
	}

	recorder, err := audit.NewRecorder(db)
	if err != nil {
		logger.WithError(err).Fatal("failed to create audit recorder")
	}

	registry := prometheus.NewRegistry()
	observability.RegisterDBStats(registry, db)

	var gateCatalog apps.AppCatalog = appStore
	redisClient, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	if redisClient != nil {
		cache, err := apps.NewRedisCache(appStore, redisClient)
		if err != nil {
			logger.WithError(err).Fatal("failed to create enablement cache")
		}
		gateCatalog = cache
	}
	gate := apps.NewGate(identityStore, gateCatalog)

	resolver := grants.NewResolver(identityStore, identityStore, catalogStore, grantStore, appStore)

	var flagSource flags.Source = flagStore
	var fileProvider *flags.FileProvider
	if cfg.Flags.FilePath != "" {
		fileProvider, err = flags.NewFileProvider(cfg.Flags.FilePath, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to load flags file")
		}
		// file definitions shadow database rows with the same key
		flagSource = flags.ChainSource{fileProvider, flagStore}
	}
	evaluator := flags.NewEvaluator(flagSource)

	service := decision.NewService(
		identityStore,
		gate,
		resolver,
		evaluator,
		recorder,
		decision.NewMetrics(registry),
		logger,
	)

	subjects := middleware.NewSubjectMiddleware(identityStore, logger)
	checker := observability.NewHealthChecker(db, redisClient)

	server := api.NewServer(logger, subjects, registry, http.HandlerFunc(checker.Readiness),
		api.NewDecisionHandlers(service),
		api.NewTenantHandlers(identityStore, appStore, service, logger),
		api.NewGrantHandlers(grantStore, identityStore, catalogStore, appStore, service),
		api.NewAppHandlers(appStore, service),
		api.NewCatalogHandlers(catalogStore, service),
		api.NewFlagHandlers(flagStore, evaluator, service),
		api.NewAuditHandlers(recorder, service),
	)

	var cronRunner *cron.Cron
	if cfg.Audit.S3Bucket != "" {
		s3Client, err := storage.NewS3Client(ctx, cfg.Audit.S3Region, cfg.Audit.S3Endpoint)
		if err != nil {
			logger.WithError(err).Fatal("failed to create s3 client")
		}
		archiver := audit.NewS3Archiver(s3Client, cfg.Audit.S3Bucket, cfg.Audit.S3Prefix)
		job := audit.NewRetentionJob(recorder, archiver, cfg.Audit.RetentionDays, logger)

		cronRunner = cron.New()
		if err := job.Register(cronRunner, cfg.Audit.Schedule); err != nil {
			logger.WithError(err).Fatal("failed to schedule audit retention")
		}
		cronRunner.Start()
		logger.WithFields(logrus.Fields{
			"schedule": cfg.Audit.Schedule,
			"bucket":   cfg.Audit.S3Bucket,
			"days":     cfg.Audit.RetentionDays,
		}).Info("audit retention scheduled")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	}()

	manager := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	if cronRunner != nil {
		manager.RegisterShutdownFunc(func(ctx context.Context) error {
			stopCtx := cronRunner.Stop()
			select {
			case <-stopCtx.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if fileProvider != nil {
		manager.RegisterShutdownFunc(func(context.Context) error {
			return fileProvider.Close()
		})
	}
	if redisClient != nil {
		manager.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	manager.RegisterShutdownFunc(func(context.Context) error {
		return db.Close()
	})
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	if err := manager.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}
