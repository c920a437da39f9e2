package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/assetvault/pkg/api"
	"github.com/platinummonkey/assetvault/pkg/audit"
	"github.com/platinummonkey/assetvault/pkg/config"
	"github.com/platinummonkey/assetvault/pkg/lifecycle"
	"github.com/platinummonkey/assetvault/pkg/listfilter"
	"github.com/platinummonkey/assetvault/pkg/middleware"
	"github.com/platinummonkey/assetvault/pkg/notify"
	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/permissions"
	"github.com/platinummonkey/assetvault/pkg/sharing"
	"github.com/platinummonkey/assetvault/pkg/storage"
	"github.com/platinummonkey/assetvault/pkg/storage/memory"
	"github.com/platinummonkey/assetvault/pkg/storage/postgres"
	"github.com/platinummonkey/assetvault/pkg/visibility"
)

var version = "dev"

func main() {
	logLevel := flag.String("log-level", "info", "Bootstrap log level (debug, info, warn, error)")
	flag.Parse()

	bootLog := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.WithError(err).Fatal("Failed to load configuration")
	}

	if err := run(cfg, bootLog); err != nil {
		bootLog.WithError(err).Fatal("AssetVault exited with error")
	}
	bootLog.Info("AssetVault stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(cfg *config.Config, bootLog *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "assetvault")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	health := observability.NewHealthChecker(version)

	var hooks []namedHook

	// Storage
	var (
		store      storage.Store
		auditStore audit.Store
	)
	switch cfg.Storage.Type {
	case "postgres":
		conns, err := postgres.NewConnectionManager(postgres.ConfigFromStorage(cfg.Storage), logger)
		if err != nil {
			return err
		}
		pg, err := postgres.New(ctx, conns, logger)
		if err != nil {
			conns.Close()
			return err
		}
		conns.StartMaintenance(ctx, 30*time.Second, metrics)

		store, auditStore = pg, pg.Audit()
		hooks = append(hooks, namedHook{"storage", func(context.Context) error { return pg.Close() }})
		bootLog.WithField("replicas", len(conns.Stats().Replicas)).Info("Connected to PostgreSQL")
	default:
		mem := memory.New()
		store, auditStore = mem, mem.Audit()
		bootLog.Warn("Using in-memory storage; data is lost on restart")
	}

	health.AddCheck("store", true, store.HealthCheck)

	if cfg.Server.UsersFile != "" {
		users, err := config.LoadUsers(cfg.Server.UsersFile)
		if err != nil {
			return err
		}
		for _, u := range users {
			if err := store.UpsertUser(ctx, u); err != nil {
				return err
			}
		}
		bootLog.WithField("count", len(users)).Info("Seeded users")
	}

	// Grant cache
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		client, err := postgres.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			bootLog.WithError(err).Warn("Redis unavailable; continuing with in-process cache only")
		} else {
			redisClient = client
			health.AddCheck("redis", false, observability.RedisCheck(client))
			hooks = append(hooks, namedHook{"redis", func(context.Context) error { return client.Close() }})
		}
	}

	var grants sharing.Lookup = sharing.NewDirectory(store)
	var cache *sharing.CachedDirectory
	if cfg.Storage.CacheEnabled {
		cache = sharing.NewCachedDirectory(grants, redisClient, sharing.CacheConfig{
			L1Size: cfg.Storage.L1CacheSize,
			L1TTL:  cfg.Storage.L1CacheTTL,
			L2TTL:  cfg.Storage.GrantTTL,
		}, metrics)
		grants = cache
	}

	// Notifications
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.WebhookURL != "" {
		retry := notify.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Notify.MaxAttempts
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret, nil, retry)
	}
	dispatcher := notify.NewDispatcher(notifier, notify.DispatcherConfig{
		Workers: cfg.Notify.Workers,
		Timeout: cfg.Notify.Timeout,
	}, metrics)

	// Engine
	evaluator := visibility.NewEvaluator(grants)
	sharingOpts := []sharing.Option{
		sharing.WithMetrics(metrics),
		sharing.WithMaxRecipients(cfg.Sharing.MaxRecipients),
	}
	if cache != nil {
		sharingOpts = append(sharingOpts, sharing.WithCache(cache))
	}

	var rateLimit *middleware.RateLimitMiddleware
	if cfg.Server.RateLimitPerMinute > 0 {
		rateLimit = middleware.NewRateLimitMiddleware(cfg.Server.RateLimitPerMinute, redisClient)
		rateLimit.StartCleanup(ctx)
	}

	server := api.NewServer(api.Deps{
		Store:       store,
		Filter:      listfilter.NewFilter(evaluator, store, metrics),
		Permissions: permissions.NewAggregator(evaluator, metrics),
		Lifecycle:   lifecycle.NewMachine(store, dispatcher, lifecycle.WithMetrics(metrics)),
		Sharing:     sharing.NewManager(store, evaluator, dispatcher, sharingOpts...),
		Audit:       auditStore,
		Logger:      logger,
		Metrics:     metrics,
		RateLimit:   rateLimit,
	})

	// Audit retention
	scheduler := cron.New()
	if cfg.Audit.RetentionDays > 0 {
		job := audit.NewRetentionJob(auditStore, audit.RetentionPolicy{RetentionDays: cfg.Audit.RetentionDays}, logger)
		if _, err := job.Schedule(scheduler, cfg.Audit.CleanupSpec); err != nil {
			return err
		}
		scheduler.Start()
		bootLog.WithField("schedule", cfg.Audit.CleanupSpec).Info("Audit retention scheduled")
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	for _, h := range hooks {
		shutdown.Register(h.name, h.fn)
	}
	shutdown.Register("audit retention", func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	shutdown.Register("notifications", dispatcher.Wait)

	serverErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		srv := srv
		go func() {
			defer observability.RecoverPanic(logger, "http server")
			bootLog.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
				cancel()
			}
		}()
	}

	if err := shutdown.Wait(ctx); err != nil {
		return err
	}

	select {
	case err := <-serverErr:
		return err
	default:
		return nil
	}
}

type namedHook struct {
	name string
	fn   observability.ShutdownFunc
}
