package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tradehub-backend/internal/app"
	"github.com/angelmondragon/tradehub-backend/internal/cron"
	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db"
	"github.com/angelmondragon/tradehub-backend/pkg/gateway"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/metrics"
	"github.com/angelmondragon/tradehub-backend/pkg/migrate"
	"github.com/angelmondragon/tradehub-backend/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	bootCtx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Warn(bootCtx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	fatalIf(logg, "failed to load config", err)
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Environment: cfg.App.Env,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	fatalIf(logg, "failed to bootstrap database", err)
	defer closeQuietly(logg, "database", dbClient.Close)

	fatalIf(logg, "failed to run dev migrations", migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient))

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	fatalIf(logg, "failed to bootstrap redis", err)
	defer closeQuietly(logg, "redis", redisClient.Close)

	gatewayClient, err := gateway.NewClient(cfg.Gateway)
	fatalIf(logg, "failed to create gateway client", err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	services, err := app.NewServices(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Gateway:    gatewayClient,
		Registerer: reg,
	})
	fatalIf(logg, "failed to wire services", err)

	jobs, err := buildJobs(cfg, logg, dbClient, services)
	fatalIf(logg, "failed to build cron jobs", err)
	jobRegistry, err := cron.NewRegistry(jobs...)
	fatalIf(logg, "failed to register cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName, lockScope(cfg.App.Env)), cfg.Cron.LockTTL)
	fatalIf(logg, "failed to create cron lock", err)

	worker, err := cron.NewService(cron.ServiceParams{
		Logger:       logg,
		Registry:     jobRegistry,
		Lock:         lock,
		Metrics:      metrics.NewCronJobMetrics(reg),
		Interval:     cfg.Cron.Interval,
		CycleTimeout: cfg.Cron.LockTTL,
	})
	fatalIf(logg, "failed to create cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"jobs":        jobRegistry.Names(),
	})

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting cron worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildJobs lists every scheduled job in the order a tick runs them.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *app.Services) ([]cron.Job, error) {
	expiry, err := cron.NewSubscriptionExpiryJob(cron.SubscriptionExpiryJobParams{
		Logger:        logg,
		Subscriptions: services.Subscriptions,
		Limit:         cfg.Cron.ExpiryBatch,
	})
	if err != nil {
		return nil, err
	}
	poll, err := cron.NewPaymentPollJob(cron.PaymentPollJobParams{
		Logger:   logg,
		Payments: services.Payments,
		MinAge:   cfg.Cron.PendingPaymentAge,
		Limit:    cfg.Cron.PaymentPollBatch,
	})
	if err != nil {
		return nil, err
	}
	unpaid, err := cron.NewUnpaidOrderJob(cron.UnpaidOrderJobParams{
		Logger: logg,
		Orders: services.Orders,
		TTL:    cfg.Cron.UnpaidOrderTTL,
		Limit:  cfg.Cron.ExpiryBatch,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: services.OutboxRepo,
		Retention:  cfg.Cron.OutboxRetention,
		BatchSize:  cfg.Cron.RetentionBatch,
	})
	if err != nil {
		return nil, err
	}
	return []cron.Job{expiry, poll, unpaid, retention}, nil
}

func lockScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func fatalIf(logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}

func closeQuietly(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(logg.WithField(context.Background(), "resource", name), "close failed", err)
	}
}
