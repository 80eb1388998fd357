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

	"github.com/angelmondragon/tradehub-backend/internal/relay"
	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/db"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
	"github.com/angelmondragon/tradehub-backend/pkg/metrics"
	"github.com/angelmondragon/tradehub-backend/pkg/migrate"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox"
	"github.com/angelmondragon/tradehub-backend/pkg/outbox/registry"
	"github.com/angelmondragon/tradehub-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

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

	events, err := registry.NewEventRegistry(cfg.PubSub)
	fatalIf(logg, "failed to build event registry", err)

	pubsubClient, err := pubsub.NewClient(bootCtx, cfg.GCP, events.Topics(), logg)
	fatalIf(logg, "failed to bootstrap pubsub", err)
	defer closeQuietly(logg, "pubsub client", pubsubClient.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	publisher, err := relay.New(relay.Params{
		Config:   cfg.Outbox,
		Logger:   logg,
		DB:       dbClient,
		Store:    outbox.NewRepository(dbClient.DB()),
		Registry: events,
		Sink:     pubsubClient,
		Metrics:  metrics.NewOutboxMetrics(reg),
	})
	fatalIf(logg, "failed to create outbox relay", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "serviceKind", serviceName)

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

	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{{"database", dbClient.Ping}, {"pubsub", pubsubClient.Ping}} {
		if err := dep.ping(ctx); err != nil {
			logg.Error(logg.WithField(ctx, "dependency", dep.name), "dependency not ready", err)
			return
		}
	}

	logg.Info(ctx, "starting outbox publisher")
	if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
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
