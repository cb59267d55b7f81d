package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/catalog-media/internal/app"
	"github.com/angelmondragon/catalog-media/internal/ingest/intake"
	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/instance"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/opsserver"
	"github.com/angelmondragon/catalog-media/pkg/outbox/idempotency"
	"github.com/angelmondragon/catalog-media/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "ingest-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "ingest-worker"

	logg = logger.New(logger.Options{
		ServiceName: "ingest-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if cfg.Storage.Backend != config.StorageBackendGCS {
		logg.Error(context.Background(), "ingest worker reads uploads from gcs", errors.New("storage backend must be gcs"))
		os.Exit(1)
	}

	rt, err := app.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap runtime", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logg.Error(context.Background(), "error closing runtime", err)
		}
	}()

	services, err := rt.Build(prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to build services", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, pubsub.NeedIntake, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	consumer, err := newIntakeConsumer(rt, services, pubsubClient, cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create intake consumer", err)
		os.Exit(1)
	}

	deps := []namedDependency{
		{name: "database", dep: rt.DB},
		{name: "gcs", dep: rt.GCS},
		{name: "pubsub", dep: pubsubClient},
	}
	if rt.Redis != nil {
		deps = append(deps, namedDependency{name: "redis", dep: rt.Redis})
	}
	service, err := NewService(ServiceParams{
		Logger:       logg,
		Dependencies: deps,
		Consumer:     consumer,
		InstanceID:   instance.GetID(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ingest worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"dedupScope":  services.Resolver.Scope(),
	})
	logg.Info(ctx, "starting ingest worker")

	checks := rt.Checks()
	checks["pubsub"] = pubsubClient
	ops := opsserver.Router(opsserver.Params{
		Env:      cfg.App.Env,
		Service:  cfg.Service.Kind,
		Logger:   logg,
		Gatherer: prometheus.DefaultGatherer,
		Checks:   checks,
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return opsserver.Serve(gctx, net.JoinHostPort("", cfg.App.Port), ops, logg)
	})
	group.Go(func() error {
		return service.Run(gctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "ingest worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "ingest worker shutting down gracefully")
}

// newIntakeConsumer skips delivery tracking when redis is not configured.
// Redelivered uploads then fall back on the ingest no-op for known bytes.
func newIntakeConsumer(rt *app.Runtime, services *app.Services, client *pubsub.Client, cfg *config.Config, logg *logger.Logger) (*intake.Consumer, error) {
	sub := client.IntakeSubscription()
	if sub == nil {
		return nil, errors.New("intake subscription is not configured")
	}
	if rt.Redis == nil {
		return intake.NewConsumer(rt.GCS, services.Ingest, nil, sub, logg)
	}
	deliveries, err := idempotency.NewManager(rt.Redis, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		return nil, err
	}
	return intake.NewConsumer(rt.GCS, services.Ingest, deliveries, sub, logg)
}
