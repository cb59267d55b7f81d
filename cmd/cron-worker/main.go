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
	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
	"github.com/angelmondragon/catalog-media/pkg/opsserver"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

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

	services, err := rt.Build(nil)
	if err != nil {
		logg.Error(context.Background(), "failed to build services", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	service, err := rt.CronService(services, cronMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	ops := opsserver.Router(opsserver.Params{
		Env:      cfg.App.Env,
		Service:  cfg.Service.Kind,
		Logger:   logg,
		Gatherer: prometheus.DefaultGatherer,
		Checks:   rt.Checks(),
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return opsserver.Serve(gctx, net.JoinHostPort("", cfg.App.Port), ops, logg)
	})
	group.Go(func() error {
		return service.Run(gctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
