// Package app assembles the catalog-media services from configuration so the
// worker binaries and mediactl share one wiring path.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/catalog-media/internal/carousel"
	"github.com/angelmondragon/catalog-media/internal/dedup"
	"github.com/angelmondragon/catalog-media/internal/imagestore"
	"github.com/angelmondragon/catalog-media/internal/imaging"
	"github.com/angelmondragon/catalog-media/internal/ingest"
	"github.com/angelmondragon/catalog-media/internal/occasions"
	"github.com/angelmondragon/catalog-media/internal/primary"
	product "github.com/angelmondragon/catalog-media/internal/products"
	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
	"github.com/angelmondragon/catalog-media/pkg/migrate"
	"github.com/angelmondragon/catalog-media/pkg/opsserver"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/redis"
	"github.com/angelmondragon/catalog-media/pkg/storage/fs"
	"github.com/angelmondragon/catalog-media/pkg/storage/gcs"
)

// Runtime holds the external connections a process owns.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	// Redis is nil when no redis url or address is configured.
	Redis  *redis.Client
	Locker keylock.Locker
	Blobs  imagestore.BlobBackend
	// GCS is nil when the fs backend serves blobs.
	GCS *gcs.Client
}

// Open connects the database, optional redis, the key locker and the blob backend.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	rt := &Runtime{Config: cfg, Logger: logg}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	rt.DB = dbClient

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), rt.Close())
	}

	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("bootstrap redis: %w", err), rt.Close())
		}
		rt.Redis = redisClient
	}

	locker, err := newLocker(cfg.Locks, rt.Redis, logg)
	if err != nil {
		return nil, multierr.Append(err, rt.Close())
	}
	rt.Locker = locker

	switch cfg.Storage.Backend {
	case config.StorageBackendFS:
		rt.Blobs = fs.NewOS(cfg.Storage.FSRoot, cfg.Storage.FSBaseURL)
	default:
		client, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("bootstrap gcs: %w", err), rt.Close())
		}
		rt.GCS = client
		rt.Blobs = client
	}

	return rt, nil
}

func newLocker(cfg config.LocksConfig, store *redis.Client, logg *logger.Logger) (keylock.Locker, error) {
	if cfg.Backend != config.LockBackendRedis {
		return keylock.NewLocal(), nil
	}
	if store == nil {
		return nil, errors.New("redis lock backend requires redis url or address")
	}
	return keylock.NewRedis(store, cfg.TTL, cfg.PollInterval, logg)
}

// Checks lists the dependencies a readiness probe should ping.
func (r *Runtime) Checks() map[string]opsserver.Pinger {
	checks := map[string]opsserver.Pinger{"db": r.DB}
	if r.Redis != nil {
		checks["redis"] = r.Redis
	}
	if r.GCS != nil {
		checks["gcs"] = r.GCS
	}
	return checks
}

// Close releases every connection that was opened.
func (r *Runtime) Close() error {
	var err error
	if r.GCS != nil {
		err = multierr.Append(err, r.GCS.Close())
	}
	if r.Redis != nil {
		err = multierr.Append(err, r.Redis.Close())
	}
	if r.DB != nil {
		err = multierr.Append(err, r.DB.Close())
	}
	return err
}

// Services are the domain components built over a Runtime.
type Services struct {
	Events    *outbox.Service
	Primary   *primary.Selector
	Store     *imagestore.Store
	Resolver  *dedup.Resolver
	Generator *imaging.Generator
	Ingest    *ingest.Service
	Carousel  *carousel.Curator
	Occasions *occasions.Service
	Products  *product.Service
	Catalog   *product.Repository
}

// Build wires the ingestion pipeline and its neighbours. reg may be nil.
func (r *Runtime) Build(reg prometheus.Registerer) (*Services, error) {
	cfg := r.Config
	logg := r.Logger

	events := outbox.NewService(outbox.NewRepository(r.DB.DB()), logg, cfg.Service.Kind)

	selector, err := primary.NewSelector(r.DB, r.Locker, events, logg)
	if err != nil {
		return nil, fmt.Errorf("primary selector: %w", err)
	}

	store, err := imagestore.New(imagestore.Params{
		DB:            r.DB,
		Backend:       r.Blobs,
		Retry:         imagestore.RetryPolicyFromConfig(cfg.Retry),
		Locker:        r.Locker,
		Keeper:        selector,
		Events:        events,
		Logger:        logg,
		KeyPrefix:     cfg.Storage.KeyPrefix,
		DeleteTimeout: cfg.Storage.DeleteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("image store: %w", err)
	}

	scope, err := enums.ParseDedupScope(cfg.Dedup.Scope)
	if err != nil {
		return nil, err
	}
	resolver, err := dedup.NewResolver(store.Repository(), scope, r.Locker)
	if err != nil {
		return nil, fmt.Errorf("dedup resolver: %w", err)
	}

	generator, err := imaging.NewGenerator(
		imaging.PoliciesFromConfig(cfg.Imaging),
		imaging.WithConcurrency(cfg.Imaging.Concurrency),
		imaging.WithMaxBytes(cfg.Imaging.MaxUploadBytes()),
	)
	if err != nil {
		return nil, fmt.Errorf("variant generator: %w", err)
	}

	catalog := product.NewRepository(r.DB.DB())
	products, err := product.NewService(catalog)
	if err != nil {
		return nil, err
	}

	var ingestMetrics *metrics.IngestMetrics
	if reg != nil {
		ingestMetrics = metrics.NewIngestMetrics(reg)
	}
	ingestSvc, err := ingest.New(ingest.Params{
		Store:          store,
		Resolver:       resolver,
		Generator:      generator,
		Primary:        selector,
		Products:       catalog,
		Locker:         r.Locker,
		Events:         events,
		Metrics:        ingestMetrics,
		Logger:         logg,
		MaxUploadBytes: cfg.Imaging.MaxUploadBytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("ingest service: %w", err)
	}

	curator, err := carousel.NewCurator(r.DB, r.Locker, events, logg)
	if err != nil {
		return nil, fmt.Errorf("carousel curator: %w", err)
	}

	occasionSvc, err := occasions.NewService(r.DB, events, logg)
	if err != nil {
		return nil, fmt.Errorf("occasions service: %w", err)
	}

	return &Services{
		Events:    events,
		Primary:   selector,
		Store:     store,
		Resolver:  resolver,
		Generator: generator,
		Ingest:    ingestSvc,
		Carousel:  curator,
		Occasions: occasionSvc,
		Products:  products,
		Catalog:   catalog,
	}, nil
}
