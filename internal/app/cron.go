package app

import (
	"fmt"

	"github.com/angelmondragon/catalog-media/internal/cron"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
)

// CronService registers the maintenance jobs against the built services.
// The cycle lock lives in redis when it is configured.
func (r *Runtime) CronService(s *Services, m *metrics.CronJobMetrics) (*cron.Service, error) {
	cfg := r.Config

	blobGC, err := cron.NewBlobGCJob(cron.BlobGCJobParams{
		Logger:  r.Logger,
		Index:   s.Store.Repository(),
		Store:   s.Store,
		Metrics: m,
		Grace:   cfg.Cron.BlobGCGrace,
		Batch:   cfg.Cron.BlobGCBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("blob gc job: %w", err)
	}
	reconcile, err := cron.NewPrimaryReconcileJob(cron.PrimaryReconcileJobParams{
		Logger:   r.Logger,
		Products: s.Catalog,
		Primary:  s.Primary,
		Metrics:  m,
		Batch:    cfg.Cron.ReconcileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("primary reconcile job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       r.Logger,
		DB:           r.DB,
		Outbox:       outbox.NewRepository(r.DB.DB()),
		DeadLetters:  outbox.NewDLQRepository(r.DB.DB()),
		Metrics:      m,
		Retention:    cfg.Cron.OutboxRetention,
		DLQRetention: cfg.Cron.DLQRetention,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	registry, err := cron.NewRegistry(blobGC, reconcile, retention)
	if err != nil {
		return nil, err
	}

	var lock cron.Lock = &cron.LocalLock{}
	if r.Redis != nil {
		if lock, err = cron.NewRedisLock(r.Redis, cfg.Cron.LockTTL); err != nil {
			return nil, fmt.Errorf("cron lock: %w", err)
		}
	}

	return cron.NewService(cron.ServiceParams{
		Logger:     r.Logger,
		Registry:   registry,
		Lock:       lock,
		Metrics:    m,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL,
	})
}
