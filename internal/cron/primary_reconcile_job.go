package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
)

const defaultReconcileBatch = 100

type productScanner interface {
	MissingPrimary(ctx context.Context, limit int) ([]uuid.UUID, error)
	StaleCache(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type primaryReconciler interface {
	Reconcile(ctx context.Context, productID uuid.UUID) error
}

type PrimaryReconcileJobParams struct {
	Logger   *logger.Logger
	Products productScanner
	Primary  primaryReconciler
	Metrics  *metrics.CronJobMetrics
	Batch    int
}

// NewPrimaryReconcileJob repairs products whose primary flag or cached
// primary_image drifted, e.g. after a manual delete in the database.
func NewPrimaryReconcileJob(params PrimaryReconcileJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Products == nil:
		return nil, errors.New("product scanner required")
	case params.Primary == nil:
		return nil, errors.New("primary reconciler required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &primaryReconcileJob{
		logg:     params.Logger,
		products: params.Products,
		primary:  params.Primary,
		metrics:  params.Metrics,
		batch:    batch,
	}, nil
}

type primaryReconcileJob struct {
	logg     *logger.Logger
	products productScanner
	primary  primaryReconciler
	metrics  *metrics.CronJobMetrics
	batch    int
}

func (j *primaryReconcileJob) Name() string { return "primary-reconcile" }

func (j *primaryReconcileJob) Run(ctx context.Context) error {
	missing, err := j.products.MissingPrimary(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("scan products missing a primary: %w", err)
	}
	stale, err := j.products.StaleCache(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("scan stale primary caches: %w", err)
	}

	var (
		errs     error
		repaired int
	)
	for _, id := range append(missing, stale...) {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if err := j.primary.Reconcile(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile product %s: %w", id, err))
			continue
		}
		repaired++
	}

	j.metrics.AddItems(j.Name(), "repaired", repaired)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"missing_primary": len(missing),
		"stale_cache":     len(stale),
		"repaired":        repaired,
	}), "primary reconcile complete")
	return errs
}
