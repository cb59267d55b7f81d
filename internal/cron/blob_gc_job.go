package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
)

const (
	defaultBlobGCGrace = time.Hour
	defaultBlobGCBatch = 200
)

type blobIndex interface {
	RetireUnreferenced(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	RetiredBlobs(ctx context.Context, limit int) ([]models.ImageBlob, error)
}

type blobPurger interface {
	Purge(ctx context.Context, blobs []models.ImageBlob) (int, error)
}

type BlobGCJobParams struct {
	Logger  *logger.Logger
	Index   blobIndex
	Store   blobPurger
	Metrics *metrics.CronJobMetrics
	// Grace keeps freshly written blobs out of reach while their upload
	// transaction may still be binding them.
	Grace time.Duration
	Batch int
}

// NewBlobGCJob retires ready blobs nothing references and then purges every
// retired blob from storage. Deletes that failed during ingestion rollbacks
// or image removals are retried here.
func NewBlobGCJob(params BlobGCJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Index == nil:
		return nil, errors.New("blob index required")
	case params.Store == nil:
		return nil, errors.New("blob store required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultBlobGCGrace
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultBlobGCBatch
	}
	return &blobGCJob{
		logg:    params.Logger,
		index:   params.Index,
		store:   params.Store,
		metrics: params.Metrics,
		grace:   grace,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type blobGCJob struct {
	logg    *logger.Logger
	index   blobIndex
	store   blobPurger
	metrics *metrics.CronJobMetrics
	grace   time.Duration
	batch   int
	now     func() time.Time
}

func (j *blobGCJob) Name() string { return "blob-gc" }

func (j *blobGCJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	retired, err := j.index.RetireUnreferenced(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("retire unreferenced blobs: %w", err)
	}

	blobs, err := j.index.RetiredBlobs(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list retired blobs: %w", err)
	}
	purged, purgeErr := j.store.Purge(ctx, blobs)

	j.metrics.AddItems(j.Name(), "retired", int(retired))
	j.metrics.AddItems(j.Name(), "purged", purged)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"retired": retired,
		"pending": len(blobs),
		"purged":  purged,
	})
	if purgeErr != nil {
		// Leftovers stay delete_requested and are retried next cycle.
		return fmt.Errorf("purge retired blobs: %w", purgeErr)
	}
	j.logg.Info(logCtx, "blob gc complete")
	return nil
}
