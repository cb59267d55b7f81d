package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	// Unpublished rows at this many attempts already have a DLQ copy.
	defaultParkedAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Outbox      outboxPruner
	DeadLetters deadLetterPruner
	Metrics     *metrics.CronJobMetrics
	// Retention applies to published and parked outbox rows.
	Retention time.Duration
	// DLQRetention applies to dead letters. Zero or a nil DeadLetters keeps them.
	DLQRetention time.Duration
	MaxAttempts  int
}

// outboxRetentionJob trims delivered outbox rows and old dead letters in one
// transaction so a requeue never races a half-finished prune.
type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	outbox       outboxPruner
	deadLetters  deadLetterPruner
	metrics      *metrics.CronJobMetrics
	retention    time.Duration
	dlqRetention time.Duration
	maxAttempts  int
	now          func() time.Time
}

func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db runner required")
	case p.Outbox == nil:
		return nil, errors.New("outbox repository required")
	}
	j := &outboxRetentionJob{
		logg:         p.Logger,
		db:           p.DB,
		outbox:       p.Outbox,
		deadLetters:  p.DeadLetters,
		metrics:      p.Metrics,
		retention:    p.Retention,
		dlqRetention: p.DLQRetention,
		maxAttempts:  p.MaxAttempts,
		now:          time.Now,
	}
	if j.retention <= 0 {
		j.retention = defaultOutboxRetention
	}
	if j.maxAttempts <= 0 {
		j.maxAttempts = defaultParkedAttempts
	}
	return j, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-j.retention)
	pruneDLQ := j.deadLetters != nil && j.dlqRetention > 0
	dlqCutoff := now.Add(-j.dlqRetention)

	var events, letters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if events, err = j.outbox.DeletePublishedBefore(ctx, tx, outboxCutoff, j.maxAttempts); err != nil {
			return fmt.Errorf("outbox rows: %w", err)
		}
		if !pruneDLQ {
			return nil
		}
		if letters, err = j.deadLetters.DeleteFailedBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.metrics.AddItems(j.Name(), "outbox_deleted", int(events))
	j.metrics.AddItems(j.Name(), "dlq_deleted", int(letters))
	fields := map[string]any{
		"outbox_cutoff":  outboxCutoff,
		"outbox_deleted": events,
		"dlq_deleted":    letters,
	}
	if pruneDLQ {
		fields["dlq_cutoff"] = dlqCutoff
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention pass complete")
	return nil
}
