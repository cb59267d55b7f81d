package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// ErrCycleLocked is returned by RunJobs when another instance holds the cycle lock.
var ErrCycleLocked = errors.New("cron cycle lock held by another instance")

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job run. Zero leaves it to the cycle.
	JobTimeout time.Duration
}

// Service runs every registered job once per interval while holding the
// cycle lock. A failing job does not stop the ones after it.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	timeout  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	if params.Registry == nil {
		return nil, errors.New("registry required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		timeout:  params.JobTimeout,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"jobs":     s.registry.Names(),
		"interval": s.interval.String(),
	})
	s.logg.Info(ctx, "cron service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		switch err := s.runCycle(ctx, s.registry.Jobs()); {
		case errors.Is(err, ErrCycleLocked):
			s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		case err != nil:
			s.logg.Error(ctx, "scheduled run failed", err)
		}

		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Names lists the registered jobs.
func (s *Service) Names() []string {
	return s.registry.Names()
}

// RunJobs runs the named jobs once under the cycle lock, or every job when
// no names are given.
func (s *Service) RunJobs(ctx context.Context, names ...string) error {
	jobs, err := s.registry.Select(names...)
	if err != nil {
		return err
	}
	return s.runCycle(ctx, jobs)
}

func (s *Service) runCycle(ctx context.Context, jobs []Job) (err error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		return ErrCycleLocked
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	for _, job := range jobs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return multierr.Append(err, ctxErr)
		}
		if jobErr := s.runJob(ctx, job); jobErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", job.Name(), jobErr))
		}
	}
	return err
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	runCtx := jobCtx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(jobCtx, s.timeout)
		defer cancel()
	}

	s.logg.Debug(jobCtx, "job start")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		duration := time.Since(start)
		s.metrics.ObserveDuration(name, duration)
		jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
		if err != nil {
			s.logg.Error(jobCtx, "job failed", err)
			s.metrics.IncFailure(name)
			return
		}
		s.logg.Info(jobCtx, "job completed")
		s.metrics.IncSuccess(name)
	}()

	return job.Run(runCtx)
}
