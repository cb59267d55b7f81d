package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/catalog-media/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger *logger.Logger
	// Dependencies are pinged in order before consuming starts.
	Dependencies []namedDependency
	Consumer     consumer
	InstanceID   string
}

type namedDependency struct {
	name string
	dep  pinger
}

type Service struct {
	logg       *logger.Logger
	deps       []namedDependency
	consumer   consumer
	instanceID string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("intake consumer is required")
	}
	for _, d := range params.Dependencies {
		if d.dep == nil {
			return nil, fmt.Errorf("%s client is required", d.name)
		}
	}
	return &Service{
		logg:       params.Logger,
		deps:       params.Dependencies,
		consumer:   params.Consumer,
		instanceID: params.InstanceID,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, d := range s.deps {
		if err := pingDependency(ctx, s.logg, d.name, d.dep.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithField(ctx, "instance", s.instanceID)

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.consumer.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "consumer stopped unexpectedly", err)
				return err
			}
			if err == nil {
				// Receive returns nil when its context ends.
				return ctx.Err()
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
