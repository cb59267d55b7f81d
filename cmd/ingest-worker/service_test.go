package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/catalog-media/pkg/logger"
)

type fakePinger struct {
	err   error
	calls int
}

func (f *fakePinger) Ping(context.Context) error {
	f.calls++
	return f.err
}

type fakeConsumer struct {
	err     error
	started chan struct{}
}

func (f *fakeConsumer) Run(ctx context.Context) error {
	close(f.started)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestNewServiceValidatesParams(t *testing.T) {
	if _, err := NewService(ServiceParams{Consumer: &fakeConsumer{}}); err == nil {
		t.Fatal("expected missing logger error")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected missing consumer error")
	}
	_, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Consumer:     &fakeConsumer{},
		Dependencies: []namedDependency{{name: "pubsub"}},
	})
	if err == nil || !strings.Contains(err.Error(), "pubsub") {
		t.Fatalf("expected nil dependency error, got %v", err)
	}
}

func TestRunStopsOnFailedPing(t *testing.T) {
	db := &fakePinger{}
	bucket := &fakePinger{err: errors.New("no bucket")}
	cons := &fakeConsumer{started: make(chan struct{})}
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Consumer:     cons,
		Dependencies: []namedDependency{{"database", db}, {"gcs", bucket}},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	err = svc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "gcs ping failed") {
		t.Fatalf("expected gcs ping failure, got %v", err)
	}
	select {
	case <-cons.started:
		t.Fatal("consumer should not start before dependencies are ready")
	default:
	}
	if db.calls != 1 {
		t.Fatalf("expected database ping once, got %d", db.calls)
	}
}

func TestRunReturnsConsumerError(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Consumer: &fakeConsumer{err: boom, started: make(chan struct{})},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected consumer error, got %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	cons := &fakeConsumer{started: make(chan struct{})}
	svc, err := NewService(ServiceParams{Logger: testLogger(), Consumer: cons})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	<-cons.started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}
