package imagestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/catalog-media/pkg/config"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/logger"
)

// BlobBackend is the object store holding variant bytes.
type BlobBackend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// transientClassifier is implemented by backends that can tell throttling
// and outages apart from permanent failures.
type transientClassifier interface {
	IsTransient(err error) bool
}

type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.StorageMaxRetries,
		BaseDelay:  cfg.StorageBaseDelay,
		MaxDelay:   cfg.StorageMaxDelay,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// retryingBackend retries transient backend failures with capped, jittered
// exponential backoff. Whatever still fails surfaces as STORAGE_IO.
type retryingBackend struct {
	inner     BlobBackend
	policy    RetryPolicy
	transient func(error) bool
	logg      *logger.Logger
}

// WithRetry wraps backend. Backends that do not classify their errors are
// never retried.
func WithRetry(backend BlobBackend, policy RetryPolicy, logg *logger.Logger) BlobBackend {
	transient := func(error) bool { return false }
	if c, ok := backend.(transientClassifier); ok {
		transient = c.IsTransient
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &retryingBackend{inner: backend, policy: policy, transient: transient, logg: logg}
}

func (r *retryingBackend) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, r.policy.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if r.transient(err) {
			logCtx := r.logg.WithFields(ctx, map[string]any{"op": op, "key": key, "attempt": attempt})
			r.logg.Warn(logCtx, fmt.Sprintf("transient storage failure: %v", err))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		// The caller gave up; that is not a storage fault worth retrying.
		if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeStorageIO, err, fmt.Sprintf("%s %s", op, key)).
			WithDetails(map[string]any{"key": key, "attempts": attempt})
	}
	return nil
}

func (r *retryingBackend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return r.do(ctx, "put", key, func(ctx context.Context) error {
		return r.inner.Put(ctx, key, data, contentType)
	})
}

func (r *retryingBackend) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, func(ctx context.Context) error {
		return r.inner.Delete(ctx, key)
	})
}

func (r *retryingBackend) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.do(ctx, "stat", key, func(ctx context.Context) error {
		var err error
		ok, err = r.inner.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (r *retryingBackend) URL(key string) string {
	return r.inner.URL(key)
}
