package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/redis"
)

const (
	defaultTTL          = 30 * time.Second
	defaultPollInterval = 25 * time.Millisecond
	releaseTimeout      = 5 * time.Second
)

var errHeld = errors.New("lock held by another owner")

// Redis is a cross-process Locker built on SETNX with an owner token. Waiters
// poll with jittered backoff. Release only deletes the key while this owner
// still holds it, so an expired hold never frees someone else's lock.
type Redis struct {
	store redis.LockStore
	ttl   time.Duration
	poll  time.Duration
	logg  *logger.Logger
}

func NewRedis(store redis.LockStore, ttl, poll time.Duration, logg *logger.Logger) (*Redis, error) {
	if store == nil {
		return nil, errors.New("redis store required for lock")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Redis{store: store, ttl: ttl, poll: poll, logg: logg}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (Unlock, error) {
	owner := uuid.NewString()
	fullKey := r.store.LockKey(key)

	backoff := retry.WithJitterPercent(20, retry.NewConstant(r.poll))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := r.store.SetNX(ctx, fullKey, owner, r.ttl)
		if err != nil {
			return fmt.Errorf("setnx: %w", err)
		}
		if !ok {
			return retry.RetryableError(errHeld)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if _, err := r.store.CompareAndDelete(releaseCtx, fullKey, owner); err != nil {
				r.logg.Warn(r.logg.WithField(releaseCtx, "lock_key", fullKey), "lock release failed; waiting for ttl")
			}
		})
	}, nil
}
