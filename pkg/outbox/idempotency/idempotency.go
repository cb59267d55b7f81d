// Package idempotency remembers which deliveries a consumer already handled.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-media/pkg/redis"
)

// deliveryNamespace seeds name-based ids for deliveries that carry no uuid
// of their own, such as bucket notifications.
var deliveryNamespace = uuid.MustParse("6f1c3c55-5d43-4b7e-9a0b-2b9f1f7f4c21")

// Manager tracks processed delivery ids per consumer using Redis SETNX with
// a TTL. Keys follow `cm:idempotency:processed:<consumer>:<id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// DeliveryID derives a stable id from the parts identifying a delivery,
// e.g. bucket, object name, and generation.
func DeliveryID(parts ...string) uuid.UUID {
	return uuid.NewSHA1(deliveryNamespace, []byte(strings.Join(parts, "/")))
}

// CheckAndMarkProcessed returns true if id was already handled by consumer
// and otherwise claims it for the configured TTL.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, id uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release forgets a claim so a failed delivery can be handled again.
func (m *Manager) Release(ctx context.Context, consumer string, id uuid.UUID) error {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, id uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if id == uuid.Nil {
		return "", errors.New("delivery id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("processed:%s", consumer), id.String()), nil
}
