package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	setNXResult bool
	setNXError  error
	lastKey     string
	lastTTL     time.Duration
	lastDeleted string
}

func (f *fakeStore) Get(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return f.setNXResult, f.setNXError
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "cm:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	if len(keys) > 0 {
		f.lastDeleted = keys[0]
	}
	return nil
}

func TestCheckAndMarkProcessed_FirstTime(t *testing.T) {
	store := &fakeStore{setNXResult: true}
	manager, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	id := DeliveryID("uploads", "p-7/front.jpg", "1700000000")
	already, err := manager.CheckAndMarkProcessed(context.Background(), "ingest-worker", id)
	if err != nil {
		t.Fatalf("CheckAndMarkProcessed: %v", err)
	}
	if already {
		t.Fatal("expected first delivery to be new")
	}
	if want := "cm:idempotency:processed:ingest-worker:" + id.String(); store.lastKey != want {
		t.Fatalf("unexpected key: %q", store.lastKey)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl: %v", store.lastTTL)
	}
}

func TestCheckAndMarkProcessed_AlreadyProcessed(t *testing.T) {
	manager, _ := NewManager(&fakeStore{setNXResult: false}, time.Hour)
	already, err := manager.CheckAndMarkProcessed(context.Background(), "ingest-worker", uuid.New())
	if err != nil {
		t.Fatalf("CheckAndMarkProcessed: %v", err)
	}
	if !already {
		t.Fatal("expected duplicate delivery")
	}
}

func TestCheckAndMarkProcessed_Errors(t *testing.T) {
	manager, _ := NewManager(&fakeStore{setNXError: errors.New("boom")}, time.Hour)
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "ingest-worker", uuid.New()); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "", uuid.New()); err == nil {
		t.Fatal("expected missing consumer error")
	}
	if _, err := manager.CheckAndMarkProcessed(context.Background(), "ingest-worker", uuid.Nil); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestRelease(t *testing.T) {
	store := &fakeStore{}
	manager, _ := NewManager(store, time.Hour)
	id := uuid.New()
	if err := manager.Release(context.Background(), "ingest-worker", id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if want := "cm:idempotency:processed:ingest-worker:" + id.String(); store.lastDeleted != want {
		t.Fatalf("unexpected deleted key %q", store.lastDeleted)
	}
}

func TestDeliveryIDIsStable(t *testing.T) {
	a := DeliveryID("uploads", "x.jpg", "3")
	b := DeliveryID("uploads", "x.jpg", "3")
	c := DeliveryID("uploads", "x.jpg", "4")
	if a != b {
		t.Fatal("expected identical ids for identical deliveries")
	}
	if a == c {
		t.Fatal("expected a new generation to produce a new id")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatal("expected nil store error")
	}
	if _, err := NewManager(&fakeStore{}, -time.Second); err == nil {
		t.Fatal("expected negative ttl error")
	}
}
