package cron

import (
	"context"
	"testing"
	"time"
)

type fakeLockStore struct {
	values map[string]string
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeLockStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if f.values[key] != value {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func (f *fakeLockStore) LockKey(name string) string { return "cm:lock:" + name }

func TestRedisLockExcludesSecondInstance(t *testing.T) {
	store := &fakeLockStore{values: map[string]string{}}
	a, _ := NewRedisLock(store, time.Minute)
	b, _ := NewRedisLock(store, time.Minute)
	ctx := context.Background()

	if ok, err := a.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire to win: %v %v", ok, err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("expected second instance to be excluded")
	}
	// b never owned the lock, so its release must not free a's hold.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.values["cm:lock:cron:cycle"]; !held {
		t.Fatal("lock released by non-owner")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after owner release")
	}
}

func TestLocalLockSkipsOverlappingCycle(t *testing.T) {
	var l LocalLock
	ctx := context.Background()
	if ok, _ := l.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	if ok, _ := l.Acquire(ctx); ok {
		t.Fatal("expected overlap to be refused")
	}
	_ = l.Release(ctx)
	if ok, _ := l.Acquire(ctx); !ok {
		t.Fatal("expected acquire after release")
	}
}
