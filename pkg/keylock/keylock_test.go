package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLocalSerializesSameKey(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Acquire(ctx, "product:7")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected exclusive holds, saw %d concurrent", maxInside)
	}
	if locker.size() != 0 {
		t.Fatalf("expected idle keys to be dropped, %d left", locker.size())
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := locker.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer unlockA()
	unlockB, err := locker.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b while a held: %v", err)
	}
	unlockB()
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	locker := NewLocal()
	unlock, err := locker.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if locker.size() != 0 {
		t.Fatalf("expected key dropped after release")
	}
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	locker := NewLocal()
	blocker, _ := locker.Acquire(context.Background(), "second")
	defer blocker()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := AcquireAll(ctx, locker, "first", "second"); err == nil {
		t.Fatal("expected AcquireAll to fail while second is held")
	}

	unlock, err := locker.Acquire(context.Background(), "first")
	if err != nil {
		t.Fatalf("first should have been released: %v", err)
	}
	unlock()
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000007")
	if got := ProductKey(id); got != "product:00000000-0000-0000-0000-000000000007" {
		t.Fatalf("unexpected product key %s", got)
	}
	if got := DedupKey(id, "abc"); got != "dedup:00000000-0000-0000-0000-000000000007:abc" {
		t.Fatalf("unexpected dedup key %s", got)
	}
}

type fakeLockStore struct {
	mu      sync.Mutex
	data    map[string]string
	setErr  error
	deletes int
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{data: map[string]string{}}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeLockStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] != value {
		return false, nil
	}
	delete(f.data, key)
	f.deletes++
	return true, nil
}

func (f *fakeLockStore) LockKey(name string) string {
	return "cm:lock:" + name
}

func TestRedisLockWaitsForRelease(t *testing.T) {
	store := newFakeLockStore()
	locker, err := NewRedis(store, time.Minute, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "carousel")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Acquire(ctx, "carousel")
		if err != nil {
			t.Errorf("second acquire: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder got the lock while the first still held it")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestRedisLockTimesOut(t *testing.T) {
	store := newFakeLockStore()
	store.data["cm:lock:k"] = "someone-else"
	locker, _ := NewRedis(store, time.Minute, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "k"); err == nil {
		t.Fatal("expected acquire to give up when ctx expires")
	}
	if store.data["cm:lock:k"] != "someone-else" {
		t.Fatal("foreign lock must be left alone")
	}
}

func TestRedisLockSurfacesStoreErrors(t *testing.T) {
	store := newFakeLockStore()
	store.setErr = errors.New("connection refused")
	locker, _ := NewRedis(store, time.Minute, time.Millisecond, nil)

	_, err := locker.Acquire(context.Background(), "k")
	if err == nil || !errors.Is(err, store.setErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestNewRedisRequiresStore(t *testing.T) {
	if _, err := NewRedis(nil, 0, 0, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
