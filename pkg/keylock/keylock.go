// Package keylock serializes work on string keys, either inside one process
// or across processes through Redis.
package keylock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Unlock releases a held key. Calling it more than once is a no-op.
type Unlock func()

// Locker hands out exclusive holds on keys. Acquire blocks until the key is
// free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}

// ProductKey guards primary selection and image index allocation for a product.
func ProductKey(productID uuid.UUID) string {
	return "product:" + productID.String()
}

// DedupKey guards the decide-and-write step for one upload identity.
func DedupKey(productID uuid.UUID, contentHash string) string {
	return fmt.Sprintf("dedup:%s:%s", productID, contentHash)
}

// CarouselKey guards display_order rewrites.
const CarouselKey = "carousel"

// AcquireAll takes keys in the given order and returns a single Unlock that
// releases them in reverse. On failure nothing stays held.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (Unlock, error) {
	held := make([]Unlock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, key := range keys {
		unlock, err := l.Acquire(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Local is an in-process Locker. Each key gets a one-slot channel that is
// dropped once nobody holds or waits on it.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Acquire(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// size reports how many keys are tracked.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
