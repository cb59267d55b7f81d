package fs

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestPutReadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("http://localhost:8080/blobs/")

	key := "blobs/ab/abcd/medium/1.jpg"
	if err := s.Put(ctx, key, []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected object to exist, ok=%v err=%v", ok, err)
	}
	data, err := s.Read(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte("jpeg")) {
		t.Fatalf("unexpected data %q", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Fatal("expected object to be gone")
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestKeysSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("")
	for _, k := range []string{"blobs/b/2.png", "blobs/a/1.jpg", "other/x.jpg"} {
		if err := s.Put(ctx, k, []byte(k), ""); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	keys, err := s.Keys("blobs")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "blobs/a/1.jpg" || keys[1] != "blobs/b/2.png" {
		t.Fatalf("unexpected keys %v", keys)
	}

	empty, err := s.Keys("missing")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no keys, got %v err=%v", empty, err)
	}
}

func TestURLAndKeyCleaning(t *testing.T) {
	s := NewMemory("https://media.example.com/")
	if got := s.URL("/blobs/../blobs/a.jpg"); got != "https://media.example.com/blobs/a.jpg" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemory("")
	if err := s.Put(ctx, "a", []byte("x"), ""); err == nil {
		t.Fatal("expected context error")
	}
}

func TestConcurrentPutsUnderOneDirectory(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("https://media.test")

	const writers = 24
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("blobs/ab/abcd/%d/%d.jpg", i%3, i)
			if err := s.Put(ctx, key, []byte(key), "image/jpeg"); err != nil {
				errs <- err
				return
			}
			if _, err := s.Exists(ctx, key); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent put: %v", err)
	}

	keys, err := s.Keys("blobs")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != writers {
		t.Fatalf("expected %d objects, got %d: %v", writers, len(keys), keys)
	}
	for _, k := range keys {
		got, err := s.Read(ctx, k)
		if err != nil || string(got) != k {
			t.Fatalf("read %s = %q, %v", k, got, err)
		}
	}
}
