// Package fs is a filesystem blob backend for local runs and tests.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Store serialises writers itself: memfs keeps its tree in unguarded maps,
// and uploads put every size class concurrently.
type Store struct {
	mu      sync.RWMutex
	fs      billy.Filesystem
	baseURL string
}

func New(fs billy.Filesystem, baseURL string) *Store {
	return &Store{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

// NewOS roots the store at dir on the local disk.
func NewOS(dir, baseURL string) *Store {
	return New(osfs.New(dir), baseURL)
}

func NewMemory(baseURL string) *Store {
	return New(memfs.New(), baseURL)
}

// Put writes through a temp file and renames it into place so readers never
// observe a partial object.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = clean(key)
	dir := path.Dir(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := util.TempFile(s.fs, dir, ".put-")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := s.fs.Rename(tmpName, key); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(clean(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, err := s.fs.Stat(clean(key))
	s.mu.RUnlock()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, err := s.fs.Open(clean(key))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func (s *Store) URL(key string) string {
	return s.baseURL + "/" + clean(key)
}

// Keys lists every stored object under prefix in lexical order.
func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	if err := s.walk(clean(prefix), &keys); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) walk(dir string, out *[]string) error {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := path.Join(dir, e.Name())
		if e.IsDir() {
			if err := s.walk(p, out); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(e.Name(), ".put-") {
			continue
		}
		*out = append(*out, strings.TrimPrefix(p, "/"))
	}
	return nil
}

func clean(key string) string {
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}
