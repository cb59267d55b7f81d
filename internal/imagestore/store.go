// Package imagestore keeps variant objects in a blob backend and indexes
// them, together with product asset bindings, in the database.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/imaging"
	"github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
)

const (
	defaultKeyPrefix     = "blobs"
	defaultDeleteTimeout = 30 * time.Second
	putConcurrency       = 3
)

// PrimaryKeeper restores the primary image invariant after assets go away.
type PrimaryKeeper interface {
	ReconcileTx(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error
}

type Params struct {
	DB            *db.Client
	Backend       BlobBackend
	Retry         RetryPolicy
	Locker        keylock.Locker
	Keeper        PrimaryKeeper
	Events        outbox.Emitter
	Logger        *logger.Logger
	KeyPrefix     string
	DeleteTimeout time.Duration
}

type Store struct {
	db            *db.Client
	repo          *Repository
	backend       BlobBackend
	locker        keylock.Locker
	keeper        PrimaryKeeper
	events        outbox.Emitter
	logg          *logger.Logger
	keyPrefix     string
	deleteTimeout time.Duration
}

func New(p Params) (*Store, error) {
	if p.DB == nil {
		return nil, errors.New("db client required")
	}
	if p.Backend == nil {
		return nil, errors.New("blob backend required")
	}
	if p.Locker == nil {
		return nil, errors.New("locker required")
	}
	if p.Keeper == nil {
		return nil, errors.New("primary keeper required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	prefix := p.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	timeout := p.DeleteTimeout
	if timeout <= 0 {
		timeout = defaultDeleteTimeout
	}
	return &Store{
		db:            p.DB,
		repo:          NewRepository(p.DB.DB()),
		backend:       WithRetry(p.Backend, p.Retry, logg),
		locker:        p.Locker,
		keeper:        p.Keeper,
		events:        p.Events,
		logg:          logg,
		keyPrefix:     prefix,
		deleteTimeout: timeout,
	}, nil
}

func (s *Store) Repository() *Repository {
	return s.repo
}

// Index lists the bindings that already exist for contentHash.
func (s *Store) Index(ctx context.Context, contentHash imaging.ContentHash) ([]Binding, error) {
	return s.repo.Bindings(ctx, contentHash.String())
}

// Describe lists a product's assets ordered by image index, size class, and id.
func (s *Store) Describe(ctx context.Context, productID uuid.UUID) ([]models.ImageAsset, error) {
	return s.repo.AssetsForProduct(ctx, nil, productID)
}

// ObjectKey lays objects out by hash so one logical image shares a prefix.
func (s *Store) ObjectKey(contentHash imaging.ContentHash, sc enums.SizeClass, blobID uuid.UUID, ext string) string {
	h := contentHash.String()
	shard := h
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(s.keyPrefix, shard, h, sc.String(), blobID.String()+ext)
}

// WithinUpload runs fn in one database transaction. When fn fails, the
// commit fails, or ctx ends first, the transaction rolls back and every
// object written through the Upload is deleted again.
func (s *Store) WithinUpload(ctx context.Context, fn func(*Upload) error) error {
	var up *Upload
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		up = &Upload{store: s, tx: tx}
		return fn(up)
	})
	if err != nil && up != nil {
		s.compensate(ctx, up.keys())
	}
	return err
}

func (s *Store) compensate(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deleteTimeout)
	defer cancel()

	var errs error
	for _, key := range keys {
		errs = multierr.Append(errs, s.backend.Delete(cleanupCtx, key))
	}
	logCtx := s.logg.WithField(ctx, "objects", len(keys))
	if errs != nil {
		s.logg.Error(logCtx, "failed to remove objects from rolled back upload", errs)
		return
	}
	s.logg.Info(logCtx, "removed objects from rolled back upload")
}

// Upload is the transactional write scope handed to WithinUpload callbacks.
type Upload struct {
	store *Store
	tx    *gorm.DB

	mu      sync.Mutex
	written []string
}

// PutRequest stores one rendered variant under a dedup scope.
type PutRequest struct {
	Scope       string
	ContentHash imaging.ContentHash
	Variant     imaging.Variant
}

func (u *Upload) Tx() *gorm.DB {
	return u.tx
}

// Lock takes transaction scoped advisory locks for keys.
func (u *Upload) Lock(keys ...string) error {
	return db.AdvisoryXactLock(u.tx, keys...)
}

// Put writes one variant object and indexes it.
func (u *Upload) Put(ctx context.Context, req PutRequest) (*models.ImageBlob, error) {
	blobs, err := u.PutAll(ctx, req.Scope, req.ContentHash, []imaging.Variant{req.Variant})
	if err != nil {
		return nil, err
	}
	return blobs[0], nil
}

// PutAll writes the objects concurrently, then indexes them in variant order.
func (u *Upload) PutAll(ctx context.Context, scope string, contentHash imaging.ContentHash, variants []imaging.Variant) ([]*models.ImageBlob, error) {
	blobs := make([]*models.ImageBlob, len(variants))
	for i, v := range variants {
		id := uuid.New()
		key := u.store.ObjectKey(contentHash, v.SizeClass, id, v.Extension)
		blobs[i] = &models.ImageBlob{
			ID:          id,
			Scope:       scope,
			ContentHash: contentHash.String(),
			SizeClass:   v.SizeClass,
			ObjectKey:   key,
			URL:         u.store.backend.URL(key),
			Digest:      v.Digest,
			MimeType:    v.MimeType,
			Width:       v.Width,
			Height:      v.Height,
			SizeBytes:   int64(len(v.Data)),
			Status:      enums.BlobStatusReady,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(putConcurrency)
	for i, v := range variants {
		blob := blobs[i]
		data, mime := v.Data, v.MimeType
		g.Go(func() error {
			if err := u.store.backend.Put(gctx, blob.ObjectKey, data, mime); err != nil {
				return err
			}
			u.record(blob.ObjectKey)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, blob := range blobs {
		if err := u.store.repo.InsertBlob(u.tx, blob); err != nil {
			return nil, classifyWrite(err, "index blob")
		}
	}
	return blobs, nil
}

// Attach binds assets to their product.
func (u *Upload) Attach(assets []models.ImageAsset) error {
	if err := u.store.repo.InsertAssets(u.tx, assets); err != nil {
		return classifyWrite(err, "attach assets")
	}
	return nil
}

func (u *Upload) record(key string) {
	u.mu.Lock()
	u.written = append(u.written, key)
	u.mu.Unlock()
}

func (u *Upload) keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.written...)
}

// classifyWrite maps unique violations to DUPLICATE_RACE: a concurrent
// upload of the same identity won.
func classifyWrite(err error, op string) error {
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeDuplicateRace, err, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
