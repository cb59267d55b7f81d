package imagestore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/imaging"
	dbpkg "github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/db/dbtest"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/keylock"
	"github.com/angelmondragon/catalog-media/pkg/storage/fs"
)

var hashA = imaging.ContentHash(strings.Repeat("a", 64))

type fakeKeeper struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (k *fakeKeeper) ReconcileTx(_ context.Context, _ *gorm.DB, productID uuid.UUID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, productID)
	return nil
}

type fixture struct {
	store  *Store
	db     *dbpkg.Client
	blobs  *fs.Store
	keeper *fakeKeeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	blobs := fs.NewMemory("https://media.test")
	keeper := &fakeKeeper{}
	store, err := New(Params{
		DB:      client,
		Backend: blobs,
		Locker:  keylock.NewLocal(),
		Keeper:  keeper,
	})
	require.NoError(t, err)
	return &fixture{store: store, db: client, blobs: blobs, keeper: keeper}
}

func testVariants() []imaging.Variant {
	out := make([]imaging.Variant, 0, len(enums.SizeClasses))
	for i, sc := range enums.SizeClasses {
		out = append(out, imaging.Variant{
			SizeClass: sc,
			Data:      []byte("bytes-" + sc.String()),
			MimeType:  "image/jpeg",
			Extension: ".jpg",
			Width:     100 * (i + 1),
			Height:    50 * (i + 1),
			Digest:    strings.Repeat("d", 64),
		})
	}
	return out
}

// bind stores the variants for hash under scope and attaches them to product.
func (f *fixture) bind(t *testing.T, productID uuid.UUID, hash imaging.ContentHash, index int) []*models.ImageBlob {
	t.Helper()
	var blobs []*models.ImageBlob
	err := f.store.WithinUpload(context.Background(), func(up *Upload) error {
		var err error
		blobs, err = up.PutAll(context.Background(), "global", hash, testVariants())
		if err != nil {
			return err
		}
		return up.Attach(assetsFor(productID, hash, index, blobs))
	})
	require.NoError(t, err)
	return blobs
}

func (f *fixture) attachExisting(t *testing.T, productID uuid.UUID, hash imaging.ContentHash, index int, blobs []*models.ImageBlob) {
	t.Helper()
	err := f.store.WithinUpload(context.Background(), func(up *Upload) error {
		return up.Attach(assetsFor(productID, hash, index, blobs))
	})
	require.NoError(t, err)
}

func assetsFor(productID uuid.UUID, hash imaging.ContentHash, index int, blobs []*models.ImageBlob) []models.ImageAsset {
	assets := make([]models.ImageAsset, 0, len(blobs))
	for _, b := range blobs {
		assets = append(assets, models.ImageAsset{
			ProductID:   productID,
			BlobID:      b.ID,
			ContentHash: hash.String(),
			SizeClass:   b.SizeClass,
			ImageIndex:  index,
			IsPrimary:   false,
			URL:         b.URL,
		})
	}
	return assets
}

func TestWithinUploadCommitsObjectsAndRows(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.db, "lamp")

	blobs := f.bind(t, product.ID, hashA, 1)
	require.Len(t, blobs, 3)

	for _, b := range blobs {
		assert.True(t, strings.HasPrefix(b.ObjectKey, "blobs/aa/"+hashA.String()+"/"+b.SizeClass.String()+"/"), b.ObjectKey)
		ok, err := f.blobs.Exists(context.Background(), b.ObjectKey)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "https://media.test/"+b.ObjectKey, b.URL)
	}

	assets, err := f.store.Describe(context.Background(), product.ID)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, enums.SizeClassThumbnail, assets[0].SizeClass)
	assert.Equal(t, enums.SizeClassMedium, assets[1].SizeClass)
	assert.Equal(t, enums.SizeClassFull, assets[2].SizeClass)

	bindings, err := f.store.Index(context.Background(), hashA)
	require.NoError(t, err)
	require.Len(t, bindings, 3)
	assert.Equal(t, product.ID, bindings[0].ProductID)
}

func TestWithinUploadRollbackDeletesWrittenObjects(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.db, "lamp")
	boom := errors.New("boom")

	err := f.store.WithinUpload(context.Background(), func(up *Upload) error {
		if _, err := up.PutAll(context.Background(), "global", hashA, testVariants()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	keys, err := f.blobs.Keys("blobs")
	require.NoError(t, err)
	assert.Empty(t, keys)

	n, err := f.store.Repository().CountBlobs(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)

	assets, err := f.store.Describe(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestWithinUploadCancelledBeforeCommit(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedProduct(t, f.db, "lamp")
	ctx, cancel := context.WithCancel(context.Background())

	err := f.store.WithinUpload(ctx, func(up *Upload) error {
		if _, err := up.Put(ctx, PutRequest{Scope: "global", ContentHash: hashA, Variant: testVariants()[1]}); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	keys, err := f.blobs.Keys("blobs")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAttachDuplicateBindingIsRace(t *testing.T) {
	f := newFixture(t)
	product := dbtest.SeedProduct(t, f.db, "lamp")
	blobs := f.bind(t, product.ID, hashA, 1)

	err := f.store.WithinUpload(context.Background(), func(up *Upload) error {
		return up.Attach(assetsFor(product.ID, hashA, 2, blobs))
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDuplicateRace), "got %v", err)
}

func TestDeleteImageKeepsSharedBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p7 := dbtest.SeedProduct(t, f.db, "seven")
	p9 := dbtest.SeedProduct(t, f.db, "nine")

	blobs := f.bind(t, p7.ID, hashA, 1)
	f.attachExisting(t, p9.ID, hashA, 1, blobs)

	removal, err := f.store.DeleteImage(ctx, p7.ID, hashA)
	require.NoError(t, err)
	assert.Len(t, removal.AssetIDs, 3)
	assert.Empty(t, removal.Orphans)
	assert.Equal(t, []uuid.UUID{p7.ID}, f.keeper.calls)

	for _, b := range blobs {
		ok, err := f.blobs.Exists(ctx, b.ObjectKey)
		require.NoError(t, err)
		assert.True(t, ok, "shared object %s must survive", b.ObjectKey)
	}

	removal, err = f.store.DeleteImage(ctx, p9.ID, hashA)
	require.NoError(t, err)
	assert.Len(t, removal.Orphans, 3)
	assert.Equal(t, 3, removal.Purged)

	keys, err := f.blobs.Keys("blobs")
	require.NoError(t, err)
	assert.Empty(t, keys)
	n, err := f.store.Repository().CountBlobs(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteSingleAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.db, "lamp")
	f.bind(t, product.ID, hashA, 1)

	assets, err := f.store.Describe(ctx, product.ID)
	require.NoError(t, err)

	removal, err := f.store.Delete(ctx, assets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{assets[0].ID}, removal.AssetIDs)
	assert.Len(t, removal.Orphans, 1)

	left, err := f.store.Describe(ctx, product.ID)
	require.NoError(t, err)
	assert.Len(t, left, 2)

	_, err = f.store.Delete(ctx, assets[0].ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestDeleteProductPurgesOnlyOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p7 := dbtest.SeedProduct(t, f.db, "seven")
	p9 := dbtest.SeedProduct(t, f.db, "nine")
	hashB := imaging.ContentHash(strings.Repeat("b", 64))

	shared := f.bind(t, p7.ID, hashA, 1)
	f.attachExisting(t, p9.ID, hashA, 1, shared)
	f.bind(t, p7.ID, hashB, 2)
	require.NoError(t, f.db.DB().Create(&models.ProductOccasionLink{ProductID: p7.ID, OccasionID: uuid.New()}).Error)

	removal, err := f.store.DeleteProduct(ctx, p7.ID)
	require.NoError(t, err)
	assert.Len(t, removal.AssetIDs, 6)
	assert.Len(t, removal.Orphans, 3)

	var products int64
	require.NoError(t, f.db.DB().Model(&models.Product{}).Where("id = ?", p7.ID).Count(&products).Error)
	assert.Zero(t, products)
	var links int64
	require.NoError(t, f.db.DB().Model(&models.ProductOccasionLink{}).Where("product_id = ?", p7.ID).Count(&links).Error)
	assert.Zero(t, links)

	for _, b := range shared {
		ok, err := f.blobs.Exists(ctx, b.ObjectKey)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	keys, err := f.blobs.Keys("blobs/bb")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = f.store.DeleteProduct(ctx, p7.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestPurgeRestoresReferencedBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.db, "lamp")
	blobs := f.bind(t, product.ID, hashA, 1)

	require.NoError(t, f.db.DB().Model(&models.ImageBlob{}).
		Where("id = ?", blobs[0].ID).
		Update("status", enums.BlobStatusDeleteRequested).Error)

	purged, err := f.store.Purge(ctx, []models.ImageBlob{*blobs[0]})
	require.NoError(t, err)
	assert.Zero(t, purged)

	ready, err := f.store.Repository().CountBlobs(ctx, enums.BlobStatusReady)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ready)
}

func TestRetireUnreferencedHonoursGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.WithinUpload(ctx, func(up *Upload) error {
		_, err := up.PutAll(ctx, "global", hashA, testVariants()[:1])
		return err
	})
	require.NoError(t, err)

	n, err := f.store.Repository().RetireUnreferenced(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.store.Repository().RetireUnreferenced(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	retired, err := f.store.Repository().RetiredBlobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retired, 1)
	purged, err := f.store.Purge(ctx, retired)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}
