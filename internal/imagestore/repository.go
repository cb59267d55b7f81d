package imagestore

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/repo"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
)

// Binding is one (product, size class) that already carries a content hash.
type Binding struct {
	ProductID  uuid.UUID
	AssetID    uuid.UUID
	SizeClass  enums.SizeClass
	ImageIndex int
}

// Repository persists the blob index and asset rows.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// ReadyBlobs returns the ready blobs for one identity in scope.
func (r *Repository) ReadyBlobs(ctx context.Context, tx *gorm.DB, scope, contentHash string) ([]models.ImageBlob, error) {
	var rows []models.ImageBlob
	err := r.Conn(ctx, tx).
		Where("scope = ? AND content_hash = ? AND status = ?", scope, contentHash, enums.BlobStatusReady).
		Find(&rows).Error
	return rows, err
}

// ClaimReadyBlobs touches the given blobs while they are still ready. On
// Postgres this row-locks them until tx ends, which keeps the GC from
// retiring a blob that is about to gain a reference.
func (r *Repository) ClaimReadyBlobs(tx *gorm.DB, ids []uuid.UUID) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	res := tx.Model(&models.ImageBlob{}).
		Where("id IN ? AND status = ?", ids, enums.BlobStatusReady).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == int64(len(ids)), nil
}

func (r *Repository) InsertBlob(tx *gorm.DB, blob *models.ImageBlob) error {
	return tx.Create(blob).Error
}

func (r *Repository) InsertAssets(tx *gorm.DB, assets []models.ImageAsset) error {
	if len(assets) == 0 {
		return nil
	}
	return tx.Create(&assets).Error
}

// AssetsForHash returns the product's assets for one logical image.
func (r *Repository) AssetsForHash(ctx context.Context, tx *gorm.DB, productID uuid.UUID, contentHash string) ([]models.ImageAsset, error) {
	var rows []models.ImageAsset
	err := r.Conn(ctx, tx).
		Where("product_id = ? AND content_hash = ?", productID, contentHash).
		Find(&rows).Error
	sortAssets(rows)
	return rows, err
}

// AssetsForProduct lists assets ordered by image index, size class, and id.
func (r *Repository) AssetsForProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]models.ImageAsset, error) {
	var rows []models.ImageAsset
	err := r.Conn(ctx, tx).
		Where("product_id = ?", productID).
		Find(&rows).Error
	sortAssets(rows)
	return rows, err
}

func (r *Repository) FindAsset(ctx context.Context, id uuid.UUID) (*models.ImageAsset, error) {
	var row models.ImageAsset
	if err := r.DB(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Bindings lists every asset carrying contentHash, across products.
func (r *Repository) Bindings(ctx context.Context, contentHash string) ([]Binding, error) {
	var rows []models.ImageAsset
	if err := r.DB(ctx).Where("content_hash = ?", contentHash).Find(&rows).Error; err != nil {
		return nil, err
	}
	slices.SortFunc(rows, func(a, b models.ImageAsset) int {
		if c := strings.Compare(a.ProductID.String(), b.ProductID.String()); c != 0 {
			return c
		}
		return a.SizeClass.Rank() - b.SizeClass.Rank()
	})
	out := make([]Binding, 0, len(rows))
	for _, a := range rows {
		out = append(out, Binding{ProductID: a.ProductID, AssetID: a.ID, SizeClass: a.SizeClass, ImageIndex: a.ImageIndex})
	}
	return out, nil
}

// NextImageIndex returns max(image_index)+1 for the product, starting at 1.
func (r *Repository) NextImageIndex(tx *gorm.DB, productID uuid.UUID) (int, error) {
	var maxIndex sql.NullInt64
	row := tx.Model(&models.ImageAsset{}).
		Where("product_id = ?", productID).
		Select("MAX(image_index)").
		Row()
	if err := row.Scan(&maxIndex); err != nil {
		return 0, err
	}
	if !maxIndex.Valid {
		return 1, nil
	}
	return int(maxIndex.Int64) + 1, nil
}

func (r *Repository) DeleteAssets(tx *gorm.DB, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Where("id IN ?", ids).Delete(&models.ImageAsset{}).Error
}

// RetireOrphans flags the blobs among ids that no asset references any more
// and returns them.
func (r *Repository) RetireOrphans(tx *gorm.DB, ids []uuid.UUID) ([]models.ImageBlob, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var orphans []models.ImageBlob
	err := tx.Where("id IN ?", ids).
		Where("NOT EXISTS (SELECT 1 FROM image_assets a WHERE a.blob_id = image_blobs.id)").
		Find(&orphans).Error
	if err != nil || len(orphans) == 0 {
		return nil, err
	}
	orphanIDs := blobIDs(orphans)
	if err := tx.Model(&models.ImageBlob{}).
		Where("id IN ?", orphanIDs).
		Update("status", enums.BlobStatusDeleteRequested).Error; err != nil {
		return nil, err
	}
	for i := range orphans {
		orphans[i].Status = enums.BlobStatusDeleteRequested
	}
	return orphans, nil
}

// RetireUnreferenced flags ready blobs with no references that are older
// than cutoff, up to limit rows.
func (r *Repository) RetireUnreferenced(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := r.DB(ctx).Model(&models.ImageBlob{}).
		Select("id").
		Where("status = ? AND created_at < ?", enums.BlobStatusReady, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM image_assets a WHERE a.blob_id = image_blobs.id)").
		Limit(limit)
	res := r.DB(ctx).Model(&models.ImageBlob{}).
		Where("id IN (?)", sub).
		Where("NOT EXISTS (SELECT 1 FROM image_assets a WHERE a.blob_id = image_blobs.id)").
		Update("status", enums.BlobStatusDeleteRequested)
	return res.RowsAffected, res.Error
}

// RetiredBlobs returns delete_requested blobs, oldest first.
func (r *Repository) RetiredBlobs(ctx context.Context, limit int) ([]models.ImageBlob, error) {
	var rows []models.ImageBlob
	err := r.DB(ctx).
		Where("status = ?", enums.BlobStatusDeleteRequested).
		Order("updated_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Referenced reports whether any asset points at blobID.
func (r *Repository) Referenced(ctx context.Context, blobID uuid.UUID) (bool, error) {
	var n int64
	err := r.DB(ctx).Model(&models.ImageAsset{}).Where("blob_id = ?", blobID).Count(&n).Error
	return n > 0, err
}

// Restore moves a retired blob back to ready.
func (r *Repository) Restore(ctx context.Context, blobID uuid.UUID) error {
	return r.DB(ctx).Model(&models.ImageBlob{}).
		Where("id = ? AND status = ?", blobID, enums.BlobStatusDeleteRequested).
		Update("status", enums.BlobStatusReady).Error
}

// DeleteRetired removes a retired blob row once nothing references it.
func (r *Repository) DeleteRetired(ctx context.Context, blobID uuid.UUID) (bool, error) {
	res := r.DB(ctx).
		Where("id = ? AND status = ?", blobID, enums.BlobStatusDeleteRequested).
		Where("NOT EXISTS (SELECT 1 FROM image_assets a WHERE a.blob_id = image_blobs.id)").
		Delete(&models.ImageBlob{})
	return res.RowsAffected == 1, res.Error
}

// CountBlobs is used by tests and the CLI summary.
func (r *Repository) CountBlobs(ctx context.Context, status enums.BlobStatus) (int64, error) {
	var n int64
	q := r.DB(ctx).Model(&models.ImageBlob{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&n).Error
	return n, err
}

func (r *Repository) ProductExists(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (bool, error) {
	var p models.Product
	err := r.Conn(ctx, tx).Select("id").First(&p, "id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func sortAssets(rows []models.ImageAsset) {
	slices.SortFunc(rows, func(a, b models.ImageAsset) int {
		if a.ImageIndex != b.ImageIndex {
			return a.ImageIndex - b.ImageIndex
		}
		if d := a.SizeClass.Rank() - b.SizeClass.Rank(); d != 0 {
			return d
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

func blobIDs(blobs []models.ImageBlob) []uuid.UUID {
	ids := make([]uuid.UUID, len(blobs))
	for i, b := range blobs {
		ids[i] = b.ID
	}
	return ids
}
