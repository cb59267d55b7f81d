package carousel

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/repo"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/pagination"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) Find(tx *gorm.DB, id uuid.UUID) (*models.CarouselEntry, error) {
	var entry models.CarouselEntry
	err := tx.Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &entry, err
}

// FindByTarget returns the entry showing productID with the given image, or
// with the product's primary image when imageAssetID is nil.
func (r *Repository) FindByTarget(tx *gorm.DB, productID uuid.UUID, imageAssetID *uuid.UUID) (*models.CarouselEntry, error) {
	q := tx.Where("product_id = ?", productID)
	if imageAssetID == nil {
		q = q.Where("image_asset_id IS NULL")
	} else {
		q = q.Where("image_asset_id = ?", *imageAssetID)
	}
	var rows []models.CarouselEntry
	if err := q.Order("created_at ASC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *Repository) Create(tx *gorm.DB, entry *models.CarouselEntry) error {
	return tx.Create(entry).Error
}

// MaxActiveOrder is 0 when nothing is active.
func (r *Repository) MaxActiveOrder(tx *gorm.DB) (int, error) {
	var highest int
	err := tx.Model(&models.CarouselEntry{}).
		Where("active = ?", true).
		Select("COALESCE(MAX(display_order), 0)").
		Row().Scan(&highest)
	return highest, err
}

// ActiveOrdersFrom lists active display orders >= from, ascending.
func (r *Repository) ActiveOrdersFrom(tx *gorm.DB, from int) ([]int, error) {
	var orders []int
	err := tx.Model(&models.CarouselEntry{}).
		Where("active = ? AND display_order >= ?", true, from).
		Order("display_order ASC").
		Pluck("display_order", &orders).Error
	return orders, err
}

// ShiftOrder moves the active entry at order one slot down.
func (r *Repository) ShiftOrder(tx *gorm.DB, order int) error {
	return tx.Model(&models.CarouselEntry{}).
		Where("active = ? AND display_order = ?", true, order).
		Update("display_order", order+1).Error
}

func (r *Repository) Place(tx *gorm.DB, id uuid.UUID, order int, at time.Time) error {
	return tx.Model(&models.CarouselEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":         true,
			"display_order":  order,
			"activated_at":   at,
			"deactivated_at": nil,
		}).Error
}

// Park takes an entry out of the active ordering without stamping it.
func (r *Repository) Park(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.CarouselEntry{}).Where("id = ?", id).Update("active", false).Error
}

func (r *Repository) Deactivate(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return tx.Model(&models.CarouselEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "deactivated_at": at}).Error
}

// ActivePage returns up to limit active entries after cursor in
// (display_order, id) order.
func (r *Repository) ActivePage(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.CarouselEntry, error) {
	q := r.DB(ctx).Where("active = ?", true)
	if cursor != nil {
		q = q.Where("display_order > ? OR (display_order = ? AND id > ?)", cursor.Order, cursor.Order, cursor.ID)
	}
	var rows []models.CarouselEntry
	err := q.Order("display_order ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}
