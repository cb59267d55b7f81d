package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/internal/repo"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
)

// Repository reads and seeds catalog product rows.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByID loads the product without associations.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.Conn(ctx, tx).Where("id = ?", id).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": id.String()})
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	return &product, nil
}

func (r *Repository) Create(ctx context.Context, product *models.Product) error {
	return r.DB(ctx).Create(product).Error
}

// MissingPrimary lists products that have image assets but no primary one,
// or whose cached primary_image disagrees with the primary asset.
func (r *Repository) MissingPrimary(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).Model(&models.Product{}).
		Where("EXISTS (SELECT 1 FROM image_assets a WHERE a.product_id = products.id)").
		Where(`NOT EXISTS (
			SELECT 1 FROM image_assets a
			WHERE a.product_id = products.id AND a.is_primary
			  AND products.primary_image IS NOT NULL AND products.primary_image = a.url
		)`).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// StaleCache lists products that still cache a primary_image but have no
// image assets left.
func (r *Repository) StaleCache(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).Model(&models.Product{}).
		Where("primary_image IS NOT NULL").
		Where("NOT EXISTS (SELECT 1 FROM image_assets a WHERE a.product_id = products.id)").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
