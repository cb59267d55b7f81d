package occasions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/catalog-media/internal/repo"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) OccasionIDs(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.Conn(ctx, tx).Model(&models.ProductOccasionLink{}).
		Where("product_id = ?", productID).
		Order("occasion_id ASC").
		Pluck("occasion_id", &ids).Error
	return ids, err
}

func (r *Repository) ProductIDs(ctx context.Context, occasionID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).Model(&models.ProductOccasionLink{}).
		Where("occasion_id = ?", occasionID).
		Order("product_id ASC").
		Pluck("product_id", &ids).Error
	return ids, err
}

// Insert ignores links that already exist.
func (r *Repository) Insert(tx *gorm.DB, productID uuid.UUID, occasionIDs []uuid.UUID) error {
	if len(occasionIDs) == 0 {
		return nil
	}
	rows := make([]models.ProductOccasionLink, 0, len(occasionIDs))
	for _, id := range occasionIDs {
		rows = append(rows, models.ProductOccasionLink{ProductID: productID, OccasionID: id})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *Repository) Delete(tx *gorm.DB, productID uuid.UUID, occasionIDs []uuid.UUID) error {
	if len(occasionIDs) == 0 {
		return nil
	}
	return tx.Where("product_id = ? AND occasion_id IN ?", productID, occasionIDs).
		Delete(&models.ProductOccasionLink{}).Error
}
