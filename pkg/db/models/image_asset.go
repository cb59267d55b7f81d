package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/pkg/enums"
)

// ImageAsset binds one stored variant of a logical image to a product.
// ContentHash is written once at creation and never updated.
type ImageAsset struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_image_assets_slot,priority:1;uniqueIndex:ux_image_assets_hash,priority:1"`
	BlobID      uuid.UUID       `gorm:"column:blob_id;type:uuid;not null"`
	ContentHash string          `gorm:"column:content_hash;type:char(64);not null;uniqueIndex:ux_image_assets_hash,priority:2"`
	SizeClass   enums.SizeClass `gorm:"column:size_class;type:text;not null;uniqueIndex:ux_image_assets_slot,priority:2;uniqueIndex:ux_image_assets_hash,priority:3"`
	ImageIndex  int             `gorm:"column:image_index;not null;uniqueIndex:ux_image_assets_slot,priority:3"`
	IsPrimary   bool            `gorm:"column:is_primary;not null;default:false"`
	URL         string          `gorm:"column:url;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *ImageAsset) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
