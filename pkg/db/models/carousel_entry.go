package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CarouselEntry is an admin-curated homepage slot. Deactivated rows are kept
// so an entry can be re-activated later.
type CarouselEntry struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID     uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	ImageAssetID  *uuid.UUID `gorm:"column:image_asset_id;type:uuid"`
	Active        bool       `gorm:"column:active;not null;default:false"`
	DisplayOrder  int        `gorm:"column:display_order;not null;default:0"`
	ActivatedAt   *time.Time `gorm:"column:activated_at"`
	DeactivatedAt *time.Time `gorm:"column:deactivated_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CarouselEntry) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
