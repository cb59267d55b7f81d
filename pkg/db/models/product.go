package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is the catalog listing images hang off. The catalog owns the row;
// this service only maintains PrimaryImage, a cache of the primary asset URL.
type Product struct {
	ID           uuid.UUID    `gorm:"column:id;type:uuid;primaryKey"`
	Name         string       `gorm:"column:name;not null"`
	IsActive     bool         `gorm:"column:is_active;not null"`
	PrimaryImage *string      `gorm:"column:primary_image"`
	Images       []ImageAsset `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
