package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductOccasionLink is the bare (product, occasion) pair.
type ProductOccasionLink struct {
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	OccasionID uuid.UUID `gorm:"column:occasion_id;type:uuid;primaryKey"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
