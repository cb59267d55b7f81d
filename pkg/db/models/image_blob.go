package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/pkg/enums"
)

// ImageBlob indexes one stored variant object. Scope is "global" or, with
// per-product dedup, the owning product id. Assets reference blobs by id,
// so several products can share one object.
type ImageBlob struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Scope       string           `gorm:"column:scope;not null"`
	ContentHash string           `gorm:"column:content_hash;type:char(64);not null"`
	SizeClass   enums.SizeClass  `gorm:"column:size_class;type:text;not null"`
	ObjectKey   string           `gorm:"column:object_key;not null;uniqueIndex"`
	URL         string           `gorm:"column:url;not null"`
	Digest      string           `gorm:"column:digest;type:char(64);not null"`
	MimeType    string           `gorm:"column:mime_type;not null"`
	Width       int              `gorm:"column:width;not null"`
	Height      int              `gorm:"column:height;not null"`
	SizeBytes   int64            `gorm:"column:size_bytes;not null"`
	Status      enums.BlobStatus `gorm:"column:status;type:text;not null;default:ready"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *ImageBlob) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
