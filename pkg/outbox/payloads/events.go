// Package payloads defines the JSON bodies of image domain events.
package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-media/pkg/enums"
)

// VariantRef points at one stored variant of an ingested image.
type VariantRef struct {
	AssetID   uuid.UUID       `json:"asset_id"`
	SizeClass enums.SizeClass `json:"size_class"`
	URL       string          `json:"url"`
}

// ImageIngestedEvent is queued once per logical image bound to a product.
// Outcome is miss, reuse, or existing.
type ImageIngestedEvent struct {
	ProductID   uuid.UUID    `json:"product_id"`
	ContentHash string       `json:"content_hash"`
	ImageIndex  int          `json:"image_index"`
	Outcome     string       `json:"outcome"`
	IsPrimary   bool         `json:"is_primary"`
	Variants    []VariantRef `json:"variants"`
}

// PrimaryImageChangedEvent carries the new primary, or nil fields when a
// product lost its last image.
type PrimaryImageChangedEvent struct {
	ProductID       uuid.UUID  `json:"product_id"`
	AssetID         *uuid.UUID `json:"asset_id,omitempty"`
	PreviousAssetID *uuid.UUID `json:"previous_asset_id,omitempty"`
	ContentHash     string     `json:"content_hash,omitempty"`
	URL             *string    `json:"url"`
}

type ImageDeletedEvent struct {
	ProductID     uuid.UUID   `json:"product_id"`
	ContentHash   string      `json:"content_hash"`
	AssetIDs      []uuid.UUID `json:"asset_ids"`
	OrphanBlobIDs []uuid.UUID `json:"orphan_blob_ids,omitempty"`
}

type ProductImagesPurgedEvent struct {
	ProductID     uuid.UUID   `json:"product_id"`
	AssetCount    int         `json:"asset_count"`
	OrphanBlobIDs []uuid.UUID `json:"orphan_blob_ids,omitempty"`
}

type CarouselEntryChangedEvent struct {
	EntryID      uuid.UUID  `json:"entry_id"`
	ProductID    uuid.UUID  `json:"product_id"`
	ImageAssetID *uuid.UUID `json:"image_asset_id,omitempty"`
	Active       bool       `json:"active"`
	DisplayOrder int        `json:"display_order"`
}

type ProductOccasionsChangedEvent struct {
	ProductID uuid.UUID   `json:"product_id"`
	Added     []uuid.UUID `json:"added,omitempty"`
	Removed   []uuid.UUID `json:"removed,omitempty"`
}
