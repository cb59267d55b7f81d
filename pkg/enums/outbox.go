package enums

import "fmt"

// OutboxAggregateType identifies the root entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateProduct  OutboxAggregateType = "product"
	AggregateCarousel OutboxAggregateType = "carousel_entry"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateProduct,
	AggregateCarousel,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the image domain events published downstream.
type OutboxEventType string

const (
	EventImageIngested        OutboxEventType = "image_ingested"
	EventPrimaryImageChanged  OutboxEventType = "primary_image_changed"
	EventImageDeleted         OutboxEventType = "image_deleted"
	EventProductImagesPurged  OutboxEventType = "product_images_purged"
	EventCarouselEntryChanged OutboxEventType = "carousel_entry_changed"
	EventOccasionsChanged     OutboxEventType = "product_occasions_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventImageIngested,
	EventPrimaryImageChanged,
	EventImageDeleted,
	EventProductImagesPurged,
	EventCarouselEntryChanged,
	EventOccasionsChanged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
