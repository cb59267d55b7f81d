package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	"github.com/angelmondragon/catalog-media/pkg/outbox"
	"github.com/angelmondragon/catalog-media/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	productID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.ImageIngestedEvent{
		ProductID:   productID,
		ContentHash: "ab12",
		ImageIndex:  1,
		Outcome:     "miss",
		Variants: []payloads.VariantRef{
			{AssetID: uuid.New(), SizeClass: enums.SizeClassMedium, URL: "https://cdn/x.jpg"},
		},
	})

	event := models.OutboxEvent{
		EventType:     enums.EventImageIngested,
		AggregateType: enums.AggregateProduct,
		AggregateID:   productID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "media-events" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.ImageIngestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.ProductID != productID || len(payload.Variants) != 1 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing metadata: %+v", resolved.Envelope)
	}
}

func TestEventRegistryCoversEveryEventType(t *testing.T) {
	reg := newTestEventRegistry(t)
	for _, eventType := range []enums.OutboxEventType{
		enums.EventImageIngested,
		enums.EventPrimaryImageChanged,
		enums.EventImageDeleted,
		enums.EventProductImagesPurged,
		enums.EventCarouselEntryChanged,
		enums.EventOccasionsChanged,
	} {
		if _, ok := reg.Descriptor(eventType); !ok {
			t.Fatalf("missing descriptor for %s", eventType)
		}
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType:     "image_resampled",
			AggregateType: enums.AggregateProduct,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventImageIngested,
			AggregateType: enums.AggregateCarousel,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventImageDeleted,
			AggregateType: enums.AggregateProduct,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventImageDeleted,
			AggregateType: enums.AggregateProduct,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"future envelope version": {
			EventType:     enums.EventImageDeleted,
			AggregateType: enums.AggregateProduct,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":9,"eventId":"e","data":{}}`),
		},
		"broken envelope": {
			EventType:     enums.EventImageDeleted,
			AggregateType: enums.AggregateProduct,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected missing topic error")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{EventsTopic: "media-events"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
