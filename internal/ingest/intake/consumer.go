// Package intake turns bucket upload notifications into ingestions.
package intake

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/angelmondragon/catalog-media/internal/ingest"
	pkgerrors "github.com/angelmondragon/catalog-media/pkg/errors"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/outbox/idempotency"
	"github.com/angelmondragon/catalog-media/pkg/storage/gcs"
)

const (
	objectFinalizeEvent  = "OBJECT_FINALIZE"
	payloadFormatJSONAPI = "JSON_API_V1"

	consumerName = "ingest-worker"

	// Custom object metadata set by the uploader.
	metaProductID = "product_id"
	metaIsPrimary = "is_primary"
)

type uploadReader interface {
	ReadUpload(ctx context.Context, bucket, name string) (*gcs.Upload, error)
}

type ingester interface {
	Ingest(ctx context.Context, in ingest.Upload) (*ingest.Result, error)
}

type deliveryTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, id uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, id uuid.UUID) error
}

// Consumer ingests objects announced by GCS OBJECT_FINALIZE notifications.
// Each object must carry product_id metadata and may set is_primary.
type Consumer struct {
	uploads      uploadReader
	ingest       ingester
	deliveries   deliveryTracker
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

// NewConsumer wires a consumer. deliveries may be nil, in which case
// redelivered notifications rely on ingestion being idempotent.
func NewConsumer(uploads uploadReader, svc ingester, deliveries deliveryTracker, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if uploads == nil {
		return nil, errors.New("upload reader is required")
	}
	if svc == nil {
		return nil, errors.New("ingest service is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		uploads:      uploads,
		ingest:       svc,
		deliveries:   deliveries,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return errors.New("intake subscription is required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
	// ingested is set when the message produced a binding.
	ingested *ingest.Result
}

var acked = processResult{}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	attrs := parseAttributes(msg.Attributes)
	logCtx := c.logg.WithFields(ctx, buildLogFields(msg.ID, attrs, nil))
	if attrs.EventType != objectFinalizeEvent {
		c.logg.Debug(logCtx, "skipping non-finalize event")
		return acked
	}
	if attrs.PayloadFormat != payloadFormatJSONAPI {
		c.logg.Warn(logCtx, "unsupported payload format")
		return acked
	}

	raw, err := decodePayload(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return acked
	}
	var obj gcsPayload
	if err := json.Unmarshal(raw, &obj); err != nil {
		c.logg.Error(c.logg.WithField(logCtx, "payload_len", len(raw)), "failed to unmarshal payload", err)
		return acked
	}
	if strings.TrimSpace(obj.Name) == "" {
		c.logg.Error(logCtx, "payload missing object name", errors.New("empty name"))
		return acked
	}
	if obj.Bucket == "" {
		obj.Bucket = attrs.BucketID
	}
	logCtx = c.logg.WithFields(ctx, buildLogFields(msg.ID, attrs, &obj))

	delivery, claimed, err := c.claim(logCtx, obj)
	if err != nil {
		c.logg.Error(logCtx, "failed to check delivery", err)
		return processResult{nack: true}
	}
	if !claimed {
		c.logg.Info(logCtx, "delivery already processed")
		return acked
	}

	res := c.handle(logCtx, obj)
	if res.nack {
		c.release(logCtx, delivery)
	}
	return res
}

func (c *Consumer) handle(ctx context.Context, obj gcsPayload) processResult {
	upload, err := c.uploads.ReadUpload(ctx, obj.Bucket, obj.Name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			c.logg.Warn(ctx, "upload object is gone")
			return acked
		}
		c.logg.Error(ctx, "failed to read upload", err)
		return processResult{nack: gcs.IsTransient(err)}
	}

	in, err := uploadFromMetadata(upload)
	if err != nil {
		c.logg.Error(ctx, "upload metadata rejected", err)
		return acked
	}
	ctx = c.logg.WithProductID(ctx, in.ProductID.String())

	res, err := c.ingest.Ingest(ctx, in)
	if err != nil {
		// The service already logged the failure with its context.
		if pkgerrors.IsRetryable(err) {
			return processResult{nack: true}
		}
		c.logg.Warn(c.logg.WithField(ctx, "error_code", string(pkgerrors.As(err).Code())), "dropping upload that cannot be ingested")
		return acked
	}
	return processResult{ingested: res}
}

func (c *Consumer) claim(ctx context.Context, obj gcsPayload) (uuid.UUID, bool, error) {
	if c.deliveries == nil {
		return uuid.Nil, true, nil
	}
	id := deliveryID(obj)
	already, err := c.deliveries.CheckAndMarkProcessed(ctx, consumerName, id)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, !already, nil
}

func (c *Consumer) release(ctx context.Context, id uuid.UUID) {
	if c.deliveries == nil || id == uuid.Nil {
		return
	}
	if err := c.deliveries.Release(ctx, consumerName, id); err != nil {
		c.logg.Error(ctx, "failed to release delivery claim", err)
	}
}

func uploadFromMetadata(u *gcs.Upload) (ingest.Upload, error) {
	rawID := strings.TrimSpace(u.Metadata[metaProductID])
	if rawID == "" {
		return ingest.Upload{}, pkgerrors.New(pkgerrors.CodeValidation, "upload has no product_id metadata")
	}
	productID, err := uuid.Parse(rawID)
	if err != nil {
		return ingest.Upload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "upload product_id metadata is not a uuid")
	}
	isPrimary := false
	if v := strings.TrimSpace(u.Metadata[metaIsPrimary]); v != "" {
		if isPrimary, err = strconv.ParseBool(v); err != nil {
			return ingest.Upload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "upload is_primary metadata is not a bool")
		}
	}
	return ingest.Upload{ProductID: productID, Data: u.Data, IsPrimary: isPrimary}, nil
}

func deliveryID(obj gcsPayload) uuid.UUID {
	return idempotency.DeliveryID(obj.Bucket, obj.Name, obj.Generation)
}

func buildLogFields(messageID string, attrs gcsAttributes, payload *gcsPayload) map[string]any {
	fields := map[string]any{
		"message_id": messageID,
		"event_type": attrs.EventType,
		"bucket":     attrs.BucketID,
	}
	if payload != nil {
		fields["bucket"] = payload.Bucket
		fields["object"] = payload.Name
		fields["generation"] = payload.Generation
	}
	return fields
}

type gcsAttributes struct {
	EventType     string
	BucketID      string
	ObjectID      string
	PayloadFormat string
}

func parseAttributes(attrs map[string]string) gcsAttributes {
	return gcsAttributes{
		EventType:     attrs["eventType"],
		BucketID:      attrs["bucketId"],
		ObjectID:      attrs["objectId"],
		PayloadFormat: attrs["payloadFormat"],
	}
}

type gcsPayload struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Generation  string `json:"generation"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

func decodePayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("payload empty")
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		return decoded, nil
	}
	return data, nil
}
