package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-media/pkg/db/models"
	"github.com/angelmondragon/catalog-media/pkg/enums"
	"github.com/angelmondragon/catalog-media/pkg/outbox/registry"
)

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// delivery tracks one outbox row through a batch.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	pub      publisher
	result   publishResult
	err      error
}

func (d *delivery) topic() string {
	if d.resolved == nil {
		return ""
	}
	return d.resolved.Descriptor.Topic
}

// processBatch claims up to batchSize rows, hands every resolvable row to its
// publisher before waiting on any result, then settles each row. It reports
// whether any rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true
		s.metrics.SetBatch(len(events))

		publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()

		deliveries := make([]*delivery, 0, len(events))
		for _, event := range events {
			deliveries = append(deliveries, s.dispatch(publishCtx, event))
		}
		for _, d := range deliveries {
			if d.result != nil {
				_, d.err = d.result.Get(publishCtx)
			}
			if err := s.settle(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) *delivery {
	d := &delivery{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.err = err
		return d
	}
	d.resolved = resolved

	d.pub = s.publisherFactory(d.topic())
	if d.pub == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", d.topic()))
		return d
	}
	d.result = d.pub.Publish(ctx, s.message(event, resolved))
	if d.result == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", d.topic()))
	}
	return d
}

// message forwards the stored envelope unchanged. Events of one aggregate
// share an ordering key so subscribers see them in commit order.
func (s *Service) message(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if resolved.Envelope.Source != "" {
		attrs["source"] = resolved.Envelope.Source
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: string(event.AggregateType) + ":" + event.AggregateID.String(),
	}
}

func (s *Service) classify(d *delivery) (outcome, enums.OutboxDLQErrorReason) {
	if d.err == nil {
		return outcomePublished, ""
	}
	var nonRetry registry.NonRetryableError
	if errors.As(d.err, &nonRetry) {
		return outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable
	}
	if d.event.AttemptCount+1 >= s.maxAttempts {
		return outcomeDeadLetter, enums.OutboxDLQReasonMaxAttempts
	}
	return outcomeRetry, ""
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, d *delivery) error {
	event := d.event
	kind, reason := s.classify(d)
	fields := s.eventFields(d)
	logCtx := s.logg.WithFields(ctx, fields)

	switch kind {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncPublished(string(event.EventType))
		s.logg.Info(logCtx, "outbox event published")
		return nil

	case outcomeRetry:
		s.resume(d)
		logCtx = s.logg.WithField(logCtx, "error", d.err.Error())
		s.logg.Warn(logCtx, "outbox publish failed")
		s.metrics.IncFailed(string(event.EventType))
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		return nil
	}

	s.resume(d)
	cause := d.err
	if reason == enums.OutboxDLQReasonMaxAttempts {
		cause = fmt.Errorf("max publish attempts reached: %w", d.err)
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{"error_reason": reason, "error": cause.Error()})
	s.logg.Warn(logCtx, "outbox event will not be retried")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.IncDeadLettered(string(event.EventType))
	return nil
}

// resume unblocks the ordering key of a failed publish so the row can be
// retried on a later batch.
func (s *Service) resume(d *delivery) {
	if d.result == nil {
		return
	}
	if op, ok := d.pub.(orderedPublisher); ok {
		op.ResumePublish(s.message(d.event, d.resolved).OrderingKey)
	}
}

func (s *Service) eventFields(d *delivery) map[string]any {
	event := d.event
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"batch_size":     s.batchSize,
		"attempt_count":  event.AttemptCount,
	}
	if d.err != nil {
		fields["attempt_count"] = event.AttemptCount + 1
	}
	if d.resolved != nil {
		if env := d.resolved.Envelope; env.EventID != "" {
			fields["event_id"] = env.EventID
			fields["occurred_at"] = env.OccurredAt.Format(time.RFC3339Nano)
		}
		fields["topic"] = d.topic()
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
