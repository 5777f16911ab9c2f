package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
	"github.com/learnloop/coursemarket-backend/pkg/outbox/payloads"
	"github.com/learnloop/coursemarket-backend/pkg/outbox/registry"
)

const (
	reasonUnpublishable = "unpublishable"
	reasonMaxAttempts   = "max_attempts"
)

// batchSummary counts what one processBatch call did with the rows it claimed.
// outcomes holds per-topic counts reported once the batch commits.
type batchSummary struct {
	fetched   int
	published int
	failed    int
	parked    int
	deferred  int
	outcomes  map[[2]string]int
}

func (b *batchSummary) record(resolved *registry.ResolvedEvent, outcome string) {
	switch outcome {
	case metrics.OutboxPublished:
		b.published++
	case metrics.OutboxRetry:
		b.failed++
	case metrics.OutboxParked:
		b.parked++
	case metrics.OutboxDeferred:
		b.deferred++
	}
	topic := ""
	if resolved != nil {
		topic = resolved.Route.Topic
	}
	if b.outcomes == nil {
		b.outcomes = map[[2]string]int{}
	}
	b.outcomes[[2]string{topic, outcome}]++
}

// inflight is one message handed to Pub/Sub and awaiting its server ack.
type inflight struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	pub      publisher
	result   publishResult
}

// processBatch claims a batch of rows and publishes at most one event per
// purchase. Rows queued behind an earlier event of the same purchase stay
// unpublished and are claimed again once the head is acknowledged.
func (s *Service) processBatch(ctx context.Context) (batchSummary, error) {
	var summary batchSummary
	start := time.Now()
	defer func() { s.metrics.ObserveBatch(time.Since(start)) }()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		summary = batchSummary{fetched: len(events)}
		if len(events) == 0 {
			return nil
		}

		publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		heads := make(map[uuid.UUID]struct{}, len(events))
		pending := make([]inflight, 0, len(events))
		for _, event := range events {
			if _, busy := heads[event.AggregateID]; busy {
				summary.record(nil, metrics.OutboxDeferred)
				continue
			}
			heads[event.AggregateID] = struct{}{}

			resolved, err := s.registry.Resolve(event)
			if err != nil {
				if err := s.park(ctx, tx, event, nil, reasonUnpublishable, err); err != nil {
					return err
				}
				summary.record(nil, metrics.OutboxParked)
				continue
			}

			pub := s.publishers(resolved.Route.Topic)
			if pub == nil {
				err := fmt.Errorf("no publisher for topic %s", resolved.Route.Topic)
				if err := s.park(ctx, tx, event, resolved, reasonUnpublishable, err); err != nil {
					return err
				}
				summary.record(resolved, metrics.OutboxParked)
				continue
			}
			pending = append(pending, inflight{
				event:    event,
				resolved: resolved,
				pub:      pub,
				result:   pub.Publish(publishCtx, purchaseMessage(event, resolved)),
			})
		}

		for _, msg := range pending {
			ackErr := awaitAck(publishCtx, msg)
			if ackErr == nil {
				if err := s.repo.MarkPublishedTx(tx, msg.event.ID); err != nil {
					return fmt.Errorf("mark published %s: %w", msg.event.ID, err)
				}
				s.logg.Info(s.logg.WithFields(ctx, s.eventFields(msg.event, msg.resolved)), "outbox event published")
				summary.record(msg.resolved, metrics.OutboxPublished)
				continue
			}

			msg.pub.ResumePublish(msg.event.AggregateID.String())
			parked, err := s.recordFailure(ctx, tx, msg, ackErr)
			if err != nil {
				return err
			}
			if parked {
				summary.record(msg.resolved, metrics.OutboxParked)
			} else {
				summary.record(msg.resolved, metrics.OutboxRetry)
			}
		}
		return nil
	})
	if err == nil && summary.fetched > 0 {
		for key, n := range summary.outcomes {
			s.metrics.Count(key[0], key[1], n)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"fetched":   summary.fetched,
			"published": summary.published,
			"failed":    summary.failed,
			"parked":    summary.parked,
			"deferred":  summary.deferred,
		}), "outbox batch complete")
	}
	return summary, err
}

func awaitAck(ctx context.Context, msg inflight) error {
	if msg.result == nil {
		return fmt.Errorf("%w: publisher returned no result for topic %s", registry.ErrUnpublishable, msg.resolved.Route.Topic)
	}
	_, err := msg.result.Get(ctx)
	return err
}

// recordFailure counts a failed attempt, parking the row once it is out of
// attempts or the failure can never succeed. It reports whether the row was parked.
func (s *Service) recordFailure(ctx context.Context, tx *gorm.DB, msg inflight, cause error) (bool, error) {
	if errors.Is(cause, registry.ErrUnpublishable) {
		return true, s.park(ctx, tx, msg.event, msg.resolved, reasonUnpublishable, cause)
	}

	attempt := msg.event.AttemptCount + 1
	if attempt >= s.maxAttempts {
		return true, s.park(ctx, tx, msg.event, msg.resolved, reasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", cause))
	}

	fields := s.eventFields(msg.event, msg.resolved)
	fields["attempt_count"] = attempt
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, msg.event.ID, cause); err != nil {
		return false, fmt.Errorf("mark failure %s: %w", msg.event.ID, err)
	}
	return false, nil
}

// park stops retrying a row. Payload and last error stay on the row for manual replay.
func (s *Service) park(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, resolved *registry.ResolvedEvent, reason string, cause error) error {
	fields := s.eventFields(event, resolved)
	fields["terminal_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

// purchaseMessage builds the Pub/Sub message for a row. The purchase id is the
// ordering key; typed payload fields are lifted into attributes so subscribers
// can filter without decoding the body.
func purchaseMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if change, ok := resolved.Payload.(*payloads.PurchaseStatusChangedEvent); ok && change != nil {
		if change.BuyerID != uuid.Nil {
			attrs["buyer_id"] = change.BuyerID.String()
		}
		if change.CourseID != uuid.Nil {
			attrs["course_id"] = change.CourseID.String()
		}
		if change.Status != "" {
			attrs["purchase_status"] = string(change.Status)
		}
		if change.Source != "" {
			attrs["source"] = change.Source
		}
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: event.AggregateID.String(),
	}
}

func (s *Service) eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"purchase_id":   event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	}
	if resolved != nil {
		fields["topic"] = resolved.Route.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
		}
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
