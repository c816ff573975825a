package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/registry"
)

type publishResult interface {
	Get(ctx context.Context) (serverID string, err error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publisherFactory func(topic string) publisher

var errNoPublishResult = errors.New("publisher returned no result")

// Pub/Sub statuses that will not change on retry.
var permanentPublishCodes = map[codes.Code]struct{}{
	codes.InvalidArgument:    {},
	codes.NotFound:           {},
	codes.PermissionDenied:   {},
	codes.FailedPrecondition: {},
	codes.Unauthenticated:    {},
}

type batchSummary struct {
	fetched      int
	published    int
	failed       int
	deadLettered int
}

// inflight tracks one row between Publish and its settled outcome.
type inflight struct {
	event  models.OutboxEvent
	pub    publisher
	result publishResult
	err    error
}

// processBatch publishes every message of the batch before waiting on any result,
// then settles rows in fetch order. Row updates share the fetch transaction so the
// SKIP LOCKED claim holds until every outcome is written.
func (s *Service) processBatch(ctx context.Context) (batchSummary, error) {
	var summary batchSummary
	txCtx := context.WithoutCancel(ctx)

	err := s.db.WithTx(txCtx, func(tx *gorm.DB) error {
		summary = batchSummary{}
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		summary.fetched = len(events)
		if len(events) == 0 {
			return nil
		}

		batch := s.dispatch(txCtx, events)
		paused := map[string]struct{}{}
		for i := range batch {
			item := &batch[i]
			if item.result != nil {
				item.err = s.await(txCtx, item.result)
			}
			if err := s.settle(txCtx, tx, item, paused, &summary); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}
	if summary.fetched > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"fetched":      summary.fetched,
			"published":    summary.published,
			"failed":       summary.failed,
			"deadLettered": summary.deadLettered,
		}), "outbox batch settled")
	}
	return summary, nil
}

func (s *Service) dispatch(ctx context.Context, events []models.OutboxEvent) []inflight {
	publishers := make(map[string]publisher)
	batch := make([]inflight, 0, len(events))
	for _, event := range events {
		item := inflight{event: event}
		resolved, err := s.registry.Resolve(event)
		if err != nil {
			item.err = err
			batch = append(batch, item)
			continue
		}

		topic := resolved.Route.Topic
		pub, ok := publishers[topic]
		if !ok {
			pub = s.publisherFactory(topic)
			publishers[topic] = pub
		}
		item.pub = pub
		item.result = pub.Publish(ctx, newMessage(event, resolved))
		if item.result == nil {
			item.err = errNoPublishResult
		}
		batch = append(batch, item)
	}
	return batch
}

func (s *Service) await(ctx context.Context, result publishResult) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	_, err := result.Get(waitCtx)
	return err
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, item *inflight, paused map[string]struct{}, summary *batchSummary) error {
	event := item.event
	eventType := string(event.EventType)
	if item.err == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", event.ID, err)
		}
		summary.published++
		s.metrics.IncPublished(eventType)
		return nil
	}

	if item.pub != nil {
		// A failed publish pauses its ordering key until resumed.
		key := event.AggregateID.String()
		if _, done := paused[key]; !done {
			item.pub.ResumePublish(key)
			paused[key] = struct{}{}
		}
		s.metrics.IncFailed(eventType)
	}

	attempts := event.AttemptCount + 1
	reason, terminal := s.classify(item.err, attempts)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"eventId":   event.ID.String(),
		"eventType": eventType,
		"attempt":   attempts,
	})
	if !terminal {
		s.logg.Warn(s.logg.WithField(logCtx, "error", item.err.Error()), "outbox publish failed, will retry")
		if err := s.repo.MarkFailedTx(tx, event.ID, item.err); err != nil {
			return fmt.Errorf("mark %s failed: %w", event.ID, err)
		}
		summary.failed++
		return nil
	}

	s.logg.Error(s.logg.WithField(logCtx, "reason", reason.String()), "outbox event dead-lettered", item.err)
	if err := s.repo.MarkTerminalTx(tx, event.ID, item.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark %s terminal: %w", event.ID, err)
	}
	if err := s.dlq.InsertTx(tx, deadLetter(event, reason, item.err, attempts)); err != nil {
		return fmt.Errorf("dead-letter %s: %w", event.ID, err)
	}
	summary.deadLettered++
	s.metrics.IncDeadLettered(eventType, reason.String())
	return nil
}

// classify decides whether a failed row stops retrying and which DLQ reason applies.
func (s *Service) classify(err error, attempts int) (enums.OutboxDLQErrorReason, bool) {
	var nonRetryable registry.NonRetryableError
	if errors.As(err, &nonRetryable) {
		return enums.OutboxDLQReasonNonRetryable, true
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		if _, permanent := permanentPublishCodes[st.Code()]; permanent {
			return enums.OutboxDLQReasonRejected, true
		}
	}
	if attempts >= s.maxAttempts {
		return enums.OutboxDLQReasonMaxAttempts, true
	}
	return "", false
}

func newMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	occurredAt := resolved.Envelope.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = event.CreatedAt
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       event.ID.String(),
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     occurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func deadLetter(event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, attempts int) models.OutboxDLQ {
	message := cause.Error()
	return models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  attempts,
	}
}
