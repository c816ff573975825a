package paymentevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/registry"
)

const consumerName = "payment-events"

// Outcomes reported to the consumer metrics.
const (
	OutcomeHandled   = "handled"
	OutcomeDuplicate = "duplicate"
	OutcomeDeferred  = "deferred"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

type envelopeHandler interface {
	Handle(ctx context.Context, envelope Envelope) error
}

type eventLedger interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.ClaimState, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type consumerMetrics interface {
	IncConsumed(eventType, outcome string)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Service consumes payment events from Pub/Sub, deduping deliveries through Redis.
type Service struct {
	subscription receiver
	handler      envelopeHandler
	ledger       eventLedger
	metrics      consumerMetrics
	logg         *logger.Logger
}

// NewService creates a payment events worker.
func NewService(subscription *gcppubsub.Subscriber, handler envelopeHandler, ledger eventLedger, metrics consumerMetrics, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("payments subscription is required")
	}
	if handler == nil {
		return nil, errors.New("payment events handler is required")
	}
	if ledger == nil {
		return nil, errors.New("idempotency ledger is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	return &Service{
		subscription: subscription,
		handler:      handler,
		ledger:       ledger,
		metrics:      metrics,
		logg:         logg,
	}, nil
}

type processResult struct {
	nack bool
}

// Run consumes until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID}

	envelope, err := buildEnvelope(msg)
	if err != nil {
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "invalid payment event envelope")
		s.observe(strings.TrimSpace(msg.Attributes["event_type"]), OutcomeInvalid)
		return processResult{}
	}
	fields["event_id"] = envelope.EventID
	fields["event_type"] = envelope.EventType
	fields["payment_id"] = envelope.PaymentID
	fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	logCtx := s.logg.WithFields(ctx, fields)

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "invalid event id")
		s.observe(string(envelope.EventType), OutcomeInvalid)
		return processResult{}
	}

	state, err := s.ledger.Claim(logCtx, consumerName, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency claim failed", err)
		s.observe(string(envelope.EventType), OutcomeFailed)
		return processResult{nack: true}
	}
	switch state {
	case idempotency.Processed:
		s.logg.Info(logCtx, "event already processed")
		s.observe(string(envelope.EventType), OutcomeDuplicate)
		return processResult{}
	case idempotency.Busy:
		s.logg.Info(logCtx, "event claimed by another delivery")
		s.observe(string(envelope.EventType), OutcomeDeferred)
		return processResult{nack: true}
	}

	if err := s.handler.Handle(logCtx, *envelope); err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "payment event dropped")
			s.complete(logCtx, eventID)
			s.observe(string(envelope.EventType), OutcomeInvalid)
			return processResult{}
		}
		s.logg.Error(logCtx, "handler error", err)
		if relErr := s.ledger.Release(logCtx, consumerName, eventID); relErr != nil {
			s.logg.Error(logCtx, "failed to release idempotency claim", relErr)
		}
		s.observe(string(envelope.EventType), OutcomeFailed)
		return processResult{nack: true}
	}

	s.complete(logCtx, eventID)
	s.logg.Info(logCtx, "payment event handled")
	s.observe(string(envelope.EventType), OutcomeHandled)
	return processResult{}
}

// complete failures are logged only: the work is done and the claim lapses on its own.
func (s *Service) complete(ctx context.Context, eventID uuid.UUID) {
	if err := s.ledger.Complete(ctx, consumerName, eventID); err != nil {
		s.logg.Error(ctx, "failed to record processed event", err)
	}
}

func (s *Service) observe(eventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncConsumed(eventType, outcome)
}

func buildEnvelope(msg *gcppubsub.Message) (*Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}

	aggregateType, err := enums.ParseOutboxAggregateType(strings.TrimSpace(msg.Attributes["aggregate_type"]))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	if aggregateType != enums.AggregatePayment {
		return nil, fmt.Errorf("aggregate_type %q is not a payment", aggregateType)
	}

	paymentID := strings.TrimSpace(msg.Attributes["aggregate_id"])
	if paymentID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := strings.TrimSpace(msg.Attributes["created_at"]); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	version := stored.Version
	if version == 0 {
		version = registry.CurrentPayloadVersion
	}

	return &Envelope{
		EventID:    eventID,
		EventType:  eventType,
		Version:    version,
		PaymentID:  paymentID,
		OccurredAt: occurredAt.UTC(),
		Actor:      stored.Actor,
		Payload:    stored.Data,
	}, nil
}
