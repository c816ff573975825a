package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
)

// Route says where an event type is published and which aggregate owns it.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed routing and payload checks.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// EventRegistry resolves outbox rows into publishable events.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]Route
	decoders *DecoderRegistry
}

// NewEventRegistry routes every payment event to the payments topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.PaymentsTopic == "" {
		return nil, errors.New("payments topic is required")
	}
	decoders, err := PaymentDecoders()
	if err != nil {
		return nil, err
	}
	reg := &EventRegistry{routes: map[enums.OutboxEventType]Route{}, decoders: decoders}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventPaymentLinkCreated,
		enums.EventPaymentCompleted,
		enums.EventPaymentFailed,
		enums.EventPaymentReconciliationRequired,
	} {
		reg.routes[eventType] = Route{EventType: eventType, AggregateType: enums.AggregatePayment, Topic: cfg.PaymentsTopic}
	}
	return reg, nil
}

// Topics lists the distinct destination topics in sorted order.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, route := range r.routes {
		if !slices.Contains(topics, route.Topic) {
			topics = append(topics, route.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks the row against its route and decodes the payload at the
// envelope's version. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case route.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", route.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	version := envelope.Version
	if version == 0 {
		version = CurrentPayloadVersion
	}
	payload, err := r.decoders.Decode(event.EventType, version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Route: route, Envelope: envelope, Payload: payload}, nil
}
