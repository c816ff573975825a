package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
)

func TestResolveDecodesRoutedEvent(t *testing.T) {
	reg := newTestEventRegistry(t)
	paymentID := uuid.New()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   paymentID,
		Payload: envelopeJSON(t, 1, payloads.PaymentCompletedEvent{
			PaymentID:     paymentID,
			MerchantName:  "Corner Cafe",
			Amount:        decimal.RequireFromString("25.00"),
			Currency:      "USD",
			TransactionID: "T1",
			CompletedAt:   time.Now().UTC(),
		}),
	}

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "payments-topic", resolved.Route.Topic)
	assert.Equal(t, enums.AggregatePayment, resolved.Route.AggregateType)
	payload, ok := resolved.Payload.(*payloads.PaymentCompletedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, paymentID, payload.PaymentID)
	assert.True(t, payload.Amount.Equal(decimal.RequireFromString("25")))
	assert.NotEmpty(t, resolved.Envelope.EventID)
}

func TestResolveTreatsMissingVersionAsCurrent(t *testing.T) {
	reg := newTestEventRegistry(t)
	paymentID := uuid.New()
	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   paymentID,
		Payload: envelopeJSON(t, 0, payloads.PaymentFailedEvent{
			PaymentID:    paymentID,
			MerchantName: "Corner Cafe",
			FailureKind:  "declined",
		}),
	})
	assert.NoError(t, err)
}

func TestResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	valid := payloads.PaymentFailedEvent{PaymentID: uuid.New(), MerchantName: "Corner Cafe", FailureKind: "timeout"}
	row := func(mutate func(*models.OutboxEvent)) models.OutboxEvent {
		event := models.OutboxEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Payload:       envelopeJSON(t, 1, valid),
		}
		mutate(&event)
		return event
	}

	cases := map[string]models.OutboxEvent{
		"unknown event":        row(func(e *models.OutboxEvent) { e.EventType = "payment_refunded" }),
		"aggregate mismatch":   row(func(e *models.OutboxEvent) { e.AggregateType = "order" }),
		"missing aggregate id": row(func(e *models.OutboxEvent) { e.AggregateID = uuid.Nil }),
		"null payload":         row(func(e *models.OutboxEvent) { e.Payload = envelopeJSON(t, 1, nil) }),
		"broken envelope":      row(func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"data":`) }),
		"unknown version":      row(func(e *models.OutboxEvent) { e.Payload = envelopeJSON(t, 9, valid) }),
		"fails validation": row(func(e *models.OutboxEvent) {
			e.Payload = envelopeJSON(t, 1, payloads.PaymentFailedEvent{PaymentID: uuid.New()})
		}),
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			require.Error(t, err)
			var nonRetry NonRetryableError
			assert.True(t, errors.As(err, &nonRetry), "got %T", err)
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.Error(t, err)
}

func TestEventRegistryTopics(t *testing.T) {
	assert.Equal(t, []string{"payments-topic"}, newTestEventRegistry(t).Topics())
}

func TestPaymentDecodersCoverEveryEventType(t *testing.T) {
	decoders, err := PaymentDecoders()
	require.NoError(t, err)
	for _, eventType := range []enums.OutboxEventType{
		enums.EventPaymentLinkCreated,
		enums.EventPaymentCompleted,
		enums.EventPaymentFailed,
		enums.EventPaymentReconciliationRequired,
	} {
		assert.Equal(t, []int{CurrentPayloadVersion}, decoders.Versions(eventType), eventType)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{PaymentsTopic: "payments-topic"})
	require.NoError(t, err)
	return reg
}

func envelopeJSON(t *testing.T, version int, payload any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return out
}
