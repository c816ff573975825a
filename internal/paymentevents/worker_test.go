package paymentevents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/registry"
)

func TestBuildEnvelope(t *testing.T) {
	paymentID := uuid.New()
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    "d3b7a7f0-8a43-4c1b-9d55-0b3d2f0c1e11",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:      &outbox.ActorRef{Kind: outbox.ActorPayer},
		Data:       json.RawMessage(`{"paymentId":"` + paymentID.String() + `"}`),
	}
	msg := buildMessage(payload, paymentAttrs("payment_completed", paymentID.String()))

	env, err := buildEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, enums.EventPaymentCompleted, env.EventType)
	assert.Equal(t, paymentID.String(), env.PaymentID)
	assert.Equal(t, payload.EventID, env.EventID)
	assert.Equal(t, payload.OccurredAt, env.OccurredAt)
	assert.Equal(t, 1, env.Version)
	require.NotNil(t, env.Actor)
	assert.Equal(t, outbox.ActorPayer, env.Actor.Kind)
}

func TestBuildEnvelopeFallsBackToAttributes(t *testing.T) {
	created := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	attrs := paymentAttrs("payment_failed", uuid.NewString())
	attrs["event_id"] = "0f8fad5b-d9cb-469f-a165-70867728950e"
	attrs["created_at"] = created.Format(time.RFC3339Nano)
	msg := buildMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, attrs)

	env, err := buildEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, attrs["event_id"], env.EventID)
	assert.Equal(t, created, env.OccurredAt)
	assert.Equal(t, registry.CurrentPayloadVersion, env.Version)
}

func TestBuildEnvelopeRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown event type": {"event_type": "order_created", "aggregate_type": "payment", "aggregate_id": "p"},
		"unknown aggregate":  {"event_type": "payment_failed", "aggregate_type": "order", "aggregate_id": "p"},
		"missing aggregate":  {"event_type": "payment_failed", "aggregate_type": "payment"},
	}
	for name, attrs := range cases {
		t.Run(name, func(t *testing.T) {
			msg := buildMessage(outbox.PayloadEnvelope{EventID: uuid.NewString()}, attrs)
			_, err := buildEnvelope(msg)
			assert.Error(t, err)
		})
	}
}

func TestProcessHandlesEvent(t *testing.T) {
	ledger := &stubLedger{}
	handler := &stubHandler{}
	metrics := &stubMetrics{}
	svc := newTestService(handler, ledger, metrics)

	res := svc.process(context.Background(), paymentMessage(t))
	assert.False(t, res.nack)
	assert.True(t, handler.called)
	assert.Len(t, ledger.claimed, 1)
	assert.Equal(t, ledger.claimed, ledger.completed)
	assert.Equal(t, []string{OutcomeHandled}, metrics.outcomes)
}

func TestProcessClaimStates(t *testing.T) {
	tests := []struct {
		state   idempotency.ClaimState
		nack    bool
		outcome string
	}{
		{state: idempotency.Processed, nack: false, outcome: OutcomeDuplicate},
		{state: idempotency.Busy, nack: true, outcome: OutcomeDeferred},
	}
	for _, tc := range tests {
		t.Run(tc.state.String(), func(t *testing.T) {
			ledger := &stubLedger{state: tc.state}
			handler := &stubHandler{}
			metrics := &stubMetrics{}
			svc := newTestService(handler, ledger, metrics)

			res := svc.process(context.Background(), paymentMessage(t))
			assert.Equal(t, tc.nack, res.nack)
			assert.False(t, handler.called)
			assert.Empty(t, ledger.completed)
			assert.Equal(t, []string{tc.outcome}, metrics.outcomes)
		})
	}
}

func TestProcessHandlerErrorReleasesClaim(t *testing.T) {
	ledger := &stubLedger{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(handler, ledger, nil)

	res := svc.process(context.Background(), paymentMessage(t))
	assert.True(t, res.nack)
	assert.True(t, handler.called)
	assert.Len(t, ledger.released, 1)
	assert.Empty(t, ledger.completed)
}

func TestProcessCompleteFailureStillAcks(t *testing.T) {
	ledger := &stubLedger{completeErr: errors.New("redis timeout")}
	metrics := &stubMetrics{}
	svc := newTestService(&stubHandler{}, ledger, metrics)

	res := svc.process(context.Background(), paymentMessage(t))
	assert.False(t, res.nack)
	assert.Equal(t, []string{OutcomeHandled}, metrics.outcomes)
}

func TestProcessClaimFailureRetries(t *testing.T) {
	ledger := &stubLedger{claimErr: errors.New("redis down")}
	handler := &stubHandler{}
	svc := newTestService(handler, ledger, nil)

	res := svc.process(context.Background(), paymentMessage(t))
	assert.True(t, res.nack)
	assert.False(t, handler.called)
}

func TestProcessUnsupportedEventAcks(t *testing.T) {
	ledger := &stubLedger{}
	handler := &stubHandler{err: ErrUnsupportedEvent}
	metrics := &stubMetrics{}
	svc := newTestService(handler, ledger, metrics)

	res := svc.process(context.Background(), paymentMessage(t))
	assert.False(t, res.nack)
	assert.Empty(t, ledger.released)
	assert.Len(t, ledger.completed, 1)
	assert.Equal(t, []string{OutcomeInvalid}, metrics.outcomes)
}

func TestProcessInvalidEnvelope(t *testing.T) {
	ledger := &stubLedger{}
	handler := &stubHandler{}
	svc := newTestService(handler, ledger, nil)

	res := svc.process(context.Background(), &gcppubsub.Message{Data: []byte("invalid json")})
	assert.False(t, res.nack)
	assert.False(t, handler.called)
	assert.Empty(t, ledger.claimed)
}

func TestRunAcksAndNacks(t *testing.T) {
	handler := &stubHandler{}
	svc := newTestService(handler, &stubLedger{}, nil)
	recv := &fakeReceiver{messages: []*gcppubsub.Message{paymentMessage(t)}}
	svc.subscription = recv

	require.NoError(t, svc.Run(context.Background()))
	assert.True(t, handler.called)
}

func TestNewServiceValidation(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "payment-events-test"})
	_, err := NewService(nil, &stubHandler{}, &stubLedger{}, nil, logg)
	assert.Error(t, err)
}

func paymentMessage(t *testing.T) *gcppubsub.Message {
	t.Helper()
	paymentID := uuid.NewString()
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"paymentId":"` + paymentID + `"}`),
	}
	return buildMessage(payload, paymentAttrs("payment_link_created", paymentID))
}

func paymentAttrs(eventType, paymentID string) map[string]string {
	return map[string]string{
		"event_type":     eventType,
		"aggregate_type": "payment",
		"aggregate_id":   paymentID,
	}
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func newTestService(handler envelopeHandler, ledger *stubLedger, metrics consumerMetrics) *Service {
	return &Service{
		handler: handler,
		ledger:  ledger,
		metrics: metrics,
		logg:    logger.New(logger.Options{ServiceName: "payment-events-test"}),
	}
}

type fakeReceiver struct {
	messages []*gcppubsub.Message
}

func (f *fakeReceiver) Receive(ctx context.Context, fn func(context.Context, *gcppubsub.Message)) error {
	for _, msg := range f.messages {
		fn(ctx, msg)
	}
	return nil
}

type stubHandler struct {
	called   bool
	envelope Envelope
	err      error
}

func (h *stubHandler) Handle(ctx context.Context, envelope Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubLedger struct {
	state       idempotency.ClaimState
	claimErr    error
	completeErr error
	claimed     []uuid.UUID
	completed   []uuid.UUID
	released    []uuid.UUID
}

func (s *stubLedger) Claim(_ context.Context, _ string, eventID uuid.UUID) (idempotency.ClaimState, error) {
	s.claimed = append(s.claimed, eventID)
	return s.state, s.claimErr
}

func (s *stubLedger) Complete(_ context.Context, _ string, eventID uuid.UUID) error {
	s.completed = append(s.completed, eventID)
	return s.completeErr
}

func (s *stubLedger) Release(_ context.Context, _ string, eventID uuid.UUID) error {
	s.released = append(s.released, eventID)
	return nil
}

type stubMetrics struct {
	outcomes []string
}

func (m *stubMetrics) IncConsumed(eventType, outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}
