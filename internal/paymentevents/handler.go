package paymentevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/registry"
)

// ErrUnsupportedEvent marks envelopes no decoder is registered for. They are acked and dropped.
var ErrUnsupportedEvent = errors.New("unsupported payment event")

type rowWriter interface {
	Insert(ctx context.Context, row *PaymentEventRow) error
}

// Handler turns a payment event envelope into a warehouse row.
type Handler struct {
	decoders *registry.DecoderRegistry
	writer   rowWriter
	logg     *logger.Logger
	now      func() time.Time
}

// NewHandler wires the decoder registry to the row writer.
func NewHandler(decoders *registry.DecoderRegistry, writer rowWriter, logg *logger.Logger) (*Handler, error) {
	if decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if writer == nil {
		return nil, errors.New("row writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{
		decoders: decoders,
		writer:   writer,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Handle decodes the payload, raises reconciliation alerts and writes the row.
func (h *Handler) Handle(ctx context.Context, envelope Envelope) error {
	decoded, err := h.decoders.Decode(envelope.EventType, envelope.Version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}

	row, err := h.buildRow(envelope, decoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedEvent, err)
	}

	if alert, ok := decoded.(*payloads.PaymentReconciliationRequiredEvent); ok {
		h.alert(ctx, alert)
	}

	return h.writer.Insert(ctx, row)
}

func (h *Handler) buildRow(envelope Envelope, decoded any) (*PaymentEventRow, error) {
	row := &PaymentEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		PaymentID:  envelope.PaymentID,
		OccurredAt: envelope.OccurredAt,
		IngestedAt: h.now().UTC(),
	}
	if len(envelope.Payload) > 0 {
		row.Payload = cbigquery.NullJSON{Valid: true, JSONVal: string(envelope.Payload)}
	}
	if envelope.Actor != nil {
		row.Actor = envelope.Actor.Kind
	}

	switch event := decoded.(type) {
	case *payloads.PaymentLinkCreatedEvent:
		amount := event.Amount
		row.MerchantName = event.MerchantName
		row.Amount = &amount
		row.Currency = event.Currency
		row.Status = enums.PaymentStatusPending.String()
	case *payloads.PaymentCompletedEvent:
		amount := event.Amount
		row.MerchantName = event.MerchantName
		row.Amount = &amount
		row.Currency = event.Currency
		row.Status = enums.PaymentStatusCompleted.String()
		row.TransactionID = event.TransactionID
	case *payloads.PaymentFailedEvent:
		row.MerchantName = event.MerchantName
		row.Status = enums.PaymentStatusFailed.String()
		row.FailureKind = event.FailureKind
		row.NetworkReference = event.NetworkReference
	case *payloads.PaymentReconciliationRequiredEvent:
		row.TransactionID = event.TransactionID
		row.NetworkReference = event.NetworkReference
	default:
		return nil, fmt.Errorf("no row mapping for %T", decoded)
	}
	return row, nil
}

func (h *Handler) alert(ctx context.Context, event *payloads.PaymentReconciliationRequiredEvent) {
	fields := map[string]any{
		"payment_id": event.PaymentID.String(),
		"reason":     event.Reason,
	}
	if event.TransactionID != "" {
		fields["transaction_id"] = event.TransactionID
	}
	if event.NetworkReference != "" {
		fields["network_reference"] = event.NetworkReference
	}
	if event.CorrelationID != "" {
		fields["correlation_id"] = event.CorrelationID
	}
	h.logg.Error(h.logg.WithFields(ctx, fields), "payment.reconciliation_alert", errors.New("payment requires manual reconciliation"))
}
