package enums

import "slices"

// OutboxAggregateType is the aggregate_type column of outbox_events and the
// aggregate_type attribute on published messages.
type OutboxAggregateType string

const AggregatePayment OutboxAggregateType = "payment"

var validAggregateTypes = []OutboxAggregateType{AggregatePayment}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(validAggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, validAggregateTypes)
}

// OutboxEventType names a payment lifecycle event. Consumers route on it.
type OutboxEventType string

const (
	EventPaymentLinkCreated            OutboxEventType = "payment_link_created"
	EventPaymentCompleted              OutboxEventType = "payment_completed"
	EventPaymentFailed                 OutboxEventType = "payment_failed"
	EventPaymentReconciliationRequired OutboxEventType = "payment_reconciliation_required"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentLinkCreated,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentReconciliationRequired,
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(validOutboxEventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, validOutboxEventTypes)
}
