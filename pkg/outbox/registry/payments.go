package registry

import (
	"go.uber.org/multierr"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
)

// CurrentPayloadVersion is the envelope version producers write today.
const CurrentPayloadVersion = 1

// PaymentDecoders registers every payment event version this build can read.
// The publisher and the consumer share it so both reject the same payloads.
func PaymentDecoders() (*DecoderRegistry, error) {
	reg := NewDecoderRegistry()
	err := multierr.Combine(
		RegisterJSON[payloads.PaymentLinkCreatedEvent](reg, enums.EventPaymentLinkCreated, CurrentPayloadVersion),
		RegisterJSON[payloads.PaymentCompletedEvent](reg, enums.EventPaymentCompleted, CurrentPayloadVersion),
		RegisterJSON[payloads.PaymentFailedEvent](reg, enums.EventPaymentFailed, CurrentPayloadVersion),
		RegisterJSON[payloads.PaymentReconciliationRequiredEvent](reg, enums.EventPaymentReconciliationRequired, CurrentPayloadVersion),
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}
