package paymentevents

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
)

// Envelope is a payment lifecycle event as delivered on the payments subscription.
type Envelope struct {
	EventID    string
	EventType  enums.OutboxEventType
	Version    int
	PaymentID  string
	OccurredAt time.Time
	Actor      *outbox.ActorRef
	Payload    json.RawMessage
}
