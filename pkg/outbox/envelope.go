package outbox

import (
	"encoding/json"
	"time"
)

// Actor kinds recorded on emitted events.
const (
	ActorMerchant = "merchant"
	ActorPayer    = "payer"
	ActorSystem   = "system"
)

// ActorRef identifies who triggered the event.
type ActorRef struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
