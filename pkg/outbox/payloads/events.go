package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentLinkCreatedEvent is emitted when a merchant generates a payment link.
type PaymentLinkCreatedEvent struct {
	PaymentID    uuid.UUID       `json:"paymentId" validate:"required"`
	MerchantName string          `json:"merchantName" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" validate:"len=3"`
	PaymentLink  string          `json:"paymentLink"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// PaymentCompletedEvent is emitted once a transfer has settled and the record is COMPLETED.
type PaymentCompletedEvent struct {
	PaymentID     uuid.UUID       `json:"paymentId" validate:"required"`
	MerchantName  string          `json:"merchantName" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"len=3"`
	TransactionID string          `json:"transactionId" validate:"required"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// PaymentFailedEvent is emitted when a transfer attempt ends the record in FAILED.
type PaymentFailedEvent struct {
	PaymentID        uuid.UUID `json:"paymentId" validate:"required"`
	MerchantName     string    `json:"merchantName" validate:"required"`
	FailureKind      string    `json:"failureKind" validate:"required"`
	ErrorMessage     string    `json:"errorMessage"`
	NetworkReference string    `json:"networkReference,omitempty"`
	FailedAt         time.Time `json:"failedAt"`
}

// PaymentReconciliationRequiredEvent flags a record whose local state may disagree with the network.
type PaymentReconciliationRequiredEvent struct {
	PaymentID        uuid.UUID `json:"paymentId" validate:"required"`
	Reason           string    `json:"reason" validate:"required"`
	TransactionID    string    `json:"transactionId,omitempty"`
	NetworkReference string    `json:"networkReference,omitempty"`
	CorrelationID    string    `json:"correlationId,omitempty"`
	DetectedAt       time.Time `json:"detectedAt"`
}
