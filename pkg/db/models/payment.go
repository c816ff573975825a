package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

// Payment is a single payment link and the outcome of its one transfer attempt.
type Payment struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MerchantCardNumber     string              `gorm:"column:merchant_card_number;not null"`
	MerchantCardExpiry     string              `gorm:"column:merchant_card_expiry;not null"`
	MerchantCardholderName string              `gorm:"column:merchant_cardholder_name;not null"`
	Amount                 decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency               enums.Currency      `gorm:"column:currency;not null;default:'USD'"`
	Status                 enums.PaymentStatus `gorm:"column:status;not null;default:'PENDING'"`
	PaymentLink            string              `gorm:"column:payment_link"`
	TransactionID          *string             `gorm:"column:transaction_id"`
	NetworkReference       *string             `gorm:"column:network_reference"`
	CorrelationID          *string             `gorm:"column:correlation_id"`
	ErrorMessage           *string             `gorm:"column:error_message"`
	FailureKind            *enums.FailureKind  `gorm:"column:failure_kind"`
	ProcessingStartedAt    *time.Time          `gorm:"column:processing_started_at"`
	CompletedAt            *time.Time          `gorm:"column:completed_at"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }
