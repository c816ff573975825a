package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pushpay-backend/pkg/cards"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/pagination"
)

// CreateLinkInput is what a merchant supplies to open a payment link.
type CreateLinkInput struct {
	MerchantCard cards.Card
	Amount       decimal.Decimal
	Currency     string
}

// PaymentLinkDTO is returned after a link is created.
type PaymentLinkDTO struct {
	PaymentID   uuid.UUID           `json:"paymentId"`
	PaymentLink string              `json:"paymentLink"`
	Status      enums.PaymentStatus `json:"status"`
}

// PaymentDetailsDTO is what the payer sees before paying.
type PaymentDetailsDTO struct {
	PaymentID    uuid.UUID           `json:"paymentId"`
	Amount       decimal.Decimal     `json:"amount"`
	Currency     enums.Currency      `json:"currency"`
	Status       enums.PaymentStatus `json:"status"`
	MerchantName string              `json:"merchantName"`
}

// ProcessResult reports a successful transfer.
type ProcessResult struct {
	Success       bool                `json:"success"`
	PaymentID     uuid.UUID           `json:"paymentId"`
	TransactionID string              `json:"transactionId"`
	Status        enums.PaymentStatus `json:"status"`
}

// PaymentStatusDTO exposes the lifecycle state of one payment.
type PaymentStatusDTO struct {
	Status        enums.PaymentStatus `json:"status"`
	TransactionID *string             `json:"transactionId"`
	PaidAt        *time.Time          `json:"paidAt"`
	ErrorMessage  *string             `json:"errorMessage,omitempty"`
}

// PaymentSummaryDTO is one row of the merchant listing. Card numbers are masked.
type PaymentSummaryDTO struct {
	PaymentID     uuid.UUID           `json:"paymentId"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      enums.Currency      `json:"currency"`
	Status        enums.PaymentStatus `json:"status"`
	PaymentLink   string              `json:"paymentLink"`
	MerchantCard  string              `json:"merchantCard"`
	TransactionID *string             `json:"transactionId,omitempty"`
	ErrorMessage  *string             `json:"errorMessage,omitempty"`
	FailureKind   *enums.FailureKind  `json:"failureKind,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	PaidAt        *time.Time          `json:"paidAt,omitempty"`
}

// PaymentListDTO is a page of merchant payments.
type PaymentListDTO struct {
	Payments   []PaymentSummaryDTO `json:"payments"`
	NextCursor string              `json:"nextCursor,omitempty"`
}

func detailsFrom(p *models.Payment) *PaymentDetailsDTO {
	return &PaymentDetailsDTO{
		PaymentID:    p.ID,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Status:       p.Status,
		MerchantName: p.MerchantCardholderName,
	}
}

func statusFrom(p *models.Payment) *PaymentStatusDTO {
	return &PaymentStatusDTO{
		Status:        p.Status,
		TransactionID: p.TransactionID,
		PaidAt:        p.CompletedAt,
		ErrorMessage:  p.ErrorMessage,
	}
}

func summaryFrom(p models.Payment) PaymentSummaryDTO {
	return PaymentSummaryDTO{
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		PaymentLink:   p.PaymentLink,
		MerchantCard:  cards.MaskNumber(p.MerchantCardNumber),
		TransactionID: p.TransactionID,
		ErrorMessage:  p.ErrorMessage,
		FailureKind:   p.FailureKind,
		CreatedAt:     p.CreatedAt,
		PaidAt:        p.CompletedAt,
	}
}

func listFrom(rows []models.Payment, next *pagination.Cursor) *PaymentListDTO {
	out := &PaymentListDTO{Payments: make([]PaymentSummaryDTO, 0, len(rows))}
	for _, row := range rows {
		out.Payments = append(out.Payments, summaryFrom(row))
	}
	if next != nil {
		out.NextCursor = pagination.EncodeCursor(*next)
	}
	return out
}
