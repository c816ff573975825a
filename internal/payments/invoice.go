package payments

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pushpay-backend/pkg/cards"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

const (
	invoicePaymentMethod = "Visa Direct"
	invoiceLineItem      = "Payment Transfer"
)

// Invoice is the read-only receipt of a completed payment.
type Invoice struct {
	InvoiceNumber string              `json:"invoiceNumber"`
	PaymentID     uuid.UUID           `json:"paymentId"`
	Date          time.Time           `json:"date"`
	MerchantName  string              `json:"merchantName"`
	MerchantCard  string              `json:"merchantCard"`
	TransactionID string              `json:"transactionId"`
	PaymentMethod string              `json:"paymentMethod"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      enums.Currency      `json:"currency"`
	Status        enums.PaymentStatus `json:"status"`
	Items         []InvoiceItem       `json:"items"`
	Total         decimal.Decimal     `json:"total"`
}

type InvoiceItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ToInvoice projects a COMPLETED record. Any other status is an InvalidState error.
func ToInvoice(p *models.Payment) (*Invoice, error) {
	if p == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if p.Status != enums.PaymentStatusCompleted || p.CompletedAt == nil || p.TransactionID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "payment not completed")
	}

	return &Invoice{
		InvoiceNumber: InvoiceNumber(p.ID),
		PaymentID:     p.ID,
		Date:          *p.CompletedAt,
		MerchantName:  p.MerchantCardholderName,
		MerchantCard:  cards.MaskNumber(p.MerchantCardNumber),
		TransactionID: *p.TransactionID,
		PaymentMethod: invoicePaymentMethod,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		Items: []InvoiceItem{{
			Description: invoiceLineItem,
			Amount:      p.Amount,
		}},
		Total: p.Amount,
	}, nil
}

// InvoiceNumber is INV- followed by the last six characters of the payment id.
func InvoiceNumber(id uuid.UUID) string {
	s := id.String()
	return "INV-" + strings.ToUpper(s[len(s)-6:])
}
