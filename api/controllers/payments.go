package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pushpay-backend/api/middleware"
	"github.com/angelmondragon/pushpay-backend/api/responses"
	"github.com/angelmondragon/pushpay-backend/api/validators"
	"github.com/angelmondragon/pushpay-backend/internal/payments"
	"github.com/angelmondragon/pushpay-backend/pkg/cards"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/pagination"
)

type merchantCardRequest struct {
	CardNumber     string `json:"cardNumber" validate:"required,visa"`
	ExpiryDate     string `json:"expiryDate" validate:"required,card_expiry"`
	CardholderName string `json:"cardholderName" validate:"required,min=2,max=50"`
}

type customerCardRequest struct {
	CardNumber     string `json:"cardNumber" validate:"required,visa"`
	ExpiryDate     string `json:"expiryDate" validate:"required,card_expiry"`
	CardholderName string `json:"cardholderName" validate:"required,min=2,max=50"`
	CVV            string `json:"cvv" validate:"required,cvv"`
}

type createLinkRequest struct {
	MerchantCard merchantCardRequest `json:"merchantCard"`
	Amount       decimal.Decimal     `json:"amount"`
	Currency     string              `json:"currency" validate:"omitempty,len=3,alpha"`
}

func (r createLinkRequest) toInput() payments.CreateLinkInput {
	return payments.CreateLinkInput{
		MerchantCard: cards.New(
			r.MerchantCard.CardNumber,
			r.MerchantCard.ExpiryDate,
			validators.CollapseSpaces(r.MerchantCard.CardholderName),
			"",
		),
		Amount:   r.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(r.Currency)),
	}
}

type processRequest struct {
	PaymentID    string              `json:"paymentId" validate:"required,uuid"`
	CustomerCard customerCardRequest `json:"customerCard"`
}

func (r processRequest) card() cards.Card {
	return cards.New(
		r.CustomerCard.CardNumber,
		r.CustomerCard.ExpiryDate,
		validators.CollapseSpaces(r.CustomerCard.CardholderName),
		r.CustomerCard.CVV,
	)
}

// PaymentCreateLink opens a PENDING payment and returns its shareable link.
func PaymentCreateLink(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload createLinkRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		link, err := svc.CreateLink(r.Context(), payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, link)
	}
}

func PaymentDetails(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := paymentIDParam(w, r, logg)
		if !ok {
			return
		}
		details, err := svc.GetDetails(withPaymentID(r, logg, id), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, details)
	}
}

// PaymentProcess pulls funds from the payer's card into the merchant card. The request blocks until the
// network resolves the transfer or the status poll budget runs out.
func PaymentProcess(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload processRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := uuid.Parse(strings.TrimSpace(payload.PaymentID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paymentId"))
			return
		}

		ctx := withPaymentID(r, logg, id)
		result, err := svc.Process(ctx, id, payload.card())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func PaymentStatus(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := paymentIDParam(w, r, logg)
		if !ok {
			return
		}
		status, err := svc.GetStatus(withPaymentID(r, logg, id), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func PaymentInvoice(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := paymentIDParam(w, r, logg)
		if !ok {
			return
		}
		invoice, err := svc.GetInvoice(withPaymentID(r, logg, id), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// MerchantPayments lists the authenticated merchant's payments, newest first.
func MerchantPayments(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchant := middleware.MerchantNameFromContext(r.Context())
		if merchant == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "merchant context missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cursor, _, err := validators.ParseQueryString(r, "cursor", 256)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, _, err := validators.ParseQueryString(r, "status", 16)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListByMerchant(r.Context(), merchant, pagination.Params{
			Limit:  limit,
			Cursor: cursor,
			Status: status,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// paymentIDParam reads {paymentId}. Malformed ids cannot name a stored payment, so they are reported as not found.
func paymentIDParam(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found"))
		return uuid.Nil, false
	}
	return id, true
}

func withPaymentID(r *http.Request, logg *logger.Logger, id uuid.UUID) context.Context {
	if logg == nil {
		return r.Context()
	}
	return logg.WithPaymentID(r.Context(), id.String())
}
