package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/cards"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pushpay-backend/pkg/pagination"
	"github.com/angelmondragon/pushpay-backend/pkg/visadirect"
)

const (
	ReasonCommitFailed    = "commit_failed"
	ReasonStaleProcessing = "stale_processing"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// TransferClient moves funds between two cards and reports the final outcome.
type TransferClient interface {
	Transfer(ctx context.Context, source, destination cards.Card, amount decimal.Decimal) visadirect.TransferResult
}

type paymentRecorder interface {
	IncTransition(status string)
	IncReconciliation(reason string)
}

type noopRecorder struct{}

func (noopRecorder) IncTransition(string)     {}
func (noopRecorder) IncReconciliation(string) {}

// Service is the payment orchestrator. It is the only writer of payment status.
type Service interface {
	CreateLink(ctx context.Context, input CreateLinkInput) (*PaymentLinkDTO, error)
	GetDetails(ctx context.Context, id uuid.UUID) (*PaymentDetailsDTO, error)
	Process(ctx context.Context, id uuid.UUID, customerCard cards.Card) (*ProcessResult, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*PaymentStatusDTO, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListByMerchant(ctx context.Context, merchantName string, params pagination.Params) (*PaymentListDTO, error)
	AbandonStale(ctx context.Context, startedBefore time.Time, limit int) (int, error)
}

// ServiceParams wires the orchestrator.
type ServiceParams struct {
	Repository          Repository
	Tx                  txRunner
	Outbox              outboxPublisher
	Transfer            TransferClient
	Logger              *logger.Logger
	Metrics             paymentRecorder
	LinkBase            string
	SupportedCurrencies []string
	Now                 func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	transfer   TransferClient
	logg       *logger.Logger
	metrics    paymentRecorder
	linkBase   string
	currencies map[enums.Currency]struct{}
	reconciler *Reconciler
	now        func() time.Time
}

// NewService validates dependencies and returns the orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Transfer == nil {
		return nil, fmt.Errorf("transfer client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	linkBase := strings.TrimRight(strings.TrimSpace(params.LinkBase), "/")
	if linkBase == "" {
		return nil, fmt.Errorf("payment link base url required")
	}

	currencies := map[enums.Currency]struct{}{}
	for _, raw := range params.SupportedCurrencies {
		c, err := enums.ParseCurrency(raw)
		if err != nil {
			return nil, err
		}
		currencies[c] = struct{}{}
	}
	if len(currencies) == 0 {
		currencies[enums.CurrencyUSD] = struct{}{}
	}

	recorder := params.Metrics
	if recorder == nil {
		recorder = noopRecorder{}
	}

	now := params.Now
	if now == nil {
		now = time.Now
	}

	reconciler := &Reconciler{
		repo:    params.Repository,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: recorder,
		now:     func() time.Time { return now().UTC() },
	}

	return &service{
		reconciler: reconciler,
		repo:       params.Repository,
		tx:         params.Tx,
		outbox:     params.Outbox,
		transfer:   params.Transfer,
		logg:       params.Logger,
		metrics:    recorder,
		linkBase:   linkBase,
		currencies: currencies,
		now:        func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) CreateLink(ctx context.Context, input CreateLinkInput) (*PaymentLinkDTO, error) {
	amount, err := checkAmount(input.Amount)
	if err != nil {
		return nil, err
	}
	currency, err := s.currency(input.Currency)
	if err != nil {
		return nil, err
	}
	merchantCard := input.MerchantCard.Normalized()
	if err := validateCard("merchantCard", merchantCard, false, s.now()); err != nil {
		return nil, err
	}

	id := uuid.New()
	payment := &models.Payment{
		ID:                     id,
		MerchantCardNumber:     merchantCard.Number,
		MerchantCardExpiry:     merchantCard.Expiry,
		MerchantCardholderName: merchantCard.HolderName,
		Amount:                 amount,
		Currency:               currency,
		Status:                 enums.PaymentStatusPending,
		PaymentLink:            s.linkBase + "/pay/" + id.String(),
		CreatedAt:              s.now(),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentLinkCreated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorMerchant, Name: payment.MerchantCardholderName},
			Data: payloads.PaymentLinkCreatedEvent{
				PaymentID:    payment.ID,
				MerchantName: payment.MerchantCardholderName,
				Amount:       payment.Amount,
				Currency:     string(payment.Currency),
				PaymentLink:  payment.PaymentLink,
				CreatedAt:    payment.CreatedAt,
			},
			OccurredAt: payment.CreatedAt,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "create payment link").
			WithDetails(map[string]any{"step": "create"})
	}

	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"amount":        payment.Amount.StringFixed(2),
		"currency":      payment.Currency,
		"merchant_card": cards.MaskNumber(payment.MerchantCardNumber),
	}), "payment.link_created")

	return &PaymentLinkDTO{
		PaymentID:   payment.ID,
		PaymentLink: payment.PaymentLink,
		Status:      payment.Status,
	}, nil
}

func (s *service) currency(raw string) (enums.Currency, error) {
	if strings.TrimSpace(raw) == "" {
		raw = string(enums.CurrencyUSD)
	}
	c, err := enums.ParseCurrency(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}
	if _, ok := s.currencies[c]; !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	return c, nil
}

func (s *service) GetDetails(ctx context.Context, id uuid.UUID) (*PaymentDetailsDTO, error) {
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return detailsFrom(payment), nil
}

func (s *service) GetStatus(ctx context.Context, id uuid.UUID) (*PaymentStatusDTO, error) {
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusFrom(payment), nil
}

func (s *service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToInvoice(payment)
}

func (s *service) ListByMerchant(ctx context.Context, merchantName string, params pagination.Params) (*PaymentListDTO, error) {
	merchantName = strings.TrimSpace(merchantName)
	if merchantName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "merchant identity required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var status enums.PaymentStatus
	if raw := strings.TrimSpace(params.Status); raw != "" {
		status, err = enums.ParsePaymentStatus(strings.ToUpper(raw))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").
				WithDetails(map[string]any{"status": "must be one of PENDING, PROCESSING, COMPLETED, FAILED"})
		}
	}
	rows, next, err := s.repo.ListByMerchant(ctx, listParams{
		MerchantName: merchantName,
		Status:       status,
		Limit:        params.Limit,
		Cursor:       cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list merchant payments")
	}
	return listFrom(rows, next), nil
}

// maxAmount is the largest value the amount column (numeric(12,2)) holds.
var maxAmount = decimal.RequireFromString("9999999999.99")

func checkAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "amount must have at most two decimal places")
	}
	if amount.GreaterThan(maxAmount) {
		return decimal.Zero, pkgerrors.Newf(pkgerrors.CodeValidation, "amount must not exceed %s", maxAmount.StringFixed(2))
	}
	return amount.Truncate(2), nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load payment")
	}
	return payment, nil
}

// Process runs the single transfer attempt a payment is allowed. The PENDING to
// PROCESSING claim is a conditional update, so concurrent callers cannot both transfer.
func (s *service) Process(ctx context.Context, id uuid.UUID, customerCard cards.Card) (*ProcessResult, error) {
	ctx = s.logg.WithPaymentID(ctx, id.String())
	payment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, invalidState(payment.Status)
	}

	customerCard = customerCard.Normalized()
	if err := validateCard("customerCard", customerCard, true, s.now()); err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	claimed, err := s.repo.ClaimProcessing(ctx, id, s.now(), correlationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "claim payment").
			WithDetails(map[string]any{"step": "claim"})
	}
	if !claimed {
		current := enums.PaymentStatusProcessing
		if fresh, err := s.repo.FindByID(ctx, id); err == nil {
			current = fresh.Status
		}
		return nil, invalidState(current)
	}
	s.metrics.IncTransition(string(enums.PaymentStatusProcessing))

	// The funds may move once submitted; a payer disconnect must not abandon resolution.
	detached := visadirect.WithCorrelationID(context.WithoutCancel(ctx), correlationID)
	detached = s.logg.WithField(detached, "correlation_id", correlationID)
	merchantCard := cards.Card{
		Number:     payment.MerchantCardNumber,
		Expiry:     payment.MerchantCardExpiry,
		HolderName: payment.MerchantCardholderName,
	}
	s.logg.Info(s.logg.WithFields(detached, map[string]any{
		"payer_card":    customerCard.Masked(),
		"merchant_card": merchantCard.Masked(),
		"amount":        payment.Amount.StringFixed(2),
	}), "payment.transfer_started")

	result := s.transfer.Transfer(detached, customerCard, merchantCard, payment.Amount)
	if result.CorrelationID == "" {
		result.CorrelationID = correlationID
	}

	if result.Success {
		return s.commitSuccess(detached, payment, result)
	}
	return nil, s.commitFailure(detached, payment, result)
}

func (s *service) commitSuccess(ctx context.Context, payment *models.Payment, result visadirect.TransferResult) (*ProcessResult, error) {
	completedAt := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Complete(ctx, payment.ID, completion{
			TransactionID:    result.TransactionID,
			NetworkReference: result.NetworkReference(),
			CorrelationID:    result.CorrelationID,
			CompletedAt:      completedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("payment left PROCESSING before the transfer was recorded")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCompleted,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorPayer},
			Data: payloads.PaymentCompletedEvent{
				PaymentID:     payment.ID,
				MerchantName:  payment.MerchantCardholderName,
				Amount:        payment.Amount,
				Currency:      string(payment.Currency),
				TransactionID: result.TransactionID,
				CompletedAt:   completedAt,
			},
			OccurredAt: completedAt,
		})
	})
	if err != nil {
		s.flagReconciliation(ctx, payment, result, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "transfer succeeded but the payment could not be updated").
			WithDetails(map[string]any{
				"step":          "commit",
				"transactionId": result.TransactionID,
			})
	}

	s.metrics.IncTransition(string(enums.PaymentStatusCompleted))
	s.logg.Info(s.logg.WithField(ctx, "transaction_id", result.TransactionID), "payment.completed")
	return &ProcessResult{
		Success:       true,
		PaymentID:     payment.ID,
		TransactionID: result.TransactionID,
		Status:        enums.PaymentStatusCompleted,
	}, nil
}

func (s *service) commitFailure(ctx context.Context, payment *models.Payment, result visadirect.TransferResult) error {
	kind := result.FailureKind
	if kind == "" {
		kind = enums.FailureKindNetwork
	}
	message := result.Error
	if message == "" {
		message = "transfer failed"
	}
	failedAt := s.now()

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Fail(ctx, payment.ID, failure{
			Kind:             kind,
			Message:          message,
			NetworkReference: result.NetworkReference(),
			CorrelationID:    result.CorrelationID,
			At:               failedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("payment left PROCESSING before the failure was recorded")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorPayer},
			Data: payloads.PaymentFailedEvent{
				PaymentID:        payment.ID,
				MerchantName:     payment.MerchantCardholderName,
				FailureKind:      string(kind),
				ErrorMessage:     message,
				NetworkReference: result.NetworkReference(),
				FailedAt:         failedAt,
			},
			OccurredAt: failedAt,
		})
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "failure_kind", kind), "payment.fail_commit_failed", err)
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "record payment failure").
			WithDetails(map[string]any{"step": "commit", "failureKind": string(kind)})
	}

	s.metrics.IncTransition(string(enums.PaymentStatusFailed))
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"failure_kind":   kind,
		"error_message":  message,
		"error_details":  result.Details,
		"correlation_id": result.CorrelationID,
	}), "payment.failed")
	return result.Err()
}

// flagReconciliation reports a transfer that moved funds the database does not know about.
func (s *service) flagReconciliation(ctx context.Context, payment *models.Payment, result visadirect.TransferResult, cause error) {
	s.metrics.IncReconciliation(ReasonCommitFailed)
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"transaction_id":    result.TransactionID,
		"network_reference": result.NetworkReference(),
		"correlation_id":    result.CorrelationID,
		"amount":            payment.Amount.StringFixed(2),
	}), "payment.reconciliation_required", cause)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.EmitIfNotExists(ctx, tx, reconciliationEvent(payment, ReasonCommitFailed, result.TransactionID, result.NetworkReference(), result.CorrelationID, s.now()))
	})
	if err != nil {
		s.logg.Error(ctx, "payment.reconciliation_event_failed", err)
	}
}

func (s *service) AbandonStale(ctx context.Context, startedBefore time.Time, limit int) (int, error) {
	return s.reconciler.AbandonStale(ctx, startedBefore, limit)
}

func reconciliationEvent(payment *models.Payment, reason, transactionID, reference, correlation string, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventPaymentReconciliationRequired,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         &outbox.ActorRef{Kind: outbox.ActorSystem},
		Data: payloads.PaymentReconciliationRequiredEvent{
			PaymentID:        payment.ID,
			Reason:           reason,
			TransactionID:    transactionID,
			NetworkReference: reference,
			CorrelationID:    correlation,
			DetectedAt:       at,
		},
		OccurredAt: at,
	}
}

func invalidState(current enums.PaymentStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidState, "payment is %s and cannot be processed", current).
		WithDetails(map[string]any{"status": string(current)})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
