package payments

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
)

// Reconciler sweeps payments a crashed process left in PROCESSING. It never calls the
// funds-transfer network, so workers can run it without network credentials.
type Reconciler struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics paymentRecorder
	now     func() time.Time
}

// ReconcilerParams wires a standalone Reconciler.
type ReconcilerParams struct {
	Repository Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Metrics    paymentRecorder
	Now        func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	recorder := params.Metrics
	if recorder == nil {
		recorder = noopRecorder{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		repo:    params.Repository,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: recorder,
		now:     func() time.Time { return now().UTC() },
	}, nil
}

// AbandonStale fails records stuck in PROCESSING since before the cutoff and raises a
// reconciliation event for each. Their true network outcome is unknown.
func (r *Reconciler) AbandonStale(ctx context.Context, startedBefore time.Time, limit int) (int, error) {
	stale, err := r.repo.FindStaleProcessing(ctx, startedBefore, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "find stale payments")
	}

	abandoned := 0
	var errs error
	for i := range stale {
		payment := &stale[i]
		ok, err := r.abandon(ctx, payment)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("abandon payment %s: %w", payment.ID, err))
			continue
		}
		if ok {
			abandoned++
		}
	}
	return abandoned, errs
}

func (r *Reconciler) abandon(ctx context.Context, payment *models.Payment) (bool, error) {
	now := r.now()
	reference := deref(payment.NetworkReference)
	correlation := deref(payment.CorrelationID)
	message := "transfer outcome unknown; payment abandoned while processing"

	updated := false
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.repo.WithTx(tx).Fail(ctx, payment.ID, failure{
			Kind:             enums.FailureKindAbandoned,
			Message:          message,
			NetworkReference: reference,
			CorrelationID:    correlation,
			At:               now,
		})
		if err != nil || !ok {
			return err
		}
		updated = true
		if err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorSystem},
			Data: payloads.PaymentFailedEvent{
				PaymentID:        payment.ID,
				MerchantName:     payment.MerchantCardholderName,
				FailureKind:      string(enums.FailureKindAbandoned),
				ErrorMessage:     message,
				NetworkReference: reference,
				FailedAt:         now,
			},
			OccurredAt: now,
		}); err != nil {
			return err
		}
		return r.outbox.EmitIfNotExists(ctx, tx, reconciliationEvent(payment, ReasonStaleProcessing, "", reference, correlation, now))
	})
	if err != nil {
		return false, err
	}
	if updated {
		r.metrics.IncTransition(string(enums.PaymentStatusFailed))
		r.metrics.IncReconciliation(ReasonStaleProcessing)
		r.logg.Warn(r.logg.WithPaymentID(ctx, payment.ID.String()), "payment.abandoned")
	}
	return updated, nil
}
