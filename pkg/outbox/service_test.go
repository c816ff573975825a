package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
)

func TestServiceEmitWritesEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	paymentID := uuid.New()
	occurred := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentCompleted,
			AggregateType: enums.AggregatePayment,
			AggregateID:   paymentID,
			Actor:         &ActorRef{Kind: ActorPayer},
			Data:          payloads.PaymentCompletedEvent{PaymentID: paymentID, TransactionID: "T1"},
			OccurredAt:    occurred,
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListForAggregate(nil, enums.AggregatePayment, paymentID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventPaymentCompleted, rows[0].EventType)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	assert.True(t, occurred.Equal(envelope.OccurredAt))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, ActorPayer, envelope.Actor.Kind)

	var data payloads.PaymentCompletedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "T1", data.TransactionID)
}

func TestServiceEmitRejectsIncompleteEvents(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	valid := DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Data:          payloads.PaymentCompletedEvent{},
	}
	cases := map[string]func(e *DomainEvent){
		"event type":     func(e *DomainEvent) { e.EventType = "payment_teleported" },
		"aggregate type": func(e *DomainEvent) { e.AggregateType = "wallet" },
		"aggregate id":   func(e *DomainEvent) { e.AggregateID = uuid.Nil },
		"data":           func(e *DomainEvent) { e.Data = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := valid
			mutate(&event)
			err := db.Transaction(func(tx *gorm.DB) error {
				return svc.Emit(context.Background(), tx, event)
			})
			assert.Error(t, err)
		})
	}
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestServiceEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	assert.Error(t, svc.EmitIfNotExists(context.Background(), nil, DomainEvent{}))
}

func TestServiceEmitIfNotExistsDeduplicates(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	paymentID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventPaymentReconciliationRequired,
		AggregateType: enums.AggregatePayment,
		AggregateID:   paymentID,
		Data:          payloads.PaymentReconciliationRequiredEvent{PaymentID: paymentID, Reason: "stale_processing"},
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}

	rows, err := repo.ListForAggregate(nil, enums.AggregatePayment, paymentID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	fixed := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	first := seedEvent(t, db, repo, enums.EventPaymentLinkCreated, fixed.Add(-2*time.Minute))
	second := seedEvent(t, db, repo, enums.EventPaymentCompleted, fixed.Add(-time.Minute))

	var batch []models.OutboxEvent
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, batch, 2)
	assert.Equal(t, first, batch[0].ID)
	assert.Equal(t, second, batch[1].ID)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, first); err != nil {
			return err
		}
		return repo.MarkFailedTx(tx, second, errors.New("deadline exceeded"))
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].AttemptCount)
	require.NotNil(t, batch[0].LastError)
	assert.Equal(t, "deadline exceeded", *batch[0].LastError)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, second, errors.New("gave up"), 3)
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	assert.Empty(t, batch)

	deleted, err := repo.DeletePublishedBefore(nil, fixed.Add(time.Second), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func seedEvent(t *testing.T, db *gorm.DB, repo *Repository, eventType enums.OutboxEventType, created time.Time) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"eventId":"e","data":{}}`),
		CreatedAt:     created,
	}
	require.NoError(t, repo.Insert(db, row))
	return row.ID
}

func TestDLQRepositoryInsertFindAndList(t *testing.T) {
	db := dbtest.Open(t)
	dlq := NewDLQRepository(db)

	long := strings.Repeat("x", maxDLQErrorLen+50)
	maxed := deadLetter(t, db, dlq, uuid.New(), enums.EventPaymentFailed, enums.OutboxDLQReasonMaxAttempts, long)
	deadLetter(t, db, dlq, uuid.New(), enums.EventPaymentCompleted, enums.OutboxDLQReasonRejected, "permission denied")

	found, err := dlq.FindByEventID(context.Background(), maxed)
	require.NoError(t, err)
	require.NotNil(t, found.ErrorMessage)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	_, err = dlq.FindByEventID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDLQEntryNotFound)

	rows, err := dlq.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = dlq.List(context.Background(), DLQFilter{Reason: enums.OutboxDLQReasonRejected})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventPaymentCompleted, rows[0].EventType)

	rows, err = dlq.List(context.Background(), DLQFilter{EventType: enums.EventPaymentFailed, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, maxed, rows[0].EventID)
}

func TestDLQRepositoryInsertValidates(t *testing.T) {
	db := dbtest.Open(t)
	dlq := NewDLQRepository(db)

	assert.Error(t, dlq.InsertTx(nil, models.OutboxDLQ{}))
	assert.Error(t, dlq.InsertTx(db, models.OutboxDLQ{ErrorReason: enums.OutboxDLQReasonMaxAttempts}))
	assert.Error(t, dlq.InsertTx(db, models.OutboxDLQ{EventID: uuid.New(), ErrorReason: "lost"}))
}

func TestDLQRepositoryRequeue(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	dlq := NewDLQRepository(db)

	eventID := seedEvent(t, db, repo, enums.EventPaymentFailed, time.Now().Add(-time.Hour))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, eventID, errors.New("rejected"), 10)
	}))
	deadLetter(t, db, dlq, eventID, enums.EventPaymentFailed, enums.OutboxDLQReasonRejected, "rejected")

	require.NoError(t, dlq.Requeue(context.Background(), eventID))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, "id = ?", eventID).Error)
	assert.Zero(t, row.AttemptCount)
	assert.Nil(t, row.LastError)
	_, err := dlq.FindByEventID(context.Background(), eventID)
	assert.ErrorIs(t, err, ErrDLQEntryNotFound)

	assert.ErrorIs(t, dlq.Requeue(context.Background(), eventID), ErrDLQEntryNotFound)
}

func TestDLQRepositoryRequeueSkipsPublishedRows(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	dlq := NewDLQRepository(db)

	eventID := seedEvent(t, db, repo, enums.EventPaymentCompleted, time.Now().Add(-time.Hour))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkPublishedTx(tx, eventID)
	}))
	deadLetter(t, db, dlq, eventID, enums.EventPaymentCompleted, enums.OutboxDLQReasonMaxAttempts, "timeout")

	assert.ErrorIs(t, dlq.Requeue(context.Background(), eventID), ErrNotRequeueable)
	_, err := dlq.FindByEventID(context.Background(), eventID)
	assert.NoError(t, err)
}

func deadLetter(t *testing.T, db *gorm.DB, dlq *DLQRepository, eventID uuid.UUID, eventType enums.OutboxEventType, reason enums.OutboxDLQErrorReason, message string) uuid.UUID {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     eventType,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   reason,
			ErrorMessage:  &message,
			AttemptCount:  10,
		})
	}))
	return eventID
}

func TestRepositoryDeletePublishedBeforeInBatches(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := range 3 {
		id := seedEvent(t, db, repo, enums.EventPaymentLinkCreated, now.Add(-time.Hour))
		repo.now = func() time.Time { return now.Add(time.Duration(i-10) * time.Minute) }
		require.NoError(t, repo.MarkPublishedTx(db, id))
		ids = append(ids, id)
	}
	pending := seedEvent(t, db, repo, enums.EventPaymentCompleted, now.Add(-time.Hour))

	deleted, err := repo.DeletePublishedBefore(nil, now, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	var left []models.OutboxEvent
	require.NoError(t, db.Order("created_at ASC").Find(&left).Error)
	require.Len(t, left, 2)
	assert.ElementsMatch(t, []uuid.UUID{ids[2], pending}, []uuid.UUID{left[0].ID, left[1].ID})

	deleted, err = repo.DeletePublishedBefore(nil, now, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}
