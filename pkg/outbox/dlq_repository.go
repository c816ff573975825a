package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

const (
	maxDLQErrorLen  = 1024
	defaultDLQLimit = 50
	maxDLQLimit     = 500
)

var (
	ErrDLQEntryNotFound = errors.New("event is not dead-lettered")
	// ErrNotRequeueable means the outbox row was published or pruned after dead-lettering.
	ErrNotRequeueable = errors.New("outbox row no longer pending")
)

// DLQFilter narrows List. Zero values match everything.
type DLQFilter struct {
	Reason      enums.OutboxDLQErrorReason
	EventType   enums.OutboxEventType
	FailedAfter time.Time
	Limit       int
}

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a row the publisher stopped retrying.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	switch {
	case tx == nil:
		return errors.New("transaction required")
	case entry.EventID == uuid.Nil:
		return errors.New("dlq entry needs an event id")
	case !entry.ErrorReason.IsValid():
		return fmt.Errorf("invalid dlq reason %q", entry.ErrorReason)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := clipError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDLQEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns the newest failures first.
func (r *DLQRepository) List(ctx context.Context, filter DLQFilter) ([]models.OutboxDLQ, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDLQLimit
	}
	limit = min(limit, maxDLQLimit)

	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.Reason != "" {
		query = query.Where("error_reason = ?", filter.Reason)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if !filter.FailedAfter.IsZero() {
		query = query.Where("failed_at > ?", filter.FailedAfter)
	}

	var rows []models.OutboxDLQ
	err := query.Order("failed_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Requeue gives a dead-lettered event a fresh attempt budget and drops its DLQ entry.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxDLQ
		err := tx.Where("event_id = ?", eventID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDLQEntryNotFound
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{"attempt_count": 0, "last_error": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotRequeueable
		}
		return tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{}).Error
	})
}

func clipError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	return strings.ToValidUTF8(message[:maxDLQErrorLen], "")
}
