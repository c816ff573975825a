package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/pagination"
)

// Repository persists payment records. Status changes go through the conditional
// transition helpers; nothing else writes the status column.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ClaimProcessing(ctx context.Context, id uuid.UUID, now time.Time, correlationID string) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, input completion) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, input failure) (bool, error)
	ListByMerchant(ctx context.Context, params listParams) ([]models.Payment, *pagination.Cursor, error)
	FindStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type completion struct {
	TransactionID    string
	NetworkReference string
	CorrelationID    string
	CompletedAt      time.Time
}

type failure struct {
	Kind             enums.FailureKind
	Message          string
	NetworkReference string
	CorrelationID    string
	At               time.Time
}

type listParams struct {
	MerchantName string
	Status       enums.PaymentStatus
	Limit        int
	Cursor       *pagination.Cursor
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// ClaimProcessing moves PENDING to PROCESSING and records the correlation id the
// transfer will be submitted under. It returns false when another caller got there first.
func (r *repository) ClaimProcessing(ctx context.Context, id uuid.UUID, now time.Time, correlationID string) (bool, error) {
	return r.transition(ctx, id, enums.PaymentStatusPending, map[string]any{
		"status":                enums.PaymentStatusProcessing,
		"correlation_id":        nullable(correlationID),
		"processing_started_at": now,
		"updated_at":            now,
	})
}

func (r *repository) Complete(ctx context.Context, id uuid.UUID, input completion) (bool, error) {
	return r.transition(ctx, id, enums.PaymentStatusProcessing, map[string]any{
		"status":            enums.PaymentStatusCompleted,
		"transaction_id":    input.TransactionID,
		"network_reference": nullable(input.NetworkReference),
		"correlation_id":    nullable(input.CorrelationID),
		"completed_at":      input.CompletedAt,
		"error_message":     nil,
		"failure_kind":      nil,
		"updated_at":        input.CompletedAt,
	})
}

func (r *repository) Fail(ctx context.Context, id uuid.UUID, input failure) (bool, error) {
	return r.transition(ctx, id, enums.PaymentStatusProcessing, map[string]any{
		"status":            enums.PaymentStatusFailed,
		"error_message":     input.Message,
		"failure_kind":      input.Kind,
		"network_reference": nullable(input.NetworkReference),
		"correlation_id":    nullable(input.CorrelationID),
		"transaction_id":    nil,
		"completed_at":      nil,
		"updated_at":        input.At,
	})
}

func (r *repository) transition(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ListByMerchant(ctx context.Context, params listParams) ([]models.Payment, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("merchant_cardholder_name = ?", params.MerchantName)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if clause, args := params.Cursor.Keyset(); clause != "" {
		query = query.Where(clause, args...)
	}

	var rows []models.Payment
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(rows, params.Limit, func(p models.Payment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return page, next, nil
}

// FindStaleProcessing returns records that entered PROCESSING before the cutoff and never left.
func (r *repository) FindStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND processing_started_at < ?", enums.PaymentStatusProcessing, startedBefore).
		Order("processing_started_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
