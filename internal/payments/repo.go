package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/db"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

const providerTxConstraint = "ux_payment_attempts_provider_tx"

// Repository persists payment attempts. The unique (provider,
// external_transaction_id) index is the idempotency ledger's dedup key.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	GetByProviderTx(ctx context.Context, provider, externalTransactionID string) (*models.PaymentAttempt, error)
	SetStatus(ctx context.Context, attemptID uuid.UUID, status enums.AttemptStatus) error
	HasConfirmedForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentAttempt, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ErrDuplicateAttempt marks an insert that lost to an earlier recording of
// the same (provider, external_transaction_id) pair.
var ErrDuplicateAttempt = pkgerrors.New(pkgerrors.CodeConflict, "payment attempt already recorded")

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	err := r.db.WithContext(ctx).Create(attempt).Error
	if err != nil {
		if db.IsUniqueViolation(err, providerTxConstraint) {
			return ErrDuplicateAttempt
		}
		return err
	}
	return nil
}

func (r *repository) GetByProviderTx(ctx context.Context, provider, externalTransactionID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_transaction_id = ?", provider, externalTransactionID).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) SetStatus(ctx context.Context, attemptID uuid.UUID, status enums.AttemptStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ?", attemptID).
		Update("status", status).Error
}

func (r *repository) HasConfirmedForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("order_id = ? AND status = ?", orderID, enums.AttemptStatusConfirmed).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, err
	}
	return &user, nil
}

// ListStalePending returns pending attempts old enough that the provider's
// own retries have likely stopped, oldest first.
func (r *repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	var attempts []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.AttemptStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
