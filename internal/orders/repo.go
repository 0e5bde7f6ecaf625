package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

// Repository persists orders and the reads the state machine needs around
// them. UpdateCAS is the only way a status or version ever changes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error)
	ListStalePaid(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error)
	UpdateCAS(ctx context.Context, orderID uuid.UUID, expectedVersion int64, updates map[string]any) (bool, error)

	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ApplyDeliveredTotals(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, uc int) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found", map[string]any{"order_id": id.String()})
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListStalePaid returns paid orders that have not been delivered within the
// staleness window and are not parked behind a review hold. Oldest first so
// repeated sweeps make progress.
func (r *repository) ListStalePaid(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND review_hold = ? AND paid_at < ?", enums.OrderStatusPaid, false, olderThan).
		Order("paid_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateCAS applies updates iff the stored version still equals
// expectedVersion, bumping version in the same statement. Zero affected rows
// means a concurrent writer won.
func (r *repository) UpdateCAS(ctx context.Context, orderID uuid.UUID, expectedVersion int64, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", orderID, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found", map[string]any{"product_id": id.String()})
		}
		return nil, err
	}
	return &product, nil
}

func (r *repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found", map[string]any{"user_id": id.String()})
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) ApplyDeliveredTotals(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, uc int) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"total_orders":       gorm.Expr("total_orders + 1"),
			"total_spent":        gorm.Expr("total_spent + ?", amount),
			"total_uc_purchased": gorm.Expr("total_uc_purchased + ?", uc),
		}).Error
}
