package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/enums"
)

// Order is one purchase intent for a UC denomination. Status is owned
// exclusively by the state machine; every status write goes through a
// version-checked conditional update.
type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID                uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	ProductID             uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	Quantity              int               `gorm:"column:quantity;not null;default:1"`
	Amount                decimal.Decimal   `gorm:"column:amount;type:numeric(10,2);not null"`
	DiscountAmount        decimal.Decimal   `gorm:"column:discount_amount;type:numeric(10,2);not null;default:0"`
	BonusUC               int               `gorm:"column:bonus_uc;not null;default:0"`
	Currency              enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	PaymentMethod         string            `gorm:"column:payment_method;type:text;not null"`
	ExternalTransactionID *string           `gorm:"column:external_transaction_id;type:text"`
	DeliveryPayload       *string           `gorm:"column:delivery_payload;type:text"`
	Status                enums.OrderStatus `gorm:"column:status;type:text;not null;default:'created';index"`
	ReviewHold            bool              `gorm:"column:review_hold;not null;default:false"`
	DeliveryAttempts      int               `gorm:"column:delivery_attempts;not null;default:0"`
	PromoCodeID           *uuid.UUID        `gorm:"column:promo_code_id;type:uuid"`
	Version               int64             `gorm:"column:version;not null;default:0"`
	PaidAt                *time.Time        `gorm:"column:paid_at"`
	DeliveredAt           *time.Time        `gorm:"column:delivered_at"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
