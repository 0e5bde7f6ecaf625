package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/enums"
)

// PromoCode defines a discount or UC bonus. UsedCount only moves through the
// ledger's conditional increment, never a plain update.
type PromoCode struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Code           string          `gorm:"column:code;type:text;not null;uniqueIndex"`
	Kind           enums.PromoKind `gorm:"column:kind;type:text;not null"`
	Value          decimal.Decimal `gorm:"column:value;type:numeric(10,2);not null;default:0"`
	BonusUC        int             `gorm:"column:bonus_uc;not null;default:0"`
	MinOrderAmount decimal.Decimal `gorm:"column:min_order_amount;type:numeric(10,2);not null;default:0"`
	UsageLimit     *int            `gorm:"column:usage_limit"`
	PerUserLimit   int             `gorm:"column:per_user_limit;not null;default:1"`
	UsedCount      int             `gorm:"column:used_count;not null;default:0"`
	Active         bool            `gorm:"column:active;not null;default:true"`
	ExpiresAt      *time.Time      `gorm:"column:expires_at"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PromoCode) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PromoRedemption records one applied promo code. The unique
// (promo_code_id, order_id) pair keeps an order from redeeming twice.
type PromoRedemption struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PromoCodeID    uuid.UUID       `gorm:"column:promo_code_id;type:uuid;not null;uniqueIndex:ux_promo_redemptions_code_order"`
	OrderID        uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_promo_redemptions_code_order"`
	UserID         uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(10,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (p *PromoRedemption) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
