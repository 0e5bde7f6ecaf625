package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is a storefront customer. The totals are denormalized counters the
// engine bumps when an order reaches delivered.
type User struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TelegramID       string          `gorm:"column:telegram_id;type:text;not null;uniqueIndex"`
	Username         *string         `gorm:"column:username;type:text"`
	GameAccountID    *string         `gorm:"column:game_account_id;type:text"`
	ReferralCode     *string         `gorm:"column:referral_code;type:text;uniqueIndex"`
	TotalOrders      int             `gorm:"column:total_orders;not null;default:0"`
	TotalSpent       decimal.Decimal `gorm:"column:total_spent;type:numeric(12,2);not null;default:0"`
	TotalUCPurchased int             `gorm:"column:total_uc_purchased;not null;default:0"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
