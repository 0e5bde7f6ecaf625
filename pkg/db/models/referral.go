package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Referral links a referred user to their referrer. The unique index on
// ReferredUserID enforces "at most one referrer"; BonusGrantedAt being nil is
// the transactional guard that makes the bonus accrue at most once.
type Referral struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ReferredUserID uuid.UUID       `gorm:"column:referred_user_id;type:uuid;not null;uniqueIndex"`
	ReferrerUserID uuid.UUID       `gorm:"column:referrer_user_id;type:uuid;not null;index"`
	Bonus          decimal.Decimal `gorm:"column:bonus;type:numeric(10,2);not null;default:0"`
	BonusGrantedAt *time.Time      `gorm:"column:bonus_granted_at"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (r *Referral) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
