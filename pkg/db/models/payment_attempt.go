package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/enums"
)

// PaymentAttempt is one provider-side payment try for an order. The unique
// (provider, external_transaction_id) index doubles as the idempotency
// ledger: inserting the row is the durable first-seen record for a webhook.
type PaymentAttempt struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID               uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	Provider              string               `gorm:"column:provider;type:text;not null;uniqueIndex:ux_payment_attempts_provider_tx"`
	ExternalTransactionID string               `gorm:"column:external_transaction_id;type:text;not null;uniqueIndex:ux_payment_attempts_provider_tx"`
	Amount                decimal.Decimal      `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency              enums.Currency       `gorm:"column:currency;type:text;not null"`
	Status                enums.AttemptStatus  `gorm:"column:status;type:text;not null;default:'pending';index"`
	Outcome               enums.PaymentOutcome `gorm:"column:outcome;type:text;not null"`
	Metadata              json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	CreatedAt             time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentAttempt) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
