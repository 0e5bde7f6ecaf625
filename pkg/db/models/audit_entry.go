package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/enums"
)

// AuditEntry is an append-only record of a state transition or a rejected
// transition request. Rows are never updated or deleted.
type AuditEntry struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ActorType  enums.ActorType    `gorm:"column:actor_type;type:text;not null"`
	ActorID    *string            `gorm:"column:actor_id;type:text"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:text"`
	ToStatus   *enums.OrderStatus `gorm:"column:to_status;type:text"`
	Action     enums.AuditAction  `gorm:"column:action;type:text;not null;index"`
	Data       json.RawMessage    `gorm:"column:data;type:jsonb"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the append-only log under its operational name.
func (AuditEntry) TableName() string {
	return "audit_log"
}

func (a *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
