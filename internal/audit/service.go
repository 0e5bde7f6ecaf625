package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
)

// Service appends immutable audit entries. Every accepted transition, every
// rejected transition request, and every operator alert goes through Record.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordInput) (*models.AuditEntry, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error)
}

// RecordInput captures one audit entry.
type RecordInput struct {
	ActorType  enums.ActorType
	ActorID    *string
	OrderID    uuid.UUID
	FromStatus *enums.OrderStatus
	ToStatus   *enums.OrderStatus
	Action     enums.AuditAction
	Data       json.RawMessage
}

type service struct {
	repo Repository
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.AuditEntry, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if !input.ActorType.IsValid() {
		return nil, fmt.Errorf("invalid actor type %q", input.ActorType)
	}
	if !input.Action.IsValid() {
		return nil, fmt.Errorf("invalid audit action %q", input.Action)
	}

	entry := &models.AuditEntry{
		ActorType:  input.ActorType,
		ActorID:    input.ActorID,
		OrderID:    input.OrderID,
		FromStatus: input.FromStatus,
		ToStatus:   input.ToStatus,
		Action:     input.Action,
		Data:       input.Data,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}
