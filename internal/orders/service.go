package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/internal/audit"
	"github.com/ucstore/ucstore-backend/internal/promo"
	"github.com/ucstore/ucstore-backend/pkg/db"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

// VersionFromRead tells Transition to trust the version it reads inside its
// own transaction instead of a caller-observed one.
const VersionFromRead int64 = -1

// Service is the order state machine. It owns every status mutation; other
// components request transitions and never write orders directly.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error)
	ListStalePaid(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error)

	Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error)
	AdminCancel(ctx context.Context, orderID uuid.UUID, adminID, reason string) (*models.Order, error)
	UserCancel(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	ReviewDecision(ctx context.Context, orderID uuid.UUID, adminID string, approve bool, notes string) (*models.Order, error)
	ForceRedeliver(ctx context.Context, orderID uuid.UUID, adminID string) (*models.Order, error)
	HoldForReview(ctx context.Context, orderID uuid.UUID, reasons []string) (*models.Order, error)
}

// CreateInput is the storefront's order creation command.
type CreateInput struct {
	UserID        uuid.UUID
	ProductID     uuid.UUID
	Quantity      int
	Currency      enums.Currency
	PaymentMethod string
	PromoCode     *string
}

// TransitionInput is one lifecycle event requested against an order.
// ExpectedVersion carries the version the caller last observed, or
// VersionFromRead for callers that operate on the freshest state.
type TransitionInput struct {
	OrderID         uuid.UUID
	Event           Event
	ExpectedVersion int64

	ActorType enums.ActorType
	ActorID   *string

	// Action overrides the default audit action for the event, e.g. a
	// risk-forced cancellation audited as risk_blocked.
	Action enums.AuditAction

	ExternalTransactionID *string
	DeliveryPayload       *string
	Data                  map[string]any
}

// TransitionResult reports what the state machine did with the event.
type TransitionResult struct {
	Order *models.Order
	// Applied is false for audited no-ops (review hold parking).
	Applied bool
	// Held is true when a payment confirmation was parked behind review_hold.
	Held bool
	// Escalated is true when a delivery failure exhausted the retry bound.
	Escalated bool
}

type service struct {
	db          *db.Client
	repo        Repository
	audit       audit.Service
	promo       promo.Service
	logg        *logger.Logger
	maxAttempts int
	now         func() time.Time
}

type ServiceParams struct {
	DB                  *db.Client
	Repo                Repository
	Audit               audit.Service
	Promo               promo.Service
	Logger              *logger.Logger
	MaxDeliveryAttempts int
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if params.Promo == nil {
		return nil, fmt.Errorf("promo service required")
	}
	if params.MaxDeliveryAttempts <= 0 {
		return nil, fmt.Errorf("max delivery attempts must be positive")
	}
	return &service{
		db:          params.DB,
		repo:        params.Repo,
		audit:       params.Audit,
		promo:       params.Promo,
		logg:        params.Logger,
		maxAttempts: params.MaxDeliveryAttempts,
		now:         time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.UserID == uuid.Nil || input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and product id are required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency", map[string]any{"currency": string(input.Currency)})
	}
	if strings.TrimSpace(input.PaymentMethod) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}

	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		auditSvc := s.audit.WithTx(tx)

		user, err := repo.GetUser(ctx, input.UserID)
		if err != nil {
			return err
		}
		product, err := repo.GetProduct(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if !product.Active {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not available", map[string]any{"product_id": product.ID.String()})
		}

		amount := product.Price(input.Currency).Mul(decimal.NewFromInt(int64(input.Quantity)))
		candidate := &models.Order{
			ID:            uuid.New(),
			UserID:        user.ID,
			ProductID:     product.ID,
			Quantity:      input.Quantity,
			Amount:        amount,
			Currency:      input.Currency,
			PaymentMethod: input.PaymentMethod,
			Status:        enums.OrderStatusCreated,
		}

		var application *promo.Application
		if input.PromoCode != nil && strings.TrimSpace(*input.PromoCode) != "" {
			application, err = s.promo.WithTx(tx).Apply(ctx, promo.ApplyInput{
				UserID:  user.ID,
				OrderID: candidate.ID,
				Code:    *input.PromoCode,
				Amount:  amount,
			})
			if err != nil {
				return err
			}
			candidate.Amount = application.AdjustedTotal
			candidate.DiscountAmount = application.DiscountAmount
			candidate.BonusUC = application.BonusUC
			candidate.PromoCodeID = &application.PromoCodeID
		}

		if err := repo.Create(ctx, candidate); err != nil {
			return err
		}

		created := enums.OrderStatusCreated
		if _, err := auditSvc.Record(ctx, audit.RecordInput{
			ActorType: enums.ActorTypeUser,
			ActorID:   strPtr(user.ID.String()),
			OrderID:   candidate.ID,
			ToStatus:  &created,
			Action:    enums.AuditActionOrderCreated,
			Data: mustJSON(map[string]any{
				"product_id":     product.ID.String(),
				"quantity":       input.Quantity,
				"amount":         candidate.Amount.String(),
				"payment_method": input.PaymentMethod,
			}),
		}); err != nil {
			return err
		}
		if application != nil {
			if _, err := auditSvc.Record(ctx, audit.RecordInput{
				ActorType: enums.ActorTypeUser,
				ActorID:   strPtr(user.ID.String()),
				OrderID:   candidate.ID,
				Action:    enums.AuditActionPromoApplied,
				Data: mustJSON(map[string]any{
					"promo_code_id": application.PromoCodeID.String(),
					"kind":          application.Kind.String(),
					"discount":      application.DiscountAmount.String(),
					"bonus_uc":      application.BonusUC,
				}),
			}); err != nil {
				return err
			}
		}

		order = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.repo.GetByID(ctx, orderID)
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *service) ListStalePaid(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error) {
	return s.repo.ListStalePaid(ctx, olderThan, limit)
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	return s.audit.History(ctx, orderID)
}

// Transition drives one lifecycle event through the state machine. Invalid
// transitions are recorded as no-op audit entries and returned as errors; the
// order is never mutated by them.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Event.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown lifecycle event", map[string]any{"event": input.Event.String()})
	}
	if !input.ActorType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid actor type")
	}

	var result *TransitionResult
	var rejection error
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		auditSvc := s.audit.WithTx(tx)

		order, err := repo.GetByID(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if input.ExpectedVersion != VersionFromRead && order.Version != input.ExpectedVersion {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed since it was read", map[string]any{
				"expected_version": input.ExpectedVersion,
				"actual_version":   order.Version,
			})
		}

		from := order.Status
		target, ok := targetFor(input.Event, from)
		if !ok {
			if _, err := auditSvc.Record(ctx, audit.RecordInput{
				ActorType:  input.ActorType,
				ActorID:    input.ActorID,
				OrderID:    order.ID,
				FromStatus: &from,
				Action:     enums.AuditActionInvalidTransition,
				Data: mustJSON(map[string]any{
					"event":  input.Event.String(),
					"status": from.String(),
				}),
			}); err != nil {
				return err
			}
			result = &TransitionResult{Order: order}
			rejection = pkgerrors.New(pkgerrors.CodeInvalidTransition,
				fmt.Sprintf("event %s is not valid from status %s", input.Event, from),
				map[string]any{"event": input.Event.String(), "status": from.String()})
			return nil
		}

		if input.Event == EventPaymentConfirmed && order.ReviewHold {
			if _, err := auditSvc.Record(ctx, audit.RecordInput{
				ActorType:  input.ActorType,
				ActorID:    input.ActorID,
				OrderID:    order.ID,
				FromStatus: &from,
				Action:     enums.AuditActionReviewHold,
				Data:       mustJSON(map[string]any{"event": input.Event.String(), "parked": true}),
			}); err != nil {
				return err
			}
			result = &TransitionResult{Order: order, Held: true}
			return nil
		}

		now := s.now().UTC()
		updates := map[string]any{}
		escalated := false

		switch input.Event {
		case EventPaymentInitiated:
			if input.ExternalTransactionID != nil {
				if order.ExternalTransactionID != nil && *order.ExternalTransactionID != *input.ExternalTransactionID {
					return pkgerrors.New(pkgerrors.CodeConflict, "order is bound to a different transaction", map[string]any{
						"bound_transaction_id": *order.ExternalTransactionID,
					})
				}
				updates["external_transaction_id"] = *input.ExternalTransactionID
			}
		case EventPaymentConfirmed:
			updates["paid_at"] = now
		case EventDeliverySucceeded:
			if input.DeliveryPayload == nil || strings.TrimSpace(*input.DeliveryPayload) == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "delivery payload is required to mark delivered")
			}
			updates["delivery_payload"] = *input.DeliveryPayload
			updates["delivered_at"] = now
		case EventDeliveryFailed:
			attempts := order.DeliveryAttempts + 1
			updates["delivery_attempts"] = attempts
			if attempts >= s.maxAttempts {
				target = enums.OrderStatusFailed
				escalated = true
			}
		case EventAdminCancel:
			updates["review_hold"] = false
		}
		updates["status"] = target

		applied, err := repo.UpdateCAS(ctx, order.ID, order.Version, updates)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed concurrently, re-read and retry")
		}

		action := input.Action
		if action == "" {
			action = auditActionFor(input.Event)
		}
		data := map[string]any{}
		for k, v := range input.Data {
			data[k] = v
		}
		if _, err := auditSvc.Record(ctx, audit.RecordInput{
			ActorType:  input.ActorType,
			ActorID:    input.ActorID,
			OrderID:    order.ID,
			FromStatus: &from,
			ToStatus:   &target,
			Action:     action,
			Data:       mustJSON(data),
		}); err != nil {
			return err
		}

		if escalated {
			if _, err := auditSvc.Record(ctx, audit.RecordInput{
				ActorType:  enums.ActorTypeSystem,
				OrderID:    order.ID,
				FromStatus: &from,
				ToStatus:   &target,
				Action:     enums.AuditActionAlertRaised,
				Data: mustJSON(map[string]any{
					"reason":   "delivery retries exhausted with payment captured",
					"attempts": order.DeliveryAttempts + 1,
				}),
			}); err != nil {
				return err
			}
			if s.logg != nil {
				s.logg.Error(ctx, fmt.Sprintf("order %s failed after exhausting delivery retries, operator action required", order.ID), nil)
			}
		}

		if target == enums.OrderStatusDelivered {
			if err := s.settleDelivered(ctx, tx, repo, auditSvc, order); err != nil {
				return err
			}
		}

		refreshed, err := repo.GetByID(ctx, order.ID)
		if err != nil {
			return err
		}
		result = &TransitionResult{Order: refreshed, Applied: true, Escalated: escalated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return result, rejection
	}
	return result, nil
}

// settleDelivered runs the side effects that belong to the delivered
// transition's transaction: user totals and the one-shot referral bonus.
func (s *service) settleDelivered(ctx context.Context, tx *gorm.DB, repo Repository, auditSvc audit.Service, order *models.Order) error {
	product, err := repo.GetProduct(ctx, order.ProductID)
	if err != nil {
		return err
	}
	uc := product.TotalUC()*order.Quantity + order.BonusUC
	if err := repo.ApplyDeliveredTotals(ctx, order.UserID, order.Amount, uc); err != nil {
		return err
	}

	referral, err := s.promo.WithTx(tx).AccrueReferralBonus(ctx, order.UserID, order.Amount)
	if err != nil {
		return err
	}
	if referral != nil {
		if _, err := auditSvc.Record(ctx, audit.RecordInput{
			ActorType: enums.ActorTypeSystem,
			OrderID:   order.ID,
			Action:    enums.AuditActionReferralBonus,
			Data: mustJSON(map[string]any{
				"referrer_user_id": referral.ReferrerUserID.String(),
				"bonus":            referral.Bonus.String(),
			}),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) AdminCancel(ctx context.Context, orderID uuid.UUID, adminID, reason string) (*models.Order, error) {
	result, err := s.Transition(ctx, TransitionInput{
		OrderID:         orderID,
		Event:           EventAdminCancel,
		ExpectedVersion: VersionFromRead,
		ActorType:       enums.ActorTypeAdmin,
		ActorID:         strPtr(adminID),
		Data:            map[string]any{"reason": reason},
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

func (s *service) UserCancel(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found", map[string]any{"order_id": orderID.String()})
	}
	result, err := s.Transition(ctx, TransitionInput{
		OrderID:         orderID,
		Event:           EventUserCancel,
		ExpectedVersion: order.Version,
		ActorType:       enums.ActorTypeUser,
		ActorID:         strPtr(userID.String()),
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

// ReviewDecision resolves a parked order: approve clears the hold so the
// recorded payment can advance it, deny cancels it outright.
func (s *service) ReviewDecision(ctx context.Context, orderID uuid.UUID, adminID string, approve bool, notes string) (*models.Order, error) {
	if !approve {
		result, err := s.Transition(ctx, TransitionInput{
			OrderID:         orderID,
			Event:           EventAdminCancel,
			ExpectedVersion: VersionFromRead,
			ActorType:       enums.ActorTypeAdmin,
			ActorID:         strPtr(adminID),
			Action:          enums.AuditActionReviewDecision,
			Data:            map[string]any{"decision": "block", "notes": notes},
		})
		if err != nil {
			return nil, err
		}
		return result.Order, nil
	}

	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		auditSvc := s.audit.WithTx(tx)

		current, err := repo.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !current.ReviewHold {
			return pkgerrors.New(pkgerrors.CodeValidation, "order is not under review", map[string]any{"order_id": orderID.String()})
		}

		applied, err := repo.UpdateCAS(ctx, current.ID, current.Version, map[string]any{"review_hold": false})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed concurrently, re-read and retry")
		}
		if _, err := auditSvc.Record(ctx, audit.RecordInput{
			ActorType: enums.ActorTypeAdmin,
			ActorID:   strPtr(adminID),
			OrderID:   current.ID,
			Action:    enums.AuditActionReviewDecision,
			Data:      mustJSON(map[string]any{"decision": "allow", "notes": notes}),
		}); err != nil {
			return err
		}

		order, err = repo.GetByID(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ForceRedeliver resets a failed order back to paid so the delivery
// orchestrator picks it up with a fresh retry budget.
func (s *service) ForceRedeliver(ctx context.Context, orderID uuid.UUID, adminID string) (*models.Order, error) {
	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		auditSvc := s.audit.WithTx(tx)

		current, err := repo.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if current.Status != enums.OrderStatusFailed {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "only failed orders can be redelivered", map[string]any{
				"status": current.Status.String(),
			})
		}

		applied, err := repo.UpdateCAS(ctx, current.ID, current.Version, map[string]any{
			"status":            enums.OrderStatusPaid,
			"delivery_attempts": 0,
		})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed concurrently, re-read and retry")
		}

		from := current.Status
		to := enums.OrderStatusPaid
		if _, err := auditSvc.Record(ctx, audit.RecordInput{
			ActorType:  enums.ActorTypeAdmin,
			ActorID:    strPtr(adminID),
			OrderID:    current.ID,
			FromStatus: &from,
			ToStatus:   &to,
			Action:     enums.AuditActionForceRedeliver,
		}); err != nil {
			return err
		}

		order, err = repo.GetByID(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// HoldForReview parks an order pending a manual risk decision. The hold only
// blocks the processing→paid edge; cancellation remains possible.
func (s *service) HoldForReview(ctx context.Context, orderID uuid.UUID, reasons []string) (*models.Order, error) {
	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		auditSvc := s.audit.WithTx(tx)

		current, err := repo.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if current.ReviewHold {
			order = current
			return nil
		}
		if current.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "terminal orders cannot be held for review", map[string]any{
				"status": current.Status.String(),
			})
		}

		applied, err := repo.UpdateCAS(ctx, current.ID, current.Version, map[string]any{"review_hold": true})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order changed concurrently, re-read and retry")
		}
		from := current.Status
		if _, err := auditSvc.Record(ctx, audit.RecordInput{
			ActorType:  enums.ActorTypeSystem,
			OrderID:    current.ID,
			FromStatus: &from,
			Action:     enums.AuditActionReviewHold,
			Data:       mustJSON(map[string]any{"reasons": reasons}),
		}); err != nil {
			return err
		}

		order, err = repo.GetByID(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func strPtr(s string) *string { return &s }

func mustJSON(v map[string]any) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
